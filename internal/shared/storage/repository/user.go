package repository

import (
	"context"
	"database/sql"
	"time"

	"testforge/internal/shared/model"
)

// CreateUser 创建用户
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	query := s.rebind(`
		INSERT INTO users (id, email, username, password_hash, role, status, monthly_token_limit, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	_, err := s.db.ExecContext(ctx, query,
		user.ID, user.Email, user.Username, user.PasswordHash,
		user.Role, user.Status, user.MonthlyTokenLimit, user.CreatedAt, user.UpdatedAt)
	return err
}

// scanUser 辅助函数
func scanUser(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.User, error) {
	user := &model.User{}
	err := scanner.Scan(
		&user.ID, &user.Email, &user.Username, &user.PasswordHash,
		&user.Role, &user.Status, &user.MonthlyTokenLimit, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByEmail 通过邮箱查找用户
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	query := s.rebind(`SELECT id, email, username, password_hash, role, status, monthly_token_limit, created_at, updated_at
			  FROM users WHERE email = $1`)
	user, err := scanUser(s.db.QueryRowContext(ctx, query, email))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return user, err
}

// GetUserByID 通过 ID 查找用户
func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	query := s.rebind(`SELECT id, email, username, password_hash, role, status, monthly_token_limit, created_at, updated_at
			  FROM users WHERE id = $1`)
	user, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return user, err
}

// UpdateUserPassword 更新用户密码
func (s *Store) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	query := s.rebind(`UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`)
	_, err := s.db.ExecContext(ctx, query, passwordHash, time.Now(), id)
	return err
}

// UpdateUserTokenLimit 更新用户月度 Token 上限
func (s *Store) UpdateUserTokenLimit(ctx context.Context, id string, limit int64) error {
	query := s.rebind(`UPDATE users SET monthly_token_limit = $1, updated_at = $2 WHERE id = $3`)
	_, err := s.db.ExecContext(ctx, query, limit, time.Now(), id)
	return err
}
