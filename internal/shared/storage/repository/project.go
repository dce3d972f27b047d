// Package repository Project 相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"time"

	"testforge/internal/shared/model"
)

// CreateProject 创建项目
func (s *Store) CreateProject(ctx context.Context, p *model.Project) error {
	query := s.rebind(`
		INSERT INTO projects (id, tenant_id, name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.TenantID, p.Name, p.Description, p.CreatedAt, p.UpdatedAt)
	return err
}

// scanProject 辅助函数
func scanProject(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.Project, error) {
	p := &model.Project{}
	err := scanner.Scan(&p.ID, &p.TenantID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetProject 获取项目
func (s *Store) GetProject(ctx context.Context, id string) (*model.Project, error) {
	query := s.rebind(`SELECT id, tenant_id, name, description, created_at, updated_at
			  FROM projects WHERE id = $1`)
	p, err := scanProject(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// ListProjectsByTenant 列出租户的所有项目
func (s *Store) ListProjectsByTenant(ctx context.Context, tenantID string) ([]*model.Project, error) {
	query := s.rebind(`SELECT id, tenant_id, name, description, created_at, updated_at
			  FROM projects WHERE tenant_id = $1 ORDER BY created_at DESC`)
	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateProject 更新项目名称与描述
func (s *Store) UpdateProject(ctx context.Context, id, name, description string) error {
	query := s.rebind(`UPDATE projects SET name = $1, description = $2, updated_at = $3 WHERE id = $4`)
	_, err := s.db.ExecContext(ctx, query, name, description, time.Now(), id)
	return err
}

// DeleteProject 删除项目
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	query := s.rebind(`DELETE FROM projects WHERE id = $1`)
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}
