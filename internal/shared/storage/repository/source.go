// Package repository Source 相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"time"

	"testforge/internal/shared/model"
)

// CreateSource 创建数据源
func (s *Store) CreateSource(ctx context.Context, src *model.Source) error {
	query := s.rebind(`
		INSERT INTO sources (id, project_id, kind, name, content, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	_, err := s.db.ExecContext(ctx, query,
		src.ID, src.ProjectID, src.Kind, src.Name, src.Content, src.Status,
		src.CreatedAt, src.UpdatedAt)
	return err
}

func scanSource(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.Source, error) {
	src := &model.Source{}
	err := scanner.Scan(&src.ID, &src.ProjectID, &src.Kind, &src.Name, &src.Content,
		&src.Status, &src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// GetSource 获取数据源
func (s *Store) GetSource(ctx context.Context, id string) (*model.Source, error) {
	query := s.rebind(`SELECT id, project_id, kind, name, content, status, created_at, updated_at
			  FROM sources WHERE id = $1`)
	src, err := scanSource(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return src, err
}

// ListSourcesByProject 列出项目下所有数据源
func (s *Store) ListSourcesByProject(ctx context.Context, projectID string) ([]*model.Source, error) {
	query := s.rebind(`SELECT id, project_id, kind, name, content, status, created_at, updated_at
			  FROM sources WHERE project_id = $1 ORDER BY created_at DESC`)
	return s.querySources(ctx, query, projectID)
}

// ListReadySourcesByProject 列出项目下已就绪的数据源（按类型去重，同类型取最新）
func (s *Store) ListReadySourcesByProject(ctx context.Context, projectID string) ([]*model.Source, error) {
	query := s.rebind(`SELECT id, project_id, kind, name, content, status, created_at, updated_at
			  FROM sources WHERE project_id = $1 AND status = $2 ORDER BY created_at DESC`)
	return s.querySources(ctx, query, projectID, model.SourceStatusReady)
}

func (s *Store) querySources(ctx context.Context, query string, args ...interface{}) ([]*model.Source, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []*model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

// UpdateSourceStatus 更新数据源状态
func (s *Store) UpdateSourceStatus(ctx context.Context, id string, status model.SourceStatus) error {
	query := s.rebind(`UPDATE sources SET status = $1, updated_at = $2 WHERE id = $3`)
	_, err := s.db.ExecContext(ctx, query, status, time.Now(), id)
	return err
}

// DeleteSource 删除数据源
func (s *Store) DeleteSource(ctx context.Context, id string) error {
	query := s.rebind(`DELETE FROM sources WHERE id = $1`)
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}
