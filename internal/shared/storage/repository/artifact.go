// Package repository Artifact 相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"time"

	"testforge/internal/shared/model"
)

// CreateArtifactWithVersion 在同一事务中创建产物及其第一个版本
func (s *Store) CreateArtifactWithVersion(ctx context.Context, a *model.Artifact, v *model.ArtifactVersion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	aQuery := s.rebind(`
		INSERT INTO artifacts (id, project_id, run_id, agent_kind, kind, title, current_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	_, err = tx.ExecContext(ctx, aQuery,
		a.ID, a.ProjectID, a.RunID, a.AgentKind, a.Kind, a.Title,
		a.CurrentVersion, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return err
	}

	vQuery := s.rebind(`
		INSERT INTO artifact_versions (artifact_id, version, content, content_type, object_key, cached, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	_, err = tx.ExecContext(ctx, vQuery,
		v.ArtifactID, v.Version, v.Content, v.ContentType, v.ObjectKey, v.Cached, v.CreatedAt)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// AppendArtifactVersion 追加新版本并推进 current_version
func (s *Store) AppendArtifactVersion(ctx context.Context, v *model.ArtifactVersion) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	vQuery := s.rebind(`
		INSERT INTO artifact_versions (artifact_id, version, content, content_type, object_key, cached, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	_, err = tx.ExecContext(ctx, vQuery,
		v.ArtifactID, v.Version, v.Content, v.ContentType, v.ObjectKey, v.Cached, v.CreatedAt)
	if err != nil {
		return err
	}

	aQuery := s.rebind(`UPDATE artifacts SET current_version = $1, updated_at = $2 WHERE id = $3`)
	_, err = tx.ExecContext(ctx, aQuery, v.Version, time.Now(), v.ArtifactID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

const artifactColumns = `id, project_id, run_id, agent_kind, kind, title, current_version, created_at, updated_at`

func scanArtifact(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.Artifact, error) {
	a := &model.Artifact{}
	err := scanner.Scan(&a.ID, &a.ProjectID, &a.RunID, &a.AgentKind, &a.Kind, &a.Title,
		&a.CurrentVersion, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetArtifact 获取产物
func (s *Store) GetArtifact(ctx context.Context, id string) (*model.Artifact, error) {
	query := s.rebind(`SELECT ` + artifactColumns + ` FROM artifacts WHERE id = $1`)
	a, err := scanArtifact(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return a, err
}

// ListArtifactsByProject 列出项目下的产物
func (s *Store) ListArtifactsByProject(ctx context.Context, projectID string) ([]*model.Artifact, error) {
	query := s.rebind(`SELECT ` + artifactColumns + ` FROM artifacts WHERE project_id = $1 ORDER BY created_at DESC`)
	return s.queryArtifacts(ctx, query, projectID)
}

// ListArtifactsByRun 列出某次 Run 产出的产物
func (s *Store) ListArtifactsByRun(ctx context.Context, runID string) ([]*model.Artifact, error) {
	query := s.rebind(`SELECT ` + artifactColumns + ` FROM artifacts WHERE run_id = $1 ORDER BY created_at ASC`)
	return s.queryArtifacts(ctx, query, runID)
}

func (s *Store) queryArtifacts(ctx context.Context, query string, args ...interface{}) ([]*model.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artifacts []*model.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// GetArtifactVersion 获取指定版本的产物内容，version <= 0 时取当前版本
func (s *Store) GetArtifactVersion(ctx context.Context, artifactID string, version int) (*model.ArtifactVersion, error) {
	var query string
	var args []interface{}
	if version <= 0 {
		query = s.rebind(`SELECT v.id, v.artifact_id, v.version, v.content, v.content_type, v.object_key, v.cached, v.created_at
				 FROM artifact_versions v
				 JOIN artifacts a ON a.id = v.artifact_id AND a.current_version = v.version
				 WHERE v.artifact_id = $1`)
		args = []interface{}{artifactID}
	} else {
		query = s.rebind(`SELECT id, artifact_id, version, content, content_type, object_key, cached, created_at
				 FROM artifact_versions WHERE artifact_id = $1 AND version = $2`)
		args = []interface{}{artifactID, version}
	}

	v := &model.ArtifactVersion{}
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&v.ID, &v.ArtifactID, &v.Version, &v.Content, &v.ContentType,
		&v.ObjectKey, &v.Cached, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}
