// Package repository RunStep 相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"time"

	"testforge/internal/shared/model"
)

const stepColumns = `id, run_id, agent_kind, position, status, progress, tokens_used, cost_usd, artifact_id, error, started_at, completed_at, created_at`

func scanStep(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.RunStep, error) {
	st := &model.RunStep{}
	err := scanner.Scan(&st.ID, &st.RunID, &st.AgentKind, &st.Position, &st.Status,
		&st.Progress, &st.TokensUsed, &st.CostUSD, &st.ArtifactID, &st.Error,
		&st.StartedAt, &st.CompletedAt, &st.CreatedAt)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// GetStep 获取单个步骤
func (s *Store) GetStep(ctx context.Context, id string) (*model.RunStep, error) {
	query := s.rebind(`SELECT ` + stepColumns + ` FROM run_steps WHERE id = $1`)
	st, err := scanStep(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return st, err
}

// ListStepsByRun 按 position 升序列出 Run 的全部步骤
func (s *Store) ListStepsByRun(ctx context.Context, runID string) ([]*model.RunStep, error) {
	query := s.rebind(`SELECT ` + stepColumns + ` FROM run_steps WHERE run_id = $1 ORDER BY position ASC`)
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*model.RunStep
	for rows.Next() {
		st, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// MarkStepStarted 标记步骤开始执行
func (s *Store) MarkStepStarted(ctx context.Context, id string) error {
	now := time.Now()
	query := s.rebind(`UPDATE run_steps SET status = $1, started_at = $2 WHERE id = $3`)
	_, err := s.db.ExecContext(ctx, query, model.StepStatusRunning, now, id)
	return err
}

// UpdateStepProgress 更新步骤进度（0-100）
func (s *Store) UpdateStepProgress(ctx context.Context, id string, progress int) error {
	query := s.rebind(`UPDATE run_steps SET progress = $1 WHERE id = $2`)
	_, err := s.db.ExecContext(ctx, query, progress, id)
	return err
}

// MarkStepCompleted 标记步骤成功完成并记录产物与用量
func (s *Store) MarkStepCompleted(ctx context.Context, id string, artifactID *string, tokens int64, costUSD float64) error {
	now := time.Now()
	query := s.rebind(`UPDATE run_steps SET status = $1, progress = 100, artifact_id = $2,
			  tokens_used = $3, cost_usd = $4, completed_at = $5 WHERE id = $6`)
	_, err := s.db.ExecContext(ctx, query, model.StepStatusCompleted, artifactID, tokens, costUSD, now, id)
	return err
}

// MarkStepFailed 标记步骤失败
func (s *Store) MarkStepFailed(ctx context.Context, id string, errMsg string) error {
	now := time.Now()
	query := s.rebind(`UPDATE run_steps SET status = $1, error = $2, completed_at = $3 WHERE id = $4`)
	_, err := s.db.ExecContext(ctx, query, model.StepStatusFailed, errMsg, now, id)
	return err
}
