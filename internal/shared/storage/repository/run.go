// Package repository Run 相关的存储操作
package repository

import (
	"context"
	"database/sql"
	"time"

	"testforge/internal/shared/model"
)

// CreateRunWithSteps 在同一事务中创建 Run 及其全部步骤
func (s *Store) CreateRunWithSteps(ctx context.Context, run *model.Run, steps []*model.RunStep) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	runQuery := s.rebind(`
		INSERT INTO runs (id, project_id, tenant_id, mode, status, tokens_used, cost_usd, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	_, err = tx.ExecContext(ctx, runQuery,
		run.ID, run.ProjectID, run.TenantID, run.Mode, run.Status,
		run.TokensUsed, run.CostUSD, run.CreatedAt)
	if err != nil {
		return err
	}

	stepQuery := s.rebind(`
		INSERT INTO run_steps (id, run_id, agent_kind, position, status, progress, tokens_used, cost_usd, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	for _, step := range steps {
		_, err = tx.ExecContext(ctx, stepQuery,
			step.ID, step.RunID, step.AgentKind, step.Position, step.Status,
			step.Progress, step.TokensUsed, step.CostUSD, step.CreatedAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func scanRun(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.Run, error) {
	r := &model.Run{}
	err := scanner.Scan(&r.ID, &r.ProjectID, &r.TenantID, &r.Mode, &r.Status,
		&r.TokensUsed, &r.CostUSD, &r.Error, &r.CreatedAt, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	return r, nil
}

const runColumns = `id, project_id, tenant_id, mode, status, tokens_used, cost_usd, error, created_at, started_at, completed_at`

// GetRun 获取 Run
func (s *Store) GetRun(ctx context.Context, id string) (*model.Run, error) {
	query := s.rebind(`SELECT ` + runColumns + ` FROM runs WHERE id = $1`)
	r, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// ListRunsByProject 列出项目下的 Run（按创建时间倒序）
func (s *Store) ListRunsByProject(ctx context.Context, projectID string, limit int) ([]*model.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := s.rebind(`SELECT ` + runColumns + ` FROM runs WHERE project_id = $1
			  ORDER BY created_at DESC LIMIT $2`)
	rows, err := s.db.QueryContext(ctx, query, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// CountActiveRunsByProject 统计项目下未结束的 Run 数量
func (s *Store) CountActiveRunsByProject(ctx context.Context, projectID string) (int, error) {
	query := s.rebind(`SELECT COUNT(*) FROM runs WHERE project_id = $1 AND status IN ($2, $3)`)
	var count int
	err := s.db.QueryRowContext(ctx, query, projectID,
		model.RunStatusQueued, model.RunStatusRunning).Scan(&count)
	return count, err
}

// MarkRunStarted 标记 Run 进入 running 状态
func (s *Store) MarkRunStarted(ctx context.Context, id string) error {
	now := time.Now()
	query := s.rebind(`UPDATE runs SET status = $1, started_at = $2 WHERE id = $3`)
	_, err := s.db.ExecContext(ctx, query, model.RunStatusRunning, now, id)
	return err
}

// MarkRunCompleted 标记 Run 终态（completed 或 failed）
func (s *Store) MarkRunCompleted(ctx context.Context, id string, status model.RunStatus, errMsg *string) error {
	now := time.Now()
	query := s.rebind(`UPDATE runs SET status = $1, error = $2, completed_at = $3 WHERE id = $4`)
	_, err := s.db.ExecContext(ctx, query, status, errMsg, now, id)
	return err
}

// AddRunUsage 累加 Run 的 token 用量与费用
func (s *Store) AddRunUsage(ctx context.Context, id string, tokens int64, costUSD float64) error {
	query := s.rebind(`UPDATE runs SET tokens_used = tokens_used + $1, cost_usd = cost_usd + $2 WHERE id = $3`)
	_, err := s.db.ExecContext(ctx, query, tokens, costUSD, id)
	return err
}
