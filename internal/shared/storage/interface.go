// Package storage 持久化存储的统一入口
//
// 按领域拆分为窄接口，repository.Store 实现全部接口。
// Handler 只依赖自己需要的窄接口，便于测试时替换 mock。
package storage

import (
	"context"

	"testforge/internal/shared/model"
)

// ============================================================
// 窄接口
// ============================================================

// UserStore 用户存储
type UserStore interface {
	CreateUser(ctx context.Context, u *model.User) error
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	UpdateUserPassword(ctx context.Context, id, passwordHash string) error
	UpdateUserTokenLimit(ctx context.Context, id string, limit int64) error
}

// ProjectStore 项目存储
type ProjectStore interface {
	CreateProject(ctx context.Context, p *model.Project) error
	GetProject(ctx context.Context, id string) (*model.Project, error)
	ListProjectsByTenant(ctx context.Context, tenantID string) ([]*model.Project, error)
	UpdateProject(ctx context.Context, id, name, description string) error
	DeleteProject(ctx context.Context, id string) error
}

// SourceStore 数据源存储
type SourceStore interface {
	CreateSource(ctx context.Context, src *model.Source) error
	GetSource(ctx context.Context, id string) (*model.Source, error)
	ListSourcesByProject(ctx context.Context, projectID string) ([]*model.Source, error)
	ListReadySourcesByProject(ctx context.Context, projectID string) ([]*model.Source, error)
	UpdateSourceStatus(ctx context.Context, id string, status model.SourceStatus) error
	DeleteSource(ctx context.Context, id string) error
}

// RunStore Run 存储
type RunStore interface {
	CreateRunWithSteps(ctx context.Context, run *model.Run, steps []*model.RunStep) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRunsByProject(ctx context.Context, projectID string, limit int) ([]*model.Run, error)
	CountActiveRunsByProject(ctx context.Context, projectID string) (int, error)
	MarkRunStarted(ctx context.Context, id string) error
	MarkRunCompleted(ctx context.Context, id string, status model.RunStatus, errMsg *string) error
	AddRunUsage(ctx context.Context, id string, tokens int64, costUSD float64) error
}

// StepStore 步骤存储
type StepStore interface {
	GetStep(ctx context.Context, id string) (*model.RunStep, error)
	ListStepsByRun(ctx context.Context, runID string) ([]*model.RunStep, error)
	MarkStepStarted(ctx context.Context, id string) error
	UpdateStepProgress(ctx context.Context, id string, progress int) error
	MarkStepCompleted(ctx context.Context, id string, artifactID *string, tokens int64, costUSD float64) error
	MarkStepFailed(ctx context.Context, id string, errMsg string) error
}

// ArtifactStore 产物存储
type ArtifactStore interface {
	CreateArtifactWithVersion(ctx context.Context, a *model.Artifact, v *model.ArtifactVersion) error
	AppendArtifactVersion(ctx context.Context, v *model.ArtifactVersion) error
	GetArtifact(ctx context.Context, id string) (*model.Artifact, error)
	ListArtifactsByProject(ctx context.Context, projectID string) ([]*model.Artifact, error)
	ListArtifactsByRun(ctx context.Context, runID string) ([]*model.Artifact, error)
	GetArtifactVersion(ctx context.Context, artifactID string, version int) (*model.ArtifactVersion, error)
}

// ============================================================
// 组合接口
// ============================================================

// PersistentStore 全量持久化存储接口
type PersistentStore interface {
	UserStore
	ProjectStore
	SourceStore
	RunStore
	StepStore
	ArtifactStore

	Close() error
}
