package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"testforge/internal/shared/model"
	sqlitedriver "testforge/internal/shared/storage/driver/sqlite"
)

// newTestStore 创建内存 SQLite 测试库
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dialect := sqlitedriver.NewDialect()
	db, err := sqlitedriver.Open("file::memory:?cache=shared")
	require.NoError(t, err)
	require.NoError(t, dialect.AutoMigrate(db))
	store := NewStore(db, dialect)
	t.Cleanup(func() { store.Close() })
	return store
}

func seedUserAndProject(t *testing.T, s *Store) (*model.User, *model.Project) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	u := &model.User{
		ID: "user-000000000001", Email: "qa@example.com", Username: "qa",
		PasswordHash: "x", Role: model.UserRoleUser, Status: model.UserStatusActive,
		MonthlyTokenLimit: 1000000, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateUser(ctx, u))
	p := &model.Project{
		ID: "proj-000000000001", TenantID: u.ID, Name: "支付网关",
		Description: "payment gateway QA", CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateProject(ctx, p))
	return u, p
}

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, _ := seedUserAndProject(t, s)

	got, err := s.GetUserByEmail(ctx, "qa@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, int64(1000000), got.MonthlyTokenLimit)

	// 不存在的用户返回 nil, nil
	missing, err := s.GetUserByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, s.UpdateUserTokenLimit(ctx, u.ID, 500000))
	got, err = s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(500000), got.MonthlyTokenLimit)
}

func TestProjectCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, p := seedUserAndProject(t, s)

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "支付网关", got.Name)

	list, err := s.ListProjectsByTenant(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.UpdateProject(ctx, p.ID, "订单中心", "renamed"))
	got, err = s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "订单中心", got.Name)

	require.NoError(t, s.DeleteProject(ctx, p.ID))
	got, err = s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSourceLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, p := seedUserAndProject(t, s)
	now := time.Now()

	src := &model.Source{
		ID: "src-000000000001", ProjectID: p.ID, Kind: model.SourceKindDocument,
		Name: "需求文档", Content: "用户可以创建订单", Status: model.SourceStatusPending,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.CreateSource(ctx, src))

	// pending 状态不出现在 ready 列表中
	ready, err := s.ListReadySourcesByProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, ready)

	require.NoError(t, s.UpdateSourceStatus(ctx, src.ID, model.SourceStatusReady))
	ready, err = s.ListReadySourcesByProject(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, ready, 1)
	assert.Equal(t, model.SourceStatusReady, ready[0].Status)

	all, err := s.ListSourcesByProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRunWithSteps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, p := seedUserAndProject(t, s)
	now := time.Now()

	run := &model.Run{
		ID: "run-000000000001", ProjectID: p.ID, TenantID: u.ID,
		Mode: model.RunModeSequential, Status: model.RunStatusQueued, CreatedAt: now,
	}
	kinds := []model.AgentKind{
		model.AgentKindCoverageMatrix,
		model.AgentKindChecklist,
		model.AgentKindAutomationScript,
		model.AgentKindBehaviorScenario,
	}
	var steps []*model.RunStep
	for i, k := range kinds {
		steps = append(steps, &model.RunStep{
			ID: "step-00000000000" + string(rune('1'+i)), RunID: run.ID,
			AgentKind: k, Position: i, Status: model.StepStatusQueued, CreatedAt: now,
		})
	}
	require.NoError(t, s.CreateRunWithSteps(ctx, run, steps))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.RunStatusQueued, got.Status)

	listed, err := s.ListStepsByRun(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, listed, 4)
	// position 升序
	for i, st := range listed {
		assert.Equal(t, i, st.Position)
		assert.Equal(t, kinds[i], st.AgentKind)
	}

	count, err := s.CountActiveRunsByProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// 执行过程中的状态流转
	require.NoError(t, s.MarkRunStarted(ctx, run.ID))
	require.NoError(t, s.MarkStepStarted(ctx, listed[0].ID))
	require.NoError(t, s.UpdateStepProgress(ctx, listed[0].ID, 50))

	artifactID := "art-000000000001"
	require.NoError(t, s.MarkStepCompleted(ctx, listed[0].ID, &artifactID, 1200, 0.0042))
	require.NoError(t, s.AddRunUsage(ctx, run.ID, 1200, 0.0042))

	st, err := s.GetStep(ctx, listed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StepStatusCompleted, st.Status)
	assert.Equal(t, 100, st.Progress)
	assert.Equal(t, int64(1200), st.TokensUsed)
	require.NotNil(t, st.ArtifactID)
	assert.Equal(t, artifactID, *st.ArtifactID)

	require.NoError(t, s.MarkRunCompleted(ctx, run.ID, model.RunStatusCompleted, nil))
	got, err = s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	assert.True(t, got.IsTerminal())
	assert.Equal(t, int64(1200), got.TokensUsed)

	count, err = s.CountActiveRunsByProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestStepFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, p := seedUserAndProject(t, s)
	now := time.Now()

	run := &model.Run{
		ID: "run-000000000002", ProjectID: p.ID, TenantID: u.ID,
		Mode: model.RunModeSequential, Status: model.RunStatusQueued, CreatedAt: now,
	}
	step := &model.RunStep{
		ID: "step-0000000000f1", RunID: run.ID,
		AgentKind: model.AgentKindChecklist, Position: 0,
		Status: model.StepStatusQueued, CreatedAt: now,
	}
	require.NoError(t, s.CreateRunWithSteps(ctx, run, []*model.RunStep{step}))

	require.NoError(t, s.MarkStepFailed(ctx, step.ID, "provider timeout"))
	got, err := s.GetStep(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StepStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "provider timeout", *got.Error)

	errMsg := "step checklist failed"
	require.NoError(t, s.MarkRunCompleted(ctx, run.ID, model.RunStatusFailed, &errMsg))
	r, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, r.Status)
	require.NotNil(t, r.Error)
}

func TestArtifactVersions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, p := seedUserAndProject(t, s)
	now := time.Now()

	run := &model.Run{
		ID: "run-000000000003", ProjectID: p.ID, TenantID: u.ID,
		Mode: model.RunModeSequential, Status: model.RunStatusCompleted, CreatedAt: now,
	}
	require.NoError(t, s.CreateRunWithSteps(ctx, run, nil))

	a := &model.Artifact{
		ID: "art-000000000002", ProjectID: p.ID, RunID: run.ID,
		AgentKind: model.AgentKindCoverageMatrix, Kind: model.ArtifactKindCoverageMatrix,
		Title: "覆盖矩阵", CurrentVersion: 1, CreatedAt: now, UpdatedAt: now,
	}
	v1 := &model.ArtifactVersion{
		ArtifactID: a.ID, Version: 1, Content: "| 模块 | 用例 |",
		ContentType: "text/markdown", CreatedAt: now,
	}
	require.NoError(t, s.CreateArtifactWithVersion(ctx, a, v1))

	// 当前版本 = v1
	cur, err := s.GetArtifactVersion(ctx, a.ID, 0)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, 1, cur.Version)
	assert.Equal(t, "| 模块 | 用例 |", cur.Content)

	v2 := &model.ArtifactVersion{
		ArtifactID: a.ID, Version: 2, Content: "| 模块 | 用例 | 优先级 |",
		ContentType: "text/markdown", Cached: true, CreatedAt: now,
	}
	require.NoError(t, s.AppendArtifactVersion(ctx, v2))

	cur, err = s.GetArtifactVersion(ctx, a.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, cur.Version)
	assert.True(t, cur.Cached)

	old, err := s.GetArtifactVersion(ctx, a.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, old.Version)

	got, err := s.GetArtifact(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.CurrentVersion)

	byRun, err := s.ListArtifactsByRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, byRun, 1)

	byProject, err := s.ListArtifactsByProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, byProject, 1)

	// 不存在的版本返回 nil, nil
	none, err := s.GetArtifactVersion(ctx, a.ID, 99)
	require.NoError(t, err)
	assert.Nil(t, none)
}
