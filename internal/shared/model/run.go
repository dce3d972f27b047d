// Package model 定义核心数据模型
//
// run.go 包含生成流水线执行相关的数据模型定义：
//   - Run：一次流水线执行
//   - RunStep：流水线中单个 Agent 的执行步骤
//   - RunStatus / StepStatus：状态枚举
//   - AgentKind：生成 Agent 类型枚举
package model

import "time"

// ============================================================================
// RunStatus - 流水线执行状态
// ============================================================================

// RunStatus 表示一次流水线执行（Run）的状态
//
// 状态只能向前推进：queued → running → completed|failed。
// 一旦进入终止状态（completed/failed），Run 不可再变更。
type RunStatus string

const (
	// RunStatusQueued 排队中：已创建，等待后台编排器启动
	RunStatusQueued RunStatus = "queued"

	// RunStatusRunning 执行中：编排器已开始按顺序执行步骤
	RunStatusRunning RunStatus = "running"

	// RunStatusCompleted 已完成：所有步骤成功结束
	RunStatusCompleted RunStatus = "completed"

	// RunStatusFailed 已失败：某个步骤不可恢复地失败（重试耗尽或预算超限）
	RunStatusFailed RunStatus = "failed"
)

// ============================================================================
// StepStatus - 步骤状态
// ============================================================================

// StepStatus 表示单个步骤的状态
//
// 与 RunStatus 共用同一组取值，但语义独立：
//   - 前序步骤失败后，后续步骤永远停留在 queued（明确表示"因故跳过"）
//   - completed 必须携带产物引用（ArtifactID 非空）
type StepStatus string

const (
	StepStatusQueued    StepStatus = "queued"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// ============================================================================
// AgentKind - 生成 Agent 类型
// ============================================================================

// AgentKind 表示一种生成角色
//
// 每种 AgentKind 对应一个固定的系统指令和产物类型，
// 通过注册表（agent.Registry）解析为具体执行器，新增类型只需
// 增加一个枚举值和一条注册表条目。
type AgentKind string

const (
	// AgentKindCoverageMatrix 覆盖矩阵生成器
	AgentKindCoverageMatrix AgentKind = "coverage_matrix"

	// AgentKindChecklist 手工测试清单生成器
	AgentKindChecklist AgentKind = "checklist"

	// AgentKindAutomationScript 自动化脚本生成器
	AgentKindAutomationScript AgentKind = "automation_script"

	// AgentKindBehaviorScenario 行为场景（BDD）生成器
	AgentKindBehaviorScenario AgentKind = "behavior_scenario"
)

// ValidAgentKind 判断是否为已知 Agent 类型
func ValidAgentKind(kind AgentKind) bool {
	switch kind {
	case AgentKindCoverageMatrix, AgentKindChecklist,
		AgentKindAutomationScript, AgentKindBehaviorScenario:
		return true
	default:
		return false
	}
}

// ============================================================================
// RunMode - 执行模式
// ============================================================================

// RunMode 流水线执行模式，当前仅支持顺序执行
type RunMode string

const (
	// RunModeSequential 顺序执行：步骤严格按选择顺序依次进行
	RunModeSequential RunMode = "sequential"
)

// ============================================================================
// Run - 流水线执行实例
// ============================================================================

// Run 表示一次完整的生成流水线执行
//
// Run 由请求处理器创建（status=queued），之后由后台编排器独占变更：
//   - 编排器启动时置为 running 并记录 StartedAt
//   - 全部步骤成功后置为 completed，汇总 TokensUsed/CostUSD
//   - 任一步骤不可恢复失败后置为 failed，记录 Error
//
// 汇总字段（TokensUsed/CostUSD）在终止时一次性写入，之后不再重算。
type Run struct {
	ID          string     `json:"id" db:"id"`                               // 执行唯一标识
	ProjectID   string     `json:"project_id" db:"project_id"`               // 所属项目
	TenantID    string     `json:"tenant_id" db:"tenant_id"`                 // 所属租户（预算计费主体）
	Mode        RunMode    `json:"mode" db:"mode"`                           // 执行模式
	Status      RunStatus  `json:"status" db:"status"`                       // 执行状态
	TokensUsed  int64      `json:"tokens_used" db:"tokens_used"`             // 汇总 Token 消耗
	CostUSD     float64    `json:"cost_usd" db:"cost_usd"`                   // 汇总成本（美元）
	Error       *string    `json:"error,omitempty" db:"error"`               // 终止错误信息
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`               // 创建时间
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`     // 开始时间
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"` // 结束时间
}

// IsTerminal 判断 Run 是否处于终止状态
func (r *Run) IsTerminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}

// ============================================================================
// RunStep - 步骤执行记录
// ============================================================================

// RunStep 表示 Run 中单个 Agent 的执行
//
// 所有步骤与 Run 一起原子创建（status=queued），Position 记录选择顺序。
// 顺序模式下，步骤 i+1 只有在步骤 i 到达终止状态后才会启动；
// 前序步骤失败时，后续步骤永久停留在 queued。
type RunStep struct {
	ID          string     `json:"id" db:"id"`                               // 步骤唯一标识
	RunID       string     `json:"run_id" db:"run_id"`                       // 所属 Run
	AgentKind   AgentKind  `json:"agent_kind" db:"agent_kind"`               // Agent 类型
	Position    int        `json:"position" db:"position"`                   // 选择顺序（0 起）
	Status      StepStatus `json:"status" db:"status"`                       // 步骤状态
	Progress    int        `json:"progress" db:"progress"`                   // 进度百分比（0-100）
	TokensUsed  int64      `json:"tokens_used" db:"tokens_used"`             // Token 消耗
	CostUSD     float64    `json:"cost_usd" db:"cost_usd"`                   // 成本（美元）
	ArtifactID  *string    `json:"artifact_id,omitempty" db:"artifact_id"`   // 产物引用（completed 时非空）
	Error       *string    `json:"error,omitempty" db:"error"`               // 错误信息
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`     // 开始时间
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"` // 结束时间
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`               // 创建时间
}

// IsTerminal 判断步骤是否处于终止状态
func (s *RunStep) IsTerminal() bool {
	return s.Status == StepStatusCompleted || s.Status == StepStatusFailed
}
