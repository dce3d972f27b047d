// Package model 定义核心数据模型
//
// artifact.go 包含生成产物相关的数据模型定义：
//   - Artifact：生成产物（当前版本指针）
//   - ArtifactVersion：产物内容版本
package model

import "time"

// ============================================================================
// ArtifactKind - 产物类型
// ============================================================================

// ArtifactKind 产物类型，与 AgentKind 一一对应但独立演进
// （同一 Agent 未来可能产出多种产物）
type ArtifactKind string

const (
	ArtifactKindCoverageMatrix   ArtifactKind = "coverage_matrix"
	ArtifactKindChecklist        ArtifactKind = "checklist"
	ArtifactKindAutomationScript ArtifactKind = "automation_script"
	ArtifactKindBehaviorScenario ArtifactKind = "behavior_scenario"
)

// ============================================================================
// Artifact - 生成产物
// ============================================================================

// Artifact 表示一个成功步骤产生的持久化产物
//
// 产物由两层组成：
//   - Artifact：元数据 + 当前版本指针（CurrentVersion）
//   - ArtifactVersion：每次生成/编辑产生一条版本记录
//
// 流水线只创建第一个版本；后续编辑（本子系统之外）追加新版本并推进指针。
// 前序步骤的产物在后续步骤失败时保留，不做回滚。
type Artifact struct {
	ID             string       `json:"id" db:"id"`                           // 产物唯一标识
	ProjectID      string       `json:"project_id" db:"project_id"`           // 所属项目
	RunID          string       `json:"run_id" db:"run_id"`                   // 产生该产物的 Run
	AgentKind      AgentKind    `json:"agent_kind" db:"agent_kind"`           // 产生该产物的 Agent 类型
	Kind           ArtifactKind `json:"kind" db:"kind"`                       // 产物类型
	Title          string       `json:"title" db:"title"`                     // 产物标题
	CurrentVersion int          `json:"current_version" db:"current_version"` // 当前版本号（1 起）
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`           // 创建时间
	UpdatedAt      time.Time    `json:"updated_at" db:"updated_at"`           // 更新时间
}

// ArtifactVersion 表示产物的一个内容版本
//
// 内容主副本存 PostgreSQL；ObjectKey 记录镜像到对象存储（MinIO）的路径，
// 供下载接口直出，上传失败不影响版本创建（对象存储是尽力而为的镜像）。
type ArtifactVersion struct {
	ID          int64     `json:"id" db:"id"`                             // 自增主键
	ArtifactID  string    `json:"artifact_id" db:"artifact_id"`           // 所属产物
	Version     int       `json:"version" db:"version"`                   // 版本号
	Content     string    `json:"content" db:"content"`                   // 原始内容
	ContentType string    `json:"content_type" db:"content_type"`         // MIME 类型
	ObjectKey   *string   `json:"object_key,omitempty" db:"object_key"`   // 对象存储镜像 Key
	Cached      bool      `json:"cached" db:"cached"`                     // 是否来自响应缓存
	CreatedAt   time.Time `json:"created_at" db:"created_at"`             // 创建时间
}
