// Package model 定义核心数据模型
//
// project.go 包含项目与上游数据快照的数据模型定义：
//   - Project：租户下的测试项目
//   - Source：上游采集器产出的数据快照（文档文本/仓库摘要/爬取摘要）
package model

import "time"

// Project 租户下的测试项目
//
// 项目是运行流水线和存放产物的容器，归属单一租户（User.ID）。
// 所有读写接口都按租户做范围校验。
type Project struct {
	ID          string    `json:"id" db:"id"`
	TenantID    string    `json:"tenant_id" db:"tenant_id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// ============================================================================
// Source - 上游数据快照
// ============================================================================

// SourceKind 上游数据快照类型
type SourceKind string

const (
	// SourceKindDocument 文档提取器产出的纯文本
	SourceKindDocument SourceKind = "document"

	// SourceKindRepository 仓库静态分析产出的结构摘要
	SourceKindRepository SourceKind = "repository"

	// SourceKindCrawl 无头浏览器爬取产出的页面摘要
	SourceKindCrawl SourceKind = "crawl"
)

// ValidSourceKind 判断是否为已知快照类型
func ValidSourceKind(kind SourceKind) bool {
	switch kind {
	case SourceKindDocument, SourceKindRepository, SourceKindCrawl:
		return true
	default:
		return false
	}
}

// SourceStatus 快照状态
type SourceStatus string

const (
	SourceStatusPending SourceStatus = "pending"
	SourceStatusReady   SourceStatus = "ready"
	SourceStatusFailed  SourceStatus = "failed"
)

// Source 上游采集器产出的数据快照
//
// 文档提取、仓库分析、站点爬取均为外部协作方，本服务只接收它们
// 上报的成品快照。上下文装配器按类型取"最新一条 ready 快照"，
// 缺失或失败的快照被容忍并直接省略。
type Source struct {
	ID        string       `json:"id" db:"id"`
	ProjectID string       `json:"project_id" db:"project_id"`
	Kind      SourceKind   `json:"kind" db:"kind"`
	Name      string       `json:"name" db:"name"`       // 来源名称（文件名/仓库名/站点）
	Content   string       `json:"content" db:"content"` // 快照正文（文本或 JSON）
	Status    SourceStatus `json:"status" db:"status"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}
