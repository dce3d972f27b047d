// Package assembler 生成上下文装配
//
// 每次 Run 装配一次上下文：从项目下已就绪的数据源中取每类最新一份
// （文档全文、仓库摘要、爬取摘要），裁剪到 token 上限后计算稳定摘要。
// 同一批数据源装配出的上下文摘要恒定，这是生成缓存内容寻址的前提。
package assembler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"unicode/utf8"

	"testforge/internal/shared/model"
	"testforge/internal/shared/storage"
)

// DefaultTokenCap 上下文 token 上限
const DefaultTokenCap = 40000

// Context 装配结果，不落库
type Context struct {
	ProjectID    string `json:"project_id"`
	DocumentText string `json:"document_text,omitempty"`
	RepoSummary  string `json:"repo_summary,omitempty"`
	CrawlSummary string `json:"crawl_summary,omitempty"`
	Truncated    bool   `json:"-"` // 不参与摘要计算
}

// Empty 三类数据源均缺失
func (c *Context) Empty() bool {
	return c.DocumentText == "" && c.RepoSummary == "" && c.CrawlSummary == ""
}

// Digest 稳定摘要
//
// json.Marshal 对 struct 按字段声明序输出，序列化结果稳定，
// 直接对其取 sha256。Truncated 标志不参与计算。
func (c *Context) Digest() string {
	data, err := json.Marshal(c)
	if err != nil {
		// struct 仅含字符串字段，Marshal 不会失败
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Render 渲染为提示词中的资料块
func (c *Context) Render() string {
	out := ""
	if c.DocumentText != "" {
		out += "## 需求文档\n\n" + c.DocumentText + "\n\n"
	}
	if c.RepoSummary != "" {
		out += "## 代码仓库摘要\n\n" + c.RepoSummary + "\n\n"
	}
	if c.CrawlSummary != "" {
		out += "## 页面爬取摘要\n\n" + c.CrawlSummary + "\n\n"
	}
	return out
}

// EstimateTokens 粗略估算 token 数
//
// 按 1 token ≈ 4 字节估算，对中英混排偏保守，只用于上限裁剪。
func EstimateTokens(s string) int {
	return len(s) / 4
}

// Assembler 上下文装配器
type Assembler struct {
	sources  storage.SourceStore
	tokenCap int
}

// New 创建装配器
func New(sources storage.SourceStore, tokenCap int) *Assembler {
	if tokenCap <= 0 {
		tokenCap = DefaultTokenCap
	}
	return &Assembler{sources: sources, tokenCap: tokenCap}
}

// Build 装配项目的生成上下文
//
// 每类数据源取最新一份 ready 快照，缺失的类别直接跳过。
// 合计超过 token 上限时按 文档 → 仓库 → 爬取 的顺序保留并裁剪。
func (a *Assembler) Build(ctx context.Context, projectID string) (*Context, error) {
	ready, err := a.sources.ListReadySourcesByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list ready sources: %w", err)
	}

	result := &Context{ProjectID: projectID}
	// 列表按创建时间倒序，首个命中即为该类最新
	for _, src := range ready {
		switch src.Kind {
		case model.SourceKindDocument:
			if result.DocumentText == "" {
				result.DocumentText = src.Content
			}
		case model.SourceKindRepository:
			if result.RepoSummary == "" {
				result.RepoSummary = src.Content
			}
		case model.SourceKindCrawl:
			if result.CrawlSummary == "" {
				result.CrawlSummary = src.Content
			}
		}
	}

	a.truncate(result)
	return result, nil
}

// truncate 裁剪到 token 上限
func (a *Assembler) truncate(c *Context) {
	total := EstimateTokens(c.DocumentText) + EstimateTokens(c.RepoSummary) + EstimateTokens(c.CrawlSummary)
	if total <= a.tokenCap {
		return
	}

	log.Printf("[assembler.build] project=%s tokens=%d cap=%d truncating", c.ProjectID, total, a.tokenCap)
	c.Truncated = true

	budget := a.tokenCap * 4 // 换算回字节
	fields := []*string{&c.DocumentText, &c.RepoSummary, &c.CrawlSummary}
	for _, f := range fields {
		if len(*f) <= budget {
			budget -= len(*f)
			continue
		}
		cut := budget
		// 回退到 rune 边界，避免截断多字节字符产生非法 UTF-8
		for cut > 0 && !utf8.RuneStart((*f)[cut]) {
			cut--
		}
		*f = (*f)[:cut]
		budget = 0
	}
}
