// Package gencache 生成结果缓存
//
// 以内容寻址：相同 Agent 类型 + 相同上下文摘要的生成请求命中同一条缓存，
// 命中时直接复用历史产出，不再调用模型、不计 token 消耗。
package gencache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DefaultTTL 缓存条目保留时长
const DefaultTTL = 24 * time.Hour

// Entry 缓存条目
type Entry struct {
	Content     string    `json:"content"`      // 生成的产物正文
	ContentType string    `json:"content_type"` // MIME 类型
	Model       string    `json:"model"`        // 产出时使用的模型
	Tokens      int64     `json:"tokens"`       // 原始生成消耗的 token（命中时不再计费）
	CreatedAt   time.Time `json:"created_at"`
}

// Store 缓存后端
type Store interface {
	// Get 查询缓存，未命中返回 nil, nil
	Get(ctx context.Context, key string) (*Entry, error)
	// Set 写入缓存
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error
}

// Fingerprint 计算缓存 key
//
// 优先使用上下文摘要（稳定序列化后的 sha256），摘要为空时退化为
// 对完整 prompt 取哈希。两种来源的 key 空间通过前缀区分。
func Fingerprint(agentKind, contextDigest, prompt string) string {
	if contextDigest != "" {
		sum := sha256.Sum256([]byte(agentKind + "\x00" + contextDigest))
		return "gen:" + hex.EncodeToString(sum[:])
	}
	sum := sha256.Sum256([]byte(agentKind + "\x00" + prompt))
	return "gen:p:" + hex.EncodeToString(sum[:])
}
