package cache

import "context"

// DefaultMaxEntrySize 是 edge 层单个条目的大小上限，超过该值的响应只转发不缓存。
const DefaultMaxEntrySize int64 = 512 * 1024 * 1024

// DefaultMaxBytes 是内存 edge 层所有条目正文的总字节预算。
const DefaultMaxBytes int64 = 1024 * 1024 * 1024

// DefaultSpoolMemoryLimit 是 origin 正文留在内存中的上限，更大的正文先落盘。
const DefaultSpoolMemoryLimit int64 = 4 * 1024 * 1024

// Tier 描述 edge（ephemeral）缓存层。实现必须并发安全，写入为 best-effort，
// 同一 Key 的并发写入以最后一次为准。
type Tier interface {
	// Match 返回 Key 对应的条目，不存在或已过期时返回 ErrNotFound。
	Match(ctx context.Context, key Key) (*Entry, error)

	// Put 写入条目，可能随时被淘汰。
	Put(ctx context.Context, key Key, entry *Entry) error

	// Close 释放底层资源。
	Close() error
}

// Sizer 由能够廉价报告条目数量的 Tier 实现，供诊断接口使用。
type Sizer interface {
	Len() int
}

// ByteSizer 由按字节预算淘汰的 Tier 实现。
type ByteSizer interface {
	Bytes() int64
}
