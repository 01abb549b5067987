package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxEntries 是内存层默认可容纳的条目数。
const DefaultMaxEntries = 4096

type memoryTier struct {
	entries  *lru.Cache[string, *Entry]
	maxBytes int64
	now      func() time.Time

	// mu 串行化写入，使 bytes 与 entries 保持一致。
	mu    sync.Mutex
	bytes int64
}

// NewMemoryTier 构建进程内 LRU edge 层。条目数超过 maxEntries 或正文总量超过 maxBytes 时
// 淘汰最久未访问的条目；单条超过 maxBytes 的条目不会写入。
func NewMemoryTier(maxEntries int, maxBytes int64) (Tier, error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	m := &memoryTier{maxBytes: maxBytes, now: time.Now}
	entries, err := lru.NewWithEvict[string, *Entry](maxEntries, m.onEvict)
	if err != nil {
		return nil, err
	}
	m.entries = entries
	return m, nil
}

func (m *memoryTier) onEvict(_ string, entry *Entry) {
	m.bytes -= entry.Size()
}

func (m *memoryTier) Match(ctx context.Context, key Key) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := key.String()
	entry, ok := m.entries.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	if entry.Expired(m.now()) {
		m.mu.Lock()
		if current, ok := m.entries.Peek(id); ok && current == entry {
			m.entries.Remove(id)
		}
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	return entry.Clone(), nil
}

func (m *memoryTier) Put(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return errors.New("nil cache entry")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := entry.Clone()
	if stored.StoredAt.IsZero() {
		stored.StoredAt = m.now()
	}
	id := key.String()

	m.mu.Lock()
	defer m.mu.Unlock()
	// 替换已有条目不会触发淘汰回调，先移除以保持计数准确。
	m.entries.Remove(id)
	if stored.Size() > m.maxBytes {
		return nil
	}
	m.entries.Add(id, stored)
	m.bytes += stored.Size()
	for m.bytes > m.maxBytes {
		if _, _, ok := m.entries.RemoveOldest(); !ok {
			break
		}
	}
	return nil
}

func (m *memoryTier) Len() int {
	return m.entries.Len()
}

// Bytes 返回当前缓存正文的总字节数。
func (m *memoryTier) Bytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytes
}

func (m *memoryTier) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries.Purge()
	return nil
}
