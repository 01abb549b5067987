package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const levelEntryPrefix = "e:"

// levelTier 把 edge 层条目持久化到 LevelDB，进程重启后仍可命中。
// LevelDB 自身支持并发读写，同一 Key 的并发 Put 以最后一次为准。
type levelTier struct {
	db    *leveldb.DB
	codec *entryCodec
	now   func() time.Time
}

// NewLevelTier 在 dir 下打开（或创建）LevelDB edge 层。
func NewLevelTier(dir string) (Tier, error) {
	if dir == "" {
		return nil, errors.New("leveldb path required")
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, fmt.Errorf("create leveldb parent: %w", err)
	}
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	codec, err := newEntryCodec()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &levelTier{db: db, codec: codec, now: time.Now}, nil
}

func (l *levelTier) Match(ctx context.Context, key Key) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := []byte(levelEntryPrefix + key.String())
	raw, err := l.db.Get(id, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	entry, err := l.codec.decode(raw)
	if err != nil {
		// 无法解码的条目视为未命中并清理。
		_ = l.db.Delete(id, nil)
		return nil, ErrNotFound
	}
	if entry.Expired(l.now()) {
		_ = l.db.Delete(id, nil)
		return nil, ErrNotFound
	}
	return entry, nil
}

func (l *levelTier) Put(ctx context.Context, key Key, entry *Entry) error {
	if entry == nil {
		return errors.New("nil cache entry")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := entry.Clone()
	if stored.StoredAt.IsZero() {
		stored.StoredAt = l.now()
	}
	raw, err := l.codec.encode(stored)
	if err != nil {
		return err
	}
	return l.db.Put([]byte(levelEntryPrefix+key.String()), raw, nil)
}

// Len 遍历前缀统计条目数，仅供诊断接口使用。
func (l *levelTier) Len() int {
	it := l.db.NewIterator(util.BytesPrefix([]byte(levelEntryPrefix)), nil)
	defer it.Release()
	count := 0
	for it.Next() {
		count++
	}
	return count
}

func (l *levelTier) Close() error {
	l.codec.close()
	return l.db.Close()
}
