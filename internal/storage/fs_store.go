package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// NewFSBackend 以 basePath 为根目录构建磁盘 durable 层。磁盘布局：
//
//	<basePath>/<bucket>/objects/<name>        # 正文
//	<basePath>/<bucket>/meta/<name>.json      # Metadata
func NewFSBackend(basePath string) (Backend, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fsBackend{basePath: abs, buckets: make(map[string]*fsStore)}, nil
}

type fsBackend struct {
	basePath string

	mu      sync.Mutex
	buckets map[string]*fsStore
}

func (b *fsBackend) Bucket(name string) (Store, error) {
	if err := validBucket(name); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if store, ok := b.buckets[name]; ok {
		return store, nil
	}
	root := filepath.Join(b.basePath, name)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create bucket %s: %w", name, err)
	}
	store := &fsStore{root: root, locks: make(map[string]*entryLock)}
	b.buckets[name] = store
	return store, nil
}

func (b *fsBackend) Close() error { return nil }

// fsStore 通过 entryLock 串行化同名对象的读写，正文与元数据均以临时文件 + rename 落盘。
type fsStore struct {
	root string

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

func (s *fsStore) Get(ctx context.Context, name string) (*Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}

	unlock := s.lock(name)
	defer unlock()

	meta, err := s.readMeta(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(s.objectPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &Object{Metadata: *meta, Body: f}, nil
}

func (s *fsStore) Head(ctx context.Context, name string) (*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}

	unlock := s.lock(name)
	defer unlock()
	return s.readMeta(name)
}

func (s *fsStore) Put(ctx context.Context, name string, body io.Reader, opts PutOptions) (*Metadata, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}

	unlock := s.lock(name)
	defer unlock()

	objectPath := s.objectPath(name)
	if err := os.MkdirAll(filepath.Dir(objectPath), 0o755); err != nil {
		return nil, err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(objectPath), ".object-*")
	if err != nil {
		return nil, err
	}
	tempName := tempFile.Name()

	hasher := md5.New()
	written, err := copyWithContext(ctx, io.MultiWriter(tempFile, hasher), body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return nil, err
	}

	sum := hex.EncodeToString(hasher.Sum(nil))
	meta := &Metadata{
		Name:           name,
		Size:           written,
		ContentType:    opts.ContentType,
		MD5:            sum,
		ETag:           quoteETag(sum),
		HTTPHeader:     opts.HTTPHeader.Clone(),
		CustomMetadata: opts.CustomMetadata,
		Uploaded:       time.Now().UTC(),
	}
	meta = cloneMetadata(meta)

	if err := os.Rename(tempName, objectPath); err != nil {
		os.Remove(tempName)
		return nil, err
	}
	if err := s.writeMeta(name, meta); err != nil {
		return nil, err
	}
	return cloneMetadata(meta), nil
}

func (s *fsStore) readMeta(name string) (*Metadata, error) {
	f, err := os.Open(s.metaPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer f.Close()

	var meta Metadata
	if err := json.NewDecoder(f).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode metadata %s: %w", name, err)
	}
	return &meta, nil
}

func (s *fsStore) writeMeta(name string, meta *Metadata) error {
	metaPath := s.metaPath(name)
	if err := os.MkdirAll(filepath.Dir(metaPath), 0o755); err != nil {
		return err
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	tempFile, err := os.CreateTemp(filepath.Dir(metaPath), ".meta-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	_, err = tempFile.Write(raw)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}
	if err := os.Rename(tempName, metaPath); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func (s *fsStore) lock(name string) func() {
	s.mu.Lock()
	lock := s.locks[name]
	if lock == nil {
		lock = &entryLock{}
		s.locks[name] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, name)
		}
		s.mu.Unlock()
	}
}

func (s *fsStore) objectPath(name string) string {
	return filepath.Join(s.root, "objects", filepath.FromSlash(name))
}

func (s *fsStore) metaPath(name string) string {
	return filepath.Join(s.root, "meta", filepath.FromSlash(name)+".json")
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}

