package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS objects (
	bucket TEXT NOT NULL,
	name TEXT NOT NULL,
	body BLOB,
	size INTEGER NOT NULL,
	content_type TEXT,
	md5 TEXT NOT NULL,
	http_header TEXT,
	custom_metadata TEXT,
	uploaded INTEGER NOT NULL,
	PRIMARY KEY (bucket, name)
)`

// NewSQLiteBackend 在 basePath/durable.db 中保存全部 bucket。
// basePath 为空时使用共享内存数据库，便于测试。
func NewSQLiteBackend(basePath string) (Backend, error) {
	dsn := "file::memory:?cache=shared"
	if basePath != "" {
		if err := os.MkdirAll(basePath, 0o755); err != nil {
			return nil, fmt.Errorf("create storage path: %w", err)
		}
		dsn = filepath.Join(basePath, "durable.db")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create objects table: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal: %w", err)
	}
	return &sqliteBackend{db: db, writeMutex: &sync.Mutex{}}, nil
}

type sqliteBackend struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

func (b *sqliteBackend) Bucket(name string) (Store, error) {
	if err := validBucket(name); err != nil {
		return nil, err
	}
	return &sqliteStore{backend: b, bucket: name}, nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}

type sqliteStore struct {
	backend *sqliteBackend
	bucket  string
}

func (s *sqliteStore) Get(ctx context.Context, name string) (*Object, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	row := s.backend.db.QueryRowContext(ctx, `SELECT
		size, content_type, md5, http_header, custom_metadata, uploaded, body
		FROM objects WHERE bucket = ? AND name = ?`, s.bucket, name)

	var body []byte
	meta, err := scanMetadata(name, row, &body)
	if err != nil {
		return nil, err
	}
	return &Object{Metadata: *meta, Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (s *sqliteStore) Head(ctx context.Context, name string) (*Metadata, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}
	row := s.backend.db.QueryRowContext(ctx, `SELECT
		size, content_type, md5, http_header, custom_metadata, uploaded
		FROM objects WHERE bucket = ? AND name = ?`, s.bucket, name)
	return scanMetadata(name, row, nil)
}

func (s *sqliteStore) Put(ctx context.Context, name string, body io.Reader, opts PutOptions) (*Metadata, error) {
	name, err := cleanName(name)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	hasher := md5.New()
	size, err := copyWithContext(ctx, io.MultiWriter(&buf, hasher), body)
	if err != nil {
		return nil, err
	}
	sum := hex.EncodeToString(hasher.Sum(nil))

	headerJSON, err := json.Marshal(opts.HTTPHeader)
	if err != nil {
		return nil, err
	}
	customJSON, err := json.Marshal(opts.CustomMetadata)
	if err != nil {
		return nil, err
	}
	uploaded := time.Now().UTC()

	s.backend.writeMutex.Lock()
	defer s.backend.writeMutex.Unlock()
	_, err = s.backend.db.ExecContext(ctx, `INSERT OR REPLACE INTO objects
		(bucket, name, body, size, content_type, md5, http_header, custom_metadata, uploaded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.bucket, name, buf.Bytes(), size, opts.ContentType, sum,
		string(headerJSON), string(customJSON), uploaded.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("insert object %s: %w", name, err)
	}

	return cloneMetadata(&Metadata{
		Name:           name,
		Size:           size,
		ContentType:    opts.ContentType,
		MD5:            sum,
		ETag:           quoteETag(sum),
		HTTPHeader:     opts.HTTPHeader,
		CustomMetadata: opts.CustomMetadata,
		Uploaded:       uploaded,
	}), nil
}

func scanMetadata(name string, row *sql.Row, body *[]byte) (*Metadata, error) {
	var (
		meta        = Metadata{Name: name}
		contentType sql.NullString
		headerJSON  sql.NullString
		customJSON  sql.NullString
		uploaded    int64
	)
	dest := []any{&meta.Size, &contentType, &meta.MD5, &headerJSON, &customJSON, &uploaded}
	if body != nil {
		dest = append(dest, body)
	}
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	meta.ContentType = contentType.String
	meta.ETag = quoteETag(meta.MD5)
	meta.Uploaded = time.Unix(0, uploaded).UTC()
	if headerJSON.Valid && headerJSON.String != "" && headerJSON.String != "null" {
		var header http.Header
		if err := json.Unmarshal([]byte(headerJSON.String), &header); err != nil {
			return nil, fmt.Errorf("decode http metadata %s: %w", name, err)
		}
		meta.HTTPHeader = header
	}
	if customJSON.Valid && customJSON.String != "" && customJSON.String != "null" {
		custom := map[string]string{}
		if err := json.Unmarshal([]byte(customJSON.String), &custom); err != nil {
			return nil, fmt.Errorf("decode custom metadata %s: %w", name, err)
		}
		meta.CustomMetadata = custom
	}
	return &meta, nil
}
