package ingest

import (
	"context"
	"crypto"
	"crypto/md5"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"github.com/edgehub/edgehub/internal/profile"
	"github.com/edgehub/edgehub/internal/storage"
)

// Upload 描述一次签名上传。ObjectName 为去掉前导斜杠的请求路径，签名即针对它计算。
type Upload struct {
	Namespace   string
	ObjectName  string
	Signature   string
	ContentType string
	Body        io.Reader
}

// Gateway 校验签名并把对象写入 bucket。同一对象名的写入不加锁，以最后一次为准。
type Gateway struct {
	store storage.Store
	mode  profile.IngestMode
	keys  *KeyTable
}

// NewGateway 创建上传网关。
func NewGateway(store storage.Store, mode profile.IngestMode, keys *KeyTable) (*Gateway, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if mode != profile.IngestContentAddressed && mode != profile.IngestPathAddressed {
		return nil, errors.New("ingest mode must be content-addressed or path-addressed")
	}
	if keys == nil {
		return nil, errors.New("key table is required")
	}
	return &Gateway{store: store, mode: mode, keys: keys}, nil
}

// Put 执行完整的上传流程：请求头检查、命名空间查找、签名校验、已存在检查、写入。
func (g *Gateway) Put(ctx context.Context, upload Upload) Result {
	switch {
	case upload.Signature == "":
		return reject("missing_signature")
	case upload.Namespace == "":
		return reject("missing_namespace")
	case upload.ContentType == "":
		return reject("missing_content_type")
	case !validObjectName(upload.ObjectName):
		return reject("invalid_object_name")
	}

	key, ok := g.keys.Lookup(upload.Namespace)
	if !ok {
		return reject("unknown_namespace")
	}
	if err := verify(key, upload.ObjectName, upload.Signature); err != nil {
		return Result{Outcome: OutcomeNotFound, Reason: "invalid_signature", Err: err}
	}

	existing, err := g.store.Head(ctx, upload.ObjectName)
	switch {
	case err == nil:
		return g.resolveExisting(existing, upload.Body)
	case !errors.Is(err, storage.ErrNotFound):
		return Result{Outcome: OutcomeInternalError, Reason: "head_failed", Err: err}
	}

	meta, err := g.store.Put(ctx, upload.ObjectName, upload.Body, storage.PutOptions{ContentType: upload.ContentType})
	if err != nil {
		return Result{Outcome: OutcomeInternalError, Reason: "put_failed", Err: err}
	}
	return Result{Outcome: OutcomeCreated, Object: meta}
}

// resolveExisting 处理对象已存在的情况：路径寻址直接冲突，内容寻址比较 MD5。
func (g *Gateway) resolveExisting(existing *storage.Metadata, body io.Reader) Result {
	if g.mode == profile.IngestPathAddressed {
		return Result{Outcome: OutcomeConflict, Object: existing}
	}
	hasher := md5.New()
	if body != nil {
		if _, err := io.Copy(hasher, body); err != nil {
			return Result{Outcome: OutcomeInternalError, Reason: "hash_failed", Err: err}
		}
	}
	if hex.EncodeToString(hasher.Sum(nil)) == existing.MD5 {
		return Result{Outcome: OutcomeDuplicate, Object: existing}
	}
	return Result{Outcome: OutcomeConflict, Object: existing}
}

// verify 校验 RSASSA-PKCS1-v1_5 / SHA-256 签名，消息为对象名的 UTF-8 字节。
func verify(key *rsa.PublicKey, objectName, signature string) error {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return err
	}
	digest := sha256.Sum256([]byte(objectName))
	return rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], raw)
}

func validObjectName(name string) bool {
	if name == "" || strings.HasSuffix(name, "/") || strings.HasPrefix(name, "/") {
		return false
	}
	for _, segment := range strings.Split(name, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return false
		}
	}
	return true
}
