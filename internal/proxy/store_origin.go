package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/edgehub/edgehub/internal/profile"
	"github.com/edgehub/edgehub/internal/storage"
)

const (
	shortTTLDirective  = "public, max-age=60, must-revalidate"
	immutableDirective = "public, max-age=31536000, immutable"
)

// bucketOrigin 把 durable bucket 当作 origin 使用，映射规则由 BucketOptions 决定。
type bucketOrigin struct {
	store storage.Store
	opts  profile.BucketOptions
}

// NewBucketOrigin 创建以 bucket 为内容来源的 origin。
func NewBucketOrigin(store storage.Store, opts profile.BucketOptions) Origin {
	return &bucketOrigin{store: store, opts: opts}
}

func (o *bucketOrigin) Fetch(ctx context.Context, req *http.Request, _ FetchOptions) (*http.Response, error) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return textResponse(req, http.StatusMethodNotAllowed, "Method not allowed"), nil
	}

	name, status := o.objectName(req.URL.Path)
	if status != http.StatusOK {
		return textResponse(req, status, http.StatusText(status)), nil
	}

	obj, err := o.store.Get(ctx, name+o.opts.ObjectSuffix)
	if errors.Is(err, storage.ErrNotFound) {
		return textResponse(req, http.StatusNotFound, "Not found"), nil
	}
	if err != nil {
		return nil, err
	}

	header := obj.HTTPHeader.Clone()
	if header == nil {
		header = make(http.Header)
	}
	if obj.ContentType != "" {
		header.Set("Content-Type", obj.ContentType)
	}
	header.Set("Cache-Control", o.directiveFor(name))
	header.Set("Etag", obj.ETag)
	if o.opts.ContentType != "" {
		header.Set("Content-Type", o.opts.ContentType)
	}
	if o.opts.ContentEncoding != "" {
		header.Set("Content-Encoding", o.opts.ContentEncoding)
	}

	if inm := req.Header.Get("If-None-Match"); inm != "" && etagListContains(inm, obj.ETag) {
		obj.Body.Close()
		return &http.Response{
			StatusCode: http.StatusNotModified,
			Status:     http.StatusText(http.StatusNotModified),
			Header:     header,
			Body:       http.NoBody,
			Request:    req,
		}, nil
	}

	header.Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        http.StatusText(http.StatusOK),
		Header:        header,
		Body:          obj.Body,
		ContentLength: obj.Size,
		Request:       req,
	}, nil
}

// objectName 把请求路径映射为对象名，无法服务时返回对应状态码。
func (o *bucketOrigin) objectName(rawPath string) (string, int) {
	name := strings.TrimPrefix(path.Clean("/"+rawPath), "/")
	folder := name == "" || strings.HasSuffix(rawPath, "/")
	if folder {
		if o.opts.IndexDocument == "" {
			return "", http.StatusForbidden
		}
		if name != "" {
			name += "/"
		}
		name += o.opts.IndexDocument
	}
	if len(o.opts.AllowedSuffixes) > 0 && !hasAnySuffix(name, o.opts.AllowedSuffixes) {
		return "", http.StatusNotFound
	}
	return name, http.StatusOK
}

func (o *bucketOrigin) directiveFor(name string) string {
	if hasAnySuffix(name, o.opts.ShortTTLSuffixes) {
		return shortTTLDirective
	}
	return immutableDirective
}

func hasAnySuffix(name string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if suffix != "" && strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func etagListContains(list, etag string) bool {
	for _, candidate := range strings.Split(list, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}

func textResponse(req *http.Request, status int, body string) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Content-Length", strconv.Itoa(len(body)))
	return &http.Response{
		StatusCode:    status,
		Status:        http.StatusText(status),
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader([]byte(body))),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
