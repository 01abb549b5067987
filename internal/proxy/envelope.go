package proxy

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/edgehub/edgehub/internal/cache"
)

// edgeStorageControl 是写入 edge 层时使用的存储指令，只在条目内部出现。
const edgeStorageControl = "public, max-age=31536000"

// envelope 是读路径内部的响应表示。header 始终保存对外可见的头（包括 origin 原始
// Cache-Control），storageControl 单独保存 edge 存储指令，只有 toEntry 会把两者折叠为
// 影子头形式。
type envelope struct {
	status      int
	header      http.Header
	body        []byte
	stream      io.ReadCloser
	size        int64
	cacheStatus CacheStatus

	storageControl string
	bypassReason   string
}

func newBufferedEnvelope(status int, header http.Header, body []byte) *envelope {
	return &envelope{
		status: status,
		header: header,
		body:   body,
		size:   int64(len(body)),
	}
}

// close 释放流式正文。
func (e *envelope) close() {
	if e.stream != nil {
		e.stream.Close()
		e.stream = nil
	}
}

// toEntry 折叠为 edge 层条目：Cache-Control 写入存储指令，origin 原值保存到影子头。
func (e *envelope) toEntry(now time.Time) *cache.Entry {
	header := e.header.Clone()
	header.Del(CacheStatusHeader)
	header.Del(cache.ShadowControlHeader)
	if original := e.header.Get("Cache-Control"); original != "" {
		header.Set(cache.ShadowControlHeader, original)
	}
	directive := e.storageControl
	if directive == "" {
		directive = edgeStorageControl
	}
	header.Set("Cache-Control", directive)
	return &cache.Entry{
		Status:   e.status,
		Header:   header,
		Body:     e.body,
		StoredAt: now,
	}
}

// envelopeFromEntry 展开 edge 条目：影子头还原为 Cache-Control，存储指令回到独立字段。
func envelopeFromEntry(entry *cache.Entry) *envelope {
	header := entry.Header.Clone()
	storage := header.Get("Cache-Control")
	header.Del("Cache-Control")
	if original := header.Get(cache.ShadowControlHeader); original != "" {
		header.Set("Cache-Control", original)
	}
	header.Del(cache.ShadowControlHeader)
	header.Set("Content-Length", strconv.Itoa(len(entry.Body)))

	status := entry.Status
	if status == 0 {
		status = http.StatusOK
	}
	env := newBufferedEnvelope(status, header, entry.Body)
	env.storageControl = storage
	return env
}

// outwardHeader 返回离开系统前的响应头，附带缓存状态。
func (e *envelope) outwardHeader() http.Header {
	header := e.header.Clone()
	header.Del(cache.ShadowControlHeader)
	if e.cacheStatus != "" {
		header.Set(CacheStatusHeader, e.cacheStatus.String())
	}
	return header
}
