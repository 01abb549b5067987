package cache

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ShadowControlHeader 在 edge 层条目中保存 origin 原始的 Cache-Control，
// 条目对外输出前必须还原并删除该字段。
const ShadowControlHeader = "X-Cache-Control"

// ErrNotFound 表示缓存不存在（或已过期）。
var ErrNotFound = errors.New("cache entry not found")

// Entry 是 edge 层保存的完整响应。Header 中的 Cache-Control 是 edge 存储指令，
// ShadowControlHeader 保存 origin 的原始值。
type Entry struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// Size 返回正文字节数。
func (e *Entry) Size() int64 {
	if e == nil {
		return 0
	}
	return int64(len(e.Body))
}

// Clone 深拷贝 Header，Body 共享底层只读切片。
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	cloned := *e
	cloned.Header = e.Header.Clone()
	return &cloned
}

// Expired 根据存储指令中的 max-age 判断条目是否已超出 edge 存储期限。
func (e *Entry) Expired(now time.Time) bool {
	if e == nil {
		return true
	}
	maxAge, ok := MaxAge(e.Header.Get("Cache-Control"))
	if !ok {
		return false
	}
	return now.After(e.StoredAt.Add(maxAge))
}

// MaxAge 解析 Cache-Control 中的 max-age 指令。
func MaxAge(cacheControl string) (time.Duration, bool) {
	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.TrimSpace(strings.ToLower(directive))
		value, found := strings.CutPrefix(directive, "max-age=")
		if !found {
			continue
		}
		seconds, err := strconv.ParseInt(strings.Trim(value, `"`), 10, 64)
		if err != nil || seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	return 0, false
}
