package ingest

import (
	"net/http"

	"github.com/edgehub/edgehub/internal/storage"
)

// Outcome 是一次上传的结论。
type Outcome int

const (
	// OutcomeNotFound 覆盖所有校验失败（缺少头、未知命名空间、签名无效），对外不区分原因。
	OutcomeNotFound Outcome = iota
	OutcomeCreated
	OutcomeDuplicate
	OutcomeConflict
	OutcomeInternalError
)

var outcomeNames = map[Outcome]string{
	OutcomeNotFound:      "not_found",
	OutcomeCreated:       "created",
	OutcomeDuplicate:     "duplicate",
	OutcomeConflict:      "conflict",
	OutcomeInternalError: "internal_error",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "unknown"
}

// StatusCode 返回对外的 HTTP 状态码。
func (o Outcome) StatusCode() int {
	switch o {
	case OutcomeCreated, OutcomeDuplicate:
		return http.StatusOK
	case OutcomeConflict:
		return http.StatusConflict
	case OutcomeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusNotFound
	}
}

// Message 返回对外的纯文本正文。
func (o Outcome) Message() string {
	switch o {
	case OutcomeCreated:
		return "OK"
	case OutcomeDuplicate:
		return "OK - Identical File Already Exists"
	case OutcomeConflict:
		return "File Already Exists"
	case OutcomeInternalError:
		return "Internal Server Error"
	default:
		return "Not Found"
	}
}

// Result 是 Gateway.Put 的返回值。Reason 与 Err 只用于日志。
type Result struct {
	Outcome Outcome
	Object  *storage.Metadata
	Reason  string
	Err     error
}

func reject(reason string) Result {
	return Result{Outcome: OutcomeNotFound, Reason: reason}
}
