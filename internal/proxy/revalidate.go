package proxy

import (
	"context"
	"io"
	"net/http"

	"github.com/edgehub/edgehub/internal/cache"
)

// revalidate 携带缓存的 validator 向 origin 发起条件请求。
// 返回 fresh=true 表示 origin 回复 304；其余任何状态都视为过期，并把响应交给调用方。
func (e *Engine) revalidate(ctx context.Context, site *Site, req *http.Request, validator cache.Validator) (*http.Response, bool, error) {
	conditional := req.Clone(ctx)
	conditional.Header = req.Header.Clone()
	validator.ApplyConditional(conditional.Header)

	resp, err := site.Origin.Fetch(ctx, conditional, FetchOptions{Revalidate: true})
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode == http.StatusNotModified {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, true, nil
	}
	return resp, false, nil
}
