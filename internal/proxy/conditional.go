package proxy

import (
	"net/http"
)

// applyClientConditional 用客户端自己的条件头与响应 validator 比较，匹配时返回无正文的 304，
// 只保留缓存状态与 validator。
func applyClientConditional(site *Site, env *envelope, client http.Header) *envelope {
	if env.status != http.StatusOK {
		return env
	}
	validator, ok := site.Protocol.Extract(env.header)
	if !ok || !validator.SatisfiedBy(client) {
		return env
	}
	env.close()

	header := make(http.Header)
	header.Set(validator.Protocol.Header(), validator.Value)
	return &envelope{
		status:      http.StatusNotModified,
		header:      header,
		cacheStatus: env.cacheStatus,
	}
}
