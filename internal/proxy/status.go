package proxy

// CacheStatusHeader 是每个响应都会携带的缓存状态头。
const CacheStatusHeader = "Cf-Cache-Status"

// CacheStatus 标注响应来自哪一层以及再验证结果，仅用于观测，不影响正确性。
type CacheStatus string

const (
	// StatusBypass 表示请求不可缓存（非 GET/HEAD、已登录等），直接透传 origin。
	StatusBypass CacheStatus = "BYPASS"
	// StatusMiss 表示没有可用条目，内容来自 origin。
	StatusMiss CacheStatus = "MISS"
	// StatusExpired 表示 edge 条目存在但 origin 确认已过期。
	StatusExpired CacheStatus = "EXPIRED"
	// StatusRevalidated 表示 edge 条目经 origin 确认仍然新鲜。
	StatusRevalidated CacheStatus = "REVALIDATED"
	// StatusUpdating 表示内容来自 durable 层，origin 确认其仍然新鲜。
	StatusUpdating CacheStatus = "UPDATING"
)

func (s CacheStatus) String() string {
	return string(s)
}
