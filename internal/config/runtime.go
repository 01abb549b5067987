package config

import (
	"fmt"
	"net/url"

	"github.com/edgehub/edgehub/internal/profile"
)

// SiteRuntime 将站点配置与 Profile 合并，方便运行时快速取用策略。
type SiteRuntime struct {
	Config SiteConfig
	// Profile 已应用站点覆盖。
	Profile profile.Profile
	// UpstreamURL 仅在 HTTP origin 时有值。
	UpstreamURL *url.URL
	// Bucket 为 bucket origin 时的 origin bucket，否则为 durable 副本 bucket。
	Bucket string
}

// BuildSiteRuntime 根据站点配置解析 Profile 并应用覆盖。
func BuildSiteRuntime(site SiteConfig) (SiteRuntime, error) {
	base, ok := profile.Resolve(site.Profile)
	if !ok {
		return SiteRuntime{}, newFieldError(siteField(site.Name, "Profile"), fmt.Sprintf("未注册类型: %s", site.Profile))
	}
	merged, err := profile.Apply(base, site.ProfileOverrides())
	if err != nil {
		return SiteRuntime{}, newFieldError(siteField(site.Name, "Profile"), err.Error())
	}

	runtime := SiteRuntime{Config: site, Profile: merged}
	if bucket, isBucket := site.OriginBucket(); isBucket {
		if merged.Origin != profile.OriginBucket {
			merged.Origin = profile.OriginBucket
			merged.DurableTier = false
			runtime.Profile = merged
		}
		runtime.Bucket = bucket
		return runtime, nil
	}

	if merged.Origin == profile.OriginBucket {
		return SiteRuntime{}, newFieldError(siteField(site.Name, "Upstream"), "bucket 类型站点需使用 bucket://<name>")
	}
	parsed, err := url.Parse(site.Upstream)
	if err != nil {
		return SiteRuntime{}, fmt.Errorf("%s: %w", siteField(site.Name, "Upstream"), err)
	}
	runtime.UpstreamURL = parsed
	runtime.Bucket = site.DurableBucket()
	return runtime, nil
}
