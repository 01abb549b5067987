package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/edgehub/edgehub/internal/profile"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	switch g.DurableBackend {
	case "fs", "sqlite":
	default:
		return newFieldError("Global.DurableBackend", "仅支持 fs/sqlite")
	}
	switch g.EphemeralBackend {
	case "memory", "leveldb":
	default:
		return newFieldError("Global.EphemeralBackend", "仅支持 memory/leveldb")
	}
	if g.EphemeralMaxEntries <= 0 {
		return newFieldError("Global.EphemeralMaxEntries", "必须大于 0")
	}
	if g.EphemeralMaxBytes <= 0 {
		return newFieldError("Global.EphemeralMaxBytes", "必须大于 0")
	}
	if g.MaxEphemeralEntrySize <= 0 {
		return newFieldError("Global.MaxEphemeralEntrySize", "必须大于 0")
	}
	if g.SpoolMemoryLimit <= 0 {
		return newFieldError("Global.SpoolMemoryLimit", "必须大于 0")
	}
	if g.MaxUploadSize <= 0 {
		return newFieldError("Global.MaxUploadSize", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.BackgroundTimeout.DurationValue() <= 0 {
		return newFieldError("Global.BackgroundTimeout", "必须大于 0")
	}
	if g.ShutdownTimeout.DurationValue() <= 0 {
		return newFieldError("Global.ShutdownTimeout", "必须大于 0")
	}

	if len(c.Sites) == 0 {
		return errors.New("至少需要配置一个 Site")
	}

	seenNames := map[string]struct{}{}
	seenDomains := map[string]string{}
	for i := range c.Sites {
		site := &c.Sites[i]
		if site.Name == "" {
			return newFieldError("Site[].Name", "不能为空")
		}
		if _, exists := seenNames[site.Name]; exists {
			return newFieldError(siteField(site.Name, "Name"), "重复")
		}
		seenNames[site.Name] = struct{}{}

		if err := validateDomain(site.Domain); err != nil {
			return fmt.Errorf("%s: %w", siteField(site.Name, "Domain"), err)
		}
		if other, exists := seenDomains[site.Domain]; exists {
			return newFieldError(siteField(site.Name, "Domain"), fmt.Sprintf("与 %s 重复", other))
		}
		seenDomains[site.Domain] = site.Name

		if site.Profile == "" {
			return newFieldError(siteField(site.Name, "Profile"), "不能为空")
		}
		if _, ok := profile.Resolve(site.Profile); !ok {
			return newFieldError(siteField(site.Name, "Profile"), "仅支持 "+strings.Join(profile.Keys(), "|"))
		}

		if err := validateUpstream(site.Upstream); err != nil {
			return fmt.Errorf("%s: %w", siteField(site.Name, "Upstream"), err)
		}

		runtime, err := BuildSiteRuntime(*site)
		if err != nil {
			return err
		}
		if runtime.Profile.Ingest != profile.IngestDisabled {
			if runtime.Profile.Origin != profile.OriginBucket {
				return newFieldError(siteField(site.Name, "Ingest"), "上传仅支持 bucket:// 站点")
			}
			if strings.TrimSpace(site.KeysFile) == "" {
				return newFieldError(siteField(site.Name, "KeysFile"), "启用上传时不能为空")
			}
		}
	}

	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch parsed.Scheme {
	case "http", "https", BucketScheme:
	default:
		return fmt.Errorf("仅支持 http/https/bucket，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
