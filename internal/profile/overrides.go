package profile

import (
	"fmt"
	"strings"

	"github.com/edgehub/edgehub/internal/cache"
)

// Overrides 描述来自 [[Site]] 的字段覆盖，空值表示沿用 Profile 默认。
type Overrides struct {
	Validation       string
	DurableTier      *bool
	StorageSuffix    string
	SessionCookie    string
	Ingest           string
	NamespaceFrom    string
	NamespaceHeader  string
	ShortTTLSuffixes []string
	IndexDocument    string
}

// Apply 将站点级覆盖与 Profile 默认值合并，并补齐缺省字段。
func Apply(p Profile, o Overrides) (Profile, error) {
	if o.Validation != "" {
		protocol, ok := cache.ParseProtocol(o.Validation)
		if !ok {
			return Profile{}, fmt.Errorf("unsupported validation %q", o.Validation)
		}
		p.Validation = protocol
	}
	if o.DurableTier != nil {
		p.DurableTier = *o.DurableTier
	}
	if o.StorageSuffix != "" {
		p.StorageSuffix = o.StorageSuffix
	}
	if o.SessionCookie != "" {
		p.SessionCookie = o.SessionCookie
	}
	if o.Ingest != "" {
		mode, ok := ParseIngestMode(o.Ingest)
		if !ok {
			return Profile{}, fmt.Errorf("unsupported ingest mode %q", o.Ingest)
		}
		p.Ingest = mode
	}
	if o.NamespaceFrom != "" {
		switch source := NamespaceSource(strings.ToLower(o.NamespaceFrom)); source {
		case NamespaceFromPath, NamespaceFromHeader:
			p.NamespaceFrom = source
		default:
			return Profile{}, fmt.Errorf("unsupported namespace source %q", o.NamespaceFrom)
		}
	}
	if o.NamespaceHeader != "" {
		p.NamespaceHeader = o.NamespaceHeader
	}
	if len(o.ShortTTLSuffixes) > 0 {
		p.Bucket.ShortTTLSuffixes = append([]string(nil), o.ShortTTLSuffixes...)
	}
	if o.IndexDocument != "" {
		p.Bucket.IndexDocument = o.IndexDocument
	}
	return normalize(p), nil
}

func normalize(p Profile) Profile {
	if p.Validation == "" {
		p.Validation = cache.ProtocolETag
	}
	if p.Origin == "" {
		p.Origin = OriginHTTP
	}
	// bucket 本身就是 origin，不再额外写 durable 副本。
	if p.Origin == OriginBucket {
		p.DurableTier = false
	}
	if p.Ingest != IngestDisabled {
		if p.NamespaceFrom == "" {
			p.NamespaceFrom = NamespaceFromPath
		}
		if p.NamespaceFrom == NamespaceFromHeader && p.NamespaceHeader == "" {
			p.NamespaceHeader = DefaultNamespaceHeader
		}
	}
	return p
}
