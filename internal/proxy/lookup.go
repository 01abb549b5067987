package proxy

import (
	"context"
	"errors"

	"github.com/edgehub/edgehub/internal/cache"
	"github.com/edgehub/edgehub/internal/storage"
)

type lookupSource int

const (
	sourceNone lookupSource = iota
	sourceEphemeral
	sourceDurable
)

// lookupResult 是按层查找的结果；只有带 validator 的条目才算命中。
type lookupResult struct {
	source    lookupSource
	entry     *cache.Entry
	object    *storage.Object
	validator cache.Validator
}

// lookup 先查 edge 层，再查 durable 层。缺少 validator 的条目视为不存在。
func (e *Engine) lookup(ctx context.Context, site *Site, key cache.Key) lookupResult {
	entry, err := e.ephemeral.Match(ctx, key)
	switch {
	case err == nil:
		if validator, ok := site.Protocol.Extract(entry.Header); ok {
			return lookupResult{source: sourceEphemeral, entry: entry, validator: validator}
		}
	case !errors.Is(err, cache.ErrNotFound):
		e.logger.WithError(err).WithFields(e.siteFields(site, key)).Warn("ephemeral_match_failed")
	}

	if site.Durable == nil {
		return lookupResult{}
	}
	obj, err := site.Durable.Get(ctx, key.ObjectName())
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			e.logger.WithError(err).WithFields(e.siteFields(site, key)).Warn("durable_get_failed")
		}
		return lookupResult{}
	}
	validator, ok := site.Protocol.FromMetadata(obj.CustomMetadata)
	if !ok {
		obj.Body.Close()
		return lookupResult{}
	}
	return lookupResult{source: sourceDurable, object: obj, validator: validator}
}
