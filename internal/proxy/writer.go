package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/edgehub/edgehub/internal/cache"
	"github.com/edgehub/edgehub/internal/storage"
)

// cacheableValidator 判断 origin 响应能否进入缓存：必须是 200 且携带站点协议的 validator。
func cacheableValidator(site *Site, env *envelope) (cache.Validator, bool) {
	if env.status != http.StatusOK {
		return cache.Validator{}, false
	}
	return site.Protocol.Extract(env.header)
}

// putEphemeral 在后台把响应写入 edge 层。超过单条上限的响应只透传不缓存；
// 已落盘的正文在后台任务中读回。
func (e *Engine) putEphemeral(site *Site, key cache.Key, env *envelope, body *spooledBody) {
	fields := e.taskFields("put_ephemeral", site, key)
	if env.size >= e.maxEntrySize {
		e.logger.WithFields(fields).WithField("size", env.size).Debug("ephemeral_skip_oversize")
		return
	}
	entry := env.toEntry(e.now())
	if body == nil || body.inMemory() {
		_ = e.tasks.Go("put_ephemeral", fields, func(ctx context.Context) error {
			return e.ephemeral.Put(ctx, key, entry)
		})
		return
	}

	reader := body.open()
	err := e.tasks.Go("put_ephemeral", fields, func(ctx context.Context) error {
		defer reader.Close()
		data, err := io.ReadAll(reader)
		if err != nil {
			return err
		}
		entry.Body = data
		return e.ephemeral.Put(ctx, key, entry)
	})
	if err != nil {
		reader.Close()
	}
}

// putDurable 在后台写入 durable 层，validator 记录在 custom metadata 中。
func (e *Engine) putDurable(site *Site, key cache.Key, env *envelope, body *spooledBody, validator cache.Validator) {
	reader := durableReader(env, body)
	opts := durablePutOptions(env, validator)
	err := e.tasks.Go("put_durable", e.taskFields("put_durable", site, key), func(ctx context.Context) error {
		defer reader.Close()
		_, err := site.Durable.Put(ctx, key.ObjectName(), reader, opts)
		return err
	})
	if err != nil {
		reader.Close()
	}
}

// refreshDurable 在 edge 条目过期后检查 durable 副本，缺失或 validator 不同时覆盖。
func (e *Engine) refreshDurable(site *Site, key cache.Key, env *envelope, body *spooledBody, validator cache.Validator) {
	reader := durableReader(env, body)
	opts := durablePutOptions(env, validator)
	err := e.tasks.Go("refresh_durable", e.taskFields("refresh_durable", site, key), func(ctx context.Context) error {
		defer reader.Close()
		meta, err := site.Durable.Head(ctx, key.ObjectName())
		switch {
		case err == nil:
			if current, ok := site.Protocol.FromMetadata(meta.CustomMetadata); ok && current.Value == validator.Value {
				return nil
			}
		case !errors.Is(err, storage.ErrNotFound):
			return err
		}
		_, err = site.Durable.Put(ctx, key.ObjectName(), reader, opts)
		return err
	})
	if err != nil {
		reader.Close()
	}
}

func durableReader(env *envelope, body *spooledBody) io.ReadCloser {
	if body != nil && !body.inMemory() {
		return body.open()
	}
	return io.NopCloser(bytes.NewReader(env.body))
}

func durablePutOptions(env *envelope, validator cache.Validator) storage.PutOptions {
	return storage.PutOptions{
		ContentType: env.header.Get("Content-Type"),
		HTTPHeader:  storage.FilterHTTPMetadata(env.header),
		CustomMetadata: map[string]string{
			validator.Protocol.MetadataKey(): validator.Value,
		},
	}
}
