package profile

import "github.com/edgehub/edgehub/internal/cache"

func init() {
	// wiki：ETag 再验证，登录会话绕过缓存，durable 层以 .cache 后缀存放副本。
	MustRegister(Profile{
		Key:           "wiki",
		Description:   "Wiki front with session bypass and durable copies",
		Validation:    cache.ProtocolETag,
		DurableTier:   true,
		StorageSuffix: ".cache",
		SessionCookie: "wiki_sid",
		Origin:        OriginHTTP,
	})

	// vcs：版本库前端，只使用 edge 层。
	MustRegister(Profile{
		Key:         "vcs",
		Description: "Version-control host front, ephemeral tier only",
		Validation:  cache.ProtocolETag,
		Origin:      OriginHTTP,
	})

	// static：静态站点按 Last-Modified 再验证。
	MustRegister(Profile{
		Key:         "static",
		Description: "Static site revalidated with Last-Modified",
		Validation:  cache.ProtocolLastModified,
		Origin:      OriginHTTP,
	})

	// bucket：以 bucket 为 origin 的 CDN，目录请求补全 index.html，支持内容寻址上传。
	MustRegister(Profile{
		Key:           "bucket",
		Description:   "CDN served from a durable bucket with content-addressed uploads",
		Validation:    cache.ProtocolETag,
		Origin:        OriginBucket,
		Ingest:        IngestContentAddressed,
		NamespaceFrom: NamespaceFromPath,
		Bucket: BucketOptions{
			IndexDocument:    "index.html",
			ShortTTLSuffixes: []string{".html", ".yaml"},
		},
	})

	// symbols：调试符号仓库，路径寻址上传，已存在即冲突；对象以 .gz 形式存放。
	MustRegister(Profile{
		Key:             "symbols",
		Description:     "Debug-symbol store with path-addressed uploads",
		Validation:      cache.ProtocolETag,
		Origin:          OriginBucket,
		Ingest:          IngestPathAddressed,
		NamespaceFrom:   NamespaceFromHeader,
		NamespaceHeader: DefaultNamespaceHeader,
		Bucket: BucketOptions{
			AllowedSuffixes: []string{".sym", ".pdb", ".exe"},
			ObjectSuffix:    ".gz",
			ContentType:     "text/plain",
			ContentEncoding: "gzip",
		},
	})
}
