package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供站点/域名/缓存状态字段，供读路径日志复用。
func RequestFields(site, domain, profile, cacheStatus string) logrus.Fields {
	return logrus.Fields{
		"site":         site,
		"domain":       domain,
		"profile":      profile,
		"cache_status": cacheStatus,
	}
}

// IngestFields 提供上传日志字段。结果与签名失败原因只写日志，不会回显给客户端。
func IngestFields(site, namespace, object, result string) logrus.Fields {
	return logrus.Fields{
		"site":      site,
		"namespace": namespace,
		"object":    object,
		"result":    result,
	}
}

// TaskFields 描述一次后台持久化任务。
func TaskFields(task, site, key string) logrus.Fields {
	return logrus.Fields{
		"task": task,
		"site": site,
		"key":  key,
	}
}
