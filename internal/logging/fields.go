package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// ResolveFields 提供 uri/本地路径/命中状态字段，供缓存解析日志复用。
func ResolveFields(uri, path string, cacheHit bool) logrus.Fields {
	fields := logrus.Fields{
		"uri":       uri,
		"cache_hit": cacheHit,
	}
	if path != "" {
		fields["path"] = path
	}
	return fields
}

// RequestFields 提供 HTTP 请求字段，供 server 访问日志复用。
func RequestFields(method, path, requestID string, status int) logrus.Fields {
	fields := logrus.Fields{
		"method": method,
		"path":   path,
		"status": status,
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}

// SweepFields 汇总一次过期清理的统计字段。
func SweepFields(days float64, scanned, removed, failed int, freed int64) logrus.Fields {
	return logrus.Fields{
		"action":      "cache_sweep",
		"max_days":    days,
		"scanned":     scanned,
		"removed":     removed,
		"failed":      failed,
		"freed_bytes": freed,
	}
}
