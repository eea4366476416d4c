package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供请求分类、响应来源与目标地址字段，供代理请求日志复用。
func RequestFields(class, source, target string, status int) logrus.Fields {
	return logrus.Fields{
		"class":           class,
		"source":          source,
		"target":          target,
		"upstream_status": status,
	}
}

// WorkerFields 描述 worker 的版本与生命周期状态。
func WorkerFields(action, version, state string) logrus.Fields {
	return logrus.Fields{
		"action":  action,
		"version": version,
		"state":   state,
	}
}
