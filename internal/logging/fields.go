package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供 hydra 实例、命中 head 与请求行字段，供分发日志复用。
func RequestFields(hydra, head, method, path string) logrus.Fields {
	fields := logrus.Fields{
		"hydra":  hydra,
		"method": method,
		"path":   path,
	}
	if head != "" {
		fields["head"] = head
	}
	return fields
}

// PluginFields 描述插件加载过程中的定位信息。
func PluginFields(plugin, dir string) logrus.Fields {
	return logrus.Fields{
		"plugin": plugin,
		"dir":    dir,
	}
}
