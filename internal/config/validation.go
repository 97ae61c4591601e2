package config

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
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
	if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
		return newFieldError("Global.LogLevel", "无法识别的日志级别: "+g.LogLevel)
	}
	if g.LogFilePath != "" && (g.LogMaxSize < 0 || g.LogMaxBackups < 0) {
		return newFieldError("Global.LogMaxSize", "日志轮转参数不能为负数")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.RootDir != "" && !filepath.IsAbs(g.RootDir) {
		return newFieldError("Global.RootDir", "必须是绝对路径")
	}
	for _, p := range g.PluginLoadPaths {
		if !strings.HasPrefix(p, "/") {
			return newFieldError("Global.PluginLoadPaths", "必须以 / 开头（相对于 RootDir）: "+p)
		}
	}

	seen := map[string]struct{}{}
	for i := range c.Plugins {
		plugin := &c.Plugins[i]
		if plugin.Name == "" {
			return newFieldError("Plugin[].Name", "不能为空")
		}
		if strings.ContainsAny(plugin.Name, `/\`) || plugin.Name == "." || plugin.Name == ".." {
			return newFieldError(pluginField(plugin.Name, "Name"), "不能包含路径分隔符")
		}
		if _, exists := seen[plugin.Name]; exists {
			return newFieldError(pluginField(plugin.Name, "Name"), "重复")
		}
		seen[plugin.Name] = struct{}{}
	}

	return nil
}
