package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultPath is used when neither a flag nor HYDRA_CONFIG names a file.
const DefaultPath = "hydra.toml"

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if err := rejectInlinePluginNames(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := restorePluginConfigs(path, cfg.Plugins); err != nil {
		return nil, err
	}

	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.Plugins {
		applyPluginDefaults(&cfg.Plugins[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 3000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("RootDir", "")
	v.SetDefault("UpstreamTimeout", "30s")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 3000
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	g.RootDir = strings.TrimRight(strings.TrimSpace(g.RootDir), "/")
	paths := g.PluginLoadPaths[:0]
	for _, p := range g.PluginLoadPaths {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			paths = append(paths, trimmed)
		}
	}
	g.PluginLoadPaths = paths
}

func applyPluginDefaults(p *PluginConfig) {
	p.Name = strings.TrimSpace(p.Name)
	if p.Config == nil {
		p.Config = map[string]any{}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// rejectInlinePluginNames 拒绝 `Plugin = ["a", "b"]` 这种缺少表结构的写法，给出明确字段提示。
func rejectInlinePluginNames(v *viper.Viper) error {
	raw := v.Get("Plugin")
	entries, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	for idx, entry := range entries {
		if _, isTable := entry.(map[string]interface{}); !isTable {
			return newFieldError(pluginField(fmt.Sprintf("#%d", idx), "Name"), "请使用 [[Plugin]] 表并填写 Name")
		}
	}
	return nil
}

// restorePluginConfigs 重新读取原始文档，用保留大小写的 Plugin[].Config 覆盖 viper 的结果。
func restorePluginConfigs(path string, plugins []PluginConfig) error {
	if len(plugins) == 0 {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("读取配置失败: %w", err)
	}
	doc, err := DecodeDocument(path, data)
	if err != nil {
		return fmt.Errorf("解析配置失败: %w", err)
	}
	raw, _ := lookupFold(doc, "Plugin")
	entries, _ := raw.([]any)
	for idx := range plugins {
		if idx >= len(entries) {
			break
		}
		entry, ok := entries[idx].(map[string]any)
		if !ok {
			continue
		}
		if section, ok := lookupFold(entry, "Config"); ok {
			if m, ok := section.(map[string]any); ok {
				plugins[idx].Config = m
			}
		}
	}
	return nil
}
