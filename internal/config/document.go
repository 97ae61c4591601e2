package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DecodeDocument 按扩展名解析 toml/yaml/json 文档，保留 key 的原始大小写。
// viper 会把所有层级的 key 转成小写，自由格式的配置段必须走这里。
func DecodeDocument(file string, data []byte) (map[string]any, error) {
	doc := map[string]any{}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(file)), ".")
	var err error
	switch ext {
	case "toml":
		err = toml.Unmarshal(data, &doc)
	case "yaml", "yml":
		err = yaml.Unmarshal(data, &doc)
	case "json":
		err = json.Unmarshal(data, &doc)
	default:
		return nil, fmt.Errorf("不支持的文档格式: %s", filepath.Base(file))
	}
	if err != nil {
		return nil, fmt.Errorf("解析 %s 失败: %w", filepath.Base(file), err)
	}
	return doc, nil
}

// lookupFold 以大小写不敏感的方式取顶层 key，与 viper 的行为一致。
func lookupFold(doc map[string]any, key string) (any, bool) {
	if v, ok := doc[key]; ok {
		return v, true
	}
	for k, v := range doc {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
