package plugin

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"

	"github.com/any-hub/hydra/internal/config"
	"github.com/any-hub/hydra/internal/head"
)

var (
	// ErrPluginNotFound: no search directory contains the plugin and no module is registered under its name.
	ErrPluginNotFound = errors.New("plugin not found")
	// ErrInvalidPlugin: the descriptor or module breaks the plugin contract.
	ErrInvalidPlugin = errors.New("invalid plugin")
)

// DescriptorName is the base name of the optional file inside a plugin directory.
const DescriptorName = "plugin"

var descriptorExts = []string{"toml", "yaml", "yml", "json"}

// 内置搜索路径，均相对于 RootDir。
var builtinSearchPaths = []string{
	"/usr/share/hydra/plugins",
	"/usr/local/share/hydra/plugins",
}

// Info is a loaded plugin. Heads and Tests hold the template set built at load
// time; serving instances get their own copies via Instantiate.
type Info struct {
	Name        string
	Dir         string
	Config      map[string]any
	Module      string
	Description string
	Picker      PickerFunc
	// PickerSource is the picker expression, empty for module pickers.
	PickerSource string
	Heads        []head.Head
	Tests        map[string][]head.Head

	headDescs []map[string]any
	testDescs map[string][]map[string]any
	module    *Module
}

type descriptor struct {
	Module      string                      `mapstructure:"module"`
	Description string                      `mapstructure:"description"`
	Picker      any                         `mapstructure:"picker"`
	Heads       []map[string]any            `mapstructure:"heads"`
	Tests       map[string][]map[string]any `mapstructure:"tests"`
}

// SearchPaths returns the plugin directories in increasing precedence: the
// built-in trees under rootDir, then each extra path (also under rootDir).
func SearchPaths(rootDir string, extra []string) []string {
	paths := make([]string, 0, len(builtinSearchPaths)+len(extra))
	for _, p := range builtinSearchPaths {
		paths = append(paths, filepath.Join(rootDir, p))
	}
	for _, p := range extra {
		paths = append(paths, filepath.Join(rootDir, p))
	}
	return paths
}

// Locate 从优先级最高的搜索路径开始查找名为 name 的插件目录。
func Locate(fs afero.Fs, paths []string, name string) (string, error) {
	for i := len(paths) - 1; i >= 0; i-- {
		dir := filepath.Join(paths[i], name)
		ok, err := afero.DirExists(fs, dir)
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", dir, err)
		}
		if ok {
			return dir, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrPluginNotFound, name)
}

// Load resolves a configured plugin, reads its descriptor, binds its Go module
// and builds the template heads so that configuration errors surface before
// any request is served.
func Load(fs afero.Fs, paths []string, cfg config.PluginConfig, env head.Env) (*Info, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	info := &Info{Name: cfg.Name, Config: cfg.Config}
	if info.Config == nil {
		info.Config = map[string]any{}
	}

	dir, err := Locate(fs, paths, cfg.Name)
	switch {
	case err == nil:
		info.Dir = dir
	case errors.Is(err, ErrPluginNotFound):
		// 纯 Go 模块可以没有目录
		if _, ok := Resolve(cfg.Name); !ok {
			return nil, err
		}
	default:
		return nil, err
	}

	var desc *descriptor
	if info.Dir != "" {
		if desc, err = readDescriptor(fs, info.Dir); err != nil {
			return nil, invalid(cfg.Name, err.Error())
		}
	}

	moduleKey := cfg.Name
	if desc != nil && desc.Module != "" {
		moduleKey = desc.Module
	}
	if mod, ok := Resolve(moduleKey); ok {
		info.module = &mod
		info.Module = mod.Key
		info.Description = mod.Description
	} else if desc != nil && desc.Module != "" {
		return nil, invalid(cfg.Name, fmt.Sprintf("module %q is not registered", desc.Module))
	}

	if desc == nil && info.module == nil {
		return nil, invalid(cfg.Name, "directory has neither a descriptor nor a registered module")
	}

	if desc != nil {
		if desc.Description != "" {
			info.Description = desc.Description
		}
		info.headDescs = desc.Heads
		info.testDescs = desc.Tests
		if desc.Picker != nil {
			source, ok := desc.Picker.(string)
			if !ok {
				return nil, invalid(cfg.Name, fmt.Sprintf("picker must be an expression string, got %T", desc.Picker))
			}
			picker, err := CompilePicker(source)
			if err != nil {
				return nil, invalid(cfg.Name, err.Error())
			}
			info.Picker = picker
			info.PickerSource = source
		}
	}
	if info.module != nil && info.module.Picker != nil {
		if info.Picker != nil {
			return nil, invalid(cfg.Name, "descriptor and module both define a picker")
		}
		info.Picker = info.module.Picker
	}

	heads, tests, err := info.Instantiate(env, &memState{values: map[string]any{}})
	if err != nil {
		return nil, err
	}
	info.Heads = heads
	info.Tests = tests
	return info, nil
}

// Instantiate builds a fresh head set; descriptor heads come before module heads.
func (i *Info) Instantiate(env head.Env, state State) ([]head.Head, map[string][]head.Head, error) {
	if env.Dir == "" {
		env.Dir = i.Dir
	}

	heads, err := buildHeads(i.Name, "heads", i.headDescs, env)
	if err != nil {
		return nil, nil, err
	}

	tests := make(map[string][]head.Head, len(i.testDescs))
	for name, descs := range i.testDescs {
		built, err := buildHeads(i.Name, "tests."+name, descs, env)
		if err != nil {
			return nil, nil, err
		}
		tests[name] = built
	}

	if i.module == nil {
		return heads, tests, nil
	}

	ctx := Context{Name: i.Name, Dir: i.Dir, Config: i.Config, Env: env, State: state}
	if i.module.Heads != nil {
		built, err := i.module.Heads(ctx)
		if err != nil {
			return nil, nil, invalid(i.Name, "module heads: "+err.Error())
		}
		heads = append(heads, built...)
	}
	if i.module.Tests != nil {
		built, err := i.module.Tests(ctx)
		if err != nil {
			return nil, nil, invalid(i.Name, "module tests: "+err.Error())
		}
		for name, testHeads := range built {
			if _, exists := tests[name]; exists {
				return nil, nil, invalid(i.Name, fmt.Sprintf("test %q defined twice", name))
			}
			tests[name] = testHeads
		}
	}
	return heads, tests, nil
}

// TestNames returns the declared test names, sorted.
func (i *Info) TestNames() []string {
	names := make([]string, 0, len(i.Tests))
	for name := range i.Tests {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func buildHeads(pluginName, field string, descs []map[string]any, env head.Env) ([]head.Head, error) {
	heads := make([]head.Head, 0, len(descs))
	for idx, opts := range descs {
		h, err := head.FromMap(opts, env)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %s[%d]: %w", ErrInvalidPlugin, pluginName, field, idx, err)
		}
		heads = append(heads, h)
	}
	return heads, nil
}

// readDescriptor 读取插件目录中的描述文件，不存在时返回 nil。
func readDescriptor(fs afero.Fs, dir string) (*descriptor, error) {
	for _, ext := range descriptorExts {
		file := filepath.Join(dir, DescriptorName+"."+ext)
		ok, err := afero.Exists(fs, file)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		data, err := afero.ReadFile(fs, file)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", filepath.Base(file), err)
		}
		// 描述文件中的 content、traffic 等自由格式字段需要保留 key 的大小写
		doc, err := config.DecodeDocument(file, data)
		if err != nil {
			return nil, err
		}

		var desc descriptor
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:      &desc,
			ErrorUnused: true,
		})
		if err != nil {
			return nil, err
		}
		if err := decoder.Decode(doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", filepath.Base(file), err)
		}
		return &desc, nil
	}
	return nil, nil
}

func invalid(name, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidPlugin, name, strings.TrimSpace(reason))
}

// memState 仅用于加载阶段构建模板 head。
type memState struct {
	mu     sync.Mutex
	values map[string]any
}

func (s *memState) Set(key string, value any) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

func (s *memState) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}
