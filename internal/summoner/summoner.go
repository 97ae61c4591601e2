// Package summoner 加载配置中的插件，并按 picker 计算出的键维护 hydra 实例注册表。
package summoner

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/any-hub/hydra/internal/config"
	"github.com/any-hub/hydra/internal/head"
	"github.com/any-hub/hydra/internal/httpx"
	"github.com/any-hub/hydra/internal/hydra"
	"github.com/any-hub/hydra/internal/logging"
	"github.com/any-hub/hydra/internal/plugin"
)

// ErrInvalidSummonerConfiguration: 有多个已加载插件导出了 picker。
var ErrInvalidSummonerConfiguration = errors.New("invalid summoner configuration")

// DefaultKey 是没有插件导出 picker 时使用的实例键。
const DefaultKey = "*default*"

// Options 控制插件搜索与 head 的运行时依赖。
type Options struct {
	RootDir              string
	ExtraPluginLoadPaths []string
	Fs                   afero.Fs
	Logger               *logrus.Logger
	// Upstream 替换所有 proxy head 的 HTTP 客户端。
	Upstream head.RequestFunc
}

// Summoner 把每个请求映射到一个隔离的 hydra 实例。
type Summoner struct {
	opts    Options
	plugins []*plugin.Info
	picker  plugin.PickerFunc
	// pickerOwner 是当前生效 picker 所属的插件。
	pickerOwner string

	mu     sync.Mutex
	hydras map[string]*hydra.Hydra
}

// New 按配置顺序加载全部插件，并检查最多只有一个插件导出 picker。
func New(plugins []config.PluginConfig, opts Options) (*Summoner, error) {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	s := &Summoner{opts: opts, hydras: make(map[string]*hydra.Hydra)}
	paths := plugin.SearchPaths(opts.RootDir, opts.ExtraPluginLoadPaths)

	var pickers []string
	for _, cfg := range plugins {
		info, err := plugin.Load(opts.Fs, paths, cfg, s.env())
		if err != nil {
			return nil, err
		}
		if info.Picker != nil {
			pickers = append(pickers, info.Name)
			s.picker = info.Picker
			s.pickerOwner = info.Name
		}
		s.plugins = append(s.plugins, info)

		fields := logging.PluginFields(info.Name, info.Dir)
		fields["action"] = "plugin_loaded"
		fields["module"] = info.Module
		fields["heads"] = len(info.Heads)
		opts.Logger.WithFields(fields).Debug("plugin loaded")
	}

	if len(pickers) > 1 {
		return nil, fmt.Errorf("%w: more than one picker (%s)", ErrInvalidSummonerConfiguration, strings.Join(pickers, ", "))
	}
	if s.picker == nil {
		s.picker = defaultPicker
	}
	return s, nil
}

func defaultPicker(*httpx.Request) (string, error) {
	return DefaultKey, nil
}

func (s *Summoner) env() head.Env {
	return head.Env{Fs: s.opts.Fs, Logger: s.opts.Logger, Upstream: s.opts.Upstream}
}

// Summon 返回请求对应 picker 键的实例，首次使用时创建。
func (s *Summoner) Summon(req *httpx.Request) (*hydra.Hydra, error) {
	key, err := s.picker(req)
	if err != nil {
		return nil, fmt.Errorf("picker %s: %w", s.pickerOwner, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if hy, ok := s.hydras[key]; ok {
		return hy, nil
	}
	hy, err := s.summon(key)
	if err != nil {
		return nil, err
	}
	s.hydras[key] = hy
	return hy, nil
}

// summon 为新键从插件模板构建全新的 head 集合。
func (s *Summoner) summon(key string) (*hydra.Hydra, error) {
	hy := hydra.New(key, nil, s.opts.Logger)
	for _, info := range s.plugins {
		heads, tests, err := info.Instantiate(s.env(), hy)
		if err != nil {
			return nil, fmt.Errorf("summon %q: %w", key, err)
		}
		hy.AddPlugin(hydra.Plugin{Name: info.Name, Heads: heads, Tests: tests})
	}

	s.opts.Logger.WithFields(logrus.Fields{
		"action": "hydra_summoned",
		"hydra":  key,
	}).Info("hydra summoned")
	return hy, nil
}

// PluginInfoList 按配置顺序返回已加载插件。
func (s *Summoner) PluginInfoList() []*plugin.Info {
	out := make([]*plugin.Info, len(s.plugins))
	copy(out, s.plugins)
	return out
}

// PickerOwner 返回生效 picker 所属插件，默认 picker 时为空。
func (s *Summoner) PickerOwner() string {
	return s.pickerOwner
}

// Hydras 返回按键排序的存活实例。
func (s *Summoner) Hydras() []*hydra.Hydra {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.hydras))
	for key := range s.hydras {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]*hydra.Hydra, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.hydras[key])
	}
	return out
}

// Hydra 按键查找存活实例。
func (s *Summoner) Hydra(key string) (*hydra.Hydra, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hy, ok := s.hydras[key]
	return hy, ok
}
