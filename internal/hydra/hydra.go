// Package hydra 实现单个 hydra 实例：按插件顺序排列的 head 链、实例私有状态，
// 以及测试（test）切换。每个请求由 Handle 沿链分发。
package hydra

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/hydra/internal/head"
	"github.com/any-hub/hydra/internal/httpx"
	"github.com/any-hub/hydra/internal/logging"
)

var (
	// ErrNoResponse: head 既没有结束响应，也没有调用 next。
	ErrNoResponse = errors.New("head neither responded nor delegated")
	// ErrMultipleContinuations: head 多次调用了 next。
	ErrMultipleContinuations = errors.New("head called next more than once")
	// ErrHeadNotFound: 找不到对应 plugin/name 的 head。
	ErrHeadNotFound = errors.New("head not found")
	// ErrTestNotFound: 插件未声明该 test。
	ErrTestNotFound = errors.New("test not found")
)

// Plugin 是已加载插件在单个实例中的副本，包含 head 与具名 test。
type Plugin struct {
	Name  string
	Heads []head.Head
	Tests map[string][]head.Head
}

// TestRef 标识当前激活的 test。
type TestRef struct {
	Plugin string
	Test   string
}

// Hydra 是由 summoner 的 picker 选出的一个隔离实例。
type Hydra struct {
	name    string
	plugins []Plugin
	logger  *logrus.Logger

	mu      sync.RWMutex
	state   map[string]any
	current *TestRef
}

// New 创建实例；插件顺序即调度顺序。
func New(name string, plugins []Plugin, logger *logrus.Logger) *Hydra {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hydra{
		name:    name,
		plugins: plugins,
		logger:  logger,
		state:   make(map[string]any),
	}
}

// AddPlugin 把插件追加到链尾，只能在实例开始服务之前调用。
func (h *Hydra) AddPlugin(p Plugin) {
	h.plugins = append(h.plugins, p)
}

// Name 返回创建该实例时使用的 picker 键。
func (h *Hydra) Name() string {
	return h.name
}

// Plugins 按调度顺序返回已加载的插件。
func (h *Hydra) Plugins() []Plugin {
	out := make([]Plugin, len(h.plugins))
	copy(out, h.plugins)
	return out
}

// Heads 返回当前生效的链：先是激活 test 的 head，再是所有插件 head。
func (h *Hydra) Heads() []head.Head {
	var chain []head.Head
	if ref, ok := h.CurrentTest(); ok {
		if p, found := h.plugin(ref.Plugin); found {
			chain = append(chain, p.Tests[ref.Test]...)
		}
	}
	for _, p := range h.plugins {
		chain = append(chain, p.Heads...)
	}
	return chain
}

// Handle 沿当前链调度 req；没有 head 匹配时返回普通的 404。
func (h *Hydra) Handle(req *httpx.Request, res *httpx.Response) error {
	return h.dispatch(h.Heads(), 0, req, res)
}

func (h *Hydra) dispatch(chain []head.Head, from int, req *httpx.Request, res *httpx.Response) error {
	for i := from; i < len(chain); i++ {
		current := chain[i]
		if !current.CanHandle(req) {
			continue
		}

		h.logger.WithFields(logging.RequestFields(h.name, headLabel(current, i), req.Method, req.RequestURI())).
			Debug("head_dispatch")

		calls := 0
		next := func(nextReq *httpx.Request, nextRes *httpx.Response) error {
			calls++
			if calls > 1 {
				return fmt.Errorf("%w: %s", ErrMultipleContinuations, headLabel(current, i))
			}
			return h.dispatch(chain, i+1, nextReq, nextRes)
		}

		if err := current.Handle(req, res, next); err != nil {
			return err
		}
		if calls == 0 && !res.Ended() {
			return fmt.Errorf("%w: %s", ErrNoResponse, headLabel(current, i))
		}
		return nil
	}
	return res.SendStatus(http.StatusNotFound, "Not Found")
}

func headLabel(hd head.Head, idx int) string {
	if name := hd.Name(); name != "" {
		return name
	}
	return fmt.Sprintf("%s#%d", hd.Kind(), idx)
}

func (h *Hydra) plugin(name string) (Plugin, bool) {
	for _, p := range h.plugins {
		if p.Name == name {
			return p, true
		}
	}
	return Plugin{}, false
}

// Head 在插件的 head 与 test 中按名称查找。
func (h *Hydra) Head(pluginName, headName string) (head.Head, error) {
	p, ok := h.plugin(pluginName)
	if !ok {
		return nil, fmt.Errorf("%w: plugin %q", ErrHeadNotFound, pluginName)
	}
	for _, hd := range p.Heads {
		if hd.Name() == headName {
			return hd, nil
		}
	}
	for _, heads := range p.Tests {
		for _, hd := range heads {
			if hd.Name() == headName {
				return hd, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s/%s", ErrHeadNotFound, pluginName, headName)
}

// StartTest 激活插件 test，其 head 排在所有插件 head 之前。
// 激活时会重置该 test 的 head。
func (h *Hydra) StartTest(pluginName, testName string) error {
	p, ok := h.plugin(pluginName)
	if !ok {
		return fmt.Errorf("%w: plugin %q", ErrTestNotFound, pluginName)
	}
	heads, ok := p.Tests[testName]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrTestNotFound, pluginName, testName)
	}
	resetHeads(heads)

	h.mu.Lock()
	h.current = &TestRef{Plugin: pluginName, Test: testName}
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{"hydra": h.name, "plugin": pluginName, "test": testName}).Info("test_started")
	return nil
}

// StopTest 停用当前 test（如有）。
func (h *Hydra) StopTest() {
	h.mu.Lock()
	h.current = nil
	h.mu.Unlock()
}

// CurrentTest 返回当前激活的 test。
func (h *Hydra) CurrentTest() (TestRef, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.current == nil {
		return TestRef{}, false
	}
	return *h.current, true
}

// Reset 重置所有可重置的 head，清空状态并停止当前 test。
func (h *Hydra) Reset() {
	for _, p := range h.plugins {
		resetHeads(p.Heads)
		for _, heads := range p.Tests {
			resetHeads(heads)
		}
	}
	h.mu.Lock()
	h.state = make(map[string]any)
	h.current = nil
	h.mu.Unlock()
}

func resetHeads(heads []head.Head) {
	for _, hd := range heads {
		if r, ok := hd.(head.Resetter); ok {
			r.Reset()
		}
	}
}

// Set 写入实例内共享的状态，供本实例的 head 使用。
func (h *Hydra) Set(key string, value any) {
	h.mu.Lock()
	h.state[key] = value
	h.mu.Unlock()
}

// Get 读取实例内状态。
func (h *Hydra) Get(key string) (any, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.state[key]
	return v, ok
}
