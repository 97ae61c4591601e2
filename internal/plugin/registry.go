package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/any-hub/hydra/internal/head"
	"github.com/any-hub/hydra/internal/httpx"
)

// PickerFunc maps a request to the key of the hydra instance that serves it.
type PickerFunc func(req *httpx.Request) (string, error)

// State is the instance-local store a module's heads may share.
type State interface {
	Set(key string, value any)
	Get(key string) (any, bool)
}

// Context is handed to a module every time an instance is built.
type Context struct {
	Name   string
	Dir    string
	Config map[string]any
	Env    head.Env
	State  State
}

// Module 描述一个以 Go 代码实现的插件，Heads/Tests 会在每个实例创建时调用。
type Module struct {
	Key         string
	Description string
	Heads       func(ctx Context) ([]head.Head, error)
	Tests       func(ctx Context) (map[string][]head.Head, error)
	Picker      PickerFunc
}

var globalRegistry = newRegistry()

type registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

func newRegistry() *registry {
	return &registry{modules: make(map[string]Module)}
}

// Register 将模块加入全局注册表，重复键会返回错误。
func Register(mod Module) error {
	return globalRegistry.register(mod)
}

// MustRegister 在注册失败时 panic，适合模块 init() 中调用。
func MustRegister(mod Module) {
	if err := Register(mod); err != nil {
		panic(err)
	}
}

// Resolve 返回指定键的模块。
func Resolve(key string) (Module, bool) {
	return globalRegistry.resolve(key)
}

// List 返回按键排序的模块列表。
func List() []Module {
	return globalRegistry.list()
}

// Keys 返回所有已注册模块的键值，供诊断使用。
func Keys() []string {
	items := List()
	result := make([]string, len(items))
	for i, mod := range items {
		result[i] = mod.Key
	}
	return result
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *registry) register(mod Module) error {
	key := normalizeKey(mod.Key)
	if key == "" {
		return fmt.Errorf("module key is required")
	}
	if mod.Heads == nil && mod.Tests == nil && mod.Picker == nil {
		return fmt.Errorf("module %s provides nothing", key)
	}
	mod.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[key]; exists {
		return fmt.Errorf("module %s already registered", key)
	}
	r.modules[key] = mod
	return nil
}

func (r *registry) resolve(key string) (Module, bool) {
	normalized := normalizeKey(key)
	if normalized == "" {
		return Module{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	mod, ok := r.modules[normalized]
	return mod, ok
}

func (r *registry) list() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.modules) == 0 {
		return nil
	}

	keys := make([]string, 0, len(r.modules))
	for key := range r.modules {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]Module, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.modules[key])
	}
	return result
}
