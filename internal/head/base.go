// Package head 定义请求处理单元（head）及其七种变体。每个 head 拥有独立的
// 路由规则与 attach 状态，由 hydra 的链式执行器按顺序调度。
package head

import (
	"errors"
	"fmt"
	"sync"

	"github.com/any-hub/hydra/internal/httpx"
	"github.com/any-hub/hydra/internal/pathmatch"
)

var (
	// ErrInvalidHeadConfiguration 表示无法根据选项构建 head。
	ErrInvalidHeadConfiguration = errors.New("invalid head configuration")
	// ErrInvalidHeadState 表示 Attach/Detach 时 head 已处于目标状态。
	ErrInvalidHeadState = errors.New("invalid head state")
)

// ConfigError 描述具体字段的配置问题，可通过 errors.Is 识别为 ErrInvalidHeadConfiguration。
type ConfigError struct {
	Head   string
	Field  string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	msg := e.Head
	if msg == "" {
		msg = "head"
	}
	if e.Field != "" {
		msg += "." + e.Field
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidHeadConfiguration, e.Err}
	}
	return []error{ErrInvalidHeadConfiguration}
}

func newConfigError(kind, field, reason string) error {
	return &ConfigError{Head: kind, Field: field, Reason: reason}
}

// Next 把调度交给当前 head 之后的链。
type Next func(req *httpx.Request, res *httpx.Response) error

// Head 是 hydra 链中的一个请求处理单元。
type Head interface {
	Name() string
	Kind() string
	Attached() bool
	Attach() error
	Detach() error
	CanHandle(req *httpx.Request) bool
	Handle(req *httpx.Request, res *httpx.Response, next Next) error
}

// Resetter 由持有调度游标的 head 实现。
type Resetter interface {
	Reset()
}

// Route 是正则路由型 head 共享的调度选项。
type Route struct {
	Name     string   `mapstructure:"name"`
	Path     string   `mapstructure:"path"`
	Method   []string `mapstructure:"method"`
	Hostname string   `mapstructure:"hostname"`
	Detached bool     `mapstructure:"detached"`
}

// Base 实现命名、attach 状态与路由匹配，各变体通过嵌入复用。
type Base struct {
	name string
	kind string

	mu       sync.RWMutex
	attached bool

	matcher *pathmatch.Matcher
	prefix  *pathmatch.Prefix
}

func (b *Base) initRoute(kind string, route Route, defaultPath string) error {
	path := route.Path
	if path == "" {
		path = defaultPath
	}
	if path == "" {
		return newConfigError(kind, "path", "is required")
	}
	matcher, err := pathmatch.Compile(pathmatch.Spec{
		Path:     path,
		Methods:  route.Method,
		Hostname: route.Hostname,
	})
	if err != nil {
		return &ConfigError{Head: kind, Field: "path", Reason: "does not compile", Err: err}
	}
	b.name = route.Name
	b.kind = kind
	b.attached = !route.Detached
	b.matcher = matcher
	return nil
}

func (b *Base) initMount(kind, name, mountPath string, detached bool) {
	if mountPath == "" {
		mountPath = "/"
	}
	prefix := pathmatch.NewPrefix(mountPath)
	b.name = name
	b.kind = kind
	b.attached = !detached
	b.prefix = &prefix
}

// Name 返回可选的 head 名称。
func (b *Base) Name() string { return b.name }

// Kind 返回 head 变体，例如 "static"。
func (b *Base) Kind() string { return b.kind }

// Pattern 返回路由规则：正则路由为 path 表达式，挂载型 head 为挂载前缀。
func (b *Base) Pattern() string {
	switch {
	case b.prefix != nil:
		if mount := b.prefix.Mount(); mount != "" {
			return mount
		}
		return "/"
	case b.matcher != nil:
		return b.matcher.Spec().Path
	default:
		return ""
	}
}

// Attached 表示 head 是否参与调度。
func (b *Base) Attached() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.attached
}

// Attach 让已 detach 的 head 重新参与调度。
func (b *Base) Attach() error {
	return b.setAttached(true)
}

// Detach 让 head 退出调度，但不销毁它。
func (b *Base) Detach() error {
	return b.setAttached(false)
}

func (b *Base) setAttached(want bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.attached == want {
		state := "detached"
		if want {
			state = "attached"
		}
		return fmt.Errorf("%w: head %q already %s", ErrInvalidHeadState, b.name, state)
	}
	b.attached = want
	return nil
}

// CanHandle 对已 detach 的 head 总是返回 false。
func (b *Base) CanHandle(req *httpx.Request) bool {
	if !b.Attached() {
		return false
	}
	_, ok := b.match(req)
	return ok
}

func (b *Base) match(req *httpx.Request) (httpx.Params, bool) {
	if b.prefix != nil {
		return nil, b.prefix.Match(req.RawPath())
	}
	if b.matcher == nil {
		return nil, false
	}
	return b.matcher.Match(req)
}

// bind 把 req 的路径变量写回请求本身。
func (b *Base) bind(req *httpx.Request) {
	if params, ok := b.match(req); ok && params != nil {
		req.Params = params
	}
}
