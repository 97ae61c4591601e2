package head

import "github.com/any-hub/hydra/internal/httpx"

// Kind names used by descriptors and diagnostics.
const (
	KindDynamic    = "dynamic"
	KindStatic     = "static"
	KindFilesystem = "filesystem"
	KindProxy      = "proxy"
	KindFilter     = "filter"
	KindWatchdog   = "watchdog"
	KindReplayer   = "replayer"
)

// HandlerFunc serves a request; it must finalize res or call next exactly once.
type HandlerFunc func(req *httpx.Request, res *httpx.Response, next Next) error

// Config configures a Dynamic head.
type Config struct {
	Route   `mapstructure:",squash"`
	Handler HandlerFunc `mapstructure:"-"`
}

// Dynamic runs arbitrary Go code for matching requests.
type Dynamic struct {
	Base
	handler HandlerFunc
}

// New builds a Dynamic head; both Path and Handler are required.
func New(cfg Config) (*Dynamic, error) {
	if cfg.Path == "" {
		return nil, newConfigError(KindDynamic, "path", "is required")
	}
	if cfg.Handler == nil {
		return nil, newConfigError(KindDynamic, "handler", "is required")
	}
	h := &Dynamic{handler: cfg.Handler}
	if err := h.initRoute(KindDynamic, cfg.Route, ""); err != nil {
		return nil, err
	}
	return h, nil
}

// Handle binds path variables then delegates to the handler.
func (h *Dynamic) Handle(req *httpx.Request, res *httpx.Response, next Next) error {
	h.bind(req)
	return h.handler(req, res, next)
}
