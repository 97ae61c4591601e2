package head

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/mitchellh/mapstructure"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/any-hub/hydra/internal/httpx"
)

// TypeKey selects the head variant inside a descriptor map.
const TypeKey = "type"

// Env carries the runtime dependencies injected into heads built from descriptors.
type Env struct {
	// Dir resolves relative documentRoot and cassette paths.
	Dir    string
	Fs     afero.Fs
	Logger *logrus.Logger
	// Upstream replaces the default client for proxy heads.
	Upstream RequestFunc
}

// FromMap builds a head from a descriptor such as
// {"type": "static", "path": "/x", "content": "hi"}. Unknown keys are rejected.
func FromMap(opts map[string]any, env Env) (Head, error) {
	kind, _ := opts[TypeKey].(string)
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		return nil, newConfigError("head", TypeKey, "is required")
	}

	fields := make(map[string]any, len(opts))
	for k, v := range opts {
		if k != TypeKey {
			fields[k] = v
		}
	}

	switch kind {
	case KindStatic:
		var cfg StaticConfig
		if err := decodeOptions(kind, fields, &cfg); err != nil {
			return nil, err
		}
		return NewStatic(cfg)
	case KindFilesystem:
		var cfg FilesystemConfig
		if err := decodeOptions(kind, fields, &cfg); err != nil {
			return nil, err
		}
		cfg.DocumentRoot = env.resolve(cfg.DocumentRoot)
		cfg.Fs = env.Fs
		return NewFilesystem(cfg)
	case KindProxy:
		var cfg ProxyConfig
		if err := decodeOptions(kind, fields, &cfg); err != nil {
			return nil, err
		}
		cfg.HTTPRequest = env.Upstream
		cfg.HTTPSRequest = env.Upstream
		cfg.Logger = env.Logger
		return NewProxy(cfg)
	case KindFilter:
		var cfg FilterConfig
		if err := decodeOptions(kind, fields, &cfg); err != nil {
			return nil, err
		}
		cfg.Logger = env.Logger
		return NewFilter(cfg)
	case KindWatchdog:
		var cfg WatchdogConfig
		if err := decodeOptions(kind, fields, &cfg); err != nil {
			return nil, err
		}
		cfg.Logger = env.Logger
		return NewWatchdog(cfg)
	case KindReplayer:
		var cfg ReplayerConfig
		if err := decodeOptions(kind, fields, &cfg); err != nil {
			return nil, err
		}
		cfg.Cassette = env.resolve(cfg.Cassette)
		return NewReplayer(cfg)
	default:
		return nil, newConfigError(kind, TypeKey, "unknown head type")
	}
}

func (e Env) resolve(p string) string {
	if p == "" || e.Dir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(e.Dir, p)
}

func decodeOptions(kind string, input map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			filterExprHook,
			watcherExprHook,
		),
	})
	if err != nil {
		return &ConfigError{Head: kind, Reason: "decoder setup failed", Err: err}
	}
	if err := decoder.Decode(input); err != nil {
		return &ConfigError{Head: kind, Reason: "invalid options", Err: err}
	}
	return nil
}

type filterEnv struct {
	Body string `expr:"body"`
}

// WatchEnv is the variable set visible to watcher expressions.
type WatchEnv struct {
	Path    string            `expr:"path"`
	Method  string            `expr:"method"`
	Status  int               `expr:"status"`
	Headers map[string]string `expr:"headers"`
	Params  map[string]string `expr:"params"`
	Body    string            `expr:"body"`
}

var (
	filterFuncType  = reflect.TypeOf(FilterFunc(nil))
	watcherFuncType = reflect.TypeOf(WatcherFunc(nil))
)

func filterExprHook(from, to reflect.Type, data any) (any, error) {
	if to != filterFuncType || from.Kind() != reflect.String {
		return data, nil
	}
	return CompileFilter(data.(string))
}

func watcherExprHook(from, to reflect.Type, data any) (any, error) {
	if to != watcherFuncType || from.Kind() != reflect.String {
		return data, nil
	}
	return CompileWatcher(data.(string))
}

// CompileFilter turns an expression over `body` into a FilterFunc.
func CompileFilter(source string) (FilterFunc, error) {
	program, err := expr.Compile(source, expr.Env(filterEnv{}), expr.AsKind(reflect.String))
	if err != nil {
		return nil, fmt.Errorf("compile filter: %w", err)
	}
	return func(body []byte) ([]byte, error) {
		out, err := vm.Run(program, filterEnv{Body: string(body)})
		if err != nil {
			return nil, err
		}
		s, ok := out.(string)
		if !ok {
			return nil, fmt.Errorf("filter returned %T", out)
		}
		return []byte(s), nil
	}, nil
}

// CompileWatcher turns a boolean expression over WatchEnv into a WatcherFunc.
// Evaluation errors count as "no match".
func CompileWatcher(source string) (WatcherFunc, error) {
	program, err := expr.Compile(source, expr.Env(WatchEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile watcher: %w", err)
	}
	return func(req *httpx.Request, res *httpx.Response) bool {
		out, err := vm.Run(program, NewWatchEnv(req, res))
		if err != nil {
			return false
		}
		matched, _ := out.(bool)
		return matched
	}, nil
}

// NewWatchEnv flattens an exchange for expression evaluation; the body is decoded.
func NewWatchEnv(req *httpx.Request, res *httpx.Response) WatchEnv {
	headers := make(map[string]string, len(res.Headers))
	for k := range res.Headers {
		headers[strings.ToLower(k)] = res.Headers.Get(k)
	}
	return WatchEnv{
		Path:    req.RawPath(),
		Method:  req.Method,
		Status:  res.StatusCode,
		Headers: headers,
		Params:  req.Params.Map(),
		Body:    string(res.Body()),
	}
}
