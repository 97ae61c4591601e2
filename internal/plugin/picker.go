package plugin

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/any-hub/hydra/internal/httpx"
)

// PickerEnv is the variable set visible to picker expressions, e.g. `query.user`
// or `headers["x-user"] ?? "anonymous"`.
type PickerEnv struct {
	Path    string            `expr:"path"`
	Method  string            `expr:"method"`
	Host    string            `expr:"host"`
	Query   map[string]string `expr:"query"`
	Headers map[string]string `expr:"headers"`
}

// NewPickerEnv flattens a request: the first value of every query parameter,
// lower-cased header names.
func NewPickerEnv(req *httpx.Request) PickerEnv {
	query := map[string]string{}
	if req.URL != nil {
		for k, vals := range req.Query() {
			if len(vals) > 0 {
				query[k] = vals[0]
			}
		}
	}
	headers := make(map[string]string, len(req.Headers))
	for k := range req.Headers {
		headers[strings.ToLower(k)] = req.Headers.Get(k)
	}
	return PickerEnv{
		Path:    req.Path(),
		Method:  req.Method,
		Host:    req.Hostname(),
		Query:   query,
		Headers: headers,
	}
}

// CompilePicker compiles a picker expression. A missing key evaluates to "".
func CompilePicker(source string) (PickerFunc, error) {
	if strings.TrimSpace(source) == "" {
		return nil, fmt.Errorf("picker expression is empty")
	}
	program, err := expr.Compile(source, expr.Env(PickerEnv{}))
	if err != nil {
		return nil, fmt.Errorf("compile picker: %w", err)
	}
	return func(req *httpx.Request) (string, error) {
		out, err := vm.Run(program, NewPickerEnv(req))
		if err != nil {
			return "", fmt.Errorf("run picker: %w", err)
		}
		switch v := out.(type) {
		case nil:
			return "", nil
		case string:
			return v, nil
		default:
			return fmt.Sprint(v), nil
		}
	}, nil
}
