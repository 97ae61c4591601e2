package head

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/goccy/go-json"

	"github.com/any-hub/hydra/internal/httpx"
)

// Repeat modes for Static heads with several responses.
const (
	RepeatCycle    = "cycle"
	RepeatLastOnly = "repeat-last"
)

// StaticResponse is one canned answer; zero fields fall back to the head defaults.
type StaticResponse struct {
	Content     any               `mapstructure:"content"`
	StatusCode  int               `mapstructure:"statusCode"`
	Headers     map[string]string `mapstructure:"headers"`
	ContentType string            `mapstructure:"contentType"`
}

// StaticConfig configures a Static head. Either Content or Responses is required.
type StaticConfig struct {
	Route       `mapstructure:",squash"`
	Content     any               `mapstructure:"content"`
	Responses   []StaticResponse  `mapstructure:"responses"`
	StatusCode  int               `mapstructure:"statusCode"`
	Headers     map[string]string `mapstructure:"headers"`
	ContentType string            `mapstructure:"contentType"`
	RepeatMode  string            `mapstructure:"repeatMode"`
}

type cannedResponse struct {
	statusCode int
	headers    http.Header
	body       []byte
}

// Static replays a fixed list of responses.
type Static struct {
	Base

	responses  []cannedResponse
	repeatMode string

	mu     sync.Mutex
	cursor int
}

// NewStatic builds a Static head. The default path matches everything.
func NewStatic(cfg StaticConfig) (*Static, error) {
	if cfg.Content == nil && cfg.Responses == nil {
		return nil, newConfigError(KindStatic, "content", "content or responses is required")
	}
	if cfg.Responses != nil && len(cfg.Responses) == 0 {
		return nil, newConfigError(KindStatic, "responses", "must not be empty")
	}

	mode := cfg.RepeatMode
	if mode == "" {
		mode = RepeatCycle
	}
	if mode != RepeatCycle && mode != RepeatLastOnly {
		return nil, newConfigError(KindStatic, "repeatMode", fmt.Sprintf("unknown mode %q", cfg.RepeatMode))
	}

	descriptors := cfg.Responses
	if descriptors == nil {
		descriptors = []StaticResponse{{}}
	}
	responses := make([]cannedResponse, 0, len(descriptors))
	for i, desc := range descriptors {
		resp, err := buildCanned(cfg, desc)
		if err != nil {
			return nil, &ConfigError{Head: KindStatic, Field: fmt.Sprintf("responses[%d]", i), Reason: "invalid response", Err: err}
		}
		responses = append(responses, resp)
	}

	h := &Static{responses: responses, repeatMode: mode}
	if err := h.initRoute(KindStatic, cfg.Route, "/.*"); err != nil {
		return nil, err
	}
	return h, nil
}

// buildCanned 将 head 级默认值逐字段合并进单个响应；headers 按 key 合并，响应优先。
func buildCanned(defaults StaticConfig, desc StaticResponse) (cannedResponse, error) {
	content := desc.Content
	if content == nil {
		content = defaults.Content
	}
	if content == nil {
		return cannedResponse{}, fmt.Errorf("missing content")
	}

	status := desc.StatusCode
	if status == 0 {
		status = defaults.StatusCode
	}
	if status == 0 {
		status = http.StatusOK
	}

	headers := http.Header{}
	for k, v := range defaults.Headers {
		headers.Set(k, v)
	}
	for k, v := range desc.Headers {
		headers.Set(k, v)
	}

	contentType := desc.ContentType
	if contentType == "" {
		contentType = defaults.ContentType
	}

	var body []byte
	switch v := content.(type) {
	case string:
		body = []byte(v)
	case []byte:
		body = append([]byte(nil), v...)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return cannedResponse{}, fmt.Errorf("encode content: %w", err)
		}
		body = data
		if contentType == "" {
			contentType = "application/json"
		}
	}
	if contentType != "" {
		headers.Set("Content-Type", contentType)
	}

	return cannedResponse{statusCode: status, headers: headers, body: body}, nil
}

// Handle sends the response under the cursor and advances it.
func (h *Static) Handle(req *httpx.Request, res *httpx.Response, _ Next) error {
	h.bind(req)
	canned := h.advance()

	res.StatusCode = canned.statusCode
	for k, values := range canned.headers {
		res.Headers[k] = append([]string(nil), values...)
	}
	return res.Send(canned.body)
}

func (h *Static) advance() cannedResponse {
	h.mu.Lock()
	defer h.mu.Unlock()
	canned := h.responses[h.cursor]
	switch {
	case h.cursor+1 < len(h.responses):
		h.cursor++
	case h.repeatMode == RepeatCycle:
		h.cursor = 0
	}
	return canned
}

// Reset rewinds to the first response.
func (h *Static) Reset() {
	h.mu.Lock()
	h.cursor = 0
	h.mu.Unlock()
}
