package head

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"gopkg.in/dnaeon/go-vcr.v2/cassette"

	"github.com/any-hub/hydra/internal/httpx"
)

// TrafficEntry 是一条录制的响应，Body 为 base64 编码。
type TrafficEntry struct {
	StatusCode int               `json:"statusCode,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body"`
}

// Traffic 把请求路径映射到按顺序录制的响应。
type Traffic map[string][]TrafficEntry

// ReplayerConfig 配置 Replayer head。Traffic 可以是 Traffic 值、解码后的 JSON 对象，
// 也可以是字符串或字节形式的 JSON 文档。
type ReplayerConfig struct {
	Route    `mapstructure:",squash"`
	Traffic  any    `mapstructure:"traffic"`
	Cassette string `mapstructure:"cassette"`
}

type replayEntry struct {
	statusCode int
	headers    http.Header
	body       []byte
}

// Replayer 按路径轮流回放录制的流量。
type Replayer struct {
	Base

	traffic map[string][]replayEntry

	mu      sync.Mutex
	cursors map[string]int
}

// NewReplayer 根据 traffic 或 go-vcr cassette 构建 Replayer head。
func NewReplayer(cfg ReplayerConfig) (*Replayer, error) {
	var (
		traffic Traffic
		err     error
	)
	switch {
	case cfg.Cassette != "" && cfg.Traffic != nil:
		return nil, newConfigError(KindReplayer, "cassette", "cannot be combined with traffic")
	case cfg.Cassette != "":
		traffic, err = TrafficFromCassette(cfg.Cassette)
		if err != nil {
			return nil, &ConfigError{Head: KindReplayer, Field: "cassette", Reason: "cannot load", Err: err}
		}
	default:
		traffic, err = ParseTraffic(cfg.Traffic)
		if err != nil {
			return nil, &ConfigError{Head: KindReplayer, Field: "traffic", Reason: "invalid traffic", Err: err}
		}
	}

	compiled := make(map[string][]replayEntry, len(traffic))
	for path, entries := range traffic {
		list := make([]replayEntry, 0, len(entries))
		for i, entry := range entries {
			body, err := base64.StdEncoding.DecodeString(entry.Body)
			if err != nil {
				return nil, &ConfigError{Head: KindReplayer, Field: fmt.Sprintf("traffic[%s][%d].body", path, i), Reason: "invalid base64", Err: err}
			}
			status := entry.StatusCode
			if status == 0 {
				status = http.StatusOK
			}
			headers := http.Header{}
			for k, v := range entry.Headers {
				headers.Set(k, v)
			}
			list = append(list, replayEntry{statusCode: status, headers: headers, body: body})
		}
		compiled[path] = list
	}

	h := &Replayer{traffic: compiled, cursors: make(map[string]int)}
	if err := h.initRoute(KindReplayer, cfg.Route, "/.*"); err != nil {
		return nil, err
	}
	return h, nil
}

// Handle 为精确匹配的请求路径回放下一条录制响应。
func (h *Replayer) Handle(req *httpx.Request, res *httpx.Response, _ Next) error {
	h.bind(req)
	entry, ok := h.advance(req.RawPath())
	if !ok {
		return res.SendStatus(http.StatusNotFound, "Not Found")
	}
	res.StatusCode = entry.statusCode
	for k, values := range entry.headers {
		res.Headers[k] = append([]string(nil), values...)
	}
	return res.Send(entry.body)
}

func (h *Replayer) advance(path string) (replayEntry, bool) {
	entries := h.traffic[path]
	if len(entries) == 0 {
		return replayEntry{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	idx := h.cursors[path] % len(entries)
	h.cursors[path] = (idx + 1) % len(entries)
	return entries[idx], true
}

// Reset 清零所有路径的游标。
func (h *Replayer) Reset() {
	h.mu.Lock()
	h.cursors = make(map[string]int)
	h.mu.Unlock()
}

// ParseTraffic 接受 Traffic、通用 JSON 对象或 JSON 文本。
func ParseTraffic(v any) (Traffic, error) {
	var doc []byte
	switch t := v.(type) {
	case Traffic:
		return t, nil
	case map[string][]TrafficEntry:
		return Traffic(t), nil
	case string:
		doc = []byte(t)
	case []byte:
		doc = t
	case map[string]any:
		data, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		doc = data
	case nil:
		return nil, fmt.Errorf("traffic is required")
	default:
		return nil, fmt.Errorf("unsupported traffic type %T", v)
	}

	var raw map[string][]struct {
		StatusCode int             `json:"statusCode"`
		Headers    json.RawMessage `json:"headers"`
		Body       string          `json:"body"`
	}
	if err := json.Unmarshal(doc, &raw); err != nil {
		return nil, fmt.Errorf("decode traffic: %w", err)
	}

	traffic := make(Traffic, len(raw))
	for path, entries := range raw {
		list := make([]TrafficEntry, 0, len(entries))
		for _, e := range entries {
			headers, err := decodeTrafficHeaders(e.Headers)
			if err != nil {
				return nil, fmt.Errorf("path %s: %w", path, err)
			}
			list = append(list, TrafficEntry{StatusCode: e.StatusCode, Headers: headers, Body: e.Body})
		}
		traffic[path] = list
	}
	return traffic, nil
}

// decodeTrafficHeaders 兼容空数组等历史录制格式；多值头以逗号拼接。
func decodeTrafficHeaders(raw json.RawMessage) (map[string]string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || strings.HasPrefix(trimmed, "[") {
		return map[string]string{}, nil
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("decode headers: %w", err)
	}
	headers := make(map[string]string, len(generic))
	for k, v := range generic {
		switch val := v.(type) {
		case string:
			headers[k] = val
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, fmt.Sprint(item))
			}
			headers[k] = strings.Join(parts, ", ")
		default:
			headers[k] = fmt.Sprint(val)
		}
	}
	return headers, nil
}

// TrafficFromCassette 把 go-vcr cassette 转换为按路径索引的可回放流量。
func TrafficFromCassette(name string) (Traffic, error) {
	c, err := cassette.Load(strings.TrimSuffix(name, ".yaml"))
	if err != nil {
		return nil, err
	}
	traffic := Traffic{}
	for _, interaction := range c.Interactions {
		u, err := url.Parse(interaction.Request.URL)
		if err != nil {
			return nil, fmt.Errorf("interaction url %q: %w", interaction.Request.URL, err)
		}
		path := u.EscapedPath()
		if path == "" {
			path = "/"
		}
		headers := make(map[string]string, len(interaction.Response.Headers))
		for k, values := range interaction.Response.Headers {
			headers[k] = strings.Join(values, ", ")
		}
		traffic[path] = append(traffic[path], TrafficEntry{
			StatusCode: interaction.Response.Code,
			Headers:    headers,
			Body:       base64.StdEncoding.EncodeToString([]byte(interaction.Response.Body)),
		})
	}
	return traffic, nil
}
