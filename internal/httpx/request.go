// Package httpx 定义与传输层无关的请求/响应值，所有 head 都基于它们工作。
// fiber 入口负责把线上请求转换成 Request，并把结束的 Response 写回客户端。
package httpx

import (
	"context"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// Param 是单个路径变量绑定。
type Param struct {
	Name  string
	Value string
}

// Params 按声明顺序保存路径变量。
type Params []Param

// Get 返回 name 对应的绑定值。
func (p Params) Get(name string) (string, bool) {
	for _, param := range p {
		if param.Name == name {
			return param.Value, true
		}
	}
	return "", false
}

// Value 返回绑定值，不存在时为空串。
func (p Params) Value(name string) string {
	v, _ := p.Get(name)
	return v
}

// Map 展开为 map，重名时后者覆盖前者。
func (p Params) Map() map[string]string {
	out := make(map[string]string, len(p))
	for _, param := range p {
		out[param.Name] = param.Value
	}
	return out
}

// Request 是一次入站请求，只属于一次调度，不会被共享。
type Request struct {
	Method  string
	URL     *url.URL
	Headers http.Header
	Body    []byte

	// Params 由接受请求的 head 填充。
	Params Params
	// BodyParams 保存 urlencoded 请求体解析后的表单。
	BodyParams url.Values

	rawPath string
	ctx     context.Context
}

// NewRequest 根据 "/a/b?x=1" 形式的 request-target 构建 Request。
func NewRequest(method, target string, headers http.Header, body []byte) *Request {
	if method == "" {
		method = http.MethodGet
	}
	if headers == nil {
		headers = http.Header{}
	}
	if target == "" {
		target = "/"
	}

	rawPath, rawQuery, hasQuery := strings.Cut(target, "?")
	decoded, err := url.PathUnescape(rawPath)
	if err != nil {
		decoded = rawPath
	}
	u := &url.URL{
		Path:       decoded,
		RawPath:    rawPath,
		RawQuery:   rawQuery,
		ForceQuery: hasQuery && rawQuery == "",
	}

	req := &Request{
		Method:  strings.ToUpper(method),
		URL:     u,
		Headers: headers,
		Body:    body,
		rawPath: rawPath,
		ctx:     context.Background(),
	}
	req.BodyParams = parseBodyParams(headers, body)
	return req
}

func parseBodyParams(headers http.Header, body []byte) url.Values {
	if len(body) == 0 {
		return url.Values{}
	}
	mediaType, _, err := mime.ParseMediaType(headers.Get("Content-Type"))
	if err != nil || mediaType != "application/x-www-form-urlencoded" {
		return url.Values{}
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return url.Values{}
	}
	return values
}

// RawPath 返回收到的原始路径，不含查询串。
func (r *Request) RawPath() string {
	if r.rawPath == "" {
		return "/"
	}
	return r.rawPath
}

// Path 返回 URL 解码后的路径。
func (r *Request) Path() string {
	if r.URL == nil || r.URL.Path == "" {
		return "/"
	}
	return r.URL.Path
}

// RawQuery 返回不带 '?' 的查询串。
func (r *Request) RawQuery() string {
	if r.URL == nil {
		return ""
	}
	return r.URL.RawQuery
}

// Query 解析查询串。
func (r *Request) Query() url.Values {
	return r.URL.Query()
}

// RequestURI 按收到时的样子重建 request-target。
func (r *Request) RequestURI() string {
	if q := r.RawQuery(); q != "" || (r.URL != nil && r.URL.ForceQuery) {
		return r.RawPath() + "?" + q
	}
	return r.RawPath()
}

// Host 返回 Host 头，包含端口。
func (r *Request) Host() string {
	return r.Headers.Get("Host")
}

// Hostname 返回去掉端口的 Host 头。
func (r *Request) Hostname() string {
	return StripPort(r.Host())
}

// Context 返回请求上下文。
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext 原地替换上下文并返回请求本身。
func (r *Request) WithContext(ctx context.Context) *Request {
	if ctx != nil {
		r.ctx = ctx
	}
	return r
}

// StripPort 去掉 host 末尾的 ":port"。
func StripPort(host string) string {
	host = strings.TrimSpace(host)
	if strings.HasPrefix(host, "[") {
		if end := strings.Index(host, "]"); end > 0 {
			return host[1:end]
		}
		return host
	}
	if idx := strings.LastIndex(host, ":"); idx > -1 && strings.Count(host, ":") == 1 {
		return host[:idx]
	}
	return host
}
