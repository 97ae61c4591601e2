// Package pathmatch 把 head 的调度规则（path、method、hostname）编译成匹配函数，
// 同时负责提取路径变量。
//
// path 本身就是正则表达式，只额外支持 ":name" 段：匹配一串非斜杠字符并写入 Params。
// 正则元字符不会被转义，"/foo/.*" 与 "/a|b" 都按正则处理。
package pathmatch

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/any-hub/hydra/internal/httpx"
)

// AnyMethod 匹配任意请求方法。
const AnyMethod = "*"

var variablePattern = regexp.MustCompile(`:(\w+)`)

// Spec 是编译前的调度规则。
type Spec struct {
	Path     string
	Methods  []string
	Hostname string
}

// Matcher 是编译后的 Spec。
type Matcher struct {
	spec     Spec
	path     *regexp.Regexp
	names    []string
	methods  map[string]struct{}
	hostname *regexp.Regexp
}

// Compile 构建 Matcher；path 或 hostname 表达式非法时返回错误。
func Compile(spec Spec) (*Matcher, error) {
	var names []string
	source := variablePattern.ReplaceAllStringFunc(spec.Path, func(m string) string {
		names = append(names, m[1:])
		return "([^/]+)"
	})
	source = strings.TrimRight(source, "/")

	pathRe, err := regexp.Compile("^" + source + "/?$")
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", spec.Path, err)
	}

	m := &Matcher{spec: spec, path: pathRe, names: names}

	for _, method := range spec.Methods {
		method = strings.ToUpper(strings.TrimSpace(method))
		if method == "" || method == AnyMethod {
			m.methods = nil
			break
		}
		if m.methods == nil {
			m.methods = make(map[string]struct{})
		}
		m.methods[method] = struct{}{}
	}

	if host := strings.TrimSpace(spec.Hostname); host != "" {
		hostRe, err := regexp.Compile("^(?:" + host + ")$")
		if err != nil {
			return nil, fmt.Errorf("invalid hostname %q: %w", spec.Hostname, err)
		}
		m.hostname = hostRe
	}

	return m, nil
}

// MustCompile 在 Compile 失败时 panic。
func MustCompile(spec Spec) *Matcher {
	m, err := Compile(spec)
	if err != nil {
		panic(err)
	}
	return m
}

// Spec 返回编译所用的原始规则。
func (m *Matcher) Spec() Spec {
	return m.spec
}

// Match 判断 req 是否满足规则，并返回路径变量绑定。
func (m *Matcher) Match(req *httpx.Request) (httpx.Params, bool) {
	if !m.MatchMethod(req.Method) || !m.MatchHost(req.Host()) {
		return nil, false
	}
	groups := m.path.FindStringSubmatch(req.RawPath())
	if groups == nil {
		return nil, false
	}

	params := make(httpx.Params, 0, len(m.names))
	for i, name := range m.names {
		if i+1 >= len(groups) {
			break
		}
		value := groups[i+1]
		if decoded, err := url.PathUnescape(value); err == nil {
			value = decoded
		}
		params = append(params, httpx.Param{Name: name, Value: value})
	}
	return params, true
}

// MatchMethod 只校验 method。
func (m *Matcher) MatchMethod(method string) bool {
	if m.methods == nil {
		return true
	}
	_, ok := m.methods[strings.ToUpper(method)]
	return ok
}

// MatchHost 只校验 hostname，忽略端口。
func (m *Matcher) MatchHost(host string) bool {
	if m.hostname == nil {
		return true
	}
	return m.hostname.MatchString(httpx.StripPort(host))
}
