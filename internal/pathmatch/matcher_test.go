package pathmatch

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/hydra/internal/httpx"
)

func request(method, target, host string) *httpx.Request {
	headers := http.Header{}
	if host != "" {
		headers.Set("Host", host)
	}
	return httpx.NewRequest(method, target, headers, nil)
}

func assertPaths(t *testing.T, m *Matcher, valid, invalid []string) {
	t.Helper()
	for _, p := range valid {
		_, ok := m.Match(request(http.MethodGet, p, ""))
		assert.True(t, ok, "expected %q to match %q", m.Spec().Path, p)
	}
	for _, p := range invalid {
		_, ok := m.Match(request(http.MethodGet, p, ""))
		assert.False(t, ok, "expected %q not to match %q", m.Spec().Path, p)
	}
}

func TestStaticPaths(t *testing.T) {
	for _, spec := range []string{"/foobar", "/foobar/"} {
		m := MustCompile(Spec{Path: spec})
		assertPaths(t, m,
			[]string{"/foobar", "/foobar/"},
			[]string{"/", "/fooba", "/foobar/qux", "/qux/foobar"})
	}
}

func TestRegexPaths(t *testing.T) {
	m := MustCompile(Spec{Path: "/foo/ba*"})
	assertPaths(t, m,
		[]string{"/foo/ba", "/foo/b/", "/foo/baaaa", "/foo/baa?param=value"},
		[]string{"/foo/bar", "/foo/"})

	m = MustCompile(Spec{Path: "/foobar(/[a-z]*)?"})
	assertPaths(t, m,
		[]string{"/foobar", "/foobar/", "/foobar/qux"},
		[]string{"/foobar/qux123", "/foobar/123qux"})
}

func TestVariablePaths(t *testing.T) {
	m := MustCompile(Spec{Path: "/:controller/:action/:id"})
	assertPaths(t, m,
		[]string{"/article/show/123", "/page/edit/123/", "/article/list/all?page=3"},
		[]string{"/article/show/123/456", "/article/", "/article/show"})

	params, ok := m.Match(request(http.MethodGet, "/widget/search/te%20rm?page=2", ""))
	require.True(t, ok)
	assert.Equal(t, httpx.Params{
		{Name: "controller", Value: "widget"},
		{Name: "action", Value: "search"},
		{Name: "id", Value: "te rm"},
	}, params)
}

func TestDotIsRegex(t *testing.T) {
	m := MustCompile(Spec{Path: "/cmd.com"})
	assertPaths(t, m, []string{"/cmd.com", "/cmd2com"}, []string{"/cmdcom"})
}

func TestMethodFilter(t *testing.T) {
	any := MustCompile(Spec{Path: "/.*"})
	star := MustCompile(Spec{Path: "/.*", Methods: []string{"*"}})
	get := MustCompile(Spec{Path: "/.*", Methods: []string{"GET"}})
	several := MustCompile(Spec{Path: "/.*", Methods: []string{"GeT", "Options"}})

	for _, m := range []*Matcher{any, star} {
		assert.True(t, m.MatchMethod("GET"))
		assert.True(t, m.MatchMethod("POST"))
	}
	assert.True(t, get.MatchMethod("GET"))
	assert.False(t, get.MatchMethod("POST"))
	assert.True(t, several.MatchMethod("geT"))
	assert.True(t, several.MatchMethod("optIONS"))
	assert.False(t, several.MatchMethod("POST"))
}

func TestHostnameFilter(t *testing.T) {
	exact := MustCompile(Spec{Path: "/.*", Hostname: "example.com"})
	_, ok := exact.Match(request(http.MethodGet, "/", "example.com"))
	assert.True(t, ok)
	_, ok = exact.Match(request(http.MethodGet, "/", "example.com:3000"))
	assert.True(t, ok)
	_, ok = exact.Match(request(http.MethodGet, "/", "localhost"))
	assert.False(t, ok)

	re := MustCompile(Spec{Path: "/.*", Hostname: "local.*"})
	for host, want := range map[string]bool{
		"example.com": false,
		"www.local":   false,
		"localhost":   true,
		"localserver": true,
	} {
		_, ok := re.Match(request(http.MethodGet, "/", host))
		assert.Equal(t, want, ok, host)
	}
}

func TestCompileRejectsBadRegex(t *testing.T) {
	_, err := Compile(Spec{Path: "/foo("})
	assert.Error(t, err)
	_, err = Compile(Spec{Path: "/", Hostname: "("})
	assert.Error(t, err)
}

func TestPrefix(t *testing.T) {
	for _, mount := range []string{"/foobar", "/foobar/"} {
		p := NewPrefix(mount)
		for _, path := range []string{"/foobar", "/foobar/", "/foobar/..", "/foobar/.file", "/foobar/dir/file.txt"} {
			assert.True(t, p.Match(path), path)
		}
		for _, path := range []string{"/", "/fooba", "/fooba/", "/qux/foobar", "/foobarqux"} {
			assert.False(t, p.Match(path), path)
		}
	}

	rest, ok := NewPrefix("/cmd.com").Strip("/cmd.com/README")
	require.True(t, ok)
	assert.Equal(t, "/README", rest)
	assert.False(t, NewPrefix("/cmd.com").Match("/cmd2com/README"))
	assert.True(t, NewPrefix("/").Match("/anything"))
	assert.True(t, NewPrefix("/id$[foo]+/*w|n*^{2,1}").Match("/id$[foo]+/*w|n*^{2,1}/README"))
}
