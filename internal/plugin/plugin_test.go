package plugin

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/hydra/internal/config"
	"github.com/any-hub/hydra/internal/head"
	"github.com/any-hub/hydra/internal/httpx"
	"github.com/any-hub/hydra/internal/logging"
)

const rootDir = "/plugin-fs"

func replaceRegistry(t *testing.T) {
	t.Helper()
	prev := globalRegistry
	globalRegistry = newRegistry()
	t.Cleanup(func() { globalRegistry = prev })
}

const simpleDescriptor = `
description = "simple plugin"

[[heads]]
type = "static"
name = "hello"
path = "/hello"
content = "hi"
`

// pluginFS 构建与原始目录布局一致的插件树。
func pluginFS(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	write := func(rel, body string) {
		require.NoError(t, afero.WriteFile(fs, filepath.Join(rootDir, rel), []byte(body), 0o644))
	}
	write("usr/share/hydra/plugins/simple/plugin.toml", simpleDescriptor)
	write("usr/share/hydra/plugins/definedtwice/plugin.toml", simpleDescriptor)
	write("usr/local/share/hydra/plugins/definedtwice/plugin.toml", simpleDescriptor)
	write("opt/hydra/plugins/definedtwice/plugin.toml", simpleDescriptor)
	write("opt/hydra/plugins/customloadpath/plugin.toml", simpleDescriptor)
	write("opt/project/hydra-plugins/definedtwice/plugin.toml", simpleDescriptor)
	write("usr/share/hydra/plugins/wrong-fixed-picker/plugin.toml", "picker = 42\n")
	write("usr/share/hydra/plugins/broken-picker/plugin.toml", "picker = \"query.(\"\n")
	write("usr/share/hydra/plugins/unknown-key/plugin.toml", "pikcer = \"path\"\n")
	write("usr/share/hydra/plugins/bad-head/plugin.toml", "[[heads]]\ntype = \"static\"\n")
	write("usr/share/hydra/plugins/right-hydra/plugin.yaml", `
picker: query.user
heads:
  - type: static
    path: /
    responses:
      - content: one
      - content: two
tests:
  first:
    - type: static
      name: first-head
      path: /
      content: test one
`)
	write("usr/share/hydra/plugins/json-plugin/plugin.json", `{"heads": [{"type": "static", "path": "/j", "statusCode": 201, "content": {"ok": true}}]}`)
	write("usr/share/hydra/plugins/case-keys/plugin.toml", `
[[heads]]
type = "static"
path = "/profile"
[heads.content]
userId = 1
displayName = "Ada"

[[heads]]
type = "replayer"
path = "/Users/.*"
[heads.traffic]
"/Users/Me" = [{ statusCode = 202, body = "aGk=" }]
`)
	require.NoError(t, fs.MkdirAll(filepath.Join(rootDir, "usr/share/hydra/plugins/empty"), 0o755))
	return fs
}

func load(t *testing.T, fs afero.Fs, name string, extra ...string) (*Info, error) {
	t.Helper()
	return Load(fs, SearchPaths(rootDir, extra), config.PluginConfig{Name: name}, head.Env{Fs: fs, Logger: logging.Discard()})
}

func get(target string) *httpx.Request {
	return httpx.NewRequest(http.MethodGet, target, nil, nil)
}

func serve(t *testing.T, h head.Head, req *httpx.Request) *httpx.Response {
	t.Helper()
	res := httpx.NewResponse()
	require.True(t, h.CanHandle(req))
	require.NoError(t, h.Handle(req, res, nil))
	return res
}

func TestSearchPaths(t *testing.T) {
	got := SearchPaths("/root", []string{"/opt/a", "/opt/b"})
	assert.Equal(t, []string{
		"/root/usr/share/hydra/plugins",
		"/root/usr/local/share/hydra/plugins",
		"/root/opt/a",
		"/root/opt/b",
	}, got)

	assert.Equal(t, "/usr/share/hydra/plugins", SearchPaths("", nil)[0])
}

func TestLoadSimplePlugin(t *testing.T) {
	fs := pluginFS(t)
	info, err := Load(fs, SearchPaths(rootDir, nil),
		config.PluginConfig{Name: "simple", Config: map[string]any{"configkey": "config value"}},
		head.Env{Fs: fs, Logger: logging.Discard()})
	require.NoError(t, err)

	assert.Equal(t, rootDir+"/usr/share/hydra/plugins/simple", info.Dir)
	assert.Equal(t, "config value", info.Config["configkey"])
	assert.Equal(t, "simple plugin", info.Description)
	assert.Nil(t, info.Picker)
	require.Len(t, info.Heads, 1)
	assert.Equal(t, "hello", info.Heads[0].Name())
	assert.Equal(t, "hi", string(serve(t, info.Heads[0], get("/hello")).Body()))
}

func TestLoadPrecedence(t *testing.T) {
	fs := pluginFS(t)
	cases := []struct {
		name  string
		extra []string
		want  string
	}{
		{"definedtwice", nil, "/usr/local/share/hydra/plugins/definedtwice"},
		{"definedtwice", []string{"/opt/hydra/plugins"}, "/opt/hydra/plugins/definedtwice"},
		{"definedtwice", []string{"/opt/hydra/plugins", "/opt/project/hydra-plugins"}, "/opt/project/hydra-plugins/definedtwice"},
		{"customloadpath", []string{"/opt/hydra/plugins", "/opt/project/hydra-plugins"}, "/opt/hydra/plugins/customloadpath"},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s%v", tc.name, tc.extra), func(t *testing.T) {
			info, err := load(t, fs, tc.name, tc.extra...)
			require.NoError(t, err)
			assert.Equal(t, rootDir+tc.want, info.Dir)
		})
	}
}

func TestLoadFailures(t *testing.T) {
	replaceRegistry(t)
	fs := pluginFS(t)

	_, err := load(t, fs, "i-dont-exist")
	assert.ErrorIs(t, err, ErrPluginNotFound)

	for _, name := range []string{"wrong-fixed-picker", "broken-picker", "unknown-key", "empty"} {
		_, err := load(t, fs, name)
		assert.ErrorIs(t, err, ErrInvalidPlugin, name)
	}

	_, err = load(t, fs, "bad-head")
	assert.ErrorIs(t, err, ErrInvalidPlugin)
	assert.ErrorIs(t, err, head.ErrInvalidHeadConfiguration)
}

func TestLoadPickerAndTests(t *testing.T) {
	fs := pluginFS(t)
	info, err := load(t, fs, "right-hydra")
	require.NoError(t, err)

	require.NotNil(t, info.Picker)
	assert.Equal(t, "query.user", info.PickerSource)
	key, err := info.Picker(get("/?user=user1"))
	require.NoError(t, err)
	assert.Equal(t, "user1", key)
	key, err = info.Picker(get("/"))
	require.NoError(t, err)
	assert.Equal(t, "", key)

	assert.Equal(t, []string{"first"}, info.TestNames())
	require.Len(t, info.Tests["first"], 1)
	assert.Equal(t, "first-head", info.Tests["first"][0].Name())
}

func TestLoadJSONDescriptor(t *testing.T) {
	fs := pluginFS(t)
	info, err := load(t, fs, "json-plugin")
	require.NoError(t, err)
	require.Len(t, info.Heads, 1)

	res := serve(t, info.Heads[0], get("/j"))
	assert.Equal(t, http.StatusCreated, res.StatusCode)
	assert.JSONEq(t, `{"ok": true}`, string(res.Body()))
}

func TestDescriptorKeepsKeyCase(t *testing.T) {
	fs := pluginFS(t)
	info, err := load(t, fs, "case-keys")
	require.NoError(t, err)
	require.Len(t, info.Heads, 2)

	res := serve(t, info.Heads[0], get("/profile"))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"userId": 1, "displayName": "Ada"}`, string(res.Body()))

	res = serve(t, info.Heads[1], get("/Users/Me"))
	assert.Equal(t, http.StatusAccepted, res.StatusCode)
	assert.Equal(t, "hi", string(res.Body()))
}

func TestInstantiateBuildsIndependentHeads(t *testing.T) {
	fs := pluginFS(t)
	info, err := load(t, fs, "right-hydra")
	require.NoError(t, err)

	env := head.Env{Fs: fs, Logger: logging.Discard()}
	first, _, err := info.Instantiate(env, &memState{values: map[string]any{}})
	require.NoError(t, err)
	second, _, err := info.Instantiate(env, &memState{values: map[string]any{}})
	require.NoError(t, err)

	assert.Equal(t, "one", string(serve(t, first[0], get("/")).Body()))
	assert.Equal(t, "two", string(serve(t, first[0], get("/")).Body()))
	assert.Equal(t, "one", string(serve(t, second[0], get("/")).Body()))
}

func TestLoadGoModule(t *testing.T) {
	replaceRegistry(t)
	fs := pluginFS(t)

	MustRegister(Module{
		Key: "Counter",
		Heads: func(ctx Context) ([]head.Head, error) {
			h, err := head.New(head.Config{
				Route: head.Route{Name: "count", Path: "/count"},
				Handler: func(_ *httpx.Request, res *httpx.Response, _ head.Next) error {
					n, _ := ctx.State.Get("n")
					count, _ := n.(int)
					count++
					ctx.State.Set("n", count)
					return res.Send([]byte(fmt.Sprintf("%s=%d", ctx.Config["label"], count)))
				},
			})
			if err != nil {
				return nil, err
			}
			return []head.Head{h}, nil
		},
		Picker: func(req *httpx.Request) (string, error) { return req.Headers.Get("X-User"), nil },
	})

	info, err := Load(fs, SearchPaths(rootDir, nil),
		config.PluginConfig{Name: "counter", Config: map[string]any{"label": "hits"}},
		head.Env{Fs: fs})
	require.NoError(t, err)
	assert.Equal(t, "", info.Dir)
	assert.Equal(t, "counter", info.Module)
	require.NotNil(t, info.Picker)

	state := &memState{values: map[string]any{}}
	heads, _, err := info.Instantiate(head.Env{Fs: fs}, state)
	require.NoError(t, err)
	require.Len(t, heads, 1)
	assert.Equal(t, "hits=1", string(serve(t, heads[0], get("/count")).Body()))
	assert.Equal(t, "hits=2", string(serve(t, heads[0], get("/count")).Body()))
}

func TestDescriptorModuleMustBeRegistered(t *testing.T) {
	replaceRegistry(t)
	fs := pluginFS(t)
	require.NoError(t, afero.WriteFile(fs, rootDir+"/usr/share/hydra/plugins/with-module/plugin.toml", []byte("module = \"ghost\"\n"), 0o644))

	_, err := load(t, fs, "with-module")
	assert.True(t, errors.Is(err, ErrInvalidPlugin))
	assert.Contains(t, err.Error(), "ghost")
}

func TestRegisterResolveAndList(t *testing.T) {
	replaceRegistry(t)
	noop := func(Context) ([]head.Head, error) { return nil, nil }

	if err := Register(Module{Key: "beta", Heads: noop}); err != nil {
		t.Fatalf("注册 beta 失败: %v", err)
	}
	if err := Register(Module{Key: "alpha", Heads: noop}); err != nil {
		t.Fatalf("注册 alpha 失败: %v", err)
	}
	if _, ok := Resolve("BETA"); !ok {
		t.Fatalf("Resolve 应忽略大小写")
	}
	if keys := Keys(); len(keys) != 2 || keys[0] != "alpha" || keys[1] != "beta" {
		t.Fatalf("模块顺序不符合预期: %v", keys)
	}
	if err := Register(Module{Key: "beta", Heads: noop}); err == nil {
		t.Fatalf("重复注册应失败")
	}
	if err := Register(Module{Key: " ", Heads: noop}); err == nil {
		t.Fatalf("空键应失败")
	}
	if err := Register(Module{Key: "empty"}); err == nil {
		t.Fatalf("没有任何能力的模块应失败")
	}
}
