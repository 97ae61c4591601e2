package server_test

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/hydra/internal/config"
	"github.com/any-hub/hydra/internal/server"
	"github.com/any-hub/hydra/internal/server/routes"
	"github.com/any-hub/hydra/internal/summoner"
)

// upstreamStub 模拟上游 API，并记录收到的 Host 头，便于断言代理行为。
type upstreamStub struct {
	*httptest.Server

	mu    sync.Mutex
	hosts []string
}

func newUpstreamStub(t *testing.T) *upstreamStub {
	t.Helper()
	stub := &upstreamStub{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/greeting", func(w http.ResponseWriter, _ *http.Request) {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		_, _ = zw.Write([]byte("hello from upstream"))
		_ = zw.Close()
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(buf.Bytes())
	})
	mux.HandleFunc("/v1/boom", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusInternalServerError)
	})
	stub.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.mu.Lock()
		stub.hosts = append(stub.hosts, r.Host)
		stub.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(stub.Close)
	return stub
}

func (s *upstreamStub) Hosts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.hosts...)
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		file := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(file), 0o755))
		require.NoError(t, os.WriteFile(file, []byte(content), 0o644))
	}
}

func TestChainEndToEnd(t *testing.T) {
	stub := newUpstreamStub(t)
	root := t.TempDir()
	pluginDir := "opt/hydra/plugins/frontend"
	writeTree(t, root, map[string]string{
		pluginDir + "/public/index.html": "<h1>home</h1>",
		pluginDir + "/plugin.toml": fmt.Sprintf(`
picker = "headers['x-user']"

[[heads]]
type = "watchdog"
path = "/api/.*"
watcher = "status >= 500"

[[heads]]
type = "filter"
name = "shout"
path = "/api/greeting"
filter = "upper(body)"

[[heads]]
type = "proxy"
name = "api"
mountPath = "/api"
proxyTo = "%s/v1"

[[heads]]
type = "filesystem"
name = "site"
documentRoot = "public"
`, stub.URL),
	})

	logger, hook := test.NewNullLogger()
	s, err := summoner.New([]config.PluginConfig{{Name: "frontend"}}, summoner.Options{
		RootDir:              root,
		ExtraPluginLoadPaths: []string{"/opt/hydra/plugins"},
		Fs:                   afero.NewOsFs(),
		Logger:               logger,
	})
	require.NoError(t, err)

	app, err := server.NewApp(server.AppOptions{Logger: logger, Summoner: s, ListenPort: 3000})
	require.NoError(t, err)
	routes.RegisterDiagnosticsRoutes(app, s)

	do := func(user, target string) *http.Response {
		t.Helper()
		req := httptest.NewRequest(http.MethodGet, "http://hydra.local"+target, nil)
		req.Header.Set("X-User", user)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp
	}

	t.Run("filter rewrites compressed upstream body", func(t *testing.T) {
		resp := do("alice", "/api/greeting")
		require.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))

		zr, err := gzip.NewReader(resp.Body)
		require.NoError(t, err)
		body, err := io.ReadAll(zr)
		require.NoError(t, err)
		assert.Equal(t, "HELLO FROM UPSTREAM", string(body))

		hosts := stub.Hosts()
		require.NotEmpty(t, hosts)
		assert.Equal(t, stub.Listener.Addr().String(), hosts[len(hosts)-1])
	})

	t.Run("watchdog reports upstream failures", func(t *testing.T) {
		hook.Reset()
		resp := do("alice", "/api/boom")
		assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)

		found := false
		for _, entry := range hook.AllEntries() {
			if entry.Message == "watchdog_match" {
				found = true
			}
		}
		assert.True(t, found, "watchdog should log the 500")
	})

	t.Run("filesystem serves index", func(t *testing.T) {
		resp := do("bob", "/")
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, "<h1>home</h1>", string(body))

		resp = do("bob", "/missing.html")
		assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	})

	t.Run("each user gets an instance", func(t *testing.T) {
		hydras := s.Hydras()
		require.Len(t, hydras, 2)
		assert.Equal(t, "alice", hydras[0].Name())
		assert.Equal(t, "bob", hydras[1].Name())
	})
}
