package head

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/any-hub/hydra/internal/httpx"
)

type routeCase struct {
	req    *httpx.Request
	status int
	body   string
}

func get(target string) *httpx.Request {
	return httpx.NewRequest(http.MethodGet, target, nil, nil)
}

func withHost(req *httpx.Request, host string) *httpx.Request {
	req.Headers.Set("Host", host)
	return req
}

// dispatch 模拟单 head 链：不匹配时返回 404，匹配时要求 head 完成响应。
func dispatch(t *testing.T, h Head, req *httpx.Request, next Next) *httpx.Response {
	t.Helper()
	res := httpx.NewResponse()
	if !h.CanHandle(req) {
		require.NoError(t, res.SendStatus(http.StatusNotFound, "Not Found"))
		return res
	}
	require.NoError(t, h.Handle(req, res, next))
	require.True(t, res.Ended(), "head did not finalize the response for %s", req.RequestURI())
	return res
}

func checkRouting(t *testing.T, h Head, cases []routeCase) {
	t.Helper()
	for i, tc := range cases {
		res := dispatch(t, h, tc.req, nil)
		want := tc.status
		if want == 0 {
			want = http.StatusOK
		}
		if res.StatusCode != want {
			t.Fatalf("case %d %s: 状态码期望 %d，实际 %d", i, tc.req.RequestURI(), want, res.StatusCode)
		}
		if tc.status == 0 || tc.body != "" {
			if got := string(res.Body()); got != tc.body {
				t.Fatalf("case %d %s: 正文期望 %q，实际 %q", i, tc.req.RequestURI(), tc.body, got)
			}
		}
	}
}

func sendString(body string) Next {
	return func(_ *httpx.Request, res *httpx.Response) error {
		return res.SendString(body)
	}
}
