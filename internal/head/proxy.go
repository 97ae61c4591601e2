package head

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/hydra/internal/httpx"
)

// RequestFunc performs one upstream round trip.
type RequestFunc func(req *http.Request) (*http.Response, error)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	// 正文按原样转发，Filter head 负责按需解压。
	DisableCompression: true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// DefaultUpstreamTimeout applies when no timeout is configured.
const DefaultUpstreamTimeout = 30 * time.Second

// NewUpstreamClient 返回共享 transport 的 http.Client，用于所有上游请求。
func NewUpstreamClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultUpstreamTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// ProxyConfig configures a Proxy head.
type ProxyConfig struct {
	Name      string `mapstructure:"name"`
	MountPath string `mapstructure:"mountPath"`
	ProxyTo   string `mapstructure:"proxyTo"`
	// SetHostHeader defaults to true; nil means unset.
	SetHostHeader *bool `mapstructure:"setHostHeader"`
	Detached      bool  `mapstructure:"detached"`

	HTTPRequest  RequestFunc    `mapstructure:"-"`
	HTTPSRequest RequestFunc    `mapstructure:"-"`
	Logger       *logrus.Logger `mapstructure:"-"`
}

// Proxy forwards requests under MountPath to ProxyTo.
type Proxy struct {
	Base

	target        *url.URL
	setHostHeader bool
	roundTrip     RequestFunc
	logger        *logrus.Logger
}

// NewProxy builds a Proxy head; ProxyTo must be an absolute http(s) URL.
func NewProxy(cfg ProxyConfig) (*Proxy, error) {
	if cfg.ProxyTo == "" {
		return nil, newConfigError(KindProxy, "proxyTo", "is required")
	}
	target, err := url.Parse(cfg.ProxyTo)
	if err != nil {
		return nil, &ConfigError{Head: KindProxy, Field: "proxyTo", Reason: "invalid URL", Err: err}
	}
	if target.Host == "" {
		return nil, newConfigError(KindProxy, "proxyTo", "must be an absolute URL")
	}

	var roundTrip RequestFunc
	switch strings.ToLower(target.Scheme) {
	case "http":
		roundTrip = cfg.HTTPRequest
	case "https":
		roundTrip = cfg.HTTPSRequest
	default:
		return nil, newConfigError(KindProxy, "proxyTo", fmt.Sprintf("unsupported scheme %q", target.Scheme))
	}
	if roundTrip == nil {
		roundTrip = NewUpstreamClient(0).Do
	}

	setHost := true
	if cfg.SetHostHeader != nil {
		setHost = *cfg.SetHostHeader
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	h := &Proxy{
		target:        target,
		setHostHeader: setHost,
		roundTrip:     roundTrip,
		logger:        logger,
	}
	h.initMount(KindProxy, cfg.Name, cfg.MountPath, cfg.Detached)
	return h, nil
}

// Target returns the upstream base URL.
func (h *Proxy) Target() *url.URL {
	u := *h.target
	return &u
}

// Handle relays the request upstream; transport failures become 502.
func (h *Proxy) Handle(req *httpx.Request, res *httpx.Response, _ Next) error {
	upstreamURL := h.upstreamURL(req)

	outbound, err := http.NewRequestWithContext(req.Context(), req.Method, upstreamURL, bytes.NewReader(req.Body))
	if err != nil {
		return res.SendStatus(http.StatusBadGateway, "Bad Gateway")
	}
	httpx.CopyHeaders(outbound.Header, req.Headers)
	outbound.Header.Del("Host")
	outbound.ContentLength = int64(len(req.Body))
	if h.setHostHeader {
		outbound.Host = h.target.Host
	} else if host := req.Host(); host != "" {
		outbound.Host = host
	}

	upstream, err := h.roundTrip(outbound)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"head":     h.Name(),
			"upstream": upstreamURL,
		}).WithError(err).Warn("proxy_upstream_failed")
		return res.SendStatus(http.StatusBadGateway, "Bad Gateway")
	}
	defer upstream.Body.Close()

	body, err := io.ReadAll(upstream.Body)
	if err != nil {
		return res.SendStatus(http.StatusBadGateway, "Bad Gateway")
	}

	res.StatusCode = upstream.StatusCode
	httpx.CopyHeaders(res.Headers, upstream.Header)
	return res.Send(body)
}

// upstreamURL 拼接 proxyTo 路径（去掉末尾斜杠）与请求去掉挂载前缀后的剩余部分。
func (h *Proxy) upstreamURL(req *httpx.Request) string {
	rest, _ := h.prefix.Strip(req.RawPath())
	p := strings.TrimSuffix(h.target.EscapedPath(), "/") + rest
	if p == "" {
		p = "/"
	}
	u := h.target.Scheme + "://" + h.target.Host + p
	if q := req.RawQuery(); q != "" {
		u += "?" + q
	}
	return u
}
