package head

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/hydra/internal/httpx"
	"github.com/any-hub/hydra/internal/httpx/codec"
)

// FilterFunc rewrites a decoded response body. A nil result is a failure.
type FilterFunc func(body []byte) ([]byte, error)

// FilterConfig configures a Filter head.
type FilterConfig struct {
	Route  `mapstructure:",squash"`
	Filter FilterFunc     `mapstructure:"filter"`
	Logger *logrus.Logger `mapstructure:"-"`
}

// Filter delegates to the rest of the chain and rewrites the body it produces.
type Filter struct {
	Base
	filter FilterFunc
	logger *logrus.Logger
}

var errFilterNoResult = errors.New("filter returned no body")

// NewFilter builds a Filter head; Filter is required.
func NewFilter(cfg FilterConfig) (*Filter, error) {
	if cfg.Filter == nil {
		return nil, newConfigError(KindFilter, "filter", "is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	h := &Filter{filter: cfg.Filter, logger: logger}
	if err := h.initRoute(KindFilter, cfg.Route, "/.*"); err != nil {
		return nil, err
	}
	return h, nil
}

// Handle runs next against an intermediate response and forwards the filtered result to res.
func (h *Filter) Handle(req *httpx.Request, res *httpx.Response, next Next) error {
	h.bind(req)
	if next == nil {
		return res.SendStatus(http.StatusNotFound, "Not Found")
	}
	inner := httpx.NewResponse(func(in *httpx.Response) error {
		return h.forward(req, in, res)
	})
	return next(req, inner)
}

func (h *Filter) forward(req *httpx.Request, in, res *httpx.Response) error {
	encoding := in.Headers.Get("Content-Encoding")
	plain, decoded, err := codec.Decode(encoding, in.RawBody())
	if err != nil {
		plain, decoded = in.RawBody(), false
	}

	filtered, err := h.filter(plain)
	if err == nil && filtered == nil {
		err = errFilterNoResult
	}
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"head": h.Name(),
			"path": req.RawPath(),
		}).WithError(err).Error("filter_failed")
		return res.SendStatus(http.StatusInternalServerError, "Internal Server Error")
	}

	body := filtered
	if decoded {
		body, err = codec.Encode(encoding, filtered)
		if err != nil {
			return res.SendStatus(http.StatusInternalServerError, "Internal Server Error")
		}
	}

	out := in.Clone()
	if out.Headers.Get("Content-Length") != "" {
		out.Headers.Set("Content-Length", strconv.Itoa(len(body)))
	}
	return res.Forward(out, body)
}
