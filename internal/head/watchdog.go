package head

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/hydra/internal/httpx"
)

// WatcherFunc decides whether a finished exchange deserves a report.
type WatcherFunc func(req *httpx.Request, res *httpx.Response) bool

// ReporterFunc handles an exchange the watcher flagged.
type ReporterFunc func(req *httpx.Request, res *httpx.Response)

// WatchdogConfig configures a Watchdog head.
type WatchdogConfig struct {
	Route    `mapstructure:",squash"`
	Watcher  WatcherFunc    `mapstructure:"watcher"`
	Reporter ReporterFunc   `mapstructure:"-"`
	Logger   *logrus.Logger `mapstructure:"-"`
}

// Watchdog observes responses produced further down the chain without changing them.
type Watchdog struct {
	Base
	watcher  WatcherFunc
	reporter ReporterFunc
}

// NewWatchdog builds a Watchdog head; Watcher is required.
func NewWatchdog(cfg WatchdogConfig) (*Watchdog, error) {
	if cfg.Watcher == nil {
		return nil, newConfigError(KindWatchdog, "watcher", "is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	reporter := cfg.Reporter
	if reporter == nil {
		reporter = logReporter(logger)
	}
	h := &Watchdog{watcher: cfg.Watcher, reporter: reporter}
	if err := h.initRoute(KindWatchdog, cfg.Route, "/.*"); err != nil {
		return nil, err
	}
	return h, nil
}

func logReporter(logger *logrus.Logger) ReporterFunc {
	return func(req *httpx.Request, res *httpx.Response) {
		logger.WithFields(logrus.Fields{
			"method": req.Method,
			"path":   req.RequestURI(),
			"status": res.StatusCode,
			"bytes":  len(res.RawBody()),
		}).Warn("watchdog_match")
	}
}

// Handle delegates to next, then shows the watcher a detached copy of the result.
func (h *Watchdog) Handle(req *httpx.Request, res *httpx.Response, next Next) error {
	h.bind(req)
	if next == nil {
		return res.SendStatus(http.StatusNotFound, "Not Found")
	}
	inner := httpx.NewResponse(func(in *httpx.Response) error {
		snapshot := in.Clone()
		if h.watcher(req, snapshot) {
			h.reporter(req, snapshot)
		}
		return res.Forward(in, in.RawBody())
	})
	return next(req, inner)
}
