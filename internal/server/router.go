package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/hydra/internal/httpx"
	"github.com/any-hub/hydra/internal/hydra"
	"github.com/any-hub/hydra/internal/logging"
)

// Summoner resolves the hydra instance serving a request.
type Summoner interface {
	Summon(req *httpx.Request) (*hydra.Hydra, error)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Summoner   Summoner
	ListenPort int
}

const contextKeyRequestID = "_hydra_request_id"

// NewApp builds the Fiber application: request IDs, panic recovery, and a
// catch-all handler that converts every non-diagnostics request into an
// httpx exchange for the summoned hydra.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Summoner == nil {
		return nil, errors.New("summoner is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		JSONEncoder:   json.Marshal,
		JSONDecoder:   json.Unmarshal,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		return serveHydra(c, opts)
	})

	return app, nil
}

// requestIDMiddleware 为每个请求生成请求 ID 并回写到响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

func serveHydra(c fiber.Ctx, opts AppOptions) error {
	req := requestFromFiber(c)

	hy, err := opts.Summoner.Summon(req)
	if err != nil {
		opts.Logger.WithError(err).WithFields(logrus.Fields{
			"action":     "summon",
			"request_id": RequestID(c),
		}).Error("summon_failed")
		return renderError(c, "summon_failed", err)
	}

	res := httpx.NewResponse()
	if err := hy.Handle(req, res); err != nil {
		fields := logging.RequestFields(hy.Name(), "", req.Method, req.RequestURI())
		fields["request_id"] = RequestID(c)
		opts.Logger.WithError(err).WithFields(fields).Error("head_failed")
		return renderError(c, "head_failed", err)
	}

	writeResponse(c, res)
	return nil
}

// requestFromFiber 复制请求数据，fasthttp 的缓冲区在 handler 返回后会被复用。
func requestFromFiber(c fiber.Ctx) *httpx.Request {
	headers := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		headers.Add(string(key), string(value))
	})
	if headers.Get("Host") == "" {
		headers.Set("Host", string(c.Request().Host()))
	}
	body := append([]byte(nil), c.Body()...)

	req := httpx.NewRequest(c.Method(), string(c.Request().RequestURI()), headers, body)
	if ctx := c.Context(); ctx != nil {
		req = req.WithContext(ctx)
	}
	return req
}

// writeResponse 原样写回 head 生成的状态码、头与原始（可能已编码的）body。
func writeResponse(c fiber.Ctx, res *httpx.Response) {
	for key, values := range res.Headers {
		if httpx.IsHopByHopHeader(key) || strings.EqualFold(key, "Content-Length") {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
	c.Status(res.StatusCode)
	c.Response().SetBodyRaw(res.RawBody())
}

func renderError(c fiber.Ctx, code string, err error) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   code,
		"message": err.Error(),
	})
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
