package routes

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/hydra/internal/head"
	"github.com/any-hub/hydra/internal/hydra"
	"github.com/any-hub/hydra/internal/plugin"
	"github.com/any-hub/hydra/internal/summoner"
)

// RegisterDiagnosticsRoutes 暴露 /-/plugins 与 /-/hydras 诊断接口，
// 并允许测试脚本按名称切换 head 挂载状态、启动/停止 test、重置实例。
func RegisterDiagnosticsRoutes(app *fiber.App, s *summoner.Summoner) {
	if app == nil || s == nil {
		return
	}

	app.Get("/-/plugins", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"plugins":      encodePlugins(s.PluginInfoList()),
			"modules":      plugin.Keys(),
			"picker_owner": s.PickerOwner(),
		})
	})

	app.Get("/-/hydras", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"hydras": encodeHydras(s.Hydras())})
	})

	app.Get("/-/hydras/:key", func(c fiber.Ctx) error {
		hy, ok := s.Hydra(c.Params("key"))
		if !ok {
			return notFound(c, "hydra_not_found")
		}
		return c.JSON(encodeHydra(hy))
	})

	app.Post("/-/hydras/:key/heads/:plugin/:head/:action", func(c fiber.Ctx) error {
		hy, ok := s.Hydra(c.Params("key"))
		if !ok {
			return notFound(c, "hydra_not_found")
		}
		h, err := hy.Head(c.Params("plugin"), c.Params("head"))
		if err != nil {
			return notFound(c, "head_not_found")
		}

		switch c.Params("action") {
		case "attach":
			err = h.Attach()
		case "detach":
			err = h.Detach()
		default:
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_action"})
		}
		if errors.Is(err, head.ErrInvalidHeadState) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "invalid_head_state", "message": err.Error()})
		}
		if err != nil {
			return err
		}
		return c.JSON(encodeHead(c.Params("plugin"), h))
	})

	app.Post("/-/hydras/:key/tests/:plugin/:test/start", func(c fiber.Ctx) error {
		hy, ok := s.Hydra(c.Params("key"))
		if !ok {
			return notFound(c, "hydra_not_found")
		}
		if err := hy.StartTest(c.Params("plugin"), c.Params("test")); err != nil {
			return notFound(c, "test_not_found")
		}
		return c.JSON(encodeHydra(hy))
	})

	app.Post("/-/hydras/:key/tests/stop", func(c fiber.Ctx) error {
		hy, ok := s.Hydra(c.Params("key"))
		if !ok {
			return notFound(c, "hydra_not_found")
		}
		hy.StopTest()
		return c.JSON(encodeHydra(hy))
	})

	app.Post("/-/hydras/:key/reset", func(c fiber.Ctx) error {
		hy, ok := s.Hydra(c.Params("key"))
		if !ok {
			return notFound(c, "hydra_not_found")
		}
		hy.Reset()
		return c.JSON(encodeHydra(hy))
	})
}

func notFound(c fiber.Ctx, code string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": code})
}

type headPayload struct {
	Plugin   string `json:"plugin"`
	Name     string `json:"name,omitempty"`
	Kind     string `json:"kind"`
	Pattern  string `json:"pattern,omitempty"`
	Target   string `json:"target,omitempty"`
	Attached bool   `json:"attached"`
}

type pluginPayload struct {
	Name        string         `json:"name"`
	Dir         string         `json:"dir,omitempty"`
	Module      string         `json:"module,omitempty"`
	Description string         `json:"description,omitempty"`
	Picker      string         `json:"picker,omitempty"`
	Config      map[string]any `json:"config"`
	Heads       []headPayload  `json:"heads"`
	Tests       []string       `json:"tests"`
}

type testPayload struct {
	Plugin string `json:"plugin"`
	Test   string `json:"test"`
}

type hydraPayload struct {
	Name        string        `json:"name"`
	CurrentTest *testPayload  `json:"current_test,omitempty"`
	Heads       []headPayload `json:"heads"`
}

func encodePlugins(infos []*plugin.Info) []pluginPayload {
	result := make([]pluginPayload, 0, len(infos))
	for _, info := range infos {
		picker := info.PickerSource
		if picker == "" && info.Picker != nil {
			picker = "module"
		}
		heads := make([]headPayload, 0, len(info.Heads))
		for _, h := range info.Heads {
			heads = append(heads, encodeHead(info.Name, h))
		}
		result = append(result, pluginPayload{
			Name:        info.Name,
			Dir:         info.Dir,
			Module:      info.Module,
			Description: info.Description,
			Picker:      picker,
			Config:      info.Config,
			Heads:       heads,
			Tests:       info.TestNames(),
		})
	}
	return result
}

func encodeHydras(hydras []*hydra.Hydra) []hydraPayload {
	result := make([]hydraPayload, 0, len(hydras))
	for _, hy := range hydras {
		result = append(result, encodeHydra(hy))
	}
	return result
}

func encodeHydra(hy *hydra.Hydra) hydraPayload {
	payload := hydraPayload{Name: hy.Name(), Heads: []headPayload{}}
	if ref, ok := hy.CurrentTest(); ok {
		payload.CurrentTest = &testPayload{Plugin: ref.Plugin, Test: ref.Test}
	}
	for _, p := range hy.Plugins() {
		for _, h := range p.Heads {
			payload.Heads = append(payload.Heads, encodeHead(p.Name, h))
		}
	}
	return payload
}

func encodeHead(pluginName string, h head.Head) headPayload {
	payload := headPayload{
		Plugin:   pluginName,
		Name:     h.Name(),
		Kind:     h.Kind(),
		Attached: h.Attached(),
	}
	if p, ok := h.(interface{ Pattern() string }); ok {
		payload.Pattern = p.Pattern()
	}
	// 代理 head 额外展示上游地址
	if proxy, ok := h.(*head.Proxy); ok {
		payload.Target = proxy.Target().String()
	}
	return payload
}
