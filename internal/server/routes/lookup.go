package routes

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/meteo-pwa/meteo-hub/internal/weather"
)

// Looker 是天气查询入口，由 weather.Service 实现。
type Looker interface {
	Lookup(ctx context.Context, city string) (weather.Result, error)
}

// RegisterLookupRoutes 暴露 GET /-/lookup?city=，请求经页面客户端和 worker 访问天气接口。
func RegisterLookupRoutes(app *fiber.App, service Looker) {
	if app == nil || service == nil {
		return
	}

	app.Get("/-/lookup", func(c fiber.Ctx) error {
		city := strings.TrimSpace(c.Query("city"))
		result, err := service.Lookup(c.Context(), city)
		if err != nil {
			status, code := lookupError(err)
			return c.Status(status).JSON(fiber.Map{"error": code, "message": err.Error()})
		}
		return c.JSON(result)
	})
}

func lookupError(err error) (int, string) {
	switch {
	case errors.Is(err, weather.ErrEmptyQuery):
		return fiber.StatusBadRequest, "city_required"
	case errors.Is(err, weather.ErrCityNotFound):
		return fiber.StatusNotFound, "city_not_found"
	case errors.Is(err, weather.ErrOffline):
		return fiber.StatusServiceUnavailable, "offline"
	default:
		return fiber.StatusBadGateway, "lookup_failed"
	}
}
