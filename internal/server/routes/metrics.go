package routes

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/meteo-pwa/meteo-hub/internal/metrics"
)

// RegisterMetricsRoutes 以 Prometheus 文本格式暴露 /-/metrics。
func RegisterMetricsRoutes(app *fiber.App) {
	if app == nil {
		return
	}
	app.Get("/-/metrics", adaptor.HTTPHandler(metrics.Handler()))
}
