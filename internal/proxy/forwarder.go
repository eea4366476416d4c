package proxy

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/meteo-pwa/meteo-hub/internal/server"
)

// ErrHandlerExists indicates a handler has already been registered for the route kind.
var ErrHandlerExists = errors.New("route handler already registered")

// Forwarder 根据 Route.Kind 选择 ProxyHandler，默认回退到构造时注入的 handler，
// 并把 handler 的 panic 转换为 500 响应。
type Forwarder struct {
	defaultHandler server.ProxyHandler
	logger         *logrus.Logger

	mu       sync.RWMutex
	handlers map[server.RouteKind]server.ProxyHandler
}

// NewForwarder 创建 Forwarder；defaultHandler 为空时未注册的路由类型返回 500。
func NewForwarder(defaultHandler server.ProxyHandler, logger *logrus.Logger) *Forwarder {
	return &Forwarder{
		defaultHandler: defaultHandler,
		logger:         logger,
		handlers:       make(map[server.RouteKind]server.ProxyHandler),
	}
}

// NewPageForwarder 为站点与 API 两类路由注册同一个页面客户端 handler，不设默认 handler，
// 未知路由类型返回 route_handler_missing。
func NewPageForwarder(page PageFetcher, logger *logrus.Logger) (*Forwarder, error) {
	handler := NewHandler(page, logger)
	forwarder := NewForwarder(nil, logger)
	for _, kind := range []server.RouteKind{server.RouteOrigin, server.RouteAPI} {
		if err := forwarder.Register(kind, handler); err != nil {
			return nil, err
		}
	}
	return forwarder, nil
}

// Register 为某类路由绑定专用 handler。
func (f *Forwarder) Register(kind server.RouteKind, handler server.ProxyHandler) error {
	if kind == "" {
		return errors.New("route kind required")
	}
	if handler == nil {
		return errors.New("route handler required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.handlers[kind]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerExists, kind)
	}
	f.handlers[kind] = handler
	return nil
}

// Handle 实现 server.ProxyHandler。
func (f *Forwarder) Handle(c fiber.Ctx, route *server.Route) error {
	requestID := server.RequestID(c)
	handler := f.lookup(route)
	if handler == nil {
		return f.respondMissingHandler(c, route, requestID)
	}
	return f.invokeHandler(c, route, handler, requestID)
}

func (f *Forwarder) respondMissingHandler(c fiber.Ctx, route *server.Route, requestID string) error {
	f.logRouteError(route, "route_handler_missing", nil, requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "route_handler_missing"})
}

func (f *Forwarder) invokeHandler(c fiber.Ctx, route *server.Route, handler server.ProxyHandler, requestID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = f.respondHandlerPanic(c, route, r, requestID)
		}
	}()
	return handler.Handle(c, route)
}

func (f *Forwarder) respondHandlerPanic(c fiber.Ctx, route *server.Route, recovered interface{}, requestID string) error {
	f.logRouteError(route, "route_handler_panic", fmt.Errorf("panic: %v", recovered), requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "route_handler_panic"})
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

func (f *Forwarder) logRouteError(route *server.Route, code string, err error, requestID string) {
	if f.logger == nil {
		return
	}
	fields := routeFields(route, requestID)
	fields["action"] = "proxy"
	fields["error"] = code
	if err != nil {
		f.logger.WithFields(fields).Error(err.Error())
		return
	}
	f.logger.WithFields(fields).Error("route handler unavailable")
}

func (f *Forwarder) lookup(route *server.Route) server.ProxyHandler {
	if route != nil {
		f.mu.RLock()
		handler, ok := f.handlers[route.Kind]
		f.mu.RUnlock()
		if ok {
			return handler
		}
	}
	return f.defaultHandler
}

func routeFields(route *server.Route, requestID string) logrus.Fields {
	fields := logrus.Fields{"request_id": requestID}
	if route == nil {
		fields["host"] = ""
		fields["kind"] = ""
		return fields
	}
	fields["host"] = route.Host
	fields["kind"] = string(route.Kind)
	return fields
}
