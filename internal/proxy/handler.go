package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/meteo-pwa/meteo-hub/internal/logging"
	"github.com/meteo-pwa/meteo-hub/internal/server"
	"github.com/meteo-pwa/meteo-hub/internal/worker"
)

// PageFetcher 是页面客户端的抓取入口：有控制 worker 时由 worker 处理，否则直连网络。
type PageFetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Handler 把 Fiber 请求转换为 http.Request，交给页面客户端，再把响应流式写回。
type Handler struct {
	client PageFetcher
	logger *logrus.Logger
}

// NewHandler constructs a proxy handler bound to the page client.
func NewHandler(client PageFetcher, logger *logrus.Logger) *Handler {
	return &Handler{
		client: client,
		logger: logger,
	}
}

// Handle 执行一次页面抓取，任何阶段出错都会输出结构化日志。
func (h *Handler) Handle(c fiber.Ctx, route *server.Route) error {
	started := time.Now()
	requestID := server.RequestID(c)

	req, err := h.buildUpstreamRequest(c, route)
	if err != nil {
		h.logResult(route, "", requestID, 0, "", started, err)
		return h.writeError(c, fiber.StatusBadRequest, "invalid_request")
	}
	upstream := req.URL.String()

	resp, err := h.client.Fetch(req.Context(), req)
	if err != nil {
		h.logResult(route, upstream, requestID, 0, "", started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	defer resp.Body.Close()

	source := resp.Header.Get(worker.SourceHeader)
	copyResponseHeaders(c, resp.Header)
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)

	if c.Method() == http.MethodHead {
		h.logResult(route, upstream, requestID, resp.StatusCode, source, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(route, upstream, requestID, resp.StatusCode, source, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (h *Handler) buildUpstreamRequest(c fiber.Ctx, route *server.Route) (*http.Request, error) {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	target := resolveUpstreamURL(route.UpstreamURL, c)
	body := bytesReader(c.Body())
	req, err := http.NewRequestWithContext(ctx, c.Method(), target.String(), body)
	if err != nil {
		return nil, err
	}

	server.CopyHeaders(req.Header, fiberHeadersAsHTTP(c))
	req.Header.Del("Accept-Encoding")
	req.Host = target.Host
	req.Header.Set("Host", target.Host)
	req.Header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			req.Header.Set("X-Forwarded-For", ip)
		}
	}
	req.Header.Set("X-Forwarded-Proto", c.Protocol())
	req.Header.Set("X-Forwarded-Port", routePort(route))
	return req, nil
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.Route,
	upstream string,
	requestID string,
	status int,
	source string,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(string(route.Kind), source, upstream, status)
	fields["action"] = "proxy"
	fields["host"] = route.Host
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func resolveUpstreamURL(base *url.URL, c fiber.Ctx) *url.URL {
	uri := c.Request().URI()
	clean := normalizeRequestPath(string(uri.Path()))
	relative := &url.URL{Path: clean}
	if query := uri.QueryString(); len(query) > 0 {
		relative.RawQuery = string(query)
	}
	return base.ResolveReference(relative)
}

func normalizeRequestPath(raw string) string {
	if raw == "" {
		raw = "/"
	}
	clean := path.Clean("/" + raw)
	// path.Clean 会去掉结尾的斜杠，目录形式的地址需要保留。
	if len(raw) > 1 && raw[len(raw)-1] == '/' && clean != "/" {
		clean += "/"
	}
	return clean
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	// fasthttp 会复用请求缓冲区，这里复制一份。
	return bytes.NewReader(append([]byte(nil), b...))
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}

func routePort(route *server.Route) string {
	if route == nil || route.ListenPort <= 0 {
		return "0"
	}
	return strconv.Itoa(route.ListenPort)
}
