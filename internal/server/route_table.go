package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/meteo-pwa/meteo-hub/internal/config"
	"github.com/meteo-pwa/meteo-hub/internal/worker"
)

// RouteKind 区分应用静态资源与第三方 API 两类上游。
type RouteKind string

const (
	RouteOrigin RouteKind = "origin"
	RouteAPI    RouteKind = "api"
)

// Route 是单次请求解析出的上游信息。
type Route struct {
	Host        string
	Kind        RouteKind
	UpstreamURL *url.URL
	ListenPort  int
}

// RouteTable 把请求 Host 映射为 Route：Domain 指向 Origin，命中 API 规则的 Host 直连 https。
type RouteTable struct {
	domain     string
	origin     *url.URL
	classifier worker.Classifier
	patterns   []string
	listenPort int
}

// NewRouteTable 根据配置构建路由表，启动阶段创建一次即可。
func NewRouteTable(cfg *config.Config) (*RouteTable, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	domain := normalizeDomain(cfg.Global.Domain)
	if domain == "" {
		return nil, fmt.Errorf("invalid domain %q", cfg.Global.Domain)
	}
	origin, err := url.Parse(cfg.Global.Origin)
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("invalid origin %q", cfg.Global.Origin)
	}
	return &RouteTable{
		domain:     domain,
		origin:     origin,
		classifier: worker.NewClassifier(cfg.Worker.APIHosts),
		patterns:   append([]string(nil), cfg.Worker.APIHosts...),
		listenPort: cfg.Global.ListenPort,
	}, nil
}

// Lookup 根据 Host 或 Host:port 查找 Route。
func (t *RouteTable) Lookup(host string) (*Route, bool) {
	if t == nil {
		return nil, false
	}
	normalized, _ := normalizeHost(host)
	if normalized == "" {
		return nil, false
	}

	if normalized == t.domain {
		upstream := *t.origin
		return &Route{Host: normalized, Kind: RouteOrigin, UpstreamURL: &upstream, ListenPort: t.listenPort}, true
	}
	if t.classifier.IsAPIHost(normalized) {
		return &Route{
			Host:        normalized,
			Kind:        RouteAPI,
			UpstreamURL: &url.URL{Scheme: "https", Host: normalized},
			ListenPort:  t.listenPort,
		}, true
	}
	return nil, false
}

// Domain 返回应用自身的 Host。
func (t *RouteTable) Domain() string {
	return t.domain
}

// Origin 返回静态资源上游地址的副本。
func (t *RouteTable) Origin() *url.URL {
	origin := *t.origin
	return &origin
}

// APIPatterns 返回 API Host 匹配规则，供 /-/status 输出。
func (t *RouteTable) APIPatterns() []string {
	return append([]string(nil), t.patterns...)
}

func normalizeDomain(domain string) string {
	host, _ := normalizeHost(domain)
	return host
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
