package lifecycle

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/meteo-pwa/meteo-hub/internal/logging"
)

// ErrInvalidScript 表示注册参数不完整或脚本不在作用域内。
var ErrInvalidScript = errors.New("invalid worker script")

// Fetcher 是网络出口，*http.Client 满足该接口。
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// HostOptions 描述宿主能力。零值表示支持消息通道与端口传递。
type HostOptions struct {
	Logger  *logrus.Logger
	Network Fetcher
	// NoReplyChannels 模拟不支持 MessageChannel 的环境。
	NoReplyChannels bool
	// NoPortTransfer 模拟 postMessage 无法携带端口的环境。
	NoPortTransfer bool
}

// Host 管理作用域注册与页面客户端。
type Host struct {
	logger  *logrus.Entry
	network Fetcher
	opts    HostOptions

	mu            sync.Mutex
	registrations map[string]*Registration
	clients       map[string]*Client
}

// NewHost 创建宿主；未提供 Network 时使用 http.DefaultClient。
func NewHost(opts HostOptions) *Host {
	network := opts.Network
	if network == nil {
		network = http.DefaultClient
	}
	return &Host{
		logger:        logging.Component(opts.Logger, "lifecycle"),
		network:       network,
		opts:          opts,
		registrations: make(map[string]*Registration),
		clients:       make(map[string]*Client),
	}
}

// NewClient 打开一个位于 path 的页面；若已有激活的 worker 覆盖该路径，页面从一开始就受其控制。
func (h *Host) NewClient(path string) *Client {
	if path == "" {
		path = "/"
	}
	client := &Client{
		id:   uuid.NewString(),
		path: path,
		host: h,
	}
	if reg := h.registrationFor(path); reg != nil {
		if active := reg.Active(); active != nil && active.controlling() {
			client.controller = active
		}
	}

	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()
	return client
}

// Registration 返回 scope 对应的注册，不存在时返回 nil。
func (h *Host) Registration(scope string) *Registration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registrations[scope]
}

// Registrations 按作用域排序返回全部注册。
func (h *Host) Registrations() []*Registration {
	h.mu.Lock()
	regs := make([]*Registration, 0, len(h.registrations))
	for _, reg := range h.registrations {
		regs = append(regs, reg)
	}
	h.mu.Unlock()
	sort.Slice(regs, func(i, j int) bool { return regs[i].scope < regs[j].scope })
	return regs
}

// Clients 返回当前打开的页面。
func (h *Host) Clients() []*Client {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	return clients
}

func (h *Host) ensureRegistration(scope string) *Registration {
	h.mu.Lock()
	defer h.mu.Unlock()
	reg := h.registrations[scope]
	if reg == nil {
		reg = &Registration{host: h, scope: scope}
		h.registrations[scope] = reg
	}
	return reg
}

// registrationFor 按最长作用域前缀匹配。
func (h *Host) registrationFor(path string) *Registration {
	h.mu.Lock()
	defer h.mu.Unlock()
	var best *Registration
	for scope, reg := range h.registrations {
		if !strings.HasPrefix(path, scope) {
			continue
		}
		if best == nil || len(scope) > len(best.scope) {
			best = reg
		}
	}
	return best
}

func (h *Host) clientsInScope(scope string) []*Client {
	var matched []*Client
	for _, client := range h.Clients() {
		if strings.HasPrefix(client.path, scope) {
			matched = append(matched, client)
		}
	}
	return matched
}

func (h *Host) controlledBy(w *Worker) []*Client {
	if w == nil {
		return nil
	}
	var matched []*Client
	for _, client := range h.Clients() {
		if client.Controller() == w {
			matched = append(matched, client)
		}
	}
	return matched
}

func (h *Host) removeClient(id string) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}
