package lifecycle

import (
	"context"
	"net/http"
	"strings"
	"sync"
)

// ScriptInfo 标识一个 worker 脚本。Scope 为空时取 "/"。
type ScriptInfo struct {
	URL     string
	Version string
	Scope   string
}

// Client 是一个打开的页面。
type Client struct {
	id   string
	path string
	host *Host

	mu         sync.Mutex
	controller *Worker
	listeners  []*controllerListener
}

type controllerListener struct {
	fn   func(*Worker)
	once bool
}

func (c *Client) ID() string   { return c.id }
func (c *Client) Path() string { return c.path }
func (c *Client) Host() *Host   { return c.host }

// Controller 返回当前控制页面的 worker，没有时返回 nil。
func (c *Client) Controller() *Worker {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.controller
}

// Registration 返回作用域覆盖该页面的注册（最长前缀），没有时返回 nil。
func (c *Client) Registration() *Registration {
	return c.host.registrationFor(c.path)
}

// OnControllerChange 订阅 controllerchange；once 为 true 时只触发一次。
func (c *Client) OnControllerChange(fn func(*Worker), once bool) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, &controllerListener{fn: fn, once: once})
	c.mu.Unlock()
}

// Register 注册（或更新）作用域内的 worker 脚本并同步完成安装。
// 安装失败时返回错误，注册本身仍然保留，之前的激活 worker 继续控制页面。
func (c *Client) Register(ctx context.Context, info ScriptInfo, factory ScriptFactory) (*Registration, error) {
	if info.Scope == "" {
		info.Scope = "/"
	}
	if err := validateScript(info, factory); err != nil {
		return nil, err
	}
	reg := c.host.ensureRegistration(info.Scope)
	return reg, reg.Update(ctx, info, factory)
}

// NewMessageChannel 创建消息通道；宿主不支持时返回 ErrChannelUnsupported。
func (c *Client) NewMessageChannel() (*MessageChannel, error) {
	if c.host.opts.NoReplyChannels {
		return nil, ErrChannelUnsupported
	}
	return NewMessageChannel(), nil
}

// Fetch 以页面身份发起请求：有控制者时先交给 worker，worker 未接管则直接走网络。
func (c *Client) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	req = req.WithContext(ctx)
	if w := c.Controller(); w != nil {
		resp, handled, err := DispatchFetch(ctx, w.script, c.id, req)
		if handled {
			return resp, err
		}
	}
	return c.host.network.Do(req)
}

// Do 使 Client 可以作为 HTTP 客户端注入到其他组件。
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.Fetch(req.Context(), req)
}

// Close 关闭页面，之后不再参与 controllerchange。
func (c *Client) Close() {
	c.host.removeClient(c.id)
}

func (c *Client) setController(w *Worker) {
	c.mu.Lock()
	if c.controller == w {
		c.mu.Unlock()
		return
	}
	c.controller = w
	listeners := make([]*controllerListener, 0, len(c.listeners))
	kept := c.listeners[:0]
	for _, l := range c.listeners {
		listeners = append(listeners, l)
		if !l.once {
			kept = append(kept, l)
		}
	}
	c.listeners = kept
	c.mu.Unlock()

	for _, l := range listeners {
		l.fn(w)
	}
}

func validateScript(info ScriptInfo, factory ScriptFactory) error {
	switch {
	case factory == nil:
		return ErrInvalidScript
	case info.URL == "" || info.Version == "":
		return ErrInvalidScript
	case !strings.HasPrefix(info.URL, info.Scope):
		return ErrInvalidScript
	}
	return nil
}
