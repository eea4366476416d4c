package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrAlreadyResponded 表示同一个 FetchEvent 上重复调用 RespondWith。
	ErrAlreadyResponded = errors.New("fetch event already responded")
	// ErrNoReplyPort 表示消息未携带回复端口。
	ErrNoReplyPort = errors.New("message has no reply port")
)

// Script 是 worker 脚本的事件处理器集合。
type Script interface {
	OnInstall(ev *ExtendableEvent)
	OnActivate(ev *ExtendableEvent)
	OnFetch(ev *FetchEvent)
	OnMessage(ev *MessageEvent)
}

// ScriptFactory 在每个 worker 创建时调用一次，scope 是该 worker 的全局能力。
type ScriptFactory func(scope Scope) Script

// Scope 是脚本可以调用的 worker 全局操作。
type Scope interface {
	// SkipWaiting 请求跳过等待；已处于 installed 时立即激活。
	SkipWaiting(ctx context.Context) error
	// Claim 让作用域内的所有页面改由当前 worker 控制，仅在激活后可用。
	Claim(ctx context.Context) error
	// Version 返回脚本版本。
	Version() string
}

// ExtendableEvent 允许处理器通过 WaitUntil 延长事件生命周期，宿主在推进状态前调用 Wait。
type ExtendableEvent struct {
	ctx   context.Context
	group *errgroup.Group
}

func newExtendableEvent(ctx context.Context) *ExtendableEvent {
	group, groupCtx := errgroup.WithContext(ctx)
	return &ExtendableEvent{ctx: groupCtx, group: group}
}

// Context 返回事件上下文，任一任务失败后会被取消。
func (e *ExtendableEvent) Context() context.Context {
	return e.ctx
}

// WaitUntil 登记一个异步任务，任务返回的错误使整个事件失败。
func (e *ExtendableEvent) WaitUntil(task func(ctx context.Context) error) {
	e.group.Go(func() error {
		return task(e.ctx)
	})
}

// Wait 等待所有任务结束并返回第一个错误。
func (e *ExtendableEvent) Wait() error {
	return e.group.Wait()
}

// FetchEvent 代表一次被拦截的页面请求。
type FetchEvent struct {
	Request  *http.Request
	ClientID string

	ctx       context.Context
	mu        sync.Mutex
	responder func(ctx context.Context) (*http.Response, error)
}

// Context 返回请求上下文。
func (e *FetchEvent) Context() context.Context {
	return e.ctx
}

// RespondWith 接管响应；只有第一次调用生效，未调用时请求直接走网络。
func (e *FetchEvent) RespondWith(fn func(ctx context.Context) (*http.Response, error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.responder != nil {
		return ErrAlreadyResponded
	}
	e.responder = fn
	return nil
}

// DispatchFetch 把请求交给脚本处理，handled=false 表示脚本未接管。
func DispatchFetch(ctx context.Context, script Script, clientID string, req *http.Request) (*http.Response, bool, error) {
	ev := &FetchEvent{Request: req, ClientID: clientID, ctx: ctx}
	script.OnFetch(ev)

	ev.mu.Lock()
	responder := ev.responder
	ev.mu.Unlock()
	if responder == nil {
		return nil, false, nil
	}
	resp, err := responder(ctx)
	return resp, true, err
}

// MessageEvent 是投递给 worker 的一条消息。
type MessageEvent struct {
	*ExtendableEvent
	Data Message

	port *MessagePort
}

// HasReplyPort 表示发送方是否附带了回复端口。
func (e *MessageEvent) HasReplyPort() bool {
	return e.port != nil
}

// Reply 通过回复端口回传消息。
func (e *MessageEvent) Reply(msg Message) error {
	if e.port == nil {
		return ErrNoReplyPort
	}
	return e.port.Post(msg)
}
