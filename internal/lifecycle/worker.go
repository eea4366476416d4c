package lifecycle

import (
	"context"
	"errors"
	"sync"
)

// ErrRedundant 表示 worker 已被淘汰。
var ErrRedundant = errors.New("worker is redundant")

// Worker 是注册下的一个脚本实例。
type Worker struct {
	id     string
	info   ScriptInfo
	reg    *Registration
	script Script

	mu          sync.Mutex
	state       State
	skipWaiting bool
	listeners   []func(State)
}

func (w *Worker) ID() string        { return w.id }
func (w *Worker) Version() string   { return w.info.Version }
func (w *Worker) ScriptURL() string { return w.info.URL }

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// OnStateChange 订阅 statechange，回调参数为新状态。
func (w *Worker) OnStateChange(fn func(State)) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

// PostMessage 把消息同步投递给脚本，并等待处理器登记的任务完成。
// port 非空时作为回复端口随消息传递。
func (w *Worker) PostMessage(ctx context.Context, msg Message, port *MessagePort) error {
	if msg == nil {
		return ErrUnknownMessage
	}
	if port != nil && w.reg.host.opts.NoPortTransfer {
		return ErrTransferUnsupported
	}
	if w.State() == StateRedundant {
		return ErrRedundant
	}

	ev := &MessageEvent{
		ExtendableEvent: newExtendableEvent(ctx),
		Data:            msg,
		port:            port,
	}
	w.script.OnMessage(ev)
	return ev.Wait()
}

func (w *Worker) controlling() bool {
	state := w.State()
	return state == StateActivating || state == StateActivated
}

// shouldActivate 在 installed 之后判断是否可以立即激活。
func (w *Worker) shouldActivate() bool {
	w.mu.Lock()
	skip := w.skipWaiting
	w.mu.Unlock()
	if skip {
		return true
	}
	active := w.reg.Active()
	if active == nil || active == w {
		return true
	}
	return !w.reg.hasControlledClients(active)
}

func (w *Worker) requestSkipWaiting(ctx context.Context) error {
	w.mu.Lock()
	w.skipWaiting = true
	state := w.state
	w.mu.Unlock()

	if state == StateInstalled {
		w.reg.activate(ctx, w)
	}
	return nil
}

func (w *Worker) setState(state State) {
	w.mu.Lock()
	if w.state == state {
		w.mu.Unlock()
		return
	}
	w.state = state
	w.mu.Unlock()
	w.notify(state)
}

func (w *Worker) compareAndSetState(from, to State) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != from {
		return false
	}
	w.state = to
	return true
}

func (w *Worker) notify(state State) {
	w.mu.Lock()
	listeners := append([]func(State){}, w.listeners...)
	w.mu.Unlock()
	for _, fn := range listeners {
		fn(state)
	}
}

type workerScope struct {
	w *Worker
}

func (s workerScope) SkipWaiting(ctx context.Context) error {
	return s.w.requestSkipWaiting(ctx)
}

func (s workerScope) Claim(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.w.reg.claim(s.w)
}

func (s workerScope) Version() string {
	return s.w.info.Version
}
