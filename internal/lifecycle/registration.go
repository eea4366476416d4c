package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/meteo-pwa/meteo-hub/internal/logging"
)

// ErrNotActive 表示 worker 尚未激活，不能 Claim。
var ErrNotActive = errors.New("worker is not active")

// Registration 管理一个作用域下的 installing / waiting / active worker。
type Registration struct {
	host  *Host
	scope string

	// jobs 串行化安装任务。
	jobs sync.Mutex

	mu          sync.Mutex
	installing  *Worker
	waiting     *Worker
	active      *Worker
	updateFound []func(*Worker)
}

func (r *Registration) Scope() string { return r.scope }

func (r *Registration) Installing() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.installing
}

func (r *Registration) Waiting() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

func (r *Registration) Active() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Newest 返回最新的 worker：installing 优先，其次 waiting、active。
func (r *Registration) Newest() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.installing != nil:
		return r.installing
	case r.waiting != nil:
		return r.waiting
	default:
		return r.active
	}
}

// OnUpdateFound 订阅 updatefound，回调参数为刚开始安装的 worker。
func (r *Registration) OnUpdateFound(fn func(*Worker)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.updateFound = append(r.updateFound, fn)
	r.mu.Unlock()
}

// Update 安装新版本脚本；与最新 worker 同 URL 同版本时不做任何事。
// 不要在安装回调中再次调用 Update，安装任务是串行的。
func (r *Registration) Update(ctx context.Context, info ScriptInfo, factory ScriptFactory) error {
	if info.Scope == "" {
		info.Scope = r.scope
	}
	if err := validateScript(info, factory); err != nil {
		return err
	}

	r.jobs.Lock()
	defer r.jobs.Unlock()

	if newest := r.Newest(); newest != nil && !newest.State().Terminal() &&
		newest.info.URL == info.URL && newest.info.Version == info.Version {
		return nil
	}
	return r.install(ctx, info, factory)
}

func (r *Registration) install(ctx context.Context, info ScriptInfo, factory ScriptFactory) error {
	logger := r.host.logger
	w := &Worker{
		id:    uuid.NewString(),
		info:  info,
		reg:   r,
		state: StateInstalling,
	}
	w.script = factory(workerScope{w: w})

	r.mu.Lock()
	r.installing = w
	listeners := append([]func(*Worker){}, r.updateFound...)
	r.mu.Unlock()

	logger.WithFields(logging.WorkerFields("worker_install_start", info.Version, StateInstalling.String())).
		WithField("worker_id", w.id).Info("worker_install_start")
	for _, fn := range listeners {
		fn(w)
	}

	ev := newExtendableEvent(ctx)
	w.script.OnInstall(ev)
	if err := ev.Wait(); err != nil {
		r.mu.Lock()
		if r.installing == w {
			r.installing = nil
		}
		r.mu.Unlock()
		w.setState(StateRedundant)
		logger.WithFields(logging.WorkerFields("worker_install_failed", info.Version, StateRedundant.String())).
			WithError(err).Error("worker_install_failed")
		return fmt.Errorf("install %s: %w", info.Version, err)
	}

	r.mu.Lock()
	if r.installing == w {
		r.installing = nil
	}
	superseded := r.waiting
	r.waiting = w
	r.mu.Unlock()
	if superseded != nil && superseded != w {
		superseded.setState(StateRedundant)
	}

	w.setState(StateInstalled)
	logger.WithFields(logging.WorkerFields("worker_installed", info.Version, StateInstalled.String())).
		Info("worker_installed")

	if w.shouldActivate() {
		r.activate(ctx, w)
	}
	return nil
}

// activate 只能从 installed 进入；重复调用或已被替换的 worker 直接忽略。
func (r *Registration) activate(ctx context.Context, w *Worker) {
	if !w.compareAndSetState(StateInstalled, StateActivating) {
		return
	}

	r.mu.Lock()
	previous := r.active
	if r.waiting == w {
		r.waiting = nil
	}
	r.active = w
	r.mu.Unlock()

	logger := r.host.logger
	if previous != nil && previous != w {
		for _, client := range r.host.controlledBy(previous) {
			client.setController(w)
		}
		previous.setState(StateRedundant)
	}
	w.notify(StateActivating)

	ev := newExtendableEvent(ctx)
	w.script.OnActivate(ev)
	if err := ev.Wait(); err != nil {
		// 激活失败不回滚，worker 仍然进入 activated。
		logger.WithFields(logging.WorkerFields("worker_activate_failed", w.Version(), StateActivating.String())).
			WithError(err).Warn("worker_activate_failed")
	}

	w.setState(StateActivated)
	logger.WithFields(logging.WorkerFields("worker_activated", w.Version(), StateActivated.String())).
		Info("worker_activated")
}

func (r *Registration) claim(w *Worker) error {
	if r.Active() != w || !w.controlling() {
		return ErrNotActive
	}
	for _, client := range r.host.clientsInScope(r.scope) {
		client.setController(w)
	}
	return nil
}

// hasControlledClients 表示 active worker 是否仍控制着页面。
func (r *Registration) hasControlledClients(active *Worker) bool {
	return len(r.host.controlledBy(active)) > 0
}
