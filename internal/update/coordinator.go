// Package update 在页面侧协调 worker 更新：新版本安装完成且页面已受控时请求其跳过等待，
// 收到确认后在控制者切换时重新加载页面一次。
package update

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/meteo-pwa/meteo-hub/internal/lifecycle"
	"github.com/meteo-pwa/meteo-hub/internal/logging"
	"github.com/meteo-pwa/meteo-hub/internal/metrics"
)

// Options 描述协调器的依赖。
type Options struct {
	Client *lifecycle.Client
	Logger *logrus.Logger
	// Reload 在控制者切换后调用，每次更新最多一次。
	Reload func()
}

// Coordinator 持有注册并处理更新握手。
type Coordinator struct {
	client *lifecycle.Client
	logger *logrus.Entry
	reload func()

	mu  sync.Mutex
	reg *lifecycle.Registration
}

func New(opts Options) (*Coordinator, error) {
	if opts.Client == nil {
		return nil, errors.New("page client is required")
	}
	reload := opts.Reload
	if reload == nil {
		reload = func() {}
	}
	return &Coordinator{
		client: opts.Client,
		logger: logging.Component(opts.Logger, "update"),
		reload: reload,
	}, nil
}

// Start 注册 worker 脚本。注册失败只记录告警并返回 nil 注册，应用继续在线运行。
func (c *Coordinator) Start(ctx context.Context, script lifecycle.ScriptInfo, factory lifecycle.ScriptFactory) *lifecycle.Registration {
	reg := c.client.Host().Registration(scopeOf(script))
	if reg != nil {
		c.watch(reg)
	}

	reg, err := c.client.Register(ctx, script, factory)
	if reg != nil {
		c.watch(reg)
	}
	if err != nil {
		c.logger.WithFields(logging.WorkerFields("register_failed", script.Version, "")).
			WithError(err).Warn("register_failed")
		return nil
	}
	c.logger.WithFields(logging.WorkerFields("registered", script.Version, stateOf(reg.Active()))).
		WithField("script", script.URL).Info("registered")
	return reg
}

// Update 以新版本脚本触发更新；尚未成功注册时等同于 Start。
func (c *Coordinator) Update(ctx context.Context, script lifecycle.ScriptInfo, factory lifecycle.ScriptFactory) error {
	c.mu.Lock()
	reg := c.reg
	c.mu.Unlock()
	if reg == nil {
		if c.Start(ctx, script, factory) == nil {
			return errors.New("worker registration failed")
		}
		return nil
	}
	if err := reg.Update(ctx, script, factory); err != nil {
		c.logger.WithFields(logging.WorkerFields("update_failed", script.Version, "")).
			WithError(err).Warn("update_failed")
		return err
	}
	return nil
}

// Registration 返回当前注册，未注册成功时为 nil。
func (c *Coordinator) Registration() *lifecycle.Registration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg
}

// watch 对同一个注册只订阅一次 updatefound。
func (c *Coordinator) watch(reg *lifecycle.Registration) {
	c.mu.Lock()
	if c.reg == reg {
		c.mu.Unlock()
		return
	}
	c.reg = reg
	c.mu.Unlock()

	reg.OnUpdateFound(func(w *lifecycle.Worker) {
		var once sync.Once
		w.OnStateChange(func(state lifecycle.State) {
			if state != lifecycle.StateInstalled || c.client.Controller() == nil {
				return
			}
			once.Do(func() { c.requestSkipWaiting(w) })
		})
	})
}

func (c *Coordinator) requestSkipWaiting(w *lifecycle.Worker) {
	ctx := context.Background()
	log := c.logger.WithFields(logging.WorkerFields("skip_waiting_requested", w.Version(), w.State().String()))

	ch, err := c.client.NewMessageChannel()
	if err == nil {
		var reloadOnce sync.Once
		ch.Port1.OnMessage(func(msg lifecycle.Message) {
			ack, ok := msg.(lifecycle.SkipWaitingAck)
			if !ok || !ack.OK {
				return
			}
			c.client.OnControllerChange(func(*lifecycle.Worker) {
				reloadOnce.Do(func() {
					metrics.PageReloadsTotal.Inc()
					c.logger.WithFields(logging.WorkerFields("page_reload", w.Version(), "")).Info("page_reload")
					c.reload()
				})
			}, true)
		})
		err = w.PostMessage(ctx, lifecycle.SkipWaiting{}, ch.Port2)
		if err == nil {
			log.Info("skip_waiting_requested")
			return
		}
		if !errors.Is(err, lifecycle.ErrTransferUnsupported) {
			log.WithError(err).Warn("skip_waiting_failed")
			return
		}
	}

	// 回复通道不可用：仍然请求激活，但不会自动刷新页面。
	metrics.SkipWaitingDegradedTotal.Inc()
	log.WithError(err).Warn("skip_waiting_degraded")
	if err := w.PostMessage(ctx, lifecycle.SkipWaiting{}, nil); err != nil {
		log.WithError(err).Warn("skip_waiting_failed")
	}
}

func scopeOf(script lifecycle.ScriptInfo) string {
	if script.Scope == "" {
		return "/"
	}
	return script.Scope
}

func stateOf(w *lifecycle.Worker) string {
	if w == nil {
		return ""
	}
	return w.State().String()
}
