package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/meteo-pwa/meteo-hub/internal/cache"
	"github.com/meteo-pwa/meteo-hub/internal/config"
	"github.com/meteo-pwa/meteo-hub/internal/lifecycle"
	"github.com/meteo-pwa/meteo-hub/internal/logging"
	"github.com/meteo-pwa/meteo-hub/internal/notify"
	"github.com/meteo-pwa/meteo-hub/internal/server"
	"github.com/meteo-pwa/meteo-hub/internal/update"
	"github.com/meteo-pwa/meteo-hub/internal/weather"
	"github.com/meteo-pwa/meteo-hub/internal/worker"
)

// hubRuntime 持有进程内的缓存存储、worker 宿主、页面客户端与天气服务。
type hubRuntime struct {
	logger      *logrus.Logger
	store       cache.Storage
	network     lifecycle.Fetcher
	host        *lifecycle.Host
	page        *lifecycle.Client
	coordinator *update.Coordinator
	weather     *weather.Service

	mu            sync.Mutex
	version       string
	currentConfig *config.Config
}

func newRuntime(cfg *config.Config, logger *logrus.Logger) (*hubRuntime, error) {
	store, err := cache.NewStorage(cfg.Global)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存存储: %w", err)
	}

	network := server.NewUpstreamClient(cfg)
	host := lifecycle.NewHost(lifecycle.HostOptions{
		Logger:          logger,
		Network:         network,
		NoReplyChannels: !cfg.Worker.ReplyChannels,
	})
	page := host.NewClient(cfg.Worker.Scope)

	rt := &hubRuntime{
		logger:        logger,
		store:         store,
		network:       network,
		host:          host,
		page:          page,
		version:       cfg.Worker.CacheVersion,
		currentConfig: cfg,
	}

	coordinator, err := update.New(update.Options{
		Client: page,
		Logger: logger,
		Reload: rt.reload,
	})
	if err != nil {
		return nil, err
	}
	rt.coordinator = coordinator

	permission, err := notify.ParsePermission(cfg.Weather.NotificationPermission)
	if err != nil {
		return nil, err
	}
	center := notify.NewCenter(permission, notify.StaticRequester(cfg.Weather.AutoGrant), notify.NewLogSink(logger))
	// 天气请求经由页面客户端发出，受 worker 的 API 策略约束。
	client := weather.NewClient(cfg.Weather, page)
	rt.weather = weather.NewService(client, weather.RulesFromConfig(cfg.Weather), center, logger)
	return rt, nil
}

// start 注册当前配置的 worker 版本；失败只记录告警，页面继续直连网络。
func (rt *hubRuntime) start(ctx context.Context) {
	rt.mu.Lock()
	cfg := rt.currentConfig
	rt.mu.Unlock()
	rt.coordinator.Start(ctx, worker.ScriptFromConfig(cfg), rt.factory(cfg))
}

// applyConfig 在 CacheVersion 变化时触发一次更新。
func (rt *hubRuntime) applyConfig(ctx context.Context, cfg *config.Config) {
	rt.mu.Lock()
	changed := cfg.Worker.CacheVersion != rt.version
	if changed {
		rt.version = cfg.Worker.CacheVersion
		rt.currentConfig = cfg
	}
	rt.mu.Unlock()
	if !changed {
		return
	}

	rt.logger.WithFields(logging.WorkerFields("config_reload", cfg.Worker.CacheVersion, "")).Info("cache_version_changed")
	if err := rt.coordinator.Update(ctx, worker.ScriptFromConfig(cfg), rt.factory(cfg)); err != nil {
		rt.logger.WithError(err).Warn("worker_update_failed")
	}
}

func (rt *hubRuntime) watchConfig(path string) error {
	return config.Watch(path, func(cfg *config.Config) {
		rt.applyConfig(context.Background(), cfg)
	}, func(err error) {
		rt.logger.WithError(err).WithFields(logging.BaseFields("watch_config", path)).Warn("config_reload_failed")
	})
}

func (rt *hubRuntime) factory(cfg *config.Config) lifecycle.ScriptFactory {
	return worker.Factory(worker.SettingsFromConfig(cfg), rt.store, rt.network, rt.logger)
}

// reload 对应页面刷新：此后页面请求都由新的控制者处理。
func (rt *hubRuntime) reload() {
	fields := logrus.Fields{"action": "page_reload", "client": rt.page.ID()}
	if controller := rt.page.Controller(); controller != nil {
		fields["version"] = controller.Version()
	}
	rt.logger.WithFields(fields).Info("page_reloaded")
}

// Close 关闭页面与存储后端。
func (rt *hubRuntime) Close() error {
	rt.page.Close()
	if closer, ok := rt.store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
