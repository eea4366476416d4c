package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/meteo-pwa/meteo-hub/internal/cache"
	"github.com/meteo-pwa/meteo-hub/internal/lifecycle"
	"github.com/meteo-pwa/meteo-hub/internal/logging"
	"github.com/meteo-pwa/meteo-hub/internal/metrics"
)

// Manager 是缓存 worker 脚本，每个 worker 实例对应一个 Manager。
type Manager struct {
	settings   Settings
	scope      lifecycle.Scope
	store      cache.Storage
	network    lifecycle.Fetcher
	classifier Classifier
	logger     *logrus.Entry
}

// NewManager 构建 Manager；scope 由宿主在创建 worker 时提供。
func NewManager(scope lifecycle.Scope, settings Settings, store cache.Storage, network lifecycle.Fetcher, logger *logrus.Logger) *Manager {
	if network == nil {
		network = http.DefaultClient
	}
	return &Manager{
		settings:   settings,
		scope:      scope,
		store:      store,
		network:    network,
		classifier: NewClassifier(settings.APIHosts),
		logger:     logging.Component(logger, "worker").WithField("version", settings.Version),
	}
}

// Factory 返回供 lifecycle 注册使用的脚本工厂。
func Factory(settings Settings, store cache.Storage, network lifecycle.Fetcher, logger *logrus.Logger) lifecycle.ScriptFactory {
	return func(scope lifecycle.Scope) lifecycle.Script {
		return NewManager(scope, settings, store, network, logger)
	}
}

func (m *Manager) Settings() Settings {
	return m.settings
}

func (m *Manager) OnInstall(ev *lifecycle.ExtendableEvent) {
	ev.WaitUntil(m.Install)
}

func (m *Manager) OnActivate(ev *lifecycle.ExtendableEvent) {
	ev.WaitUntil(m.Activate)
}

// Install 并发拉取整个清单，全部成功后才写入缓存桶。
func (m *Manager) Install(ctx context.Context) error {
	entries, err := m.fetchManifest(ctx)
	if err != nil {
		metrics.WorkerInstallTotal.WithLabelValues("failed").Inc()
		m.logger.WithFields(logging.WorkerFields("precache_failed", m.settings.Version, "installing")).
			WithError(err).Warn("precache_failed")
		return err
	}

	if err := m.storeEntries(ctx, entries); err != nil {
		metrics.WorkerInstallTotal.WithLabelValues("failed").Inc()
		m.logger.WithFields(logging.WorkerFields("precache_store_failed", m.settings.Version, "installing")).
			WithError(err).Warn("precache_store_failed")
		return err
	}

	metrics.WorkerInstallTotal.WithLabelValues("ok").Inc()
	m.logger.WithFields(logging.WorkerFields("precache_done", m.settings.Version, "installing")).
		WithField("entries", len(entries)).Info("precache_done")

	if m.settings.SkipWaitingOnInstall && m.scope != nil {
		return m.scope.SkipWaiting(ctx)
	}
	return nil
}

func (m *Manager) fetchManifest(ctx context.Context) ([]cache.Entry, error) {
	entries := make([]cache.Entry, len(m.settings.Manifest))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, path := range m.settings.Manifest {
		i, path := i, path
		group.Go(func() error {
			target, err := m.settings.Resolve(path)
			if err != nil {
				return &InstallError{URL: path, Err: err}
			}
			entry, err := m.precache(groupCtx, target.String())
			if err != nil {
				return err
			}
			entries[i] = entry
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (m *Manager) precache(ctx context.Context, target string) (cache.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return cache.Entry{}, &InstallError{URL: target, Err: err}
	}
	resp, err := m.network.Do(req)
	if err != nil {
		return cache.Entry{}, &InstallError{URL: target, Err: err}
	}
	if !isOK(resp.StatusCode) {
		resp.Body.Close()
		return cache.Entry{}, &InstallError{URL: target, Status: resp.StatusCode}
	}
	entry, err := cache.EntryFromResponse(cache.Key(req.URL), resp)
	if err != nil {
		return cache.Entry{}, &InstallError{URL: target, Status: resp.StatusCode, Err: err}
	}
	return entry, nil
}

// storeEntries 写入失败时删除本次安装新建的桶，避免留下半个清单。
func (m *Manager) storeEntries(ctx context.Context, entries []cache.Entry) error {
	existed, err := m.store.Has(ctx, m.settings.Version)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	bucket, err := m.store.Open(ctx, m.settings.Version)
	if err != nil {
		return fmt.Errorf("open bucket: %w", err)
	}
	for _, entry := range entries {
		if err := bucket.Put(ctx, entry); err != nil {
			if !existed {
				if _, delErr := m.store.Delete(context.WithoutCancel(ctx), m.settings.Version); delErr != nil {
					m.logger.WithError(delErr).Warn("precache_cleanup_failed")
				}
			}
			return fmt.Errorf("store %s: %w", entry.URL, err)
		}
	}
	return nil
}

// Activate 删除所有非当前版本的缓存桶，然后接管作用域内的页面。
func (m *Manager) Activate(ctx context.Context) error {
	names, err := m.store.Names(ctx)
	if err != nil {
		return fmt.Errorf("list buckets: %w", err)
	}
	for _, name := range names {
		if name == m.settings.Version {
			continue
		}
		deleted, err := m.store.Delete(ctx, name)
		if err != nil {
			return fmt.Errorf("delete bucket %s: %w", name, err)
		}
		if deleted {
			metrics.CacheBucketsPurgedTotal.Inc()
			m.logger.WithField("bucket", name).Info("cache_bucket_purged")
		}
	}
	metrics.WorkerActivateTotal.Inc()

	if m.scope == nil {
		return nil
	}
	return m.scope.Claim(ctx)
}

// OnFetch 只处理 http(s) 的 GET 请求，其余请求不调用 RespondWith，由宿主直连网络。
func (m *Manager) OnFetch(ev *lifecycle.FetchEvent) {
	req := ev.Request
	if req == nil || req.Method != http.MethodGet {
		return
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return
	}

	switch m.classifier.Classify(req.URL) {
	case ClassAPI:
		_ = ev.RespondWith(func(ctx context.Context) (*http.Response, error) {
			return m.networkOnly(ctx, req), nil
		})
	default:
		_ = ev.RespondWith(func(ctx context.Context) (*http.Response, error) {
			return m.cacheFirst(ctx, req), nil
		})
	}
}

func (m *Manager) networkOnly(ctx context.Context, req *http.Request) *http.Response {
	resp, err := m.network.Do(req.WithContext(ctx))
	if err != nil {
		m.record(ClassAPI, SourceOffline, req, http.StatusServiceUnavailable, err)
		return offlineJSON(req, m.settings.OfflineMessage)
	}
	m.record(ClassAPI, SourceNetwork, req, resp.StatusCode, nil)
	return markSource(resp, SourceNetwork)
}

func (m *Manager) cacheFirst(ctx context.Context, req *http.Request) *http.Response {
	key := cache.Key(req.URL)
	bucket, err := m.store.Open(ctx, m.settings.Version)
	if err != nil {
		m.logger.WithError(err).Warn("cache_open_failed")
		bucket = nil
	}

	if bucket != nil {
		entry, err := bucket.Match(ctx, key)
		if err == nil {
			m.record(ClassStatic, SourceCache, req, entry.Status, nil)
			return markSource(entry.Response(req), SourceCache)
		}
		if !errors.Is(err, cache.ErrNotFound) {
			m.logger.WithError(err).WithField("url", key).Warn("cache_match_failed")
		}
	}

	resp, err := m.network.Do(req.WithContext(ctx))
	if err != nil {
		return m.offlineStatic(ctx, req, bucket, err)
	}
	if storable(req, resp) && bucket != nil {
		entry, readErr := cache.EntryFromResponse(key, resp)
		if readErr != nil {
			return m.offlineStatic(ctx, req, bucket, readErr)
		}
		if err := bucket.Put(ctx, entry); err != nil {
			m.logger.WithError(err).WithField("url", key).Warn("cache_put_failed")
		}
	}
	m.record(ClassStatic, SourceNetwork, req, resp.StatusCode, nil)
	return markSource(resp, SourceNetwork)
}

// offlineStatic 对页面导航回退到应用壳，其余请求返回 503 文本。
func (m *Manager) offlineStatic(ctx context.Context, req *http.Request, bucket cache.Bucket, cause error) *http.Response {
	if bucket != nil && strings.Contains(req.Header.Get("Accept"), "text/html") {
		if shell, err := m.settings.Resolve(m.settings.ShellPath); err == nil {
			if entry, err := bucket.Match(ctx, cache.Key(shell)); err == nil {
				m.record(ClassStatic, SourceShell, req, entry.Status, cause)
				return markSource(entry.Response(req), SourceShell)
			}
		}
	}
	m.record(ClassStatic, SourceOffline, req, http.StatusServiceUnavailable, cause)
	return unavailableText(req, m.settings.UnavailableMessage)
}

// OnMessage 只识别 SkipWaiting：先通过回复端口确认，再请求激活。
func (m *Manager) OnMessage(ev *lifecycle.MessageEvent) {
	switch ev.Data.(type) {
	case lifecycle.SkipWaiting:
		if ev.HasReplyPort() {
			if err := ev.Reply(lifecycle.SkipWaitingAck{OK: true}); err != nil {
				m.logger.WithError(err).Warn("skip_waiting_ack_failed")
			}
		}
		m.logger.WithFields(logging.WorkerFields("skip_waiting", m.settings.Version, "")).Info("skip_waiting")
		if m.scope != nil {
			ev.WaitUntil(m.scope.SkipWaiting)
		}
	default:
		m.logger.WithField("message", lifecycle.MessageName(ev.Data)).Debug("worker_message_ignored")
	}
}

func (m *Manager) record(class Class, source string, req *http.Request, status int, err error) {
	metrics.WorkerFetchTotal.WithLabelValues(string(class), source).Inc()
	entry := m.logger.WithFields(logging.RequestFields(string(class), source, req.URL.String(), status))
	if err != nil {
		entry.WithError(err).Warn("worker_fetch_degraded")
		return
	}
	entry.Debug("worker_fetch")
}
