package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/meteo-pwa/meteo-hub/internal/config"
	"github.com/meteo-pwa/meteo-hub/internal/logging"
)

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" && r.URL.Path != "/index.html" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<html>meteo</html>")
	})
	mux.HandleFunc("/v1/search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{{
			"name": "Paris", "admin1": "Île-de-France", "country": "France",
			"latitude": 48.85341, "longitude": 2.3488,
		}}})
	})
	mux.HandleFunc("/v1/forecast", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"timezone": "UTC",
			"utc_offset_seconds": 0,
			"current_weather": {"time": "2024-05-01T14:00", "temperature": 18.4, "windspeed": 11.2, "weathercode": 2},
			"hourly": {"time": ["2024-05-01T14:00"], "temperature_2m": [18.4], "weather_code": [2]}
		}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func loadRuntimeConfig(t *testing.T, srv *httptest.Server, version string) *config.Config {
	t.Helper()
	apiBase := strings.Replace(srv.URL, "127.0.0.1", "localhost", 1)
	path := writeConfigFile(t, fmt.Sprintf(`
StorageBackend = "memory"
Domain = "meteo.local"
Origin = "%s"

[Worker]
CacheVersion = "%s"
Assets = ["/", "/index.html"]
APIHosts = ["localhost"]

[Weather]
GeocodingAPI = "%s/v1/search"
ForecastAPI = "%s/v1/forecast"
NotificationPermission = "denied"
`, srv.URL, version, apiBase, apiBase))
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	return cfg
}

func TestRuntimeInstallsAndUpdatesWorker(t *testing.T) {
	srv := newUpstream(t)
	cfg := loadRuntimeConfig(t, srv, "meteo-pwa-v1")

	rt, err := newRuntime(cfg, logging.Discard())
	if err != nil {
		t.Fatalf("初始化运行时失败: %v", err)
	}
	defer rt.Close()
	ctx := context.Background()
	rt.start(ctx)

	if controller := rt.page.Controller(); controller == nil || controller.Version() != "meteo-pwa-v1" {
		t.Fatalf("页面应由 v1 控制")
	}

	rt.applyConfig(ctx, loadRuntimeConfig(t, srv, "meteo-pwa-v2"))
	if controller := rt.page.Controller(); controller == nil || controller.Version() != "meteo-pwa-v2" {
		t.Fatalf("版本变化后页面应由 v2 控制")
	}
	names, err := rt.store.Names(ctx)
	if err != nil {
		t.Fatalf("列出缓存桶失败: %v", err)
	}
	if len(names) != 1 || names[0] != "meteo-pwa-v2" {
		t.Fatalf("激活后只应保留 v2 缓存桶，得到 %v", names)
	}

	before := rt.page.Controller()
	rt.applyConfig(ctx, loadRuntimeConfig(t, srv, "meteo-pwa-v2"))
	if rt.page.Controller() != before {
		t.Fatalf("版本未变化时不应重新安装")
	}
}

func TestRuntimeLookupGoesThroughWorker(t *testing.T) {
	srv := newUpstream(t)
	rt, err := newRuntime(loadRuntimeConfig(t, srv, "meteo-pwa-v1"), logging.Discard())
	if err != nil {
		t.Fatalf("初始化运行时失败: %v", err)
	}
	defer rt.Close()
	rt.start(context.Background())

	result, err := rt.weather.Lookup(context.Background(), "Paris")
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if result.City != "Paris, Île-de-France, France" || result.Current != 18 {
		t.Fatalf("查询结果异常: %+v", result)
	}
}

func TestRunLookupPrintsJSON(t *testing.T) {
	srv := newUpstream(t)
	rt, err := newRuntime(loadRuntimeConfig(t, srv, "meteo-pwa-v1"), logging.Discard())
	if err != nil {
		t.Fatalf("初始化运行时失败: %v", err)
	}
	defer rt.Close()
	rt.start(context.Background())

	useBufferWriters(t)
	if code := runLookup(context.Background(), rt, "Paris"); code != 0 {
		t.Fatalf("期望退出码 0，得到 %d: %s", code, stdErrBuffer().String())
	}
	if !strings.Contains(stdOutBuffer().String(), `"city": "Paris, Île-de-France, France"`) {
		t.Fatalf("输出应包含城市名: %s", stdOutBuffer().String())
	}
}
