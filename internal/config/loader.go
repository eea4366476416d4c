package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyWorkerDefaults(&cfg.Worker)
	applyWeatherDefaults(&cfg.Weather)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Global.StorageBackend != StorageBackendMemory {
		absStorage, err := filepath.Abs(cfg.Global.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Global.StoragePath = absStorage
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StorageBackend", StorageBackendFS)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("UpstreamTimeout", "0s")

	v.SetDefault("Worker.CacheVersion", "meteo-pwa-v1")
	v.SetDefault("Worker.ScriptURL", "/service-worker.js")
	v.SetDefault("Worker.Scope", "/")
	v.SetDefault("Worker.Assets", DefaultAssets())
	v.SetDefault("Worker.APIHosts", []string{"open-meteo.com", "geocoding-api"})
	v.SetDefault("Worker.ShellPath", "/index.html")
	v.SetDefault("Worker.OfflineMessage", "Pas de connexion internet")
	v.SetDefault("Worker.UnavailableMessage", "Contenu non disponible hors-ligne")
	v.SetDefault("Worker.SkipWaitingOnInstall", true)
	v.SetDefault("Worker.ReplyChannels", true)

	v.SetDefault("Weather.GeocodingAPI", "https://geocoding-api.open-meteo.com/v1/search")
	v.SetDefault("Weather.ForecastAPI", "https://api.open-meteo.com/v1/forecast")
	v.SetDefault("Weather.Language", "fr")
	v.SetDefault("Weather.RainCodes", DefaultRainCodes())
	v.SetDefault("Weather.TempThreshold", 10)
	v.SetDefault("Weather.AlertHorizon", 4)
	v.SetDefault("Weather.NotificationPermission", "default")
	v.SetDefault("Weather.AutoGrant", false)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	g.StorageBackend = strings.ToLower(strings.TrimSpace(g.StorageBackend))
	if g.StorageBackend == "" {
		g.StorageBackend = StorageBackendFS
	}
	g.Domain = strings.ToLower(strings.TrimSpace(g.Domain))
}

func applyWorkerDefaults(w *WorkerConfig) {
	w.CacheVersion = strings.TrimSpace(w.CacheVersion)
	if w.ScriptURL == "" {
		w.ScriptURL = "/service-worker.js"
	}
	if w.Scope == "" {
		w.Scope = "/"
	}
	if w.ShellPath == "" {
		w.ShellPath = "/index.html"
	}
	hosts := w.APIHosts[:0]
	for _, host := range w.APIHosts {
		if trimmed := strings.ToLower(strings.TrimSpace(host)); trimmed != "" {
			hosts = append(hosts, trimmed)
		}
	}
	w.APIHosts = hosts
}

func applyWeatherDefaults(w *WeatherConfig) {
	if w.AlertHorizon <= 0 {
		w.AlertHorizon = 4
	}
	if len(w.RainCodes) == 0 {
		w.RainCodes = DefaultRainCodes()
	}
	w.NotificationPermission = strings.ToLower(strings.TrimSpace(w.NotificationPermission))
	if w.NotificationPermission == "" {
		w.NotificationPermission = "default"
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
