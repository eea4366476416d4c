package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 存储后端名称。
const (
	StorageBackendFS     = "fs"
	StorageBackendMemory = "memory"
	StorageBackendSQLite = "sqlite"
)

// GlobalConfig 描述进程级行为：监听端口、日志、缓存存储与上游连接。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StorageBackend  string   `mapstructure:"StorageBackend"`
	StoragePath     string   `mapstructure:"StoragePath"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	// Domain 是应用对外的 Host，命中后请求转发到 Origin。
	Domain string `mapstructure:"Domain"`
	// Origin 是静态资源的部署地址，资产清单中的路径都相对它解析。
	Origin string `mapstructure:"Origin"`
}

// WorkerConfig 对应缓存 worker 的脚本版本与离线策略。
type WorkerConfig struct {
	// CacheVersion 同时是缓存桶名称；每次资产清单变化都需要手动递增。
	CacheVersion         string   `mapstructure:"CacheVersion"`
	ScriptURL            string   `mapstructure:"ScriptURL"`
	Scope                string   `mapstructure:"Scope"`
	Assets               []string `mapstructure:"Assets"`
	APIHosts             []string `mapstructure:"APIHosts"`
	ShellPath            string   `mapstructure:"ShellPath"`
	OfflineMessage       string   `mapstructure:"OfflineMessage"`
	UnavailableMessage   string   `mapstructure:"UnavailableMessage"`
	SkipWaitingOnInstall bool     `mapstructure:"SkipWaitingOnInstall"`
	ReplyChannels        bool     `mapstructure:"ReplyChannels"`
}

// WeatherConfig 描述地理编码/预报接口以及告警规则。
type WeatherConfig struct {
	GeocodingAPI           string  `mapstructure:"GeocodingAPI"`
	ForecastAPI            string  `mapstructure:"ForecastAPI"`
	Language               string  `mapstructure:"Language"`
	RainCodes              []int   `mapstructure:"RainCodes"`
	TempThreshold          float64 `mapstructure:"TempThreshold"`
	AlertHorizon           int     `mapstructure:"AlertHorizon"`
	NotificationPermission string  `mapstructure:"NotificationPermission"`
	// AutoGrant 决定权限处于 default 时，请求权限的结果。
	AutoGrant bool `mapstructure:"AutoGrant"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig  `mapstructure:",squash"`
	Worker  WorkerConfig  `mapstructure:"Worker"`
	Weather WeatherConfig `mapstructure:"Weather"`
}

// OriginURL 返回解析后的 Origin，假定 Validate 已经通过。
func (c *Config) OriginURL() *url.URL {
	parsed, err := url.Parse(c.Global.Origin)
	if err != nil {
		return &url.URL{}
	}
	return parsed
}

// DefaultAssets 是原始部署的资产清单：应用壳、回退图标与各尺寸图标。
func DefaultAssets() []string {
	return []string{
		"/",
		"/index.html",
		"/vite.svg",
		"/src/assets/icon-72.png",
		"/src/assets/icon-96.png",
		"/src/assets/icon-128.png",
		"/src/assets/icon-144.png",
		"/src/assets/icon-152.png",
		"/src/assets/icon-192.png",
		"/src/assets/icon-384.png",
		"/src/assets/icon-512.png",
	}
}

// DefaultRainCodes 列出视为降水的 WMO 天气代码。
func DefaultRainCodes() []int {
	return []int{51, 53, 55, 56, 57, 61, 63, 65, 66, 67, 71, 73, 75, 77, 80, 81, 82, 85, 86, 95, 96, 99}
}
