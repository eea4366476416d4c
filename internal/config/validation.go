package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedBackends = map[string]struct{}{
	StorageBackendFS:     {},
	StorageBackendMemory: {},
	StorageBackendSQLite: {},
}

const supportedBackendList = "fs|memory|sqlite"

var supportedPermissions = map[string]struct{}{
	"granted": {},
	"denied":  {},
	"default": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, ok := supportedBackends[g.StorageBackend]; !ok {
		return newFieldError("Global.StorageBackend", "仅支持 "+supportedBackendList)
	}
	if g.StorageBackend != StorageBackendMemory && g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() < 0 {
		return newFieldError("Global.UpstreamTimeout", "不能为负数")
	}
	if err := validateDomain(g.Domain); err != nil {
		return fmt.Errorf("Global.Domain: %w", err)
	}
	if err := validateUpstream(g.Origin); err != nil {
		return fmt.Errorf("Global.Origin: %w", err)
	}

	if err := c.Worker.validate(); err != nil {
		return err
	}
	return c.Weather.validate()
}

func (w WorkerConfig) validate() error {
	if w.CacheVersion == "" {
		return newFieldError(workerField("CacheVersion"), "不能为空")
	}
	if strings.ContainsAny(w.CacheVersion, `/\ `) {
		return newFieldError(workerField("CacheVersion"), "不允许包含路径分隔符或空格")
	}
	if !strings.HasPrefix(w.ScriptURL, "/") {
		return newFieldError(workerField("ScriptURL"), "必须以 / 开头")
	}
	if !strings.HasPrefix(w.Scope, "/") {
		return newFieldError(workerField("Scope"), "必须以 / 开头")
	}
	if len(w.Assets) == 0 {
		return newFieldError(workerField("Assets"), "至少需要一个资源")
	}
	seen := make(map[string]struct{}, len(w.Assets))
	for _, asset := range w.Assets {
		if !strings.HasPrefix(asset, "/") {
			return newFieldError(workerField("Assets"), fmt.Sprintf("资源路径必须以 / 开头: %s", asset))
		}
		if _, dup := seen[asset]; dup {
			return newFieldError(workerField("Assets"), fmt.Sprintf("重复资源: %s", asset))
		}
		seen[asset] = struct{}{}
	}
	if len(w.APIHosts) == 0 {
		return newFieldError(workerField("APIHosts"), "至少需要一个 API 主机匹配")
	}
	if !strings.HasPrefix(w.ShellPath, "/") {
		return newFieldError(workerField("ShellPath"), "必须以 / 开头")
	}
	if strings.TrimSpace(w.OfflineMessage) == "" {
		return newFieldError(workerField("OfflineMessage"), "不能为空")
	}
	if strings.TrimSpace(w.UnavailableMessage) == "" {
		return newFieldError(workerField("UnavailableMessage"), "不能为空")
	}
	return nil
}

func (w WeatherConfig) validate() error {
	if err := validateUpstream(w.GeocodingAPI); err != nil {
		return fmt.Errorf("%s: %w", weatherField("GeocodingAPI"), err)
	}
	if err := validateUpstream(w.ForecastAPI); err != nil {
		return fmt.Errorf("%s: %w", weatherField("ForecastAPI"), err)
	}
	if w.AlertHorizon <= 0 {
		return newFieldError(weatherField("AlertHorizon"), "必须大于 0")
	}
	if _, ok := supportedPermissions[w.NotificationPermission]; !ok {
		return newFieldError(weatherField("NotificationPermission"), "仅支持 granted/denied/default")
	}
	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
