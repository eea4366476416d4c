package worker

import (
	"net/url"

	"github.com/meteo-pwa/meteo-hub/internal/config"
	"github.com/meteo-pwa/meteo-hub/internal/lifecycle"
)

// Settings 是一个 worker 生命周期内不变的配置。
type Settings struct {
	// Version 同时是缓存桶名称。
	Version string
	// Origin 是资产清单与应用壳的解析基准。
	Origin             *url.URL
	Manifest           []string
	APIHosts           []string
	ShellPath          string
	OfflineMessage     string
	UnavailableMessage string
	// SkipWaitingOnInstall 为 true 时安装完成立即请求激活。
	SkipWaitingOnInstall bool
}

// SettingsFromConfig 从已校验的配置生成 Settings。
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Version:              cfg.Worker.CacheVersion,
		Origin:               cfg.OriginURL(),
		Manifest:             append([]string(nil), cfg.Worker.Assets...),
		APIHosts:             append([]string(nil), cfg.Worker.APIHosts...),
		ShellPath:            cfg.Worker.ShellPath,
		OfflineMessage:       cfg.Worker.OfflineMessage,
		UnavailableMessage:   cfg.Worker.UnavailableMessage,
		SkipWaitingOnInstall: cfg.Worker.SkipWaitingOnInstall,
	}
}

// ScriptFromConfig 返回注册用的脚本标识。
func ScriptFromConfig(cfg *config.Config) lifecycle.ScriptInfo {
	return lifecycle.ScriptInfo{
		URL:     cfg.Worker.ScriptURL,
		Version: cfg.Worker.CacheVersion,
		Scope:   cfg.Worker.Scope,
	}
}

// Resolve 将清单中的路径解析为绝对 URL。
func (s Settings) Resolve(path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, err
	}
	if s.Origin == nil {
		return ref, nil
	}
	return s.Origin.ResolveReference(ref), nil
}
