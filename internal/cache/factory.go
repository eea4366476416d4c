package cache

import (
	"fmt"

	"github.com/meteo-pwa/meteo-hub/internal/config"
)

// NewStorage 按 StorageBackend 选择存储实现。
func NewStorage(cfg config.GlobalConfig) (Storage, error) {
	switch cfg.StorageBackend {
	case config.StorageBackendMemory:
		return NewMemoryStorage(), nil
	case config.StorageBackendSQLite:
		return NewSQLiteStorage(cfg.StoragePath)
	case config.StorageBackendFS, "":
		return NewStore(cfg.StoragePath)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}
}
