package factory

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/mikey/sms-spam-filter/internal/adapters/storage/memory"
	"github.com/mikey/sms-spam-filter/internal/adapters/storage/sqlite"
	"github.com/mikey/sms-spam-filter/internal/config"
	"github.com/mikey/sms-spam-filter/internal/core"
)

// Storage bundles the repositories of one backing store
type Storage struct {
	Messages   core.MessageRepository
	Reputation core.ReputationRepository
	Audit      core.AuditRepository
	close      func() error
}

// Close releases the backing store
func (s *Storage) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// StorageFactory creates message stores based on configuration
type StorageFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewStorageFactory creates a new storage factory
func NewStorageFactory(cfg *config.Config, logger *zap.Logger) *StorageFactory {
	return &StorageFactory{
		cfg:    cfg,
		logger: logger,
	}
}

// CreateStorage creates the store selected by storage.type
func (f *StorageFactory) CreateStorage() (*Storage, error) {
	storageCfg, err := f.cfg.GetStorage()
	if err != nil {
		return nil, fmt.Errorf("invalid storage configuration: %w", err)
	}
	auditCfg, err := f.cfg.GetAudit()
	if err != nil {
		return nil, fmt.Errorf("invalid audit configuration: %w", err)
	}

	switch storageCfg.Type {
	case "memory":
		store := memory.NewStore(f.logger)
		return &Storage{
			Messages:   store.Messages(),
			Reputation: store.Reputation(),
			Audit:      store.Audit(),
			close:      store.Close,
		}, nil
	case "sqlite":
		if storageCfg.Path != ":memory:" {
			// Ensure directory exists
			if err := os.MkdirAll(filepath.Dir(storageCfg.Path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
			}
		}
		store, err := sqlite.NewStore(sqlite.Options{
			Driver:           storageCfg.Driver,
			Path:             storageCfg.Path,
			AuditRetention:   auditCfg.Retention,
			CleanupFrequency: storageCfg.CleanupFrequency,
		}, f.logger)
		if err != nil {
			return nil, err
		}
		return &Storage{
			Messages:   store.Messages(),
			Reputation: store.Reputation(),
			Audit:      store.Audit(),
			close:      store.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageCfg.Type)
	}
}
