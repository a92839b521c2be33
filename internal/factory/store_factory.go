package factory

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mikey/llm-email-triage/internal/adapters/store"
	"github.com/mikey/llm-email-triage/internal/config"
	"github.com/mikey/llm-email-triage/internal/core"
	"go.uber.org/zap"
)

// TrustStores bundles the profile repository and correction log, which
// share a backend.
type TrustStores struct {
	Profiles    core.ProfileRepository
	Corrections core.CorrectionLog
}

// StoreFactory creates trust stores based on configuration
type StoreFactory struct {
	cfg    *config.Config
	logger *zap.Logger
}

// NewStoreFactory creates a new store factory
func NewStoreFactory(cfg *config.Config, logger *zap.Logger) *StoreFactory {
	return &StoreFactory{cfg: cfg, logger: logger}
}

// CreateTrustStores creates the profile repository and correction log
func (f *StoreFactory) CreateTrustStores() (*TrustStores, error) {
	storeType := f.cfg.GetString("store.type")

	switch storeType {
	case "memory":
		s := store.NewMemoryStore()
		return &TrustStores{Profiles: s, Corrections: s}, nil
	case "sqlite":
		sqlitePath := f.cfg.GetString("store.sqlite_path")
		if err := os.MkdirAll(filepath.Dir(sqlitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create SQLite directory: %w", err)
		}
		s, err := store.NewSQLiteStore(sqlitePath, f.logger)
		if err != nil {
			return nil, err
		}
		return &TrustStores{Profiles: s, Corrections: s}, nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", storeType)
	}
}
