package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/brandrag/internal/docstore"
)

// ErrConfigNotFound means no record exists; callers synthesize defaults
var ErrConfigNotFound = errors.New("system config not found")

// SystemConfigRef is where the admin surface writes the record
var SystemConfigRef = docstore.Ref{Collection: "systemConfig", ID: "rag"}

// SystemConfigFile is the hot-reloaded file read by FileStore
const SystemConfigFile = "system_config.yaml"

// Store is the durable source of SystemConfig
type Store interface {
	// Read returns ErrConfigNotFound when no record exists
	Read(ctx context.Context) (SystemConfig, error)
}

// DocStore reads the record from the document store
type DocStore struct {
	docs docstore.Store
	ref  docstore.Ref
}

// NewDocStore reads SystemConfigRef from docs
func NewDocStore(docs docstore.Store) *DocStore {
	return &DocStore{docs: docs, ref: SystemConfigRef}
}

func (s *DocStore) Read(ctx context.Context) (SystemConfig, error) {
	doc, err := s.docs.Get(ctx, s.ref)
	if errors.Is(err, docstore.ErrNotFound) {
		return SystemConfig{}, ErrConfigNotFound
	}
	if err != nil {
		return SystemConfig{}, fmt.Errorf("read %s: %w", s.ref, err)
	}
	return DecodeSystemConfig(doc.Data)
}

// FileStore serves the record last loaded from SystemConfigFile by a ConfigManager
type FileStore struct {
	mu      sync.RWMutex
	record  map[string]interface{}
	present bool
	logger  *zap.Logger
}

// NewFileStore registers with manager so edits to SystemConfigFile reach the store,
// and calls onChange (typically ConfigCache.Invalidate) after each one.
func NewFileStore(manager *ConfigManager, onChange func(), logger *zap.Logger) *FileStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	fs := &FileStore{logger: logger}
	if initial, ok := manager.GetConfig(SystemConfigFile); ok {
		fs.set(initial, true)
	}
	manager.RegisterValidator(SystemConfigFile, func(record map[string]interface{}) error {
		cfg, err := DecodeSystemConfig(record)
		if err != nil {
			return err
		}
		return cfg.Validate()
	})
	manager.RegisterHandler(SystemConfigFile, func(event ChangeEvent) error {
		fs.set(event.Config, event.Action != ActionDelete)
		logger.Info("System config file changed", zap.String("action", event.Action))
		if onChange != nil {
			onChange()
		}
		return nil
	})
	return fs
}

func (s *FileStore) set(record map[string]interface{}, present bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = record
	s.present = present
}

func (s *FileStore) Read(context.Context) (SystemConfig, error) {
	s.mu.RLock()
	record, present := s.record, s.present
	s.mu.RUnlock()
	if !present {
		return SystemConfig{}, ErrConfigNotFound
	}
	return DecodeSystemConfig(record)
}
