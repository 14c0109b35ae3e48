package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Change actions reported in ChangeEvent.Action
const (
	ActionInitialLoad = "initial_load"
	ActionCreate      = "create"
	ActionModify      = "modify"
	ActionDelete      = "delete"
	ActionSet         = "programmatic_set"
)

// ChangeEvent describes one applied change to a watched file
type ChangeEvent struct {
	File      string                 `json:"file"`
	Action    string                 `json:"action"`
	Config    map[string]interface{} `json:"config"`
	Timestamp time.Time              `json:"timestamp"`
}

// ChangeHandler is called when configuration changes
type ChangeHandler func(event ChangeEvent) error

// chmod-only events never change content
const relevantOps = fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename

type fileHooks struct {
	validate func(map[string]interface{}) error
	handlers []ChangeHandler
}

// ConfigManager watches a directory of JSON/YAML files and hot-reloads them.
// Bursts of filesystem events are coalesced and each touched file is re-read
// once the directory has been quiet for the debounce window.
type ConfigManager struct {
	dir      string
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu      sync.RWMutex
	files   map[string]map[string]interface{}
	hooks   map[string]*fileHooks
	running bool

	// serializes apply so handlers observe changes in order
	applyMu sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup
}

// NewConfigManager creates the directory if needed and opens a watcher on it
func NewConfigManager(dir string, logger *zap.Logger) (*ConfigManager, error) {
	if dir == "" {
		return nil, errors.New("config directory cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	return &ConfigManager{
		dir:      dir,
		logger:   logger,
		watcher:  watcher,
		debounce: 100 * time.Millisecond,
		files:    make(map[string]map[string]interface{}),
		hooks:    make(map[string]*fileHooks),
		done:     make(chan struct{}),
	}, nil
}

// Start loads every config file in the directory and begins watching.
// Watching ends when ctx is done or Stop is called.
func (cm *ConfigManager) Start(ctx context.Context) error {
	cm.mu.Lock()
	if cm.running {
		cm.mu.Unlock()
		return nil
	}
	cm.mu.Unlock()

	if err := cm.watcher.Add(cm.dir); err != nil {
		return fmt.Errorf("watch %s: %w", cm.dir, err)
	}
	entries, err := os.ReadDir(cm.dir)
	if err != nil {
		return fmt.Errorf("list %s: %w", cm.dir, err)
	}
	loaded := 0
	for _, e := range entries {
		if e.IsDir() || !isConfigFile(e.Name()) {
			continue
		}
		if err := cm.load(filepath.Join(cm.dir, e.Name()), ActionInitialLoad); err != nil {
			return fmt.Errorf("initial load: %w", err)
		}
		loaded++
	}

	cm.mu.Lock()
	cm.running = true
	cm.mu.Unlock()

	cm.wg.Add(1)
	go cm.watch(ctx)

	cm.logger.Info("Configuration manager started",
		zap.String("config_dir", cm.dir),
		zap.Int("loaded_configs", loaded),
	)
	return nil
}

// Stop closes the watcher and waits for the watch loop to exit
func (cm *ConfigManager) Stop() error {
	cm.mu.Lock()
	if !cm.running {
		cm.mu.Unlock()
		return nil
	}
	cm.running = false
	close(cm.done)
	cm.mu.Unlock()

	err := cm.watcher.Close()
	cm.wg.Wait()
	cm.logger.Info("Configuration manager stopped")
	return err
}

// RegisterHandler adds a handler for filename. Handlers run synchronously after
// the new content has been validated and stored.
func (cm *ConfigManager) RegisterHandler(filename string, handler ChangeHandler) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	h := cm.hooksFor(filename)
	h.handlers = append(h.handlers, handler)
}

// RegisterValidator sets the validator for filename; content it rejects is not applied
func (cm *ConfigManager) RegisterValidator(filename string, validator func(map[string]interface{}) error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.hooksFor(filename).validate = validator
}

func (cm *ConfigManager) hooksFor(filename string) *fileHooks {
	h, ok := cm.hooks[filename]
	if !ok {
		h = &fileHooks{}
		cm.hooks[filename] = h
	}
	return h
}

// GetConfig returns a copy of the last applied content of filename
func (cm *ConfigManager) GetConfig(filename string) (map[string]interface{}, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	cfg, ok := cm.files[filename]
	if !ok {
		return nil, false
	}
	return shallowCopy(cfg), true
}

// SetConfig applies content as if it had been read from disk
func (cm *ConfigManager) SetConfig(filename string, content map[string]interface{}) error {
	return cm.apply(filename, content, ActionSet)
}

func (cm *ConfigManager) watch(ctx context.Context) {
	defer cm.wg.Done()

	pending := make(map[string]fsnotify.Op)
	var timer *time.Timer
	var flush <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-cm.done:
			return
		case <-ctx.Done():
			return
		case event, ok := <-cm.watcher.Events:
			if !ok {
				return
			}
			if !isConfigFile(event.Name) || event.Op&relevantOps == 0 {
				continue
			}
			pending[event.Name] |= event.Op
			if timer == nil {
				timer = time.NewTimer(cm.debounce)
			} else {
				timer.Reset(cm.debounce)
			}
			flush = timer.C
		case err, ok := <-cm.watcher.Errors:
			if !ok {
				return
			}
			cm.logger.Error("File watcher error", zap.Error(err))
		case <-flush:
			flush = nil
			for path, op := range pending {
				delete(pending, path)
				cm.sync(path, op)
			}
		}
	}
}

// sync reconciles one file with disk. Presence on disk decides between reload
// and removal, so editors that save by rename end up as a modify.
func (cm *ConfigManager) sync(path string, op fsnotify.Op) {
	filename := filepath.Base(path)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		cm.remove(filename)
		return
	}

	action := ActionModify
	if op.Has(fsnotify.Create) {
		action = ActionCreate
	}
	if err := cm.load(path, action); err != nil {
		cm.logger.Error("Failed to load config file",
			zap.String("file", filename),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

func (cm *ConfigManager) load(path, action string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	filename := filepath.Base(path)
	content, err := decodeFile(filename, data)
	if err != nil {
		return err
	}
	return cm.apply(filename, content, action)
}

func (cm *ConfigManager) apply(filename string, content map[string]interface{}, action string) error {
	cm.applyMu.Lock()
	defer cm.applyMu.Unlock()

	validate, handlers := cm.snapshotHooks(filename)
	if validate != nil {
		if err := validate(content); err != nil {
			return fmt.Errorf("%s rejected: %w", filename, err)
		}
	}

	cm.mu.Lock()
	cm.files[filename] = content
	cm.mu.Unlock()

	cm.logger.Info("Configuration loaded",
		zap.String("filename", filename),
		zap.String("action", action),
		zap.Int("keys", len(content)),
	)
	cm.dispatch(handlers, ChangeEvent{File: filename, Action: action, Config: shallowCopy(content), Timestamp: time.Now()})
	return nil
}

func (cm *ConfigManager) remove(filename string) {
	cm.applyMu.Lock()
	defer cm.applyMu.Unlock()

	cm.mu.Lock()
	_, existed := cm.files[filename]
	delete(cm.files, filename)
	cm.mu.Unlock()
	if !existed {
		return
	}

	_, handlers := cm.snapshotHooks(filename)
	cm.logger.Info("Configuration file removed", zap.String("filename", filename))
	cm.dispatch(handlers, ChangeEvent{File: filename, Action: ActionDelete, Timestamp: time.Now()})
}

func (cm *ConfigManager) snapshotHooks(filename string) (func(map[string]interface{}) error, []ChangeHandler) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	h, ok := cm.hooks[filename]
	if !ok {
		return nil, nil
	}
	return h.validate, append([]ChangeHandler(nil), h.handlers...)
}

func (cm *ConfigManager) dispatch(handlers []ChangeHandler, event ChangeEvent) {
	for _, h := range handlers {
		if err := h(event); err != nil {
			cm.logger.Error("Configuration handler error",
				zap.String("filename", event.File),
				zap.String("action", event.Action),
				zap.Error(err),
			)
		}
	}
}

func decodeFile(filename string, data []byte) (map[string]interface{}, error) {
	content := make(map[string]interface{})
	var err error
	switch filepath.Ext(filename) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &content)
	default:
		err = json.Unmarshal(data, &content)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}
	return content, nil
}

func shallowCopy(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func isConfigFile(name string) bool {
	switch filepath.Ext(name) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}
