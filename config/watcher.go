package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// credentialsDebounce is how long to wait after a write event before
// reloading, so editors that write in multiple syscalls trigger one reload.
const credentialsDebounce = 300 * time.Millisecond

// Credentials holds per-provider API keys loaded from the credentials file.
type Credentials struct {
	Weather string `yaml:"weather"`
	Flights string `yaml:"flights"`
	Hotels  string `yaml:"hotels"`
	Transit string `yaml:"transit"`
	Images  string `yaml:"images"`
}

// CredentialsWatcher watches the provider credentials file and invokes a
// callback with fresh credentials whenever the file changes on disk.
type CredentialsWatcher struct {
	path    string
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	onLoad  func(Credentials)
}

// NewCredentialsWatcher creates a watcher for the given credentials file.
// The onLoad callback fires once immediately with the current contents and
// again after every change.
func NewCredentialsWatcher(path string, logger *slog.Logger, onLoad func(Credentials)) (*CredentialsWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	// Watch the parent directory: many editors replace files by rename,
	// which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch credentials dir: %w", err)
	}

	cw := &CredentialsWatcher{
		path:    path,
		logger:  logger,
		watcher: watcher,
		onLoad:  onLoad,
	}

	if creds, err := LoadCredentials(path); err == nil {
		onLoad(creds)
	} else if !os.IsNotExist(err) {
		logger.Warn("Failed to load credentials file", "path", path, "error", err)
	}

	return cw, nil
}

// Run processes watch events until the context is cancelled.
func (cw *CredentialsWatcher) Run(ctx context.Context) {
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(cw.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(credentialsDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			creds, err := LoadCredentials(cw.path)
			if err != nil {
				cw.logger.Warn("Failed to reload credentials", "path", cw.path, "error", err)
				continue
			}
			cw.logger.Info("Reloaded provider credentials", "path", cw.path)
			cw.onLoad(creds)
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Warn("Credentials watcher error", "error", err)
		}
	}
}

// Close releases the underlying filesystem watcher.
func (cw *CredentialsWatcher) Close() error {
	return cw.watcher.Close()
}

// LoadCredentials reads the credentials YAML file.
func LoadCredentials(path string) (Credentials, error) {
	var creds Credentials

	data, err := os.ReadFile(path)
	if err != nil {
		return creds, err
	}
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return creds, fmt.Errorf("parse credentials file: %w", err)
	}
	return creds, nil
}
