package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher watches servers.yaml and permissions.yaml for changes and invokes
// a callback with freshly reloaded config, so allowlist/inventory edits take
// effect without restarting the daemon.
type Watcher struct {
	configDir string
	fsw       *fsnotify.Watcher
	logger    *zap.Logger
	debounce  time.Duration

	mu     sync.Mutex
	timer  *time.Timer
	onFire func()
}

// NewWatcher constructs a Watcher over configDir's hot-reloadable files.
// It does not start watching until Start is called.
func NewWatcher(configDir string, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		configDir: configDir,
		fsw:       fsw,
		logger:    logger,
		debounce:  300 * time.Millisecond,
	}, nil
}

// Start begins watching configDir and invokes onChange (debounced) whenever
// servers.yaml or permissions.yaml changes. It returns immediately; the
// watch loop runs in its own goroutine until Close is called.
func (w *Watcher) Start(onChange func(ServersConfig, PermissionsConfig, error)) error {
	if err := w.fsw.Add(w.configDir); err != nil {
		return err
	}

	go func() {
		for {
			select {
			case event, ok := <-w.fsw.Events:
				if !ok {
					return
				}
				if !relevantEvent(event) {
					continue
				}
				w.scheduleReload(onChange)
			case err, ok := <-w.fsw.Errors:
				if !ok {
					return
				}
				if w.logger != nil {
					w.logger.Warn("config watcher error", zap.Error(err))
				}
			}
		}
	}()

	return nil
}

func relevantEvent(event fsnotify.Event) bool {
	base := event.Name
	return (hasSuffix(base, "servers.yaml") || hasSuffix(base, "permissions.yaml")) &&
		(event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0)
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func (w *Watcher) scheduleReload(onChange func(ServersConfig, PermissionsConfig, error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		servers, perms, err := reload(w.configDir)
		onChange(servers, perms, err)
	})
}

func reload(configDir string) (ServersConfig, PermissionsConfig, error) {
	servers, err := LoadServersConfig(configDir)
	if err != nil {
		return ServersConfig{}, PermissionsConfig{}, err
	}
	perms, err := LoadPermissionsConfig(configDir)
	if err != nil {
		return ServersConfig{}, PermissionsConfig{}, err
	}
	return servers, perms, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.fsw.Close()
}
