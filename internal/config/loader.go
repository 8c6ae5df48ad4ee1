package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"gatewayd/pkg/logging"

	"github.com/fsnotify/fsnotify"
)

// Load reads, parses, and validates the configuration document at path,
// applying defaults and environment overrides. It does not start watching
// the file; call NewWatcher separately if live reload is desired.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides lets deployment tooling override host/port/log level
// without editing the config file; environment takes precedence over the
// static document.
func applyEnvOverrides(c *Config) {
	if v := os.Getenv("GATEWAYD_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("GATEWAYD_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		} else {
			logging.Warn("config", "ignoring invalid GATEWAYD_PORT=%q: %v", v, err)
		}
	}
	if v := os.Getenv("GATEWAYD_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Watcher reloads the configuration whenever the underlying file changes and
// delivers the new document (already validated) to a channel. cmd/serve.go
// feeds each update to the Registry so backend membership changes apply
// without a restart; no other part of the reloaded document is re-applied.
type Watcher struct {
	path    string
	fsw     *fsnotify.Watcher
	updates chan *Config
	errs    chan error
}

// NewWatcher starts watching path for changes and returns a Watcher whose
// Updates channel delivers freshly loaded, validated configs.
func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching config file %s: %w", path, err)
	}

	w := &Watcher{
		path:    path,
		fsw:     fsw,
		updates: make(chan *Config, 1),
		errs:    make(chan error, 1),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				logging.Warn("config", "reload of %s failed, keeping previous config: %v", w.path, err)
				select {
				case w.errs <- err:
				default:
				}
				continue
			}
			logging.Info("config", "reloaded configuration from %s", w.path)
			select {
			case w.updates <- cfg:
			default:
				// drop stale pending update, the consumer will catch up on the next change
				<-w.updates
				w.updates <- cfg
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Warn("config", "watcher error for %s: %v", w.path, err)
		}
	}
}

// Updates returns the channel of successfully reloaded configurations.
func (w *Watcher) Updates() <-chan *Config {
	return w.updates
}

// Errors returns the channel of reload failures.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Close stops watching the file.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
