package policy

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ruleFile is the on-disk YAML shape for a policy source.
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadFile parses a YAML rule source and reloads it into the engine. A
// malformed file leaves the previous generation in place.
func (e *Engine) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("policy: read %s: %w", path, err)
	}
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return fmt.Errorf("policy: parse %s: %w", path, err)
	}
	return e.Reload(rf.Rules)
}

// Watch starts an fsnotify watcher on path's directory and reloads the
// engine whenever path is written. It runs until stop is closed, logging
// (not fatal-ing) malformed reload attempts via OnLog.
func (e *Engine) Watch(path string, stop <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("policy: new watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("policy: watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := e.LoadFile(path); err != nil && e.onLog != nil {
					e.onLog("policy.reload_failed", "path", path, "error", err)
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if e.onLog != nil {
					e.onLog("policy.watch_error", "error", werr)
				}
			}
		}
	}()
	return nil
}
