// Package prompts builds per-role system prompts from markdown
// templates. Built-in defaults are embedded; a prompts directory can
// override them per role, optionally hot-reloaded via fsnotify.
package prompts

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/Mowd/claude-dashboard/internal/core"
	"github.com/Mowd/claude-dashboard/internal/logging"
)

//go:embed templates/*.md
var builtins embed.FS

// Library resolves system prompt templates for roles.
type Library struct {
	dir    string
	logger *logging.Logger

	mu      sync.RWMutex
	cache   map[core.Role]string
	watcher *fsnotify.Watcher
}

// NewLibrary creates a library. dir may be empty to use only the
// embedded defaults.
func NewLibrary(dir string, logger *logging.Logger) *Library {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Library{
		dir:    dir,
		logger: logger,
		cache:  make(map[core.Role]string),
	}
}

// Template returns the raw system prompt template for a role: the
// on-disk override if present, otherwise the embedded default.
func (l *Library) Template(role core.Role) string {
	l.mu.RLock()
	if tpl, ok := l.cache[role]; ok {
		l.mu.RUnlock()
		return tpl
	}
	l.mu.RUnlock()

	tpl := l.load(role)
	l.mu.Lock()
	l.cache[role] = tpl
	l.mu.Unlock()
	return tpl
}

func (l *Library) load(role core.Role) string {
	name := fmt.Sprintf("%s-system.md", role)
	if l.dir != "" {
		if data, err := os.ReadFile(filepath.Join(l.dir, name)); err == nil {
			return string(data)
		}
	}
	data, err := builtins.ReadFile("templates/" + name)
	if err != nil {
		// Every valid role has an embedded template; this only fires
		// for roles outside the pipeline.
		return ""
	}
	return string(data)
}

// Watch starts invalidating the cache when files in the prompts
// directory change. Close stops it. No-op without a directory.
func (l *Library) Watch() error {
	if l.dir == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", l.dir, err)
	}

	l.mu.Lock()
	l.watcher = watcher
	l.mu.Unlock()

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					l.invalidate(event.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warn("prompt watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (l *Library) invalidate(path string) {
	name := filepath.Base(path)
	role := core.Role(strings.TrimSuffix(name, "-system.md"))
	if !role.IsValid() {
		return
	}
	l.mu.Lock()
	delete(l.cache, role)
	l.mu.Unlock()
	l.logger.Info("prompt template reloaded", "role", string(role))
}

// Close stops the watcher if one is running.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher != nil {
		err := l.watcher.Close()
		l.watcher = nil
		return err
	}
	return nil
}
