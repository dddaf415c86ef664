package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Snapshot is one immutable generation of the active rules.
type Snapshot struct {
	Table *Table
	// Rules is the custom document, empty when the built-in table is active.
	Rules   RuleSet
	Custom  bool
	Version int
}

// Registry owns the process-wide rule table. Readers get the current
// snapshot without locking; Save and Reload build a new snapshot and swap it
// in, so a classification never sees a half-updated table.
type Registry struct {
	path    string
	current atomic.Pointer[Snapshot]
	mu      sync.Mutex // serializes writers
}

// NewRegistry loads the rule document at path. A missing file, or one without
// any rule, leaves the built-in table active.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{path: path}
	r.current.Store(&Snapshot{Table: Builtin()})
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Path returns the rule document location.
func (r *Registry) Path() string {
	return r.path
}

// Snapshot returns the active snapshot.
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// Classify classifies with the active table.
func (r *Registry) Classify(itemName string) string {
	return r.current.Load().Table.Classify(itemName)
}

// Reload re-reads the rule document. On error the active table is kept.
func (r *Registry) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var rs RuleSet
	if r.path != "" {
		loaded, err := LoadFile(r.path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return err
		default:
			rs = loaded
		}
	}
	r.swap(rs)
	return nil
}

// Save persists rs, backing up the previous document, and activates it.
func (r *Registry) Save(rs RuleSet) error {
	if r.path == "" {
		return fmt.Errorf("no rule file configured")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := SaveFile(r.path, rs); err != nil {
		return err
	}
	r.swap(rs.Clone())
	return nil
}

// swap must be called with r.mu held.
func (r *Registry) swap(rs RuleSet) {
	prev := r.current.Load()
	next := &Snapshot{Table: Builtin(), Version: prev.Version + 1}
	if rs.HasRules() {
		next.Table = rs.Table()
		next.Rules = rs
		next.Custom = true
	}
	r.current.Store(next)
	slog.Info("Rule table activated",
		"version", next.Version,
		"custom", next.Custom,
		"categories", next.Table.Len(),
	)
}

// Watch reloads the rule document whenever it changes on disk, until ctx is
// cancelled. The parent directory is watched because editors usually replace
// the file rather than write it in place.
func (r *Registry) Watch(ctx context.Context, debounce time.Duration) error {
	if r.path == "" {
		return fmt.Errorf("no rule file configured")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating rule watcher: %w", err)
	}
	defer w.Close()

	target := filepath.Clean(r.path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watching rule directory: %w", err)
	}

	var timer *time.Timer
	reload := func() {
		if err := r.Reload(); err != nil {
			slog.Error("Failed to reload rule table", "path", target, "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case e, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(e.Name) != target {
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, reload)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Rule watcher error", "error", err)
		}
	}
}
