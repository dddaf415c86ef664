package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchInbox runs ImportInbox whenever PDFs appear in the inbox, until ctx is
// cancelled. Bursts of events within debounce trigger a single run. Files
// already waiting when the watch starts are imported right away.
func (s *Service) WatchInbox(ctx context.Context, debounce time.Duration) error {
	if err := os.MkdirAll(s.inbox, 0755); err != nil {
		return fmt.Errorf("creating inbox: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating inbox watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(s.inbox); err != nil {
		return fmt.Errorf("watching inbox: %w", err)
	}
	slog.Info("Watching inbox", "path", s.inbox, "debounce", debounce)

	trigger := make(chan struct{}, 1)
	fire := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}
	fire()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Ext(e.Name), ".pdf") || !e.Has(fsnotify.Create|fsnotify.Write|fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, fire)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Error("Inbox watcher error", "error", err)
		case <-trigger:
			pending, err := s.PendingImports()
			if err != nil {
				slog.Error("Failed to list inbox", "error", err)
				continue
			}
			if len(pending) == 0 {
				continue
			}
			if _, err := s.ImportInbox(ctx); err != nil {
				slog.Error("Inbox import failed", "error", err)
			}
		}
	}
}
