package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Registry serves the current catalogue and swaps it atomically on reload.
// It implements memory.StyleResolver.
type Registry struct {
	path         string
	defaultModel string // REPLY_MODEL override for the default model id
	logger       *slog.Logger
	current      atomic.Pointer[Catalog]
}

// Load reads the catalogue at path, or the built-in one when path is empty.
// A non-empty defaultModelID replaces the id used when a conversation has no
// model selected. If logger is nil, the default slog logger is used.
func Load(path, defaultModelID string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{path: path, defaultModel: defaultModelID, logger: logger}
	if path == "" {
		r.current.Store(Default())
		return r, nil
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Current returns the active catalogue.
func (r *Registry) Current() *Catalog {
	return r.current.Load()
}

// Reload re-reads the catalogue file. On error the active catalogue is kept.
func (r *Registry) Reload() error {
	if r.path == "" {
		return nil
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("catalog: read %s: %w", r.path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return fmt.Errorf("catalog: %s: %w", r.path, err)
	}
	r.current.Store(c)
	r.logger.Info("catalog loaded",
		"path", r.path,
		"styles", len(c.Styles),
		"models", len(c.Models),
	)
	return nil
}

// Watch reloads the catalogue whenever its file changes, until ctx is done.
// The parent directory is watched so editors that replace the file are
// handled. Invalid files are logged and ignored.
func (r *Registry) Watch(ctx context.Context) error {
	if r.path == "" {
		<-ctx.Done()
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog: create fsnotify watcher: %w", err)
	}
	defer w.Close()

	target := filepath.Clean(r.path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("catalog: watch %s: %w", filepath.Dir(target), err)
	}
	r.logger.Info("catalog watcher started", "path", target)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("catalog watcher stopped")
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := r.Reload(); err != nil {
				r.logger.Warn("catalog reload rejected, keeping previous catalogue", "err", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Error("catalog watcher error", "err", err)
		}
	}
}

// StylePrompt returns the prompt for key, or the default style's prompt.
func (r *Registry) StylePrompt(key string) string {
	return r.Current().style(key).Prompt
}

// ModelID returns the backend model id for key. Unknown or empty keys map
// to the configured default.
func (r *Registry) ModelID(key string) string {
	c := r.Current()
	if _, ok := c.Models[key]; !ok && r.defaultModel != "" {
		return r.defaultModel
	}
	return c.model(key).ID
}

// ValidateStyle reports whether key names a style.
func (r *Registry) ValidateStyle(key string) error {
	if _, ok := r.Current().Styles[key]; !ok {
		return fmt.Errorf("%w %q", ErrUnknownStyle, key)
	}
	return nil
}

// ValidateModel reports whether key names a model.
func (r *Registry) ValidateModel(key string) error {
	if _, ok := r.Current().Models[key]; !ok {
		return fmt.Errorf("%w %q", ErrUnknownModel, key)
	}
	return nil
}
