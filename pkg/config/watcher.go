package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pledgeflow/pledgeflow/pkg/telemetry"
	"github.com/pledgeflow/pledgeflow/pkg/workflow"
)

// debounceWindow absorbs the editor write/rename bursts that fsnotify
// reports as several events for one save.
const debounceWindow = 200 * time.Millisecond

// TemplateWatcher reloads a template file whenever it changes on disk.
// A reload that fails validation keeps the previous template and reports
// the error through the callback.
type TemplateWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	log      *telemetry.Logger
	onReload func(*workflow.Template, error)
}

// NewTemplateWatcher watches the template file at path. onReload is invoked
// after every change with the compiled template or the validation error.
func NewTemplateWatcher(path string, log *telemetry.Logger, onReload func(*workflow.Template, error)) (*TemplateWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, workflow.NewInternalError("failed to create file watcher", err)
	}

	// Watch the directory, not the file: editors replace files on save and
	// the watch on the old inode would go stale.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, workflow.NewInternalError("failed to watch template directory", err)
	}

	return &TemplateWatcher{
		path:     path,
		watcher:  watcher,
		log:      log,
		onReload: onReload,
	}, nil
}

// Run processes filesystem events until the context is cancelled.
func (w *TemplateWatcher) Run(ctx context.Context) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceWindow, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("template watcher error")

		case <-reload:
			tmpl, err := LoadTemplate(w.path)
			if err != nil {
				w.log.WithError(err).Error("template reload failed, keeping previous")
			} else {
				w.log.WithField("kind", tmpl.Kind()).Info("template reloaded")
			}
			w.onReload(tmpl, err)
		}
	}
}

// Close stops the underlying filesystem watcher.
func (w *TemplateWatcher) Close() error {
	return w.watcher.Close()
}
