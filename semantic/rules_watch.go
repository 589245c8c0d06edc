package semantic

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/strix-dfir/strix/errors"
	"github.com/strix-dfir/strix/semantic/types"
)

// ruleReloadDebounce coalesces the burst of filesystem events an editor save
// produces into a single reload.
const ruleReloadDebounce = 500 * time.Millisecond

// RuleWatcher reloads rules when their file or directory changes. A reload
// that fails to parse keeps the previous rule set; a broken edit never takes
// a running evaluator down.
type RuleWatcher struct {
	path     string
	onReload func([]*types.Rule)
	logger   *zap.SugaredLogger
	watcher  *fsnotify.Watcher
}

// WatchRules starts watching the rules path, invoking onReload with every
// successfully loaded rule set. It returns after the watch is established;
// reloads run until ctx is done.
func WatchRules(ctx context.Context, path string, onReload func([]*types.Rule), logger *zap.SugaredLogger) (*RuleWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create rules watcher")
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "watch rules path %s", path)
	}

	w := &RuleWatcher{
		path:     path,
		onReload: onReload,
		logger:   logger,
		watcher:  watcher,
	}
	go w.run(ctx)

	if logger != nil {
		logger.Infow("Watching rules for changes", "path", path)
	}
	return w, nil
}

// Close stops the watcher. Safe to call alongside context cancellation.
func (w *RuleWatcher) Close() error {
	return w.watcher.Close()
}

func (w *RuleWatcher) run(ctx context.Context) {
	var debounce *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(ruleReloadDebounce)
				fire = debounce.C
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(ruleReloadDebounce)
			}

		case <-fire:
			debounce = nil
			fire = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warnw("Rules watcher error", "error", err)
			}
		}
	}
}

func (w *RuleWatcher) reload() {
	rules, err := LoadRules(w.path, w.logger)
	if err != nil {
		if w.logger != nil {
			w.logger.Errorw("Rules reload failed, keeping previous rule set",
				"path", w.path,
				"error", err,
			)
		}
		return
	}
	w.onReload(rules)
}
