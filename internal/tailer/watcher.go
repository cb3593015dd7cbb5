package tailer

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/oicur0t/rpsmon/pkg/models"
	"go.uber.org/zap"
)

// Opener opens a LineSource for a discovered file
type Opener func(key, path string) (LineSource, error)

// OpenerFor returns the Opener for a tailer backend ("poll" or "follow")
func OpenerFor(backend string, startAtEnd bool) (Opener, error) {
	switch backend {
	case "poll", "":
		return func(key, path string) (LineSource, error) {
			return OpenSource(key, path, startAtEnd)
		}, nil
	case "follow":
		return func(key, path string) (LineSource, error) {
			return OpenFollowSource(key, path, startAtEnd, false)
		}, nil
	default:
		return nil, fmt.Errorf("unknown tailer backend %q", backend)
	}
}

// Watcher owns the logical key -> source map. Sync mutates it, Poll only
// reads it; the caller never runs the two concurrently.
type Watcher struct {
	dirs       []string
	discoverer *Discoverer
	open       Opener
	logger     *zap.Logger

	keys    []string // discovery order
	sources map[string]LineSource
}

// NewWatcher creates a new log source watcher over the given directory specs
func NewWatcher(dirs []string, discoverer *Discoverer, open Opener, logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		dirs:       dirs,
		discoverer: discoverer,
		open:       open,
		logger:     logger,
		sources:    make(map[string]LineSource),
	}
}

// Sync rediscovers log files. New keys are opened, keys whose path changed
// are reopened, keys no longer discovered are closed. Sources that did not
// change are left untouched.
func (w *Watcher) Sync() models.CycleErrors {
	resolved := ResolveDirectories(w.dirs)
	found, errs := w.discoverer.Discover(resolved)

	live := make(map[string]struct{}, len(found))
	added, replaced, dropped := 0, 0, 0

	for _, f := range found {
		live[f.Key] = struct{}{}

		current, exists := w.sources[f.Key]
		if exists && current.Path() == f.Path {
			continue
		}

		src, err := w.open(f.Key, f.Path)
		if err != nil {
			countSourceError(err, &errs)
			w.logger.Debug("Failed to open log source, will retry",
				zap.String("key", f.Key),
				zap.Error(err))
			continue
		}

		if exists {
			current.Close()
			replaced++
			w.logger.Info("Replaced log source", zap.String("key", f.Key), zap.String("file", f.Path))
		} else {
			w.keys = append(w.keys, f.Key)
			added++
			w.logger.Info("Tailing log source", zap.String("key", f.Key), zap.String("file", f.Path))
		}
		w.sources[f.Key] = src
	}

	kept := w.keys[:0]
	for _, key := range w.keys {
		if _, ok := live[key]; ok {
			kept = append(kept, key)
			continue
		}
		w.sources[key].Close()
		delete(w.sources, key)
		dropped++
		w.logger.Info("Stopped tailing log source", zap.String("key", key))
	}
	w.keys = kept

	w.logger.Debug("Rediscovery complete",
		zap.Int("directories", len(resolved)),
		zap.Int("sources", len(w.keys)),
		zap.Int("added", added),
		zap.Int("replaced", replaced),
		zap.Int("dropped", dropped))

	return errs
}

// Poll reads every source once, in discovery order, and hands each line to
// fn. A failing source is skipped for this poll only.
func (w *Watcher) Poll(fn func(key, line string)) models.CycleErrors {
	var errs models.CycleErrors
	for _, key := range w.keys {
		lines, err := w.sources[key].Poll()
		for _, line := range lines {
			fn(key, line)
		}
		if err != nil {
			countSourceError(err, &errs)
			w.logger.Debug("Failed to poll log source", zap.String("key", key), zap.Error(err))
		}
	}
	return errs
}

// Keys returns the active logical keys in discovery order
func (w *Watcher) Keys() []string {
	return append([]string(nil), w.keys...)
}

// Paths returns the distinct tailed paths in discovery order
func (w *Watcher) Paths() []string {
	seen := make(map[string]struct{}, len(w.keys))
	paths := make([]string, 0, len(w.keys))
	for _, key := range w.keys {
		p := w.sources[key].Path()
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		paths = append(paths, p)
	}
	return paths
}

// Close releases every source
func (w *Watcher) Close() error {
	var errs []error
	for _, key := range w.keys {
		if err := w.sources[key].Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", key, err))
		}
		delete(w.sources, key)
	}
	w.keys = nil
	return errors.Join(errs...)
}

func countSourceError(err error, errs *models.CycleErrors) {
	if errors.Is(err, fs.ErrPermission) {
		errs.Permission++
		return
	}
	errs.TransientSource++
}
