// Package completion turns raw directory events into recordings that have
// finished being written.
package completion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/TechnicallyShaun/callsched/internal/schedule/logging"
	"github.com/TechnicallyShaun/callsched/internal/schedule/watcher"
)

// ErrFileTooLarge is reported for stable recordings above the size limit.
var ErrFileTooLarge = errors.New("recording exceeds size limit")

// RawAudioFile is a recording that has stopped changing. It is observed,
// never moved or deleted.
type RawAudioFile struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// EventSource delivers candidate files from a directory.
type EventSource interface {
	Watch(ctx context.Context, dir string, patterns []string) (<-chan watcher.FileEvent, error)
	Stop() error
}

// Stabilizer blocks until a file has stopped changing.
type Stabilizer interface {
	WaitForStable(ctx context.Context, path string) (os.FileInfo, error)
}

// DropFunc is called for every candidate that is not emitted.
type DropFunc func(path string, err error)

// Watcher emits each finished recording exactly once per write burst.
type Watcher struct {
	source     EventSource
	stabilizer Stabilizer
	patterns   []string
	maxSize    int64
	onDrop     DropFunc
	logger     logging.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithPatterns restricts candidates to base names matching the globs.
func WithPatterns(patterns ...string) Option {
	return func(w *Watcher) {
		w.patterns = patterns
	}
}

// WithMaxSize drops stable files larger than maxBytes. Zero disables the limit.
func WithMaxSize(maxBytes int64) Option {
	return func(w *Watcher) {
		w.maxSize = maxBytes
	}
}

// WithOnDrop registers a callback for dropped candidates.
func WithOnDrop(fn DropFunc) Option {
	return func(w *Watcher) {
		w.onDrop = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// New creates a Watcher reading events from source.
func New(source EventSource, stabilizer Stabilizer, opts ...Option) *Watcher {
	w := &Watcher{
		source:     source,
		stabilizer: stabilizer,
		logger:     logging.Nop(),
		inFlight:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch starts watching dir. The returned channel is closed after the event
// source closes and every pending stability check has finished.
func (w *Watcher) Watch(ctx context.Context, dir string) (<-chan RawAudioFile, error) {
	events, err := w.source.Watch(ctx, dir, w.patterns)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	out := make(chan RawAudioFile)
	go w.run(ctx, events, out)
	return out, nil
}

// Stop stops the event source.
func (w *Watcher) Stop() error {
	return w.source.Stop()
}

func (w *Watcher) run(ctx context.Context, events <-chan watcher.FileEvent, out chan<- RawAudioFile) {
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		close(out)
	}()

	for event := range events {
		if !w.claim(event.Path) {
			w.logger.Debug("already stabilizing",
				logging.String("file", event.Path),
				logging.String("op", event.Op.String()),
			)
			continue
		}

		w.logger.Info("file detected",
			logging.String("file", event.Path),
			logging.String("op", event.Op.String()),
			logging.Int64("size", event.Size),
		)

		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			defer w.release(path)
			w.stabilize(ctx, path, out)
		}(event.Path)
	}
}

func (w *Watcher) stabilize(ctx context.Context, path string, out chan<- RawAudioFile) {
	start := time.Now()
	info, err := w.stabilizer.WaitForStable(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.drop(path, err)
		return
	}

	if w.maxSize > 0 && info.Size() > w.maxSize {
		w.drop(path, fmt.Errorf("%w: %d bytes > %d", ErrFileTooLarge, info.Size(), w.maxSize))
		return
	}

	file := RawAudioFile{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	w.logger.Info("file stable",
		logging.String("file", path),
		logging.Int64("size", file.Size),
		logging.Duration("wait", time.Since(start)),
	)

	select {
	case out <- file:
	case <-ctx.Done():
	}
}

func (w *Watcher) drop(path string, err error) {
	w.logger.Error("dropping candidate", err, logging.String("file", path))
	if w.onDrop != nil {
		w.onDrop(path, err)
	}
}

// claim marks path as in flight. It reports false if it already was.
func (w *Watcher) claim(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.inFlight[path]; ok {
		return false
	}
	w.inFlight[path] = struct{}{}
	return true
}

func (w *Watcher) release(path string) {
	w.mu.Lock()
	delete(w.inFlight, path)
	w.mu.Unlock()
}
