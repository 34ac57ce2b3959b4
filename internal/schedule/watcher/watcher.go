// Package watcher reports files that were closed after writing, or moved
// into, a single directory.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Op is the filesystem operation that produced an event.
type Op int

const (
	// OpCloseWrite is a file closed after being opened for writing.
	OpCloseWrite Op = iota + 1
	// OpMovedTo is a file renamed into the watched directory.
	OpMovedTo
)

func (o Op) String() string {
	switch o {
	case OpCloseWrite:
		return "close_write"
	case OpMovedTo:
		return "moved_to"
	default:
		return "unknown"
	}
}

// FileEvent represents a detected file.
type FileEvent struct {
	Path      string
	Op        Op
	Size      int64
	ModTime   time.Time
	Timestamp time.Time
}

// FileWatcher detects new files in a directory.
type FileWatcher interface {
	Watch(ctx context.Context, dir string, patterns []string) (<-chan FileEvent, error)
	Stop() error
}

// ErrAlreadyWatching is returned by Watch on a watcher that is already in use.
var ErrAlreadyWatching = errors.New("watcher already started")

// InotifyWatcher implements FileWatcher using Linux inotify.
type InotifyWatcher struct {
	fd       int
	wd       int
	patterns []string

	mu       sync.Mutex
	started  bool
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewInotifyWatcher creates a new inotify-based file watcher.
func NewInotifyWatcher() (*InotifyWatcher, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, err
	}

	return &InotifyWatcher{
		fd:     fd,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Watch starts watching the directory for files whose base name matches one
// of the glob patterns. An empty pattern list matches every file. The
// returned channel is closed when ctx ends or Stop is called.
func (w *InotifyWatcher) Watch(ctx context.Context, dir string, patterns []string) (<-chan FileEvent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil, ErrAlreadyWatching
	}

	for _, p := range patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return nil, err
		}
	}

	wd, err := unix.InotifyAddWatch(w.fd, dir, unix.IN_CLOSE_WRITE|unix.IN_MOVED_TO)
	if err != nil {
		return nil, err
	}
	w.wd = wd
	w.patterns = patterns
	w.started = true

	events := make(chan FileEvent, 100)
	go w.readEvents(ctx, dir, events)

	return events, nil
}

// Stop stops the watcher and releases resources. It is safe to call more
// than once.
func (w *InotifyWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)

		w.mu.Lock()
		started := w.started
		w.mu.Unlock()
		if started {
			<-w.done
			unix.InotifyRmWatch(w.fd, uint32(w.wd))
		}
		err = unix.Close(w.fd)
	})
	return err
}

func (w *InotifyWatcher) readEvents(ctx context.Context, dir string, events chan<- FileEvent) {
	defer close(w.done)
	defer close(events)

	buf := make([]byte, 64*(unix.SizeofInotifyEvent+unix.NAME_MAX+1))

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		n, err := unix.Read(w.fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return
		}

		for offset := 0; offset+unix.SizeofInotifyEvent <= n; {
			raw := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
			nameLen := int(raw.Len)
			nameStart := offset + unix.SizeofInotifyEvent
			offset = nameStart + nameLen

			if nameLen == 0 || raw.Mask&unix.IN_ISDIR != 0 || offset > n {
				continue
			}

			name := strings.TrimRight(string(buf[nameStart:nameStart+nameLen]), "\x00")
			if !w.matchesPatterns(name) {
				continue
			}

			event, ok := newEvent(filepath.Join(dir, name), raw.Mask)
			if !ok {
				continue
			}

			select {
			case events <- event:
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			}
		}
	}
}

func newEvent(path string, mask uint32) (FileEvent, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return FileEvent{}, false
	}

	op := OpCloseWrite
	if mask&unix.IN_MOVED_TO != 0 {
		op = OpMovedTo
	}

	return FileEvent{
		Path:      path,
		Op:        op,
		Size:      info.Size(),
		ModTime:   info.ModTime(),
		Timestamp: time.Now(),
	}, true
}

func (w *InotifyWatcher) matchesPatterns(name string) bool {
	if len(w.patterns) == 0 {
		return true
	}

	lower := strings.ToLower(name)
	for _, pattern := range w.patterns {
		if matched, _ := filepath.Match(strings.ToLower(pattern), lower); matched {
			return true
		}
	}
	return false
}
