//go:build linux

package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startWatcher(t *testing.T, dir string, patterns []string) (*InotifyWatcher, <-chan FileEvent, context.Context) {
	t.Helper()

	w, err := NewInotifyWatcher()
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	t.Cleanup(func() { w.Stop() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	events, err := w.Watch(ctx, dir, patterns)
	if err != nil {
		t.Fatalf("failed to start watch: %v", err)
	}

	// Give the watcher time to set up
	time.Sleep(50 * time.Millisecond)
	return w, events, ctx
}

func TestInotifyWatcher_DetectsClosedFile(t *testing.T) {
	tmpDir := t.TempDir()
	_, events, ctx := startWatcher(t, tmpDir, []string{"*.m4a"})

	testFile := filepath.Join(tmpDir, "call.m4a")
	if err := os.WriteFile(testFile, []byte("hello"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	select {
	case event := <-events:
		if event.Path != testFile {
			t.Errorf("expected path %s, got %s", testFile, event.Path)
		}
		if event.Op != OpCloseWrite {
			t.Errorf("expected op close_write, got %s", event.Op)
		}
		if event.Size != 5 {
			t.Errorf("expected size 5, got %d", event.Size)
		}
		if event.ModTime.IsZero() {
			t.Error("expected ModTime to be set")
		}
	case <-ctx.Done():
		t.Fatal("timeout waiting for file event")
	}
}

func TestInotifyWatcher_PatternsAreCaseInsensitive(t *testing.T) {
	tmpDir := t.TempDir()
	_, events, ctx := startWatcher(t, tmpDir, []string{"*.m4a"})

	testFile := filepath.Join(tmpDir, "CALL.M4A")
	if err := os.WriteFile(testFile, []byte("hello"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	select {
	case event := <-events:
		if event.Path != testFile {
			t.Errorf("expected path %s, got %s", testFile, event.Path)
		}
	case <-ctx.Done():
		t.Fatal("timeout waiting for file event")
	}
}

func TestInotifyWatcher_IgnoresNonMatchingPatterns(t *testing.T) {
	tmpDir := t.TempDir()
	_, events, _ := startWatcher(t, tmpDir, []string{"*.m4a"})

	if err := os.WriteFile(filepath.Join(tmpDir, "notes.txt"), []byte("hello"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(tmpDir, "dir.m4a"), 0755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}

	select {
	case event := <-events:
		t.Errorf("unexpected event: %+v", event)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestInotifyWatcher_DetectsMovedFile(t *testing.T) {
	tmpDir := t.TempDir()
	srcDir := t.TempDir()
	_, events, ctx := startWatcher(t, tmpDir, []string{"*.m4a"})

	srcFile := filepath.Join(srcDir, "audio.m4a")
	if err := os.WriteFile(srcFile, []byte("fake audio content"), 0644); err != nil {
		t.Fatalf("failed to create source file: %v", err)
	}

	dstFile := filepath.Join(tmpDir, "audio.m4a")
	if err := os.Rename(srcFile, dstFile); err != nil {
		t.Fatalf("failed to move file: %v", err)
	}

	select {
	case event := <-events:
		if event.Path != dstFile {
			t.Errorf("expected path %s, got %s", dstFile, event.Path)
		}
		if event.Op != OpMovedTo {
			t.Errorf("expected op moved_to, got %s", event.Op)
		}
	case <-ctx.Done():
		t.Fatal("timeout waiting for moved file event")
	}
}

func TestInotifyWatcher_RejectsSecondWatch(t *testing.T) {
	tmpDir := t.TempDir()
	w, _, ctx := startWatcher(t, tmpDir, nil)

	if _, err := w.Watch(ctx, tmpDir, nil); !errors.Is(err, ErrAlreadyWatching) {
		t.Errorf("expected ErrAlreadyWatching, got %v", err)
	}
}

func TestInotifyWatcher_RejectsBadPattern(t *testing.T) {
	w, err := NewInotifyWatcher()
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	defer w.Stop()

	if _, err := w.Watch(context.Background(), t.TempDir(), []string{"[a-"}); err == nil {
		t.Error("expected error for malformed pattern")
	}
}

func TestInotifyWatcher_StopCleansUp(t *testing.T) {
	tmpDir := t.TempDir()

	watcher, err := NewInotifyWatcher()
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}

	events, err := watcher.Watch(context.Background(), tmpDir, nil)
	if err != nil {
		t.Fatalf("failed to start watch: %v", err)
	}

	if err := watcher.Stop(); err != nil {
		t.Errorf("stop failed: %v", err)
	}

	select {
	case _, ok := <-events:
		if ok {
			t.Error("expected events channel to be closed")
		}
	case <-time.After(time.Second):
		t.Error("events channel not closed after stop")
	}

	// Double stop should not error
	if err := watcher.Stop(); err != nil {
		t.Errorf("double stop failed: %v", err)
	}
}

func TestOp_String(t *testing.T) {
	if OpCloseWrite.String() != "close_write" || OpMovedTo.String() != "moved_to" || Op(0).String() != "unknown" {
		t.Error("unexpected Op names")
	}
}
