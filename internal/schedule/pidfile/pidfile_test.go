package pidfile

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

// Near the maximum PID on most Linux systems; almost certainly unused.
const stalePID = 4194300

func newTestFile(t *testing.T) *File {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "home", "callsched.pid"))
}

func writeRaw(t *testing.T, f *File, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(f.Path()), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(f.Path(), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestWriteAndRead(t *testing.T) {
	f := newTestFile(t)

	if err := f.Write(12345); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	pid, err := f.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if pid != 12345 {
		t.Errorf("expected PID 12345, got %d", pid)
	}

	info, err := os.Stat(f.Path())
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != 0644 {
		t.Errorf("expected permissions 644, got %o", info.Mode().Perm())
	}
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content *string
		want    error
	}{
		{name: "missing", want: ErrNoPIDFile},
		{name: "not a number", content: ptr("not-a-number\n"), want: ErrInvalidPID},
		{name: "negative", content: ptr("-1\n"), want: ErrInvalidPID},
		{name: "zero", content: ptr("0"), want: ErrInvalidPID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFile(t)
			if tt.content != nil {
				writeRaw(t, f, *tt.content)
			}
			if _, err := f.Read(); !errors.Is(err, tt.want) {
				t.Errorf("Read() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRemove(t *testing.T) {
	f := newTestFile(t)
	if err := f.Write(12345); err != nil {
		t.Fatal(err)
	}

	if err := f.Remove(); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := os.Stat(f.Path()); !os.IsNotExist(err) {
		t.Error("expected PID file to be removed")
	}

	if err := f.Remove(); err != nil {
		t.Errorf("expected no error removing nonexistent file, got: %v", err)
	}
}

func TestIsRunning(t *testing.T) {
	t.Run("current process", func(t *testing.T) {
		f := newTestFile(t)
		if err := f.Write(os.Getpid()); err != nil {
			t.Fatal(err)
		}
		running, pid, err := f.IsRunning()
		if err != nil {
			t.Fatalf("IsRunning failed: %v", err)
		}
		if !running || pid != os.Getpid() {
			t.Errorf("IsRunning() = (%v, %d), want (true, %d)", running, pid, os.Getpid())
		}
	})

	t.Run("no file", func(t *testing.T) {
		running, pid, err := newTestFile(t).IsRunning()
		if err != nil || running || pid != 0 {
			t.Errorf("IsRunning() = (%v, %d, %v), want (false, 0, nil)", running, pid, err)
		}
	})

	t.Run("stale", func(t *testing.T) {
		f := newTestFile(t)
		writeRaw(t, f, strconv.Itoa(stalePID)+"\n")
		running, pid, err := f.IsRunning()
		if err != nil {
			t.Fatalf("IsRunning failed: %v", err)
		}
		if running {
			t.Skip("stale PID is unexpectedly running")
		}
		if pid != stalePID {
			t.Errorf("expected PID %d, got %d", stalePID, pid)
		}
	})
}

func TestCleanStale(t *testing.T) {
	t.Run("removes stale file", func(t *testing.T) {
		f := newTestFile(t)
		writeRaw(t, f, strconv.Itoa(stalePID)+"\n")

		removed, err := f.CleanStale()
		if err != nil {
			t.Fatalf("CleanStale failed: %v", err)
		}
		if !removed {
			t.Error("expected stale PID file to be removed")
		}
		if _, err := os.Stat(f.Path()); !os.IsNotExist(err) {
			t.Error("expected PID file to be gone")
		}
	})

	t.Run("keeps running process", func(t *testing.T) {
		f := newTestFile(t)
		if err := f.Write(os.Getpid()); err != nil {
			t.Fatal(err)
		}
		removed, err := f.CleanStale()
		if err != nil {
			t.Fatalf("CleanStale failed: %v", err)
		}
		if removed {
			t.Error("expected running process PID file to be kept")
		}
	})

	t.Run("no file", func(t *testing.T) {
		removed, err := newTestFile(t).CleanStale()
		if err != nil || removed {
			t.Errorf("CleanStale() = (%v, %v), want (false, nil)", removed, err)
		}
	})
}

func TestAcquire(t *testing.T) {
	t.Run("fresh", func(t *testing.T) {
		f := newTestFile(t)
		if err := f.Acquire(); err != nil {
			t.Fatalf("Acquire failed: %v", err)
		}
		if pid, _ := f.Read(); pid != os.Getpid() {
			t.Errorf("PID = %d, want %d", pid, os.Getpid())
		}
	})

	t.Run("replaces stale and invalid", func(t *testing.T) {
		for _, content := range []string{strconv.Itoa(stalePID), "garbage"} {
			f := newTestFile(t)
			writeRaw(t, f, content)
			if err := f.Acquire(); err != nil {
				t.Fatalf("Acquire over %q failed: %v", content, err)
			}
		}
	})

	t.Run("held by another process", func(t *testing.T) {
		f := newTestFile(t)
		// PID 1 always exists.
		if err := f.Write(1); err != nil {
			t.Fatal(err)
		}
		if err := f.Acquire(); !errors.Is(err, ErrAlreadyRunning) {
			t.Errorf("Acquire() error = %v, want ErrAlreadyRunning", err)
		}
	})
}

func ptr(s string) *string { return &s }
