package home

import (
	"os"
)

// Init creates the home directory and its subdirectories. It returns
// ErrHomeExists when a config file is already present; the directories are
// still created in that case, so a partly deleted home is repaired.
func Init(root string) (Layout, error) {
	l := At(root)

	for _, dir := range []string{l.Root, l.LogsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return Layout{}, err
		}
	}
	// Intermediate audio may contain private calls.
	if err := os.MkdirAll(l.TempDir, 0700); err != nil {
		return Layout{}, err
	}

	if l.IsInitialized() {
		return l, ErrHomeExists
	}
	return l, nil
}
