// Package home locates and lays out the callsched home directory.
package home

import (
	"errors"
	"os"
	"path/filepath"
)

// EnvHome is the environment variable for overriding the home directory.
const EnvHome = "CALLSCHED_HOME"

// DirName is the default home directory under the user's home.
const DirName = ".callsched"

// File and directory names inside the home directory.
const (
	ConfigFile = "config.toml"
	EnvFile    = ".env"
	PIDFile    = "callsched.pid"
	LogsDir    = "logs"
	TempDir    = "tmp"
)

var (
	ErrHomeExists     = errors.New("callsched home already initialized")
	ErrNotInitialized = errors.New("callsched home not initialized; run 'callsched init'")
)

// Layout holds the resolved paths of a home directory.
type Layout struct {
	Root       string
	ConfigPath string
	EnvPath    string
	PIDPath    string
	LogsDir    string
	TempDir    string
}

// At returns the layout rooted at root without touching the filesystem.
func At(root string) Layout {
	return Layout{
		Root:       root,
		ConfigPath: filepath.Join(root, ConfigFile),
		EnvPath:    filepath.Join(root, EnvFile),
		PIDPath:    filepath.Join(root, PIDFile),
		LogsDir:    filepath.Join(root, LogsDir),
		TempDir:    filepath.Join(root, TempDir),
	}
}

// Dir returns the home directory: $CALLSCHED_HOME when set, otherwise
// ~/.callsched.
func Dir() (string, error) {
	if env := os.Getenv(EnvHome); env != "" {
		return filepath.Abs(env)
	}
	userHome, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(userHome, DirName), nil
}

// Resolve returns the layout of Dir.
func Resolve() (Layout, error) {
	root, err := Dir()
	if err != nil {
		return Layout{}, err
	}
	return At(root), nil
}

// IsInitialized reports whether the layout has a config file.
func (l Layout) IsInitialized() bool {
	info, err := os.Stat(l.ConfigPath)
	return err == nil && info.Mode().IsRegular()
}

// Find returns the layout of Dir, or ErrNotInitialized when no config file
// exists there.
func Find() (Layout, error) {
	l, err := Resolve()
	if err != nil {
		return Layout{}, err
	}
	if !l.IsInitialized() {
		return Layout{}, ErrNotInitialized
	}
	return l, nil
}
