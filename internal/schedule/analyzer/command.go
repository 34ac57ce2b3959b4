package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// DefaultGracePeriod is how long a cancelled command gets between SIGTERM
// and SIGKILL.
const DefaultGracePeriod = 5 * time.Second

// ErrEmptyCommand is returned when no program is configured.
var ErrEmptyCommand = errors.New("analysis command is empty")

// Command runs a local model runner. The prompt is written to its stdin and
// the reply is read from its stdout.
type Command struct {
	Path        string
	Args        []string
	GracePeriod time.Duration
}

// NewCommand splits a command line on whitespace into program and arguments.
func NewCommand(commandLine string) (*Command, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, ErrEmptyCommand
	}
	return &Command{Path: fields[0], Args: fields[1:]}, nil
}

// Analyze runs the command once. A non-zero exit is an error carrying the
// tail of stderr.
func (c *Command) Analyze(ctx context.Context, prompt string) (string, error) {
	if c.Path == "" {
		return "", ErrEmptyCommand
	}

	grace := c.GracePeriod
	if grace == 0 {
		grace = DefaultGracePeriod
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Stdin = strings.NewReader(prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Run in its own process group so the whole runner tree is signalled.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = grace

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("analysis command killed: %w", ctx.Err())
		}
		if msg := lastLine(stderr.String()); msg != "" {
			return "", fmt.Errorf("analysis command %s: %w: %s", c.Path, err, msg)
		}
		return "", fmt.Errorf("analysis command %s: %w", c.Path, err)
	}

	return stdout.String(), nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
