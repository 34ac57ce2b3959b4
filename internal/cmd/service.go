package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TechnicallyShaun/callsched/internal/home"
	"github.com/TechnicallyShaun/callsched/internal/schedule"
	"github.com/TechnicallyShaun/callsched/internal/schedule/pidfile"
	"github.com/TechnicallyShaun/callsched/internal/schedule/status"
)

// stopTimeout is the maximum time to wait for graceful shutdown before sending SIGKILL
const stopTimeout = 10 * time.Second

// ErrNotRunning indicates the service is not running
var ErrNotRunning = errors.New("callsched service is not running")

// ErrStaleProcess indicates the PID file exists but the process is not running
var ErrStaleProcess = errors.New("stale PID file (process not running)")

// NewStartCmd creates the start command
func NewStartCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the service in foreground mode",
		Long: `Start the service in foreground mode.

The service watches the recordings folder, and every recording that stops
changing is transcoded, transcribed, analyzed and written as a schedule note.
Recordings are only read; they are never moved or deleted.

The service runs until interrupted with Ctrl+C or SIGTERM. Runs in progress
are allowed to finish before it exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := loadConfig()
			if err != nil {
				return err
			}

			pf := pidfile.New(l.PIDPath)
			if err := pf.Acquire(); err != nil {
				return err
			}
			defer pf.Remove()

			var opts []schedule.ServiceOption
			if !quiet {
				opts = append(opts, schedule.WithConsole(cmd.ErrOrStderr()))
			}
			svc, err := schedule.NewService(cfg, l, opts...)
			if err != nil {
				return fmt.Errorf("create service: %w", err)
			}
			defer svc.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Starting callsched...")
			fmt.Fprintf(out, "Watching: %s\n", cfg.WatchDir)
			fmt.Fprintf(out, "Output:   %s\n", cfg.OutputDir)
			fmt.Fprintf(out, "Log:      %s\n", svc.LogPath())
			fmt.Fprintln(out, "Press Ctrl+C to stop")
			fmt.Fprintln(out)

			return svc.Run(cmd.Context())
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "log to file only")
	return cmd
}

// NewStopCmd creates the stop command
func NewStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the service",
		Long: `Stop the service.

Reads the PID file from the callsched home directory and sends SIGTERM for
graceful shutdown. If the process doesn't exit within 10 seconds, SIGKILL is
sent to force termination. The PID file is removed after the process exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := home.Resolve()
			if err != nil {
				return err
			}
			return runStop(cmd.OutOrStdout(), pidfile.New(l.PIDPath), stopTimeout)
		},
	}
}

func runStop(out io.Writer, pf *pidfile.File, timeout time.Duration) error {
	pid, err := pf.Read()
	if err != nil {
		if errors.Is(err, pidfile.ErrNoPIDFile) {
			return ErrNotRunning
		}
		return err
	}

	alive, err := pidfile.Alive(pid)
	if err != nil {
		return err
	}
	if !alive {
		if err := pf.Remove(); err != nil {
			fmt.Fprintf(out, "Warning: failed to remove stale PID file: %v\n", err)
		}
		return ErrStaleProcess
	}

	fmt.Fprintf(out, "Stopping callsched (PID %d)...\n", pid)

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("send SIGTERM: %w", err)
	}

	if !waitForExit(pid, timeout) {
		fmt.Fprintln(out, "Process did not exit gracefully, sending SIGKILL...")
		if err := process.Signal(syscall.SIGKILL); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("send SIGKILL: %w", err)
		}
		waitForExit(pid, 2*time.Second)
	}

	if err := pf.Remove(); err != nil {
		fmt.Fprintf(out, "Warning: failed to remove PID file: %v\n", err)
	}

	fmt.Fprintln(out, "callsched stopped")
	return nil
}

// waitForExit polls until the process exits or timeout is reached
func waitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if alive, err := pidfile.Alive(pid); err != nil || !alive {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

// NewStatusCmd creates the status command
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the service is running and today's results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := home.Resolve()
			if err != nil {
				return err
			}
			return runStatus(cmd.OutOrStdout(), l)
		},
	}
}

func runStatus(out io.Writer, l home.Layout) error {
	pf := pidfile.New(l.PIDPath)
	running, pid, err := pf.IsRunning()
	if err != nil && !errors.Is(err, pidfile.ErrInvalidPID) {
		return err
	}
	switch {
	case running:
		fmt.Fprintf(out, "Service:  running (PID %d)\n", pid)
	case pid != 0:
		fmt.Fprintf(out, "Service:  stopped (stale PID %d)\n", pid)
	default:
		fmt.Fprintln(out, "Service:  stopped")
	}

	stats, err := status.ParseToday(l.LogsDir)
	if err != nil {
		return fmt.Errorf("read log: %w", err)
	}
	fmt.Fprintf(out, "Today:    %d completed, %d failed, %d errors\n", stats.Completed, stats.Failed, stats.Errors)

	last := stats.LastRun
	if last == nil {
		fmt.Fprintln(out, "Last run: none today")
		return nil
	}
	fmt.Fprintf(out, "Last run: %s %s %s\n", status.FormatTimestamp(last.Timestamp), status.BaseName(last.File), last.Status)
	if last.Status == "completed" {
		fmt.Fprintf(out, "          %q %s\n", last.Title, last.When())
	} else {
		fmt.Fprintf(out, "          %s: %s\n", last.Stage, last.Reason)
	}
	return nil
}
