package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/TechnicallyShaun/callsched/internal/schedule"
	"github.com/TechnicallyShaun/callsched/internal/schedule/pipeline"
)

// ErrRunsFailed is returned by process when at least one recording failed.
var ErrRunsFailed = errors.New("one or more recordings failed")

// NewProcessCmd creates the process command
func NewProcessCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "process <file>...",
		Short: "Run recordings through the pipeline once",
		Long: `Run each recording through the pipeline immediately, without waiting for
the watcher or stability checks. Outcomes go to the same notes, ledger and
webhook as the service's.`,
		Args:         cobra.MinimumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l, err := loadConfig()
			if err != nil {
				return err
			}
			svc, err := schedule.NewService(cfg, l)
			if err != nil {
				return fmt.Errorf("create service: %w", err)
			}
			defer svc.Close()

			out := cmd.OutOrStdout()
			failed := false
			for _, path := range args {
				outcome, err := svc.ProcessFile(cmd.Context(), path)
				if err != nil {
					return err
				}
				if !outcome.Completed() {
					failed = true
				}
				if err := printOutcome(out, outcome, asJSON); err != nil {
					return err
				}
			}
			if failed {
				return ErrRunsFailed
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print outcomes as JSON lines")
	return cmd
}

func printOutcome(out io.Writer, o pipeline.Outcome, asJSON bool) error {
	if asJSON {
		data, err := json.Marshal(o)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	fmt.Fprintf(out, "%s: %s\n", o.Source.Path, o.Status())
	if s := o.Schedule; s != nil {
		fmt.Fprintf(out, "  title: %s\n", s.Title)
		fmt.Fprintf(out, "  date:  %s\n", orDash(s.Date.String()))
		if s.Time.Valid {
			fmt.Fprintf(out, "  time:  %s:%s\n", s.Time.Hour(), s.Time.Minute())
		} else {
			fmt.Fprintln(out, "  time:  -")
		}
		fmt.Fprintf(out, "  place: %s\n", orDash(s.Place))
	}
	if f := o.Failure; f != nil {
		fmt.Fprintf(out, "  stage:  %s\n", f.Stage)
		fmt.Fprintf(out, "  reason: %s\n", f.Reason)
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
