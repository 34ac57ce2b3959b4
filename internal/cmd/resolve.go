package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TechnicallyShaun/callsched/internal/schedule/datetime"
	"github.com/TechnicallyShaun/callsched/internal/schedule/pipeline"
	"github.com/TechnicallyShaun/callsched/internal/schedule/response"
)

// NewResolveCmd creates the resolve command
func NewResolveCmd() *cobra.Command {
	var (
		date     string
		clock    string
		today    string
		fallback string
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve date and time phrases the way the pipeline does",
		Long: `Resolve free-form date and time phrases such as "next monday" or
"quarter past two" and print the result as JSON. Unresolved parts are empty.`,
		Example: `  callsched resolve --date "next monday" --time "quarter past two"
  callsched resolve --date friday --today 2025-06-10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			anchor := now
			if today != "" {
				t, err := time.ParseInLocation(datetime.ISOLayout, today, time.Local)
				if err != nil {
					return fmt.Errorf("invalid --today %q: want YYYY-MM-DD", today)
				}
				anchor = t
			}

			fb, err := pipeline.ParseTimeFallback(fallback)
			if err != nil {
				return err
			}

			s := pipeline.Resolve(response.Fields{Date: date, Time: clock}, anchor, now, fb)
			data, err := json.Marshal(s)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "date phrase")
	cmd.Flags().StringVar(&clock, "time", "", "time phrase")
	cmd.Flags().StringVar(&today, "today", "", "anchor date for relative phrases (YYYY-MM-DD, default today)")
	cmd.Flags().StringVar(&fallback, "fallback", string(pipeline.FallbackNone), "policy for unresolved parts (none|next_hour)")
	return cmd
}
