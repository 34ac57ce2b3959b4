package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for the callsched CLI
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "callsched",
		Short: "Turn recorded phone calls into schedule entries",
		Long: `callsched watches a folder of call recordings, transcribes each finished
recording, asks a language model for the appointment that was arranged, and
writes the result as a schedule note.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(NewInitCmd(nil))
	rootCmd.AddCommand(NewConfigCmd())
	rootCmd.AddCommand(NewStartCmd())
	rootCmd.AddCommand(NewStopCmd())
	rootCmd.AddCommand(NewStatusCmd())
	rootCmd.AddCommand(NewProcessCmd())
	rootCmd.AddCommand(NewResolveCmd())
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}
