package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/TechnicallyShaun/callsched/internal/home"
	"github.com/TechnicallyShaun/callsched/internal/schedule"
)

// envAPIKey is the .env entry holding the analysis API key.
const envAPIKey = schedule.EnvPrefix + "_ANALYSIS_API_KEY"

// NewInitCmd creates the init command
func NewInitCmd(prompter Prompter) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the callsched home directory",
		Long: `Create the callsched home directory (~/.callsched, or $CALLSCHED_HOME) and
write config.toml from a short interactive questionnaire.

An API key for the analysis endpoint is stored in .env next to the config
rather than in config.toml.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := prompter
			if p == nil {
				p = NewStreamPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
			}
			return runInit(cmd, p, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing configuration")
	return cmd
}

func runInit(cmd *cobra.Command, p Prompter, force bool) error {
	root, err := home.Dir()
	if err != nil {
		return fmt.Errorf("locate home: %w", err)
	}

	out := cmd.OutOrStdout()

	layout, err := home.Init(root)
	if errors.Is(err, home.ErrHomeExists) && !force {
		fmt.Fprintf(out, "callsched already initialized at %s (use --force to reconfigure)\n", layout.Root)
		return nil
	}
	if err != nil && !errors.Is(err, home.ErrHomeExists) {
		return fmt.Errorf("create home: %w", err)
	}

	fmt.Fprintln(out, "")
	fmt.Fprintln(out, "callsched configuration")
	fmt.Fprintln(out, "=======================")
	fmt.Fprintln(out, "")

	cfg, apiKey, err := promptConfig(p)
	if err != nil {
		return err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.Save(layout.ConfigPath); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	if apiKey != "" {
		if err := saveEnv(layout.EnvPath, envAPIKey, apiKey); err != nil {
			return fmt.Errorf("failed to save API key: %w", err)
		}
	}

	fmt.Fprintln(out, "")
	fmt.Fprintf(out, "Configuration saved to %s\n", layout.ConfigPath)
	if apiKey != "" {
		fmt.Fprintf(out, "API key saved to %s\n", layout.EnvPath)
	}
	fmt.Fprintln(out, "Run 'callsched start' to begin watching for recordings.")
	return nil
}

func promptConfig(p Prompter) (*schedule.Config, string, error) {
	cfg := &schedule.Config{}
	var err error

	if cfg.WatchDir, err = promptRequired(p, "Recordings folder [required]: "); err != nil {
		return nil, "", err
	}
	if cfg.TranscriptionURL, err = promptRequired(p, "Transcription service URL [required]: "); err != nil {
		return nil, "", err
	}
	if cfg.OutputDir, err = promptRequired(p, "Schedule notes folder [required]: "); err != nil {
		return nil, "", err
	}

	prompt := fmt.Sprintf("Analysis provider (%s|%s) [default: %s]: ",
		schedule.ProviderHTTP, schedule.ProviderCommand, schedule.DefaultAnalysisProvider)
	if cfg.AnalysisProvider, err = promptDefault(p, prompt, schedule.DefaultAnalysisProvider); err != nil {
		return nil, "", err
	}

	var apiKey string
	switch cfg.AnalysisProvider {
	case schedule.ProviderCommand:
		if cfg.AnalysisCommand, err = promptRequired(p, "Analysis command [required]: "); err != nil {
			return nil, "", err
		}
	default:
		if cfg.AnalysisURL, err = promptRequired(p, "Chat completions base URL [required]: "); err != nil {
			return nil, "", err
		}
		if cfg.AnalysisModel, err = p.Prompt("Model [optional, Enter to skip]: "); err != nil {
			return nil, "", err
		}
		if apiKey, err = p.Prompt("API key [optional, Enter to skip]: "); err != nil {
			return nil, "", err
		}
	}

	if cfg.LedgerPath, err = p.Prompt("Outcome ledger .xlsx [optional, Enter to skip]: "); err != nil {
		return nil, "", err
	}

	return cfg, apiKey, nil
}

// saveEnv sets key in the .env file at path, keeping other entries.
func saveEnv(path, key, value string) error {
	env := map[string]string{}
	if _, err := os.Stat(path); err == nil {
		existing, err := godotenv.Read(path)
		if err != nil {
			return err
		}
		env = existing
	}
	env[key] = value

	if err := godotenv.Write(env, path); err != nil {
		return err
	}
	return os.Chmod(path, 0600)
}
