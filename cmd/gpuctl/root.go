package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// globalFlags holds the root-level flags shared by every subcommand,
// mirroring the reference agent's own small cmdConfig struct rather than
// scattering package-level flag vars.
type globalFlags struct {
	logLevel string
	config   string
	dryRun   bool
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:           "gpuctl",
		Short:         "Fleet-wide GPU observability and control",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configureLogging(flags.logLevel)
		},
	}

	root.PersistentFlags().StringVar(&flags.logLevel, "log_level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flags.config, "config", "", "override the config/data directory")
	root.PersistentFlags().BoolVar(&flags.dryRun, "dry_run", false, "force Guard Mode into observe-only mode for this invocation")

	root.AddCommand(
		newListCmd(),
		newKillCmd(&flags),
		newResetCmd(&flags),
		newAuditCmd(&flags),
		newGuardCmd(&flags),
		newServerCmd(&flags),
		newAgentCmd(&flags),
		newHealthCmd(&flags),
	)

	return root
}

// configureLogging wires log/slog from GPUCTL_LOG_LEVEL, falling back to the
// unprefixed LOG_LEVEL, then the --log_level flag, matching the reference
// agent's own prefix-then-fallback environment convention.
func configureLogging(flagLevel string) {
	raw := os.Getenv("GPUCTL_LOG_LEVEL")
	if raw == "" {
		raw = os.Getenv("LOG_LEVEL")
	}
	if raw == "" {
		raw = flagLevel
	}

	level := slog.LevelInfo
	switch raw {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

func main() {
	root := newRootCmd()
	err := root.Execute()
	os.Exit(exitCodeFor(err))
}
