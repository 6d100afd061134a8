package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/systmms/rotator/cmd/rotator/commands"
	"github.com/systmms/rotator/internal/config"
	dserrors "github.com/systmms/rotator/internal/errors"
	"github.com/systmms/rotator/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", dserrors.SimplifyError(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var (
		configFile string
		noColor    bool
		debug      bool
	)

	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:   "rotator",
		Short: "Rotate secrets across vaults, tokens and databases",
		Long: `rotator runs rotation plans. Each plan mints a new secret in its origin
store, propagates it to the primary and secondary stores, marks the rotation
complete and revokes earlier generations once their grace period is over.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg.Path = configFile
			cfg.Logger = logging.New(debug, noColor)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "rotation-plans.yaml", "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(
		commands.NewRotateCommand(cfg),
		commands.NewStatusCommand(cfg),
		commands.NewPlansCommand(cfg),
		commands.NewValidateCommand(cfg),
	)

	return rootCmd.ExecuteContext(ctx)
}
