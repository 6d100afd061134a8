package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/systmms/rotator/internal/config"
)

// NewValidateCommand creates the validate command
func NewValidateCommand(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and create every store",
		Long: `Validate the configuration file against its schema, create every configured
store and check that each plan's stores support their roles. No store is read
or written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := loadPlans(cfg, nil)
			if err != nil {
				return err
			}
			defer func() { _ = set.Close() }()

			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid: %d store(s), %d plan(s)\n",
				cfg.Path, len(set.StoreNames()), len(set.Plans()))
			return nil
		},
	}
}
