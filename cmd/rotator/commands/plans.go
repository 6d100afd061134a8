package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/rotator/internal/config"
	"github.com/systmms/rotator/internal/plans"
	"github.com/systmms/rotator/pkg/secretstore"
)

// NewPlansCommand creates the plans command
func NewPlansCommand(cfg *config.Config) *cobra.Command {
	var showStores bool

	cmd := &cobra.Command{
		Use:   "plans",
		Short: "List configured plans and the roles of their stores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := loadPlans(cfg, nil)
			if err != nil {
				return err
			}
			defer func() { _ = set.Close() }()

			out := cmd.OutOrStdout()
			if err := writePlansTable(out, set); err != nil {
				return err
			}
			if showStores {
				fmt.Fprintln(out)
				return writeStoresTable(out, cfg.Definition, set)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showStores, "stores", true, "Also list stores with their type and capabilities")

	return cmd
}

func writePlansTable(w io.Writer, set *plans.Set) error {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "PLAN\tORIGIN\tPRIMARY\tSECONDARIES\tTHRESHOLD\tPERIOD\tREVOKE AFTER\tTAGS")
	for _, p := range set.Plans() {
		var secondaries []string
		for _, s := range p.Secondaries() {
			name := s.Store.Name()
			if s.UpdateAfterPrimary {
				name += " (after)"
			}
			secondaries = append(secondaries, name)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.Name(),
			p.Origin().Name(),
			p.Primary().Name(),
			joinOrDash(secondaries),
			config.FormatDuration(p.RotationThreshold()),
			config.FormatDuration(p.RotationPeriod()),
			formatOptionalDuration(p.RevokeAfterPeriod()),
			joinOrDash(set.Tags(p.Name())),
		)
	}
	return tw.Flush()
}

func writeStoresTable(w io.Writer, def *config.Definition, set *plans.Set) error {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "STORE\tTYPE\tCAPABILITIES")
	for _, name := range set.StoreNames() {
		store, _ := set.Store(name)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", name, def.Stores[name].Type, secretstore.CapabilitiesOf(store))
	}
	return tw.Flush()
}
