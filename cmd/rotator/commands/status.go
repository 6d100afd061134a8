package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/systmms/rotator/internal/config"
	dserrors "github.com/systmms/rotator/internal/errors"
	"github.com/systmms/rotator/pkg/rotation"
	"github.com/systmms/rotator/pkg/tasks"
)

// statusOutput adds the folded error message to the JSON form of a status.
type statusOutput struct {
	*rotation.PlanStatus
	Failure   string `json:"error,omitempty"`
	IsHealthy bool   `json:"healthy"`
}

// NewStatusCommand creates the status command
func NewStatusCommand(cfg *config.Config) *cobra.Command {
	var (
		sel           selection
		output        string
		concurrency   int
		metricsFile   string
		failUnhealthy bool
	)

	cmd := &cobra.Command{
		Use:   "status [plan...]",
		Short: "Report expiration and revocation status of plans",
		Long: `Read every store of the selected plans and report whether the secret has
expired, is within its rotation threshold, or has earlier generations waiting
to be revoked. Without plan names or tags every plan is reported.`,
		Example: `  # Status of all plans
  rotator status

  # JSON status of production plans, failing when any needs attention
  rotator status --tag prod --output json --exit-code`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "table" && output != "json" {
				return dserrors.UserError{
					Message:    fmt.Sprintf("Invalid --output value: %s", output),
					Suggestion: "Use table or json",
				}
			}
			if err := validateConcurrency(concurrency); err != nil {
				return err
			}

			m := metricsFor(metricsFile)
			set, err := loadPlans(cfg, m)
			if err != nil {
				return err
			}
			defer func() { _ = set.Close() }()

			all := sel.all || (len(args) == 0 && len(sel.tags) == 0)
			selected, err := set.Select(args, sel.tags, all)
			if err != nil {
				return err
			}

			statuses, err := collectStatus(cmd.Context(), selected, concurrency)
			if err != nil {
				return err
			}
			if err := writeMetrics(metricsFile); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output == "json" {
				err = writeStatusJSON(out, statuses)
			} else {
				err = writeStatusTable(out, statuses)
			}
			if err != nil {
				return err
			}

			if failUnhealthy {
				unhealthy := 0
				for _, s := range statuses {
					if !s.Healthy() {
						unhealthy++
					}
				}
				if unhealthy > 0 {
					return dserrors.UserError{
						Message:    fmt.Sprintf("%d of %d plan(s) need attention", unhealthy, len(statuses)),
						Suggestion: "Run 'rotator rotate' for the listed plans",
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&sel.all, "all", false, "Report every configured plan")
	cmd.Flags().StringSliceVar(&sel.tags, "tag", nil, "Select plans carrying any of these tags")
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format: table, json")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Maximum number of plans read at once")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file when done")
	cmd.Flags().BoolVar(&failUnhealthy, "exit-code", false, "Exit non-zero when any plan needs attention")

	return cmd
}

func collectStatus(ctx context.Context, selected []*rotation.Plan, concurrency int) ([]*rotation.PlanStatus, error) {
	return tasks.LimitConcurrencyFunc(ctx, selected, func(ctx context.Context, p *rotation.Plan) (*rotation.PlanStatus, error) {
		status, err := p.GetStatus(ctx)
		if err != nil {
			// Keep going for the other plans; report the failure in the row.
			return &rotation.PlanStatus{PlanName: p.Name(), Err: err}, nil
		}
		return status, nil
	}, concurrency)
}

func writeStatusJSON(w io.Writer, statuses []*rotation.PlanStatus) error {
	rows := make([]statusOutput, len(statuses))
	for i, s := range statuses {
		rows[i] = statusOutput{PlanStatus: s, Failure: s.Error(), IsHealthy: s.Healthy()}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

func writeStatusTable(w io.Writer, statuses []*rotation.PlanStatus) error {
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "PLAN\tEXPIRES\tEXPIRED\tTHRESHOLD\tREVOKE DUE\tSTATUS")
	for _, s := range statuses {
		state := "healthy"
		switch {
		case s.Err != nil:
			state = "error: " + s.Error()
		case !s.Healthy():
			state = "needs attention"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			s.PlanName,
			formatExpiration(s.ExpirationDate),
			yesNo(s.Expired),
			yesNo(s.ThresholdExpired),
			yesNo(s.RequiresRevocation),
			state,
		)
	}
	return tw.Flush()
}
