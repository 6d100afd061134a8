package commands

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/spf13/cobra"
	"github.com/systmms/rotator/internal/config"
	dserrors "github.com/systmms/rotator/internal/errors"
	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/pkg/rotation"
	"github.com/systmms/rotator/pkg/tasks"
)

// NewRotateCommand creates the rotate command
func NewRotateCommand(cfg *config.Config) *cobra.Command {
	var (
		sel          selection
		whatIf       bool
		expiringOnly bool
		concurrency  int
		metricsFile  string
	)

	cmd := &cobra.Command{
		Use:   "rotate [plan...]",
		Short: "Execute rotation plans",
		Long: `Execute one rotation cycle for each selected plan.

A plan rotates when its primary secret expires within the rotation threshold
(or always, with --expiring-only=false). Every run also revokes earlier
generations whose revoke-after date has passed.`,
		Example: `  # Rotate everything that is about to expire
  rotator rotate --all

  # Preview a forced rotation of one plan
  rotator rotate app-pat --expiring-only=false --what-if

  # Rotate production plans two at a time and export metrics
  rotator rotate --tag prod --concurrency 2 --metrics-file /var/lib/node_exporter/rotator.prom`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateConcurrency(concurrency); err != nil {
				return err
			}

			m := metricsFor(metricsFile)
			set, err := loadPlans(cfg, m)
			if err != nil {
				return err
			}
			defer func() { _ = set.Close() }()

			selected, err := set.Select(args, sel.tags, sel.all)
			if err != nil {
				return err
			}

			logger := cfg.Logger
			if logger == nil {
				logger = logging.Discard()
			}
			runErr := runRotate(cmd.Context(), logger, selected, expiringOnly, whatIf, concurrency)
			if err := writeMetrics(metricsFile); err != nil {
				return err
			}
			return runErr
		},
	}

	cmd.Flags().BoolVar(&sel.all, "all", false, "Rotate every configured plan")
	cmd.Flags().StringSliceVar(&sel.tags, "tag", nil, "Select plans carrying any of these tags")
	cmd.Flags().BoolVar(&whatIf, "what-if", false, "Log what would change without changing anything")
	cmd.Flags().BoolVar(&expiringOnly, "expiring-only", true, "Only rotate secrets within their rotation threshold")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Maximum number of plans executed at once")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this file when done")

	return cmd
}

// planFailure ties an execution error to the plan that raised it.
type planFailure struct {
	plan string
	err  error
}

func (f *planFailure) Error() string { return fmt.Sprintf("plan %s: %v", f.plan, f.err) }

func (f *planFailure) Unwrap() error { return f.err }

// runRotate executes the plans and reports every failure. One failing plan
// never stops the others; a cancelled context stops plans that have not started.
func runRotate(ctx context.Context, logger *logging.Logger, selected []*rotation.Plan, expiringOnly, whatIf bool, concurrency int) error {
	logger.Info("%sExecuting %d plan(s)", logging.WhatIf(whatIf), len(selected))

	var started atomic.Int32
	_, err := tasks.LimitConcurrencyFunc(ctx, selected, func(ctx context.Context, p *rotation.Plan) (struct{}, error) {
		started.Add(1)
		if err := p.Execute(ctx, expiringOnly, whatIf); err != nil {
			return struct{}{}, &planFailure{plan: p.Name(), err: err}
		}
		return struct{}{}, nil
	}, concurrency)

	failures, interrupted := splitRunErrors(err)
	for _, f := range failures {
		logger.Error("Plan %s failed: %v", f.plan, f.err)
	}

	if interrupted != nil {
		return dserrors.UserError{
			Message:    fmt.Sprintf("Rotation interrupted after %d of %d plan(s) started", started.Load(), len(selected)),
			Details:    fmt.Sprintf("%d plan(s) failed before the interruption", len(failures)),
			Suggestion: "Run again; plans that did not finish rotate on the next run",
			Err:        interrupted,
		}
	}
	if len(failures) > 0 {
		return dserrors.UserError{
			Message:    fmt.Sprintf("%d of %d plan(s) failed", len(failures), len(selected)),
			Suggestion: "Fix the errors above and run again; failed plans start over on the next run",
		}
	}
	logger.Info("%sAll %d plan(s) completed", logging.WhatIf(whatIf), len(selected))
	return nil
}

// splitRunErrors separates plan failures from errors of the run itself, such
// as a cancelled context.
func splitRunErrors(err error) ([]*planFailure, error) {
	if err == nil {
		return nil, nil
	}
	errs := []error{err}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs = joined.Unwrap()
	}

	var failures []*planFailure
	var others []error
	for _, e := range errs {
		var f *planFailure
		if errors.As(e, &f) {
			failures = append(failures, f)
			continue
		}
		others = append(others, e)
	}
	return failures, errors.Join(others...)
}
