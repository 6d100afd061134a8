package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/systmms/rotator/internal/config"
	dserrors "github.com/systmms/rotator/internal/errors"
	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/internal/metrics"
	"github.com/systmms/rotator/internal/plans"
	"github.com/systmms/rotator/internal/stores"
)

// selection holds the plan selection flags shared by rotate and status.
type selection struct {
	all  bool
	tags []string
}

// loadPlans loads the configuration and builds every plan. m may be nil.
func loadPlans(cfg *config.Config, m *metrics.RotationMetrics) (*plans.Set, error) {
	if err := cfg.Load(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return plans.Build(cfg.Definition, stores.NewRegistry(logger), logger, m)
}

// metricsFor enables metrics when a textfile output path was requested.
func metricsFor(path string) *metrics.RotationMetrics {
	if path == "" {
		return nil
	}
	metrics.InitMetrics()
	return metrics.NewRotationMetrics()
}

func writeMetrics(path string) error {
	if path == "" {
		return nil
	}
	if err := metrics.WriteTextfile(path); err != nil {
		return dserrors.UserError{
			Message:    "Failed to write metrics file",
			Details:    err.Error(),
			Suggestion: "Check that the directory of --metrics-file exists and is writable",
			Err:        err,
		}
	}
	return nil
}

func validateConcurrency(n int) error {
	if n < 1 {
		return dserrors.UserError{
			Message:    fmt.Sprintf("Invalid --concurrency value: %d", n),
			Suggestion: "Use a value of 1 or more",
		}
	}
	return nil
}

func formatExpiration(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatOptionalDuration(d *time.Duration) string {
	if d == nil {
		return "-"
	}
	return config.FormatDuration(*d)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}
