// Package plans turns a loaded configuration into executable rotation plans.
package plans

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/systmms/rotator/internal/config"
	dserrors "github.com/systmms/rotator/internal/errors"
	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/internal/metrics"
	"github.com/systmms/rotator/internal/stores"
	"github.com/systmms/rotator/pkg/rotation"
	"github.com/systmms/rotator/pkg/secretstore"
)

// Set holds the plans built from one configuration and the stores they share.
type Set struct {
	plans  []*rotation.Plan
	byName map[string]*rotation.Plan
	tags   map[string][]string
	stores map[string]secretstore.Store
}

// Build creates every configured store once and wires the plans that reference
// them, in configuration order. Plans whose stores lack a capability required by
// their role are rejected.
func Build(def *config.Definition, registry *stores.Registry, logger *logging.Logger, m *metrics.RotationMetrics, opts ...rotation.Option) (*Set, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	set := &Set{
		byName: make(map[string]*rotation.Plan, len(def.Plans)),
		tags:   make(map[string][]string, len(def.Plans)),
		stores: make(map[string]secretstore.Store, len(def.Stores)),
	}

	for _, name := range def.StoreNames() {
		sc := def.Stores[name]
		store, err := registry.Create(name, sc.Type, sc.Config)
		if err != nil {
			_ = set.Close()
			return nil, fmt.Errorf("failed to create store %s: %w", name, err)
		}
		if logger.IsDebug() {
			logger.Debug("Created %s store %s (%s)", sc.Type, name, secretstore.CapabilitiesOf(store))
		}
		set.stores[name] = store
	}

	for _, pc := range def.Plans {
		plan, err := set.buildPlan(def, pc, logger, m, opts)
		if err != nil {
			_ = set.Close()
			return nil, err
		}
		set.plans = append(set.plans, plan)
		set.byName[pc.Name] = plan
		set.tags[pc.Name] = pc.Tags
	}

	return set, nil
}

func (s *Set) buildPlan(def *config.Definition, pc config.PlanConfig, logger *logging.Logger, m *metrics.RotationMetrics, extra []rotation.Option) (*rotation.Plan, error) {
	settings := def.EffectiveSettings(pc)

	opts := []rotation.Option{
		rotation.WithRotationThreshold(settings.RotationThreshold),
		rotation.WithRotationPeriod(settings.RotationPeriod),
		rotation.WithLogger(logger),
	}
	if settings.RevokeAfterPeriod != nil {
		opts = append(opts, rotation.WithRevokeAfterPeriod(*settings.RevokeAfterPeriod))
	}
	if m != nil {
		opts = append(opts, rotation.WithMetrics(m))
	}
	for _, sec := range pc.Secondaries {
		opts = append(opts, rotation.WithSecondary(s.stores[sec.Store], sec.UpdateAfterPrimary))
	}
	opts = append(opts, extra...)

	plan := rotation.NewPlan(pc.Name, s.stores[pc.Origin], s.stores[pc.PrimaryStore()], opts...)
	if err := plan.Validate(); err != nil {
		return nil, dserrors.ConfigError{
			Field:      fmt.Sprintf("plans.%s", pc.Name),
			Message:    err.Error(),
			Suggestion: "Check the store types assigned to origin, primary and secondaries; run 'rotator plans' to see each store's capabilities",
		}
	}
	return plan, nil
}

// Plans returns all plans in configuration order.
func (s *Set) Plans() []*rotation.Plan {
	return append([]*rotation.Plan(nil), s.plans...)
}

// Plan returns the plan called name.
func (s *Set) Plan(name string) (*rotation.Plan, bool) {
	p, ok := s.byName[name]
	return p, ok
}

// Tags returns the tags configured for a plan.
func (s *Set) Tags(name string) []string {
	return s.tags[name]
}

// Store returns the shared store called name.
func (s *Set) Store(name string) (secretstore.Store, bool) {
	st, ok := s.stores[name]
	return st, ok
}

// StoreNames returns the store names in sorted order.
func (s *Set) StoreNames() []string {
	names := make([]string, 0, len(s.stores))
	for name := range s.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select returns the plans named in names or carrying any of tags, in
// configuration order. With all set every plan is returned.
func (s *Set) Select(names, tags []string, all bool) ([]*rotation.Plan, error) {
	if all {
		return s.Plans(), nil
	}
	if len(names) == 0 && len(tags) == 0 {
		return nil, dserrors.UserError{
			Message:    "No plans selected",
			Suggestion: "Name one or more plans, pass --tag, or use --all",
		}
	}

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		if _, ok := s.byName[name]; !ok {
			return nil, dserrors.ConfigError{
				Field:      "plan",
				Value:      name,
				Message:    "plan not found",
				Suggestion: "Available plans: " + strings.Join(s.planNames(), ", "),
			}
		}
		wanted[name] = true
	}

	var selected []*rotation.Plan
	for _, p := range s.plans {
		if wanted[p.Name()] || hasAnyTag(s.tags[p.Name()], tags) {
			selected = append(selected, p)
		}
	}
	if len(selected) == 0 {
		return nil, dserrors.UserError{
			Message:    fmt.Sprintf("No plans carry the tags %s", strings.Join(tags, ", ")),
			Suggestion: "Run 'rotator plans' to list plans and their tags",
		}
	}
	return selected, nil
}

// Close releases stores holding connections, such as SQL user stores.
func (s *Set) Close() error {
	var errs []error
	for _, name := range s.StoreNames() {
		if c, ok := s.stores[name].(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close store %s: %w", name, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Set) planNames() []string {
	names := make([]string, len(s.plans))
	for i, p := range s.plans {
		names[i] = p.Name()
	}
	return names
}

func hasAnyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}
