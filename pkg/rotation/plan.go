package rotation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/systmms/rotator/internal/logging"
	"github.com/systmms/rotator/internal/metrics"
	"github.com/systmms/rotator/pkg/secretstore"
)

// Secondary is a store that receives every new value in addition to the primary.
type Secondary struct {
	Store secretstore.Store

	// UpdateAfterPrimary delays the write until the primary holds the new value.
	// Secondaries without it are written first, which suits consumers that must
	// accept the new credential before the system of record switches to it.
	UpdateAfterPrimary bool
}

// Plan drives the lifecycle of one secret across an origin store, a primary
// store and any number of secondary stores.
//
// A plan holds no state between executions: everything it decides is derived
// from fresh reads of the primary store. Plans are immutable after NewPlan and
// safe to execute concurrently with other plans.
type Plan struct {
	name        string
	origin      secretstore.Store
	primary     secretstore.Store
	secondaries []Secondary

	rotationThreshold time.Duration
	rotationPeriod    time.Duration
	revokeAfterPeriod *time.Duration

	logger  *logging.Logger
	metrics *metrics.RotationMetrics
	now     func() time.Time
	newID   func() string
}

// Option configures a Plan.
type Option func(*Plan)

// WithSecondary appends a secondary store. Secondaries keep the order in which
// they are added.
func WithSecondary(store secretstore.Store, updateAfterPrimary bool) Option {
	return func(p *Plan) {
		p.secondaries = append(p.secondaries, Secondary{Store: store, UpdateAfterPrimary: updateAfterPrimary})
	}
}

// WithRotationThreshold sets how long before expiry a secret becomes due.
func WithRotationThreshold(d time.Duration) Option {
	return func(p *Plan) { p.rotationThreshold = d }
}

// WithRotationPeriod sets how long a freshly minted value stays valid.
func WithRotationPeriod(d time.Duration) Option {
	return func(p *Plan) { p.rotationPeriod = d }
}

// WithRevokeAfterPeriod sets the grace period before a replaced generation is
// revoked. Without it, replaced generations are not scheduled for revocation.
func WithRevokeAfterPeriod(d time.Duration) Option {
	return func(p *Plan) { p.revokeAfterPeriod = &d }
}

// WithLogger sets the plan logger. Log lines are prefixed with the plan name.
func WithLogger(logger *logging.Logger) Option {
	return func(p *Plan) { p.logger = logger }
}

// WithMetrics enables metrics recording.
func WithMetrics(m *metrics.RotationMetrics) Option {
	return func(p *Plan) { p.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Plan) { p.now = now }
}

// WithOperationIDs overrides how operation ids are generated.
func WithOperationIDs(newID func() string) Option {
	return func(p *Plan) { p.newID = newID }
}

// NewPlan creates a rotation plan. primary may be the same store as origin, in
// which case the origin's value is never written back separately.
func NewPlan(name string, origin, primary secretstore.Store, opts ...Option) *Plan {
	p := &Plan{
		name:    name,
		origin:  origin,
		primary: primary,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.Discard()
	}
	p.logger = p.logger.WithPrefix(name)
	return p
}

// Name returns the plan name.
func (p *Plan) Name() string { return p.name }

// Origin returns the store that mints new values.
func (p *Plan) Origin() secretstore.Store { return p.origin }

// Primary returns the system of record.
func (p *Plan) Primary() secretstore.Store { return p.primary }

// Secondaries returns a copy of the secondary store list.
func (p *Plan) Secondaries() []Secondary {
	return append([]Secondary(nil), p.secondaries...)
}

// RotationThreshold returns how long before expiry a secret becomes due.
func (p *Plan) RotationThreshold() time.Duration { return p.rotationThreshold }

// RotationPeriod returns how long a new value stays valid.
func (p *Plan) RotationPeriod() time.Duration { return p.rotationPeriod }

// RevokeAfterPeriod returns the revocation grace period, or nil when unset.
func (p *Plan) RevokeAfterPeriod() *time.Duration { return p.revokeAfterPeriod }

// Validate checks that every store implements the capabilities its role needs.
func (p *Plan) Validate() error {
	if p.origin == nil || p.primary == nil {
		return secretstore.NewRotationError("plan %q requires an origin and a primary store", p.name)
	}
	if _, ok := p.origin.(secretstore.Originator); !ok {
		return secretstore.NewRotationError("origin store %q of plan %q cannot originate values", p.origin.Name(), p.name)
	}
	if _, ok := p.primary.(secretstore.Reader); !ok {
		return secretstore.NewRotationError("primary store %q of plan %q cannot be read", p.primary.Name(), p.name)
	}
	if _, ok := p.primary.(secretstore.Annotator); !ok {
		return secretstore.NewRotationError("primary store %q of plan %q cannot be annotated", p.primary.Name(), p.name)
	}
	if p.origin != p.primary {
		if _, ok := p.primary.(secretstore.Writer); !ok {
			return secretstore.NewRotationError("primary store %q of plan %q cannot be written and differs from the origin", p.primary.Name(), p.name)
		}
	}
	for _, s := range p.secondaries {
		if s.Store == nil {
			return secretstore.NewRotationError("plan %q has a nil secondary store", p.name)
		}
		if _, ok := s.Store.(secretstore.Writer); !ok {
			return secretstore.NewRotationError("secondary store %q of plan %q cannot be written", s.Store.Name(), p.name)
		}
	}
	return nil
}

// Execute runs one rotation cycle.
//
// The primary's current state is read and, unless onlyRotateExpiring is set and
// the secret expires after now+RotationThreshold, a new value is originated and
// propagated: pre-primary secondaries, the primary (when distinct from the
// origin), post-primary secondaries and finally the primary's completion mark.
// Rotation artifacts whose revoke-after date has passed are revoked in every
// cycle, whether or not a rotation happened.
//
// Errors are returned as they come; nothing is retried. A failure before the
// completion mark leaves the secret due, so the next cycle starts over.
func (p *Plan) Execute(ctx context.Context, onlyRotateExpiring, whatIf bool) (err error) {
	started := p.now()
	operationID := p.newID()
	outcome := metrics.OutcomeSkipped
	defer func() {
		if err != nil {
			outcome = metrics.OutcomeFailed
		}
		if p.metrics != nil {
			p.metrics.RecordExecution(p.name, outcome, whatIf, p.now().Sub(started).Seconds())
		}
	}()

	if err := p.Validate(); err != nil {
		return err
	}

	p.logger.Debug("%sStarting execution with operation id %s", logging.WhatIf(whatIf), operationID)

	currentState, err := p.primary.(secretstore.Reader).GetCurrentState(ctx)
	if err != nil {
		return err
	}
	if currentState == nil {
		currentState = &secretstore.SecretState{}
	}

	if p.isDue(currentState, onlyRotateExpiring) {
		if err := p.rotate(ctx, operationID, currentState, whatIf); err != nil {
			return err
		}
		outcome = metrics.OutcomeRotated
	} else {
		p.logger.Info("%sSkipping rotation: secret expires %s, after the %s threshold",
			logging.WhatIf(whatIf), formatDate(currentState.ExpirationDate), p.rotationThreshold)
	}

	return p.revokeRotationArtifacts(ctx, whatIf)
}

func (p *Plan) isDue(current *secretstore.SecretState, onlyRotateExpiring bool) bool {
	if !onlyRotateExpiring {
		return true
	}
	shouldRotateDate := p.now().Add(p.rotationThreshold)
	return current.ExpirationDate == nil || !current.ExpirationDate.After(shouldRotateDate)
}

func (p *Plan) rotate(ctx context.Context, operationID string, current *secretstore.SecretState, whatIf bool) error {
	prefix := logging.WhatIf(whatIf)
	p.logger.Info("%sRotating secret (operation %s)", prefix, operationID)

	value, err := p.originateNewValue(ctx, operationID, current, whatIf)
	if err != nil {
		return err
	}

	revokeAfter := p.revokeAfterDate()

	for _, s := range p.secondaries {
		if s.UpdateAfterPrimary {
			continue
		}
		if err := p.write(ctx, s.Store, value, current, revokeAfter, whatIf); err != nil {
			return err
		}
	}

	if p.origin != p.primary {
		if err := p.write(ctx, p.primary, value, current, revokeAfter, whatIf); err != nil {
			return err
		}
	}

	for _, s := range p.secondaries {
		if !s.UpdateAfterPrimary {
			continue
		}
		if err := p.write(ctx, s.Store, value, current, revokeAfter, whatIf); err != nil {
			return err
		}
	}

	p.logger.Debug("%sMarking rotation complete in primary store %s", prefix, p.primary.Name())
	if err := p.primary.(secretstore.Annotator).MarkRotationComplete(ctx, value, revokeAfter, whatIf); err != nil {
		return err
	}

	p.logger.Info("%sRotation complete; new value expires %s", prefix, formatDate(value.ExpirationDate))
	return nil
}

func (p *Plan) originateNewValue(ctx context.Context, operationID string, current *secretstore.SecretState, whatIf bool) (*secretstore.SecretValue, error) {
	expiresOn := p.now().Add(p.rotationPeriod)

	p.logger.Debug("%sOriginating new value from %s", logging.WhatIf(whatIf), p.origin.Name())
	value, err := p.origin.(secretstore.Originator).OriginateValue(ctx, current, expiresOn, whatIf)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, secretstore.NewRotationError("origin store %q returned no value", p.origin.Name())
	}

	if value.ExpirationDate == nil {
		value.ExpirationDate = &expiresOn
	}
	value.OperationID = operationID
	p.logger.Debug("%sOriginated %v from %s", logging.WhatIf(whatIf), logging.Secret(value.Value), p.origin.Name())
	return value, nil
}

func (p *Plan) write(ctx context.Context, store secretstore.Store, value *secretstore.SecretValue, current *secretstore.SecretState, revokeAfter *time.Time, whatIf bool) error {
	p.logger.Debug("%sWriting new value to %s", logging.WhatIf(whatIf), store.Name())
	return store.(secretstore.Writer).WriteSecret(ctx, value, current, revokeAfter, whatIf)
}

func (p *Plan) revokeAfterDate() *time.Time {
	if p.revokeAfterPeriod == nil {
		return nil
	}
	t := p.now().Add(*p.revokeAfterPeriod)
	return &t
}

// revokeRotationArtifacts asks every distinct revoking store for an action per
// due artifact and runs the actions in order.
func (p *Plan) revokeRotationArtifacts(ctx context.Context, whatIf bool) error {
	artifacts, err := p.primary.(secretstore.Reader).GetRotationArtifacts(ctx)
	if err != nil {
		return err
	}

	now := p.now()
	revokers := p.revokers()

	for _, artifact := range artifacts {
		if !artifact.IsRotationArtifact(now) {
			continue
		}
		p.logger.Info("%sRevoking rotation artifact %s (revoke after %s)",
			logging.WhatIf(whatIf), artifactLabel(artifact), formatDate(artifact.RevokeAfterDate))

		type pending struct {
			store  string
			action secretstore.RevocationAction
		}
		var actions []pending
		for _, revoker := range revokers {
			action, err := revoker.GetRevocationAction(ctx, artifact, whatIf)
			if err != nil {
				return err
			}
			if action != nil {
				actions = append(actions, pending{store: revoker.Name(), action: action})
			}
		}

		for _, a := range actions {
			if err := a.action(ctx); err != nil {
				return fmt.Errorf("revocation of %s in store %s failed: %w", artifactLabel(artifact), a.store, err)
			}
			if p.metrics != nil && !whatIf {
				p.metrics.RecordRevocation(p.name, a.store)
			}
		}
	}
	return nil
}

// revokers returns origin, primary and secondaries that can revoke, each once.
func (p *Plan) revokers() []secretstore.Revoker {
	candidates := []secretstore.Store{p.origin, p.primary}
	for _, s := range p.secondaries {
		candidates = append(candidates, s.Store)
	}

	var revokers []secretstore.Revoker
	seen := make(map[secretstore.Store]bool, len(candidates))
	for _, store := range candidates {
		if seen[store] {
			continue
		}
		seen[store] = true
		if r, ok := store.(secretstore.Revoker); ok {
			revokers = append(revokers, r)
		}
	}
	return revokers
}

func artifactLabel(s secretstore.SecretState) string {
	if s.ID != "" {
		return s.ID
	}
	if s.OperationID != "" {
		return "operation " + s.OperationID
	}
	return "<unnamed>"
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
