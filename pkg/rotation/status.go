package rotation

import (
	"context"
	"errors"
	"time"

	"github.com/systmms/rotator/pkg/secretstore"
	"github.com/systmms/rotator/pkg/tasks"
)

// PlanStatus is a point-in-time health report for a plan. It is computed fresh
// by GetStatus and never persisted.
type PlanStatus struct {
	PlanName string `json:"planName"`

	// ExpirationDate is the earliest expiration across the primary and every
	// readable secondary, or nil when none of them reports one.
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`

	Expired            bool `json:"expired"`
	ThresholdExpired   bool `json:"thresholdExpired"`
	RequiresRevocation bool `json:"requiresRevocation"`

	PrimaryState    *secretstore.SecretState  `json:"primaryState,omitempty"`
	SecondaryStates []secretstore.SecretState `json:"secondaryStates,omitempty"`

	// Err holds a rotation error raised while reading the stores. The other
	// fields are left at their zero values when it is set.
	Err error `json:"-"`
}

// Healthy reports whether the plan needs no attention.
func (s *PlanStatus) Healthy() bool {
	return s.Err == nil && !s.Expired && !s.ThresholdExpired && !s.RequiresRevocation
}

// Error returns the folded error message, or "" when there is none.
func (s *PlanStatus) Error() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// GetStatus reads the plan's stores and reports how close the secret is to
// expiring and whether earlier generations await revocation.
//
// Secondaries that cannot be read are skipped. A RotationError raised by any
// store is folded into the returned status so that a sweep over many plans can
// keep going; any other error is returned.
func (p *Plan) GetStatus(ctx context.Context) (*PlanStatus, error) {
	status, err := p.getStatus(ctx)
	if err != nil {
		var rotationErr *secretstore.RotationError
		if errors.As(err, &rotationErr) {
			return &PlanStatus{PlanName: p.name, Err: err}, nil
		}
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.RecordStatus(p.name, status.Expired, status.ThresholdExpired, status.RequiresRevocation)
	}
	return status, nil
}

func (p *Plan) getStatus(ctx context.Context) (*PlanStatus, error) {
	primary, ok := p.primary.(secretstore.Reader)
	if !ok {
		return nil, secretstore.NewRotationError("primary store %q of plan %q cannot be read", p.primary.Name(), p.name)
	}

	now := p.now()

	primaryState, err := primary.GetCurrentState(ctx)
	if err != nil {
		return nil, err
	}
	if primaryState == nil {
		primaryState = &secretstore.SecretState{}
	}

	var readers []secretstore.Reader
	for _, s := range p.secondaries {
		if r, ok := s.Store.(secretstore.Reader); ok {
			readers = append(readers, r)
		}
	}

	secondaryStates, err := tasks.LimitConcurrencyFunc(ctx, readers, func(ctx context.Context, r secretstore.Reader) (secretstore.SecretState, error) {
		state, err := r.GetCurrentState(ctx)
		if err != nil || state == nil {
			return secretstore.SecretState{}, err
		}
		return *state, nil
	}, tasks.Unlimited)
	if err != nil {
		return nil, err
	}

	artifacts, err := primary.GetRotationArtifacts(ctx)
	if err != nil {
		return nil, err
	}

	expiration := primaryState.ExpirationDate
	for _, state := range secondaryStates {
		if state.ExpirationDate == nil {
			continue
		}
		if expiration == nil || state.ExpirationDate.Before(*expiration) {
			expiration = state.ExpirationDate
		}
	}

	requiresRevocation := false
	for _, artifact := range artifacts {
		if artifact.IsRotationArtifact(now) {
			requiresRevocation = true
			break
		}
	}

	thresholdDate := now.Add(p.rotationThreshold)

	return &PlanStatus{
		PlanName:           p.name,
		ExpirationDate:     expiration,
		Expired:            expiration == nil || !expiration.After(now),
		ThresholdExpired:   expiration != nil && !expiration.After(thresholdDate),
		RequiresRevocation: requiresRevocation,
		PrimaryState:       primaryState,
		SecondaryStates:    secondaryStates,
	}, nil
}
