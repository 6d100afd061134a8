package secretstore

import (
	"context"
	"strings"
	"time"
)

// Store is implemented by every secret store.
//
// On its own a Store can do nothing; the capability interfaces below describe
// which operations a rotation plan may invoke on it.
type Store interface {
	// Name returns the configured name of the store. It is used in log lines,
	// error messages and metrics labels.
	Name() string
}

// Reader is implemented by stores that can report the secret they currently hold.
type Reader interface {
	Store

	// GetCurrentState returns a fresh snapshot of the current secret.
	//
	// A secret that does not exist yet is not an error: implementations return a
	// state with a nil ExpirationDate and a StatusCode describing the miss, which
	// makes the secret due for rotation.
	GetCurrentState(ctx context.Context) (*SecretState, error)

	// GetRotationArtifacts returns every earlier generation the store still tracks.
	// Each artifact's RevokeAfterDate decides when it becomes eligible for
	// revocation.
	GetRotationArtifacts(ctx context.Context) ([]SecretState, error)
}

// Originator is implemented by stores that can mint new secret material.
type Originator interface {
	Store

	// OriginateValue mints a new value that should stay valid until expiresOn.
	//
	// Origins must tolerate being asked again after a partially propagated
	// rotation; the next cycle simply re-originates. With whatIf set no external
	// call may be made and a placeholder value is returned.
	OriginateValue(ctx context.Context, current *SecretState, expiresOn time.Time, whatIf bool) (*SecretValue, error)
}

// Annotator is implemented by stores that can record that a rotation completed.
//
// MarkRotationComplete is the only durability checkpoint of a rotation: until it
// succeeds, the next cycle treats the secret as not yet rotated.
type Annotator interface {
	Store

	MarkRotationComplete(ctx context.Context, value *SecretValue, revokeAfter *time.Time, whatIf bool) error
}

// Writer is implemented by stores that accept a new secret value.
type Writer interface {
	Store

	// WriteSecret stores value. Writing the same value twice must be harmless.
	// revokeAfter, when set, is the date after which the generation being
	// replaced (current) may be revoked.
	WriteSecret(ctx context.Context, value *SecretValue, current *SecretState, revokeAfter *time.Time, whatIf bool) error
}

// RevocationAction is a deferred revocation returned by a Revoker.
type RevocationAction func(ctx context.Context) error

// Revoker is implemented by stores that can destroy an earlier generation.
type Revoker interface {
	Store

	// GetRevocationAction returns the action that revokes this store's trace of
	// state, or nil when the store has nothing to revoke for it. Returning an
	// action instead of revoking lets the caller sequence revocations across
	// stores.
	GetRevocationAction(ctx context.Context, state SecretState, whatIf bool) (RevocationAction, error)
}

// Capabilities summarises which capability interfaces a store implements.
type Capabilities struct {
	CanRead      bool `json:"canRead"`
	CanOriginate bool `json:"canOriginate"`
	CanAnnotate  bool `json:"canAnnotate"`
	CanWrite     bool `json:"canWrite"`
	CanRevoke    bool `json:"canRevoke"`
}

// CapabilitiesOf reports the capabilities of store. A nil store has none.
func CapabilitiesOf(store Store) Capabilities {
	if store == nil {
		return Capabilities{}
	}
	_, canRead := store.(Reader)
	_, canOriginate := store.(Originator)
	_, canAnnotate := store.(Annotator)
	_, canWrite := store.(Writer)
	_, canRevoke := store.(Revoker)

	return Capabilities{
		CanRead:      canRead,
		CanOriginate: canOriginate,
		CanAnnotate:  canAnnotate,
		CanWrite:     canWrite,
		CanRevoke:    canRevoke,
	}
}

// String renders the capability set in a compact "read,write" form.
func (c Capabilities) String() string {
	var parts []string
	if c.CanRead {
		parts = append(parts, "read")
	}
	if c.CanOriginate {
		parts = append(parts, "originate")
	}
	if c.CanAnnotate {
		parts = append(parts, "annotate")
	}
	if c.CanWrite {
		parts = append(parts, "write")
	}
	if c.CanRevoke {
		parts = append(parts, "revoke")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}
