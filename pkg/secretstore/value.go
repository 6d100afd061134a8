package secretstore

import "time"

// SecretValue is the material minted by an origin during one rotation.
//
// It lives only for the duration of a single plan execution. Stores may add
// entries to Tags while writing. The primary persists the tags when the rotation
// is marked complete, which is how revocation hints reach later revocation
// sweeps.
type SecretValue struct {
	// OperationID correlates every write of one rotation.
	OperationID string

	// ExpirationDate is when the value stops being valid. The plan fills it in
	// when the origin leaves it empty.
	ExpirationDate *time.Time

	// Value is the raw secret. Never log it.
	Value string

	// PrimaryState is an opaque round-trip token for an origin that is also the
	// primary store. The plan never looks at it.
	PrimaryState any

	// Tags carries revocation hints and other metadata forward.
	Tags map[string]string
}

// SetTag records a tag, allocating the map on first use.
func (v *SecretValue) SetTag(key, value string) {
	if v.Tags == nil {
		v.Tags = make(map[string]string)
	}
	v.Tags[key] = value
}

// SecretState is an at-rest snapshot of a secret as reported by a store.
//
// States are never mutated by the plan; every read produces a new one.
type SecretState struct {
	// ID identifies the generation inside the store (a version id, a
	// parameter version, ...).
	ID string `json:"id,omitempty"`

	// OperationID is the operation that wrote this generation, if known.
	OperationID string `json:"operationId,omitempty"`

	ExpirationDate  *time.Time `json:"expirationDate,omitempty"`
	RevokeAfterDate *time.Time `json:"revokeAfterDate,omitempty"`

	// StatusCode and ErrorMessage describe a degraded read, for example a
	// secret that does not exist yet.
	StatusCode   int    `json:"statusCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`

	Tags map[string]string `json:"tags,omitempty"`

	// Value may be empty when the store only reports metadata.
	Value string `json:"-"`
}

// IsRotationArtifact reports whether the state is an earlier generation whose
// revoke-after date has strictly passed.
func (s SecretState) IsRotationArtifact(now time.Time) bool {
	return s.RevokeAfterDate != nil && s.RevokeAfterDate.Before(now)
}

// Tag returns the tag value for key, or "" when absent.
func (s SecretState) Tag(key string) string {
	if s.Tags == nil {
		return ""
	}
	return s.Tags[key]
}
