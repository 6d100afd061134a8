// Package secretstore defines the capability contract between a rotation plan and
// the systems that hold, mint and consume secret material.
//
// A store wraps exactly one secret inside one backing system (a Key Vault secret,
// an Azure DevOps personal access token, an SSM parameter, a database user, ...).
// What a plan may do with a store is decided by which capability interfaces the
// store implements:
//
//	┌──────────────┬────────────────────────────────────────────────────────┐
//	│ Capability   │ Operations                                             │
//	├──────────────┼────────────────────────────────────────────────────────┤
//	│ Reader       │ GetCurrentState, GetRotationArtifacts                  │
//	│ Originator   │ OriginateValue                                         │
//	│ Annotator    │ MarkRotationComplete                                   │
//	│ Writer       │ WriteSecret                                            │
//	│ Revoker      │ GetRevocationAction                                    │
//	└──────────────┴────────────────────────────────────────────────────────┘
//
// Stores never need to stub out operations they cannot perform. Callers check the
// capability with a type assertion, or with CapabilitiesOf for reporting:
//
//	caps := secretstore.CapabilitiesOf(store)
//	if !caps.CanWrite {
//	    return secretstore.NewRotationError("store %q cannot be written", store.Name())
//	}
//	err := store.(secretstore.Writer).WriteSecret(ctx, value, current, revokeAfter, whatIf)
//
// # Data Carriers
//
// SecretValue is the freshly minted material of one rotation. It is created by the
// origin, handed to every writer and finally to the primary's annotator. Its Tags
// travel with it so that a store can leave revocation hints (an authorization id,
// a version name) for whoever persists the value.
//
// SecretState is a snapshot of what a store holds at rest. A state with a
// RevokeAfterDate in the past is a rotation artifact: an earlier generation that is
// due to be revoked.
//
// # Dry Runs
//
// Every mutating operation takes a whatIf flag. When it is set the store must log
// the intended action and return a syntactically valid result without calling the
// backing system.
//
// # Security Considerations
//
// Implementations must:
//   - Never log SecretValue.Value or SecretState.Value; wrap them in
//     logging.Secret and pass backend errors through logging.RedactError
//   - Be safe for concurrent use; one store instance is shared by many plans
//   - Be pointer types, since plans compare stores by identity
package secretstore
