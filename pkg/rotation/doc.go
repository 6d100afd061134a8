// Package rotation propagates a freshly minted secret across every store that
// holds a copy of it, and revokes earlier generations once their grace period
// has passed.
//
// # Roles
//
// A Plan wires stores into three roles. One cycle touches them in this order:
//
//	origin.OriginateValue
//	  -> secondaries (before).WriteSecret
//	  -> primary.WriteSecret
//	  -> secondaries (after).WriteSecret
//	  -> primary.MarkRotationComplete
//
//   - The origin mints new material (a PAT, a random password, ...).
//   - The primary is the system of record. Its current state decides whether a
//     rotation is due and its artifacts decide what to revoke. Origin and
//     primary may be the same store.
//   - Secondaries receive copies. Each is written either before or after the
//     primary, depending on its UpdateAfterPrimary flag.
//
// # Execution
//
// Execute performs one complete cycle:
//
//  1. Validate that every store implements the capabilities its role needs.
//  2. Read the primary's current state.
//  3. Skip the rotation if only expiring secrets should be rotated and the
//     current expiration lies beyond now+RotationThreshold.
//  4. Otherwise originate a value valid for RotationPeriod and write it to the
//     pre-primary secondaries, the primary and the post-primary secondaries,
//     then mark the rotation complete on the primary.
//  5. Revoke every rotation artifact whose revoke-after date has passed. This
//     step runs on every cycle.
//
// A plan keeps no state between executions. Any failure aborts the cycle and
// leaves already completed writes in place; because the next cycle re-reads the
// primary, it simply rotates again.
//
// # What-if
//
// With whatIf set every store call still happens, but stores must not change
// anything. Log lines of a dry run carry a "[what-if]" marker.
//
// # Status
//
// GetStatus computes a PlanStatus from fresh reads of the primary and every
// readable secondary. Rotation errors are folded into the status so that a
// report over many plans is never cut short by one of them.
//
// # Example
//
//	plan := rotation.NewPlan("app-pat", pat, vault,
//	    rotation.WithSecondary(ssm, true),
//	    rotation.WithRotationThreshold(7*24*time.Hour),
//	    rotation.WithRotationPeriod(30*24*time.Hour),
//	    rotation.WithRevokeAfterPeriod(7*24*time.Hour),
//	)
//	if err := plan.Execute(ctx, true, false); err != nil {
//	    return err
//	}
package rotation
