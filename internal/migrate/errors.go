package migrate

import "fmt"

// ChainError means the discovered migration set does not form a single
// linear parent chain: multiple roots, a branch, a cycle, or a dangling
// parent reference. Fatal for every engine action.
type ChainError struct {
	Reason string
}

func (e *ChainError) Error() string {
	return "migration chain error: " + e.Reason
}

// DriftError means the ledger's applied order is not a prefix of the chain
// order. Fatal for upgrade and downgrade, reported by status and verify.
type DriftError struct {
	Reason string
}

func (e *DriftError) Error() string {
	return "ledger drift: " + e.Reason
}

// HashMismatchError means a stored snapshot's recomputed hash does not match
// the hash a migration declared at authoring time.
type HashMismatchError struct {
	RevisionID string
	Declared   string
	Recomputed string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("schema hash mismatch for '%s': declared %.12s, recomputed %.12s",
		e.RevisionID, e.Declared, e.Recomputed)
}

// RollbackUnsafeError means a downgrade was attempted on a migration marked
// rollback_safe = false. Refusal by policy, not a bug.
type RollbackUnsafeError struct {
	RevisionID string
}

func (e *RollbackUnsafeError) Error() string {
	return fmt.Sprintf("migration '%s' is marked rollback-unsafe; downgrade is not permitted", e.RevisionID)
}

// OperationError wraps a failed schema or data operation inside a migration
// body. It aborts the enclosing migration's transaction.
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation '%s' failed: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// MigrationError wraps a failed upgrade or downgrade body.
type MigrationError struct {
	RevisionID string
	Phase      string // "upgrade" or "downgrade"
	Err        error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration '%s' failed during %s: %v", e.RevisionID, e.Phase, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}
