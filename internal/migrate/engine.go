package migrate

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/crochetdb/crochet/internal/driver"
	"github.com/crochetdb/crochet/internal/ir"
	"github.com/crochetdb/crochet/internal/ledger"
)

// Engine orders registered migrations by parent chain, validates the chain
// against the ledger, and drives upgrade and downgrade execution. Ledger
// commit happens strictly after the graph-side operations of a migration
// succeed, so the ledger's applied record is a reliable upper bound on what
// the graph reflects.
type Engine struct {
	registry *Registry
	ledger   *ledger.Ledger
	driver   driver.GraphDriver

	// AllowHashMismatch downgrades the snapshot hash check from fatal to a
	// logged warning for upgrade and downgrade. Verify always reports
	// mismatches regardless.
	AllowHashMismatch bool
}

func NewEngine(registry *Registry, led *ledger.Ledger, drv driver.GraphDriver) *Engine {
	return &Engine{registry: registry, ledger: led, driver: drv}
}

// Status is the read-only view of chain and ledger state. Issues carries
// drift and hash inconsistencies without blocking the report.
type Status struct {
	Head    string
	Applied []ledger.AppliedMigration
	Pending []string
	Batches []ledger.DatasetBatch
	Issues  []string
}

// Plan is the result of a dry run: what an upgrade or downgrade would do.
type Plan struct {
	Direction string // "upgrade" or "downgrade"
	Revisions []string
}

// Chain returns the registered migrations in root-to-head order.
func (e *Engine) Chain() ([]Migration, error) {
	return BuildChain(e.registry)
}

// validateForRun performs the pre-execution checks: chain integrity, ledger
// drift, and snapshot hash consistency for every applied migration.
func (e *Engine) validateForRun() ([]Migration, []string, error) {
	chain, err := BuildChain(e.registry)
	if err != nil {
		return nil, nil, err
	}
	applied, err := e.ledger.AppliedRevisions()
	if err != nil {
		return nil, nil, err
	}
	if err := checkDrift(chain, applied); err != nil {
		return nil, nil, err
	}
	for _, rev := range applied {
		m, ok := e.registry.Get(rev)
		if !ok {
			continue
		}
		if err := e.checkSnapshotHash(m); err != nil {
			if !e.AllowHashMismatch {
				return nil, nil, err
			}
			log.Warn().Str("revision", rev).Err(err).Msg("hash mismatch overridden")
		}
	}
	return chain, applied, nil
}

// checkSnapshotHash recomputes the stored snapshot's hash for a migration
// and compares it to the hash the migration declared.
func (e *Engine) checkSnapshotHash(m Migration) error {
	if m.SchemaHash == "" {
		return nil
	}
	raw, ok, err := e.ledger.GetSnapshot(m.SchemaHash)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	snap, err := ir.FromJSON(raw)
	if err != nil {
		return fmt.Errorf("stored snapshot for '%s' is unreadable: %w", m.RevisionID, err)
	}
	recomputed, err := ir.ComputeHash(snap)
	if err != nil {
		return err
	}
	if recomputed != m.SchemaHash {
		return &HashMismatchError{RevisionID: m.RevisionID, Declared: m.SchemaHash, Recomputed: recomputed}
	}
	return nil
}

// pendingAfter returns chain entries beyond the applied prefix, truncated at
// target when given.
func pendingAfter(chain []Migration, applied []string, target string) ([]Migration, error) {
	pending := chain[len(applied):]
	if target == "" {
		return pending, nil
	}
	for i, m := range pending {
		if m.RevisionID == target {
			return pending[:i+1], nil
		}
	}
	return nil, fmt.Errorf("target revision '%s' is not pending", target)
}

func checkDowngradeTarget(applied []string, target string) error {
	if target == "" {
		return nil
	}
	for _, rev := range applied {
		if rev == target {
			return nil
		}
	}
	return fmt.Errorf("target revision '%s' is not applied", target)
}

// Upgrade applies pending migrations in chain order up to target (or the
// chain head). It returns the revisions applied before any failure; earlier
// migrations in the run stay applied, and no compensation is attempted
// against the graph.
func (e *Engine) Upgrade(ctx context.Context, target string) ([]string, error) {
	chain, applied, err := e.validateForRun()
	if err != nil {
		return nil, err
	}
	pending, err := pendingAfter(chain, applied, target)
	if err != nil {
		return nil, err
	}

	var done []string
	for _, m := range pending {
		if err := e.applyOne(ctx, m); err != nil {
			return done, err
		}
		done = append(done, m.RevisionID)
		log.Info().Str("revision", m.RevisionID).Msg("migration applied")
	}
	return done, nil
}

func (e *Engine) applyOne(ctx context.Context, m Migration) error {
	tx, err := e.ledger.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	opCtx := newOperationContext(ctx, e.driver, tx, m.RevisionID, false)
	if m.Upgrade != nil {
		if err := m.Upgrade(opCtx); err != nil {
			return &MigrationError{RevisionID: m.RevisionID, Phase: "upgrade", Err: err}
		}
	}

	if err := tx.RecordApplied(ledger.AppliedMigration{
		RevisionID:   m.RevisionID,
		ParentID:     m.ParentID,
		Description:  m.Description,
		SchemaHash:   m.SchemaHash,
		RollbackSafe: m.RollbackSafe,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// Downgrade reverts applied migrations from the head down to target
// (exclusive), or a single step when target is empty. A migration marked
// rollback-unsafe refuses before its body runs, leaving the ledger
// untouched.
func (e *Engine) Downgrade(ctx context.Context, target string) ([]string, error) {
	chain, applied, err := e.validateForRun()
	if err != nil {
		return nil, err
	}
	if err := checkDowngradeTarget(applied, target); err != nil {
		return nil, err
	}

	var reverted []string
	for i := len(applied) - 1; i >= 0; i-- {
		m := chain[i]
		if target != "" && m.RevisionID == target {
			break
		}
		if !m.RollbackSafe {
			return reverted, &RollbackUnsafeError{RevisionID: m.RevisionID}
		}
		if err := e.revertOne(ctx, m); err != nil {
			return reverted, err
		}
		reverted = append(reverted, m.RevisionID)
		log.Info().Str("revision", m.RevisionID).Msg("migration reverted")
		if target == "" {
			break
		}
	}
	return reverted, nil
}

func (e *Engine) revertOne(ctx context.Context, m Migration) error {
	tx, err := e.ledger.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	opCtx := newOperationContext(ctx, e.driver, tx, m.RevisionID, false)
	if m.Downgrade != nil {
		if err := m.Downgrade(opCtx); err != nil {
			return &MigrationError{RevisionID: m.RevisionID, Phase: "downgrade", Err: err}
		}
	}

	if err := tx.UnrecordApplied(m.RevisionID); err != nil {
		return err
	}
	if err := tx.DeleteBatchesFor(m.RevisionID); err != nil {
		return err
	}
	return tx.Commit()
}

// PlanUpgrade runs the same selection and validation as Upgrade without
// touching the graph or the ledger.
func (e *Engine) PlanUpgrade(target string) (*Plan, error) {
	chain, applied, err := e.validateForRun()
	if err != nil {
		return nil, err
	}
	pending, err := pendingAfter(chain, applied, target)
	if err != nil {
		return nil, err
	}
	plan := &Plan{Direction: "upgrade"}
	for _, m := range pending {
		plan.Revisions = append(plan.Revisions, m.RevisionID)
	}
	return plan, nil
}

// PlanDowngrade reports which revisions a downgrade would revert.
func (e *Engine) PlanDowngrade(target string) (*Plan, error) {
	chain, applied, err := e.validateForRun()
	if err != nil {
		return nil, err
	}
	if err := checkDowngradeTarget(applied, target); err != nil {
		return nil, err
	}
	plan := &Plan{Direction: "downgrade"}
	for i := len(applied) - 1; i >= 0; i-- {
		m := chain[i]
		if target != "" && m.RevisionID == target {
			break
		}
		plan.Revisions = append(plan.Revisions, m.RevisionID)
		if target == "" {
			break
		}
	}
	return plan, nil
}

// Status reports head, applied and pending sets, and batch summaries. Drift
// and hash inconsistencies are collected as issues rather than failing the
// report; only a malformed chain blocks it.
func (e *Engine) Status() (*Status, error) {
	chain, err := BuildChain(e.registry)
	if err != nil {
		return nil, err
	}

	st := &Status{}
	applied, err := e.ledger.AppliedMigrations()
	if err != nil {
		return nil, err
	}
	st.Applied = applied
	if len(applied) > 0 {
		st.Head = applied[len(applied)-1].RevisionID
	}

	appliedSet := make(map[string]struct{}, len(applied))
	order := make([]string, len(applied))
	for i, m := range applied {
		appliedSet[m.RevisionID] = struct{}{}
		order[i] = m.RevisionID
	}
	for _, m := range chain {
		if _, ok := appliedSet[m.RevisionID]; !ok {
			st.Pending = append(st.Pending, m.RevisionID)
		}
	}

	if err := checkDrift(chain, order); err != nil {
		st.Issues = append(st.Issues, err.Error())
	}
	for _, rev := range order {
		if m, ok := e.registry.Get(rev); ok {
			if err := e.checkSnapshotHash(m); err != nil {
				st.Issues = append(st.Issues, err.Error())
			}
		} else {
			st.Issues = append(st.Issues, fmt.Sprintf("ledger references unknown migration '%s'", rev))
		}
	}

	batches, err := e.ledger.Batches("")
	if err != nil {
		return nil, err
	}
	st.Batches = batches
	return st, nil
}
