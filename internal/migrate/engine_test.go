package migrate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crochetdb/crochet/internal/ledger"
)

func newTestEngine(t *testing.T, drv *MockDriver, migrations ...Migration) *Engine {
	t.Helper()
	reg := registryOf(t, migrations...)
	led, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { led.Close() })
	return NewEngine(reg, led, drv)
}

// noopMigration builds a reversible migration with empty bodies.
func noopMigration(revisionID, parentID string) Migration {
	return Migration{
		RevisionID:   revisionID,
		ParentID:     parentID,
		RollbackSafe: true,
		Upgrade:      func(ctx *OperationContext) error { return nil },
		Downgrade:    func(ctx *OperationContext) error { return nil },
	}
}

func TestUpgrade_AppliesAllPending(t *testing.T) {
	drv := &MockDriver{}
	e := newTestEngine(t, drv,
		noopMigration("a", ""),
		noopMigration("b", "a"),
		noopMigration("c", "b"),
	)

	applied, err := e.Upgrade(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, applied)

	revs, err := e.Ledger().AppliedRevisions()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, revs)

	// Re-running is a no-op.
	applied, err = e.Upgrade(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestUpgrade_StopsAtTarget(t *testing.T) {
	e := newTestEngine(t, &MockDriver{},
		noopMigration("a", ""),
		noopMigration("b", "a"),
		noopMigration("c", "b"),
	)

	applied, err := e.Upgrade(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, applied)

	revs, err := e.Ledger().AppliedRevisions()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, revs)
}

func TestUpgrade_UnknownTarget(t *testing.T) {
	e := newTestEngine(t, &MockDriver{}, noopMigration("a", ""))
	_, err := e.Upgrade(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not pending")
}

func TestUpgrade_FailureKeepsEarlierApplied(t *testing.T) {
	boom := errors.New("boom")
	bad := noopMigration("b", "a")
	bad.Upgrade = func(ctx *OperationContext) error { return boom }

	e := newTestEngine(t, &MockDriver{},
		noopMigration("a", ""),
		bad,
		noopMigration("c", "b"),
	)

	applied, err := e.Upgrade(context.Background(), "")
	assert.Equal(t, []string{"a"}, applied)

	var migErr *MigrationError
	require.ErrorAs(t, err, &migErr)
	assert.Equal(t, "b", migErr.RevisionID)
	assert.Equal(t, "upgrade", migErr.Phase)
	require.ErrorIs(t, err, boom)

	// The failed migration left no ledger trace.
	revs, lerr := e.Ledger().AppliedRevisions()
	require.NoError(t, lerr)
	assert.Equal(t, []string{"a"}, revs)
}

func TestUpgrade_FailedOperationAbortsLedgerTx(t *testing.T) {
	drv := &MockDriver{FailOn: "CREATE CONSTRAINT"}
	m := noopMigration("a", "")
	m.Upgrade = func(ctx *OperationContext) error {
		if _, err := ctx.BeginBatch(); err != nil {
			return err
		}
		return ctx.AddUniqueConstraint("Person", "name")
	}
	e := newTestEngine(t, drv, m)

	_, err := e.Upgrade(context.Background(), "")
	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)

	// Neither the applied row nor the batch row survived the rollback.
	revs, lerr := e.Ledger().AppliedRevisions()
	require.NoError(t, lerr)
	assert.Empty(t, revs)
	batches, lerr := e.Ledger().Batches("")
	require.NoError(t, lerr)
	assert.Empty(t, batches)
}

func TestUpgrade_DriftIsFatal(t *testing.T) {
	e := newTestEngine(t, &MockDriver{},
		noopMigration("a", ""),
		noopMigration("b", "a"),
		noopMigration("c", "b"),
	)

	// Ledger records a and c: c skipped b, so the applied order is not a
	// prefix of the chain.
	for _, rev := range []string{"a", "c"} {
		tx, err := e.Ledger().Begin()
		require.NoError(t, err)
		require.NoError(t, tx.RecordApplied(ledger.AppliedMigration{RevisionID: rev}))
		require.NoError(t, tx.Commit())
	}

	var driftErr *DriftError
	_, err := e.Upgrade(context.Background(), "")
	require.ErrorAs(t, err, &driftErr)
	_, err = e.Downgrade(context.Background(), "")
	require.ErrorAs(t, err, &driftErr)
}

func TestStatus_ReportsDriftAsIssue(t *testing.T) {
	e := newTestEngine(t, &MockDriver{},
		noopMigration("a", ""),
		noopMigration("b", "a"),
		noopMigration("c", "b"),
	)
	for _, rev := range []string{"a", "c"} {
		tx, err := e.Ledger().Begin()
		require.NoError(t, err)
		require.NoError(t, tx.RecordApplied(ledger.AppliedMigration{RevisionID: rev}))
		require.NoError(t, tx.Commit())
	}

	st, err := e.Status()
	require.NoError(t, err)
	assert.Equal(t, "c", st.Head)
	assert.Equal(t, []string{"b"}, st.Pending)
	require.NotEmpty(t, st.Issues)
	assert.Contains(t, st.Issues[0], "drift")
}

func TestStatus_CleanState(t *testing.T) {
	e := newTestEngine(t, &MockDriver{},
		noopMigration("a", ""),
		noopMigration("b", "a"),
	)
	_, err := e.Upgrade(context.Background(), "a")
	require.NoError(t, err)

	st, err := e.Status()
	require.NoError(t, err)
	assert.Equal(t, "a", st.Head)
	assert.Equal(t, []string{"b"}, st.Pending)
	assert.Empty(t, st.Issues)
}

func TestDowngrade_OneStepByDefault(t *testing.T) {
	e := newTestEngine(t, &MockDriver{},
		noopMigration("a", ""),
		noopMigration("b", "a"),
		noopMigration("c", "b"),
	)
	_, err := e.Upgrade(context.Background(), "")
	require.NoError(t, err)

	reverted, err := e.Downgrade(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, reverted)

	revs, err := e.Ledger().AppliedRevisions()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, revs)
}

func TestDowngrade_ToTargetExclusive(t *testing.T) {
	e := newTestEngine(t, &MockDriver{},
		noopMigration("a", ""),
		noopMigration("b", "a"),
		noopMigration("c", "b"),
	)
	_, err := e.Upgrade(context.Background(), "")
	require.NoError(t, err)

	reverted, err := e.Downgrade(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, reverted)

	revs, err := e.Ledger().AppliedRevisions()
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, revs)
}

func TestDowngrade_TargetNotApplied(t *testing.T) {
	e := newTestEngine(t, &MockDriver{},
		noopMigration("a", ""),
		noopMigration("b", "a"),
	)
	_, err := e.Upgrade(context.Background(), "a")
	require.NoError(t, err)

	_, err = e.Downgrade(context.Background(), "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not applied")
}

func TestDowngrade_UnsafeRefusedBeforeBody(t *testing.T) {
	bodyRan := false
	unsafe := Migration{
		RevisionID: "b",
		ParentID:   "a",
		// RollbackSafe deliberately false.
		Upgrade:   func(ctx *OperationContext) error { return nil },
		Downgrade: func(ctx *OperationContext) error { bodyRan = true; return nil },
	}
	e := newTestEngine(t, &MockDriver{}, noopMigration("a", ""), unsafe)
	_, err := e.Upgrade(context.Background(), "")
	require.NoError(t, err)

	reverted, err := e.Downgrade(context.Background(), "")
	var unsafeErr *RollbackUnsafeError
	require.ErrorAs(t, err, &unsafeErr)
	assert.Equal(t, "b", unsafeErr.RevisionID)
	assert.Empty(t, reverted)
	assert.False(t, bodyRan)

	// Ledger untouched: both migrations still applied.
	revs, lerr := e.Ledger().AppliedRevisions()
	require.NoError(t, lerr)
	assert.Equal(t, []string{"a", "b"}, revs)
}

func TestDowngrade_UnsafeBlocksDeeperTarget(t *testing.T) {
	// Chain a <- b where b is unsafe: a downgrade to the root must refuse at
	// b and leave both applied.
	unsafe := noopMigration("b", "a")
	unsafe.RollbackSafe = false
	e := newTestEngine(t, &MockDriver{}, noopMigration("a", ""), unsafe)
	_, err := e.Upgrade(context.Background(), "")
	require.NoError(t, err)

	_, err = e.Downgrade(context.Background(), "a")
	var unsafeErr *RollbackUnsafeError
	require.ErrorAs(t, err, &unsafeErr)

	revs, lerr := e.Ledger().AppliedRevisions()
	require.NoError(t, lerr)
	assert.Equal(t, []string{"a", "b"}, revs)
}

func TestPlanUpgradeAndDowngrade(t *testing.T) {
	e := newTestEngine(t, &MockDriver{},
		noopMigration("a", ""),
		noopMigration("b", "a"),
		noopMigration("c", "b"),
	)

	plan, err := e.PlanUpgrade("")
	require.NoError(t, err)
	assert.Equal(t, "upgrade", plan.Direction)
	assert.Equal(t, []string{"a", "b", "c"}, plan.Revisions)

	// Plans never touch the ledger.
	revs, err := e.Ledger().AppliedRevisions()
	require.NoError(t, err)
	assert.Empty(t, revs)

	_, err = e.Upgrade(context.Background(), "")
	require.NoError(t, err)

	plan, err = e.PlanDowngrade("a")
	require.NoError(t, err)
	assert.Equal(t, "downgrade", plan.Direction)
	assert.Equal(t, []string{"c", "b"}, plan.Revisions)

	plan, err = e.PlanDowngrade("")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, plan.Revisions)
}

func TestBatchReversal(t *testing.T) {
	drv := &MockDriver{}
	var batchID string

	up := Migration{
		RevisionID:   "a",
		RollbackSafe: true,
		Upgrade: func(ctx *OperationContext) error {
			id, err := ctx.BeginBatch()
			if err != nil {
				return err
			}
			batchID = id
			_, err = ctx.CreateNodes("Person", []map[string]interface{}{
				{"name": "ada"}, {"name": "grace"}, {"name": "alan"},
			})
			return err
		},
		Downgrade: func(ctx *OperationContext) error {
			return ctx.DeleteNodesByBatch("Person", batchID)
		},
	}
	e := newTestEngine(t, drv, up)

	_, err := e.Upgrade(context.Background(), "")
	require.NoError(t, err)
	require.NotEmpty(t, batchID)

	batches, err := e.Ledger().Batches("a")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, batchID, batches[0].BatchID)
	assert.EqualValues(t, 3, batches[0].RecordCount)

	// The create query carried the batch tag as a parameter.
	creates := drv.queriesContaining("UNWIND")
	require.Len(t, creates, 1)
	assert.Equal(t, batchID, creates[0].Params["batch"])

	_, err = e.Downgrade(context.Background(), "")
	require.NoError(t, err)

	deletes := drv.queriesContaining("DETACH DELETE")
	require.Len(t, deletes, 1)
	assert.Equal(t, batchID, deletes[0].Params["batch"])

	batches, err = e.Ledger().Batches("")
	require.NoError(t, err)
	assert.Empty(t, batches)
}

func TestEndToEnd_ConstraintAndIndexLifecycle(t *testing.T) {
	drv := &MockDriver{}
	m := Migration{
		RevisionID:   "0001_person",
		Description:  "person model",
		RollbackSafe: true,
		Upgrade: func(ctx *OperationContext) error {
			if err := ctx.AddUniqueConstraint("Person", "name"); err != nil {
				return err
			}
			return ctx.AddIndex("Person", "age")
		},
		Downgrade: func(ctx *OperationContext) error {
			if err := ctx.DropIndex("Person", "age"); err != nil {
				return err
			}
			return ctx.DropUniqueConstraint("Person", "name")
		},
	}
	e := newTestEngine(t, drv, m)

	applied, err := e.Upgrade(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_person"}, applied)

	st, err := e.Status()
	require.NoError(t, err)
	assert.Equal(t, "0001_person", st.Head)
	assert.Empty(t, st.Pending)

	reverted, err := e.Downgrade(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_person"}, reverted)

	require.Len(t, drv.Queries, 4)
	assert.Contains(t, drv.Queries[0].Cypher, "CREATE CONSTRAINT crochet_uniq_Person_name")
	assert.Contains(t, drv.Queries[1].Cypher, "CREATE INDEX crochet_idx_Person_age")
	assert.Contains(t, drv.Queries[2].Cypher, "DROP INDEX crochet_idx_Person_age")
	assert.Contains(t, drv.Queries[3].Cypher, "DROP CONSTRAINT crochet_uniq_Person_name")

	st, err = e.Status()
	require.NoError(t, err)
	assert.Equal(t, "", st.Head)
	assert.Equal(t, []string{"0001_person"}, st.Pending)
}

func TestHashMismatch(t *testing.T) {
	// Migration a declares a hash, and the ledger stores a snapshot under
	// that key whose recomputed hash differs.
	declared := "0000000000000000000000000000000000000000000000000000000000000000"
	a := noopMigration("a", "")
	a.SchemaHash = declared
	e := newTestEngine(t, &MockDriver{}, a, noopMigration("b", "a"))

	_, err := e.Upgrade(context.Background(), "a")
	require.NoError(t, err)
	require.NoError(t, e.Ledger().StoreSnapshot(declared,
		`{"nodes":[{"kgid":"kg-person","labels":["Person"]}],"relationships":[]}`))

	var mismatch *HashMismatchError
	_, err = e.Upgrade(context.Background(), "")
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "a", mismatch.RevisionID)

	st, serr := e.Status()
	require.NoError(t, serr)
	require.NotEmpty(t, st.Issues)
	assert.Contains(t, st.Issues[0], "hash mismatch")

	// The override demotes the failure to a warning and proceeds.
	e.AllowHashMismatch = true
	applied, err := e.Upgrade(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, applied)
}

func TestStatus_UnknownLedgerRevision(t *testing.T) {
	e := newTestEngine(t, &MockDriver{}, noopMigration("a", ""))
	tx, err := e.Ledger().Begin()
	require.NoError(t, err)
	require.NoError(t, tx.RecordApplied(ledger.AppliedMigration{RevisionID: "a"}))
	require.NoError(t, tx.RecordApplied(ledger.AppliedMigration{RevisionID: "ghost", ParentID: "a"}))
	require.NoError(t, tx.Commit())

	st, err := e.Status()
	require.NoError(t, err)
	found := false
	for _, issue := range st.Issues {
		if issue == fmt.Sprintf("ledger references unknown migration '%s'", "ghost") {
			found = true
		}
	}
	assert.True(t, found)
}
