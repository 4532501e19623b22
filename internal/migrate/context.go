package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/crochetdb/crochet/internal/driver"
	"github.com/crochetdb/crochet/internal/ir"
	"github.com/crochetdb/crochet/internal/ledger"
)

// DefaultChunkSize is the number of rows per transaction for bulk variants.
const DefaultChunkSize = 5000

// untrackedBatch tags rows written outside begin_batch. They cannot be
// reversed through the ledger.
const untrackedBatch = "untracked"

// Operation is one recorded entry in the migration's operation log. A raw
// Cypher call is the same entry shape as a typed operation, so the audit
// trail stays uniform.
type Operation struct {
	Type   string
	Cypher string
	Params map[string]interface{}
}

// OperationContext is the capability surface handed to a migration body.
// Every call executes immediately against the graph and, on success, is
// appended to the operation log; data writes are tagged with the current
// batch id. Ledger
// writes go through the transaction opened by the engine for this migration,
// so they commit or roll back as one unit.
type OperationContext struct {
	ctx        context.Context
	driver     driver.GraphDriver
	tx         *ledger.Tx
	revisionID string
	dryRun     bool

	batchID    string
	batchRows  map[string]int64
	operations []Operation
}

func newOperationContext(ctx context.Context, d driver.GraphDriver, tx *ledger.Tx, revisionID string, dryRun bool) *OperationContext {
	return &OperationContext{
		ctx:        ctx,
		driver:     d,
		tx:         tx,
		revisionID: revisionID,
		dryRun:     dryRun,
		batchRows:  make(map[string]int64),
	}
}

// Operations returns the log of everything this context executed.
func (c *OperationContext) Operations() []Operation {
	return append([]Operation(nil), c.operations...)
}

// BatchID returns the current batch identifier, or "" before BeginBatch.
func (c *OperationContext) BatchID() string {
	return c.batchID
}

func (c *OperationContext) run(opType, cypher string, params map[string]interface{}) error {
	if !c.dryRun && c.driver != nil && cypher != "" {
		if _, err := c.driver.ExecuteQuery(c.ctx, cypher, params); err != nil {
			return &OperationError{Op: opType, Err: err}
		}
	}
	// Only successful operations enter the log; a failed one aborts the
	// migration and must not masquerade as executed.
	c.operations = append(c.operations, Operation{Type: opType, Cypher: cypher, Params: params})
	return nil
}

// ---------------------------------------------------------------------------
// Constraints and indexes
// ---------------------------------------------------------------------------

func (c *OperationContext) AddUniqueConstraint(label, property string) error {
	name := constraintName("uniq", label, property)
	return c.run("add_unique_constraint",
		fmt.Sprintf(driver.CreateUniqueConstraintQuery, name, label, property), nil)
}

func (c *OperationContext) DropUniqueConstraint(label, property string) error {
	name := constraintName("uniq", label, property)
	return c.run("drop_unique_constraint",
		fmt.Sprintf(driver.DropUniqueConstraintQuery, name), nil)
}

func (c *OperationContext) AddExistenceConstraint(label, property string) error {
	name := constraintName("exists", label, property)
	return c.run("add_existence_constraint",
		fmt.Sprintf(driver.CreateExistenceConstraintQuery, name, label, property), nil)
}

func (c *OperationContext) DropExistenceConstraint(label, property string) error {
	name := constraintName("exists", label, property)
	return c.run("drop_existence_constraint",
		fmt.Sprintf(driver.DropExistenceConstraintQuery, name), nil)
}

func (c *OperationContext) AddIndex(label, property string) error {
	name := constraintName("idx", label, property)
	return c.run("add_index",
		fmt.Sprintf(driver.CreateIndexQuery, name, label, property), nil)
}

func (c *OperationContext) DropIndex(label, property string) error {
	name := constraintName("idx", label, property)
	return c.run("drop_index",
		fmt.Sprintf(driver.DropIndexQuery, name), nil)
}

// ---------------------------------------------------------------------------
// Labels, types, properties
// ---------------------------------------------------------------------------

func (c *OperationContext) RenameLabel(oldLabel, newLabel string) error {
	return c.run("rename_label",
		fmt.Sprintf(driver.RenameLabelQuery, oldLabel, newLabel, oldLabel), nil)
}

func (c *OperationContext) RenameRelationshipType(oldType, newType string) error {
	return c.run("rename_relationship_type",
		fmt.Sprintf(driver.RenameRelationshipTypeQuery, oldType, newType), nil)
}

// AddNodeProperty backfills a property with a default value. With a nil
// default the property is declaration-only and nothing runs against the
// graph, but the operation is still logged.
func (c *OperationContext) AddNodeProperty(label, property string, defaultValue interface{}) error {
	if defaultValue == nil {
		return c.run("add_node_property", "", nil)
	}
	return c.run("add_node_property",
		fmt.Sprintf(driver.SetNodePropertyDefaultQuery, label, property),
		map[string]interface{}{"default": defaultValue})
}

func (c *OperationContext) RemoveNodeProperty(label, property string) error {
	return c.run("remove_node_property",
		fmt.Sprintf(driver.RemoveNodePropertyQuery, label, property), nil)
}

func (c *OperationContext) RenameNodeProperty(label, oldName, newName string) error {
	return c.run("rename_node_property",
		fmt.Sprintf(driver.RenameNodePropertyQuery, label, newName, oldName, oldName), nil)
}

// RunCypher is the escape hatch for operations the typed surface does not
// cover. It is logged like any other operation.
func (c *OperationContext) RunCypher(cypher string, params map[string]interface{}) error {
	return c.run("run_cypher", cypher, params)
}

// ---------------------------------------------------------------------------
// Batches and data operations
// ---------------------------------------------------------------------------

// BeginBatch creates a ledger batch row owned by this migration and makes
// the returned id the tag for subsequent data writes.
func (c *OperationContext) BeginBatch() (string, error) {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
	if c.tx != nil && !c.dryRun {
		if err := c.tx.CreateBatch(ledger.DatasetBatch{
			BatchID:     id,
			MigrationID: c.revisionID,
		}); err != nil {
			return "", err
		}
	}
	c.batchID = id
	c.operations = append(c.operations, Operation{Type: "begin_batch",
		Params: map[string]interface{}{"batch_id": id}})
	return id, nil
}

func (c *OperationContext) currentBatch() string {
	if c.batchID == "" {
		return untrackedBatch
	}
	return c.batchID
}

func (c *OperationContext) countRows(n int) error {
	if c.batchID == "" || c.tx == nil || c.dryRun {
		return nil
	}
	c.batchRows[c.batchID] += int64(n)
	return c.tx.UpdateBatchCount(c.batchID, c.batchRows[c.batchID])
}

// CreateNodes creates one node per row, tagged with the current batch.
func (c *OperationContext) CreateNodes(label string, rows []map[string]interface{}) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	cypher := fmt.Sprintf(driver.CreateNodesQuery, label, ir.BatchProperty)
	err := c.run("create_nodes", cypher, map[string]interface{}{
		"rows": anyRows(rows), "batch": c.currentBatch(),
	})
	if err != nil {
		return 0, err
	}
	return len(rows), c.countRows(len(rows))
}

// CreateRelationships creates relationships from rows carrying "source_id",
// "target_id", and an optional "properties" map, matching endpoints by id.
func (c *OperationContext) CreateRelationships(sourceLabel, targetLabel, relType string, rows []map[string]interface{}) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	cypher := fmt.Sprintf(driver.CreateRelationshipsQuery,
		sourceLabel, "source_id", targetLabel, "target_id", relType, "properties", ir.BatchProperty)
	err := c.run("create_relationships", cypher, map[string]interface{}{
		"rows": anyRows(rows), "batch": c.currentBatch(),
	})
	if err != nil {
		return 0, err
	}
	return len(rows), c.countRows(len(rows))
}

// UpsertNodes matches on mergeKeys and creates or updates, tagging every
// touched node with the current batch.
func (c *OperationContext) UpsertNodes(label string, rows []map[string]interface{}, mergeKeys []string) (int, error) {
	if len(rows) == 0 || len(mergeKeys) == 0 {
		return 0, nil
	}
	cypher := fmt.Sprintf(driver.UpsertNodesQuery, label, mergeClause(mergeKeys), ir.BatchProperty)
	err := c.run("upsert_nodes", cypher, map[string]interface{}{
		"rows": anyRows(rows), "batch": c.currentBatch(),
	})
	if err != nil {
		return 0, err
	}
	return len(rows), c.countRows(len(rows))
}

func (c *OperationContext) UpsertRelationships(sourceLabel, targetLabel, relType string, rows []map[string]interface{}) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	cypher := fmt.Sprintf(driver.UpsertRelationshipsQuery,
		sourceLabel, "source_id", targetLabel, "target_id", relType, "properties", ir.BatchProperty)
	err := c.run("upsert_relationships", cypher, map[string]interface{}{
		"rows": anyRows(rows), "batch": c.currentBatch(),
	})
	if err != nil {
		return 0, err
	}
	return len(rows), c.countRows(len(rows))
}

// ---------------------------------------------------------------------------
// Bulk variants
// ---------------------------------------------------------------------------

// BulkCreateNodes writes rows in chunks. Client-side chunking issues one
// transaction per chunk; serverSide delegates batching to the database via
// CALL { } IN TRANSACTIONS. Chunking changes transaction boundaries only,
// never the final data or the batch tag.
func (c *OperationContext) BulkCreateNodes(label string, rows []map[string]interface{}, chunkSize int, serverSide bool) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if serverSide {
		cypher := fmt.Sprintf(driver.CreateNodesInTransactionsQuery, label, ir.BatchProperty, chunkSize)
		if err := c.run("bulk_create_nodes", cypher, map[string]interface{}{
			"rows": anyRows(rows), "batch": c.currentBatch(),
		}); err != nil {
			return 0, err
		}
		return len(rows), c.countRows(len(rows))
	}

	cypher := fmt.Sprintf(driver.CreateNodesQuery, label, ir.BatchProperty)
	for _, chunk := range chunks(rows, chunkSize) {
		if err := c.run("bulk_create_nodes", cypher, map[string]interface{}{
			"rows": anyRows(chunk), "batch": c.currentBatch(),
		}); err != nil {
			return 0, err
		}
		if err := c.countRows(len(chunk)); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

func (c *OperationContext) BulkUpsertNodes(label string, rows []map[string]interface{}, mergeKeys []string, chunkSize int, serverSide bool) (int, error) {
	if len(rows) == 0 || len(mergeKeys) == 0 {
		return 0, nil
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if serverSide {
		cypher := fmt.Sprintf(driver.UpsertNodesInTransactionsQuery, label, mergeClause(mergeKeys), ir.BatchProperty, chunkSize)
		if err := c.run("bulk_upsert_nodes", cypher, map[string]interface{}{
			"rows": anyRows(rows), "batch": c.currentBatch(),
		}); err != nil {
			return 0, err
		}
		return len(rows), c.countRows(len(rows))
	}

	cypher := fmt.Sprintf(driver.UpsertNodesQuery, label, mergeClause(mergeKeys), ir.BatchProperty)
	for _, chunk := range chunks(rows, chunkSize) {
		if err := c.run("bulk_upsert_nodes", cypher, map[string]interface{}{
			"rows": anyRows(chunk), "batch": c.currentBatch(),
		}); err != nil {
			return 0, err
		}
		if err := c.countRows(len(chunk)); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

func (c *OperationContext) BulkCreateRelationships(sourceLabel, targetLabel, relType string, rows []map[string]interface{}, chunkSize int, serverSide bool) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if serverSide {
		cypher := fmt.Sprintf(driver.CreateRelationshipsInTransactionsQuery,
			sourceLabel, "source_id", targetLabel, "target_id", relType, "properties", ir.BatchProperty, chunkSize)
		if err := c.run("bulk_create_relationships", cypher, map[string]interface{}{
			"rows": anyRows(rows), "batch": c.currentBatch(),
		}); err != nil {
			return 0, err
		}
		return len(rows), c.countRows(len(rows))
	}

	cypher := fmt.Sprintf(driver.CreateRelationshipsQuery,
		sourceLabel, "source_id", targetLabel, "target_id", relType, "properties", ir.BatchProperty)
	for _, chunk := range chunks(rows, chunkSize) {
		if err := c.run("bulk_create_relationships", cypher, map[string]interface{}{
			"rows": anyRows(chunk), "batch": c.currentBatch(),
		}); err != nil {
			return 0, err
		}
		if err := c.countRows(len(chunk)); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

// ---------------------------------------------------------------------------
// Batch deletion
// ---------------------------------------------------------------------------

// DeleteNodesByBatch removes every node of a label tagged with batchID, and
// the batch's ledger row with it. This is the only delete path tied to the
// ledger, which is what makes append-only ingests exactly reversible.
func (c *OperationContext) DeleteNodesByBatch(label, batchID string) error {
	cypher := fmt.Sprintf(driver.DeleteNodesByBatchQuery, label, ir.BatchProperty)
	if err := c.run("delete_nodes_by_batch", cypher, map[string]interface{}{"batch": batchID}); err != nil {
		return err
	}
	if c.tx != nil && !c.dryRun {
		return c.tx.DeleteBatch(batchID)
	}
	return nil
}

func (c *OperationContext) DeleteRelationshipsByBatch(relType, batchID string) error {
	cypher := fmt.Sprintf(driver.DeleteRelationshipsByBatchQuery, relType, ir.BatchProperty)
	if err := c.run("delete_relationships_by_batch", cypher, map[string]interface{}{"batch": batchID}); err != nil {
		return err
	}
	if c.tx != nil && !c.dryRun {
		return c.tx.DeleteBatch(batchID)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func constraintName(kind, label, property string) string {
	return fmt.Sprintf("crochet_%s_%s_%s", kind, label, property)
}

func mergeClause(keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: row.%s", k, k)
	}
	return strings.Join(parts, ", ")
}

func chunks(rows []map[string]interface{}, size int) [][]map[string]interface{} {
	var out [][]map[string]interface{}
	for i := 0; i < len(rows); i += size {
		end := i + size
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[i:end])
	}
	return out
}

// anyRows converts row maps to the []interface{} the bolt driver expects
// for UNWIND parameters.
func anyRows(rows []map[string]interface{}) []interface{} {
	out := make([]interface{}, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}
