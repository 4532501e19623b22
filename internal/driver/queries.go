package driver

// Cypher templates for migration operations. Labels, relationship types, and
// property names cannot be parametrized in Cypher, so they are interpolated
// by the caller; row data always travels through query parameters.
const (
	CreateUniqueConstraintQuery = `CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE`

	DropUniqueConstraintQuery = `DROP CONSTRAINT %s IF EXISTS`

	CreateExistenceConstraintQuery = `CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS NOT NULL`

	DropExistenceConstraintQuery = `DROP CONSTRAINT %s IF EXISTS`

	CreateIndexQuery = `CREATE INDEX %s IF NOT EXISTS FOR (n:%s) ON (n.%s)`

	DropIndexQuery = `DROP INDEX %s IF EXISTS`

	RenameLabelQuery = `MATCH (n:%s) SET n:%s REMOVE n:%s`

	RenameRelationshipTypeQuery = `
		MATCH (a)-[r:%s]->(b)
		CREATE (a)-[r2:%s]->(b)
		SET r2 = properties(r)
		DELETE r`

	SetNodePropertyDefaultQuery = `MATCH (n:%s) SET n.%s = $default`

	RemoveNodePropertyQuery = `MATCH (n:%s) REMOVE n.%s`

	RenameNodePropertyQuery = `MATCH (n:%s) SET n.%s = n.%s REMOVE n.%s`

	CreateNodesQuery = `
		UNWIND $rows AS row
		CREATE (n:%s) SET n = row, n.` + "`%s`" + ` = $batch`

	CreateNodesInTransactionsQuery = `
		UNWIND $rows AS row
		CALL { WITH row
		CREATE (n:%s) SET n = row, n.` + "`%s`" + ` = $batch
		} IN TRANSACTIONS OF %d ROWS`

	UpsertNodesQuery = `
		UNWIND $rows AS row
		MERGE (n:%s {%s})
		SET n += row, n.` + "`%s`" + ` = $batch`

	UpsertNodesInTransactionsQuery = `
		UNWIND $rows AS row
		CALL { WITH row
		MERGE (n:%s {%s})
		SET n += row, n.` + "`%s`" + ` = $batch
		} IN TRANSACTIONS OF %d ROWS`

	CreateRelationshipsQuery = `
		UNWIND $rows AS row
		MATCH (a:%s {id: row.%s})
		MATCH (b:%s {id: row.%s})
		CREATE (a)-[r:%s]->(b)
		SET r = row.%s, r.` + "`%s`" + ` = $batch`

	CreateRelationshipsInTransactionsQuery = `
		UNWIND $rows AS row
		CALL { WITH row
		MATCH (a:%s {id: row.%s})
		MATCH (b:%s {id: row.%s})
		CREATE (a)-[r:%s]->(b)
		SET r = row.%s, r.` + "`%s`" + ` = $batch
		} IN TRANSACTIONS OF %d ROWS`

	UpsertRelationshipsQuery = `
		UNWIND $rows AS row
		MATCH (a:%s {id: row.%s})
		MATCH (b:%s {id: row.%s})
		MERGE (a)-[r:%s]->(b)
		SET r += row.%s, r.` + "`%s`" + ` = $batch`

	DeleteNodesByBatchQuery = `MATCH (n:%s {` + "`%s`" + `: $batch}) DETACH DELETE n`

	DeleteRelationshipsByBatchQuery = `MATCH ()-[r:%s {` + "`%s`" + `: $batch}]-() DELETE r`

	ConnectivityProbeQuery = `RETURN 1`
)
