package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type executedQuery struct {
	Cypher string
	Params map[string]interface{}
}

// MockDriver records every query instead of talking to a graph database.
// Setting FailOn makes any query containing that substring fail.
type MockDriver struct {
	Queries []executedQuery
	FailOn  string
	Closed  bool
}

func (m *MockDriver) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	m.Queries = append(m.Queries, executedQuery{Cypher: query, Params: params})
	if m.FailOn != "" && strings.Contains(query, m.FailOn) {
		return neo4j.EagerResult{}, fmt.Errorf("mock failure on %q", m.FailOn)
	}
	return neo4j.EagerResult{}, nil
}

func (m *MockDriver) VerifyConnectivity(ctx context.Context) error {
	return nil
}

func (m *MockDriver) Close(ctx context.Context) error {
	m.Closed = true
	return nil
}

func (m *MockDriver) queriesContaining(substr string) []executedQuery {
	var out []executedQuery
	for _, q := range m.Queries {
		if strings.Contains(q.Cypher, substr) {
			out = append(out, q)
		}
	}
	return out
}
