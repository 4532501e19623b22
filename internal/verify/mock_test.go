package verify

import (
	"context"
	"errors"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// stubDriver satisfies the graph driver interface for connectivity checks.
type stubDriver struct {
	fail bool
}

func (s *stubDriver) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	if s.fail {
		return neo4j.EagerResult{}, errors.New("connection refused")
	}
	return neo4j.EagerResult{}, nil
}

func (s *stubDriver) VerifyConnectivity(ctx context.Context) error {
	return nil
}

func (s *stubDriver) Close(ctx context.Context) error {
	return nil
}
