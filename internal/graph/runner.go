// Package graph maintains the entity/relationship knowledge graph in Neo4j,
// with vector search over name and fact embeddings and a substring fallback
// that keeps search functional when the indices are absent.
package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"sage/internal/apperrors"
)

// Runner executes a cypher statement and returns its rows. The store talks
// to Neo4j only through this seam; tests plug in an in-memory runner.
type Runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	Close(ctx context.Context) error
}

// neo4jRunner executes statements through the official driver.
type neo4jRunner struct {
	driver neo4j.DriverWithContext
}

// NewNeo4jRunner connects to a Neo4j instance with basic auth.
func NewNeo4jRunner(uri, user, password string) (Runner, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreUnavailable, err, "create neo4j driver")
	}
	return &neo4jRunner{driver: driver}, nil
}

func (r *neo4jRunner) Run(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	result, err := neo4j.ExecuteQuery(ctx, r.driver, cypher, params,
		neo4j.EagerResultTransformer)
	if err != nil {
		return nil, err
	}
	rows := make([]map[string]any, 0, len(result.Records))
	for _, record := range result.Records {
		row := make(map[string]any, len(record.Keys))
		for _, key := range record.Keys {
			value, _ := record.Get(key)
			row[key] = value
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (r *neo4jRunner) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}
