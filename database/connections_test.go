package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/statute-rag/config"
)

func TestDatabaseConnectivity(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION_TESTS") != "1" {
		t.Skip("set RUN_DB_INTEGRATION_TESTS=1 to run database connectivity checks")
	}

	cfg, err := config.Load()
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pgPool, err := NewPostgresPool(ctx, cfg.PostgresDSN)
	require.NoError(t, err, "create postgres pool")
	defer pgPool.Close()

	require.NoError(t, EnsureStatuteSchema(ctx, pgPool, cfg.Embeddings.Dimension))

	driver, err := NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
	require.NoError(t, err, "create neo4j driver")
	defer func() {
		if closeErr := driver.Close(ctx); closeErr != nil {
			t.Errorf("failed to close neo4j driver: %v", closeErr)
		}
	}()

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, "RETURN 1 AS ok", nil)
	require.NoError(t, err)
	record, err := result.Single(ctx)
	require.NoError(t, err)
	value, _ := record.Get("ok")
	require.EqualValues(t, 1, value)
}
