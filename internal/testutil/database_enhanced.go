package testutil

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vitalsense/clinical-signal-engine/internal/testutil/containers"
)

// EnhancedTestDB provides both host-based and container-based test databases.
type EnhancedTestDB struct {
	*TestDB
	container    *containers.PostgresContainer
	useContainer bool
}

type testConfig struct {
	useContainer bool
}

// TestOption configures database provisioning.
type TestOption func(*testConfig)

// WithContainers provisions the database through testcontainers instead of a
// host-local server.
func WithContainers() TestOption {
	return func(c *testConfig) {
		c.useContainer = true
	}
}

// NewEnhancedTestDB creates a test database, defaulting to the host-local
// server that NewTestDB uses.
func NewEnhancedTestDB(t *testing.T, opts ...TestOption) *EnhancedTestDB {
	t.Helper()

	config := &testConfig{}
	for _, opt := range opts {
		opt(config)
	}

	if config.useContainer {
		return newContainerTestDB(t)
	}

	return &EnhancedTestDB{TestDB: NewTestDB(t)}
}

func newContainerTestDB(t *testing.T) *EnhancedTestDB {
	t.Helper()
	ctx := context.Background()

	container, err := containers.NewPostgresContainer(ctx)
	if err != nil {
		t.Skipf("docker not available for testcontainers: %v", err)
	}

	db, err := sql.Open("postgres", container.ConnectionString)
	require.NoError(t, err)
	require.NoError(t, db.Ping())

	tdb := &TestDB{t: t, db: db, dbName: "cse_test"}

	t.Cleanup(func() {
		db.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	tdb.InitSchema()

	return &EnhancedTestDB{
		TestDB:       tdb,
		container:    container,
		useContainer: true,
	}
}

// Reset restores a clean state between test cases.
func (e *EnhancedTestDB) Reset() {
	e.TruncateTables()
}
