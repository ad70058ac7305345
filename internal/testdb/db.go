package testdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/phrazzld/scry-swarm/internal/platform/postgres"
	"github.com/stretchr/testify/require"
)

// TestTimeout bounds connect and ping in integration tests.
const TestTimeout = 5 * time.Second

var (
	schemaOnce sync.Once
	schemaErr  error
)

// IsIntegrationTestEnvironment reports whether a test database is configured.
func IsIntegrationTestEnvironment() bool {
	return GetTestDatabaseURL() != ""
}

// GetTestDatabaseURL prefers DATABASE_URL and falls back to SWARM_TEST_DB_URL.
func GetTestDatabaseURL() string {
	for _, key := range []string{"DATABASE_URL", "SWARM_TEST_DB_URL"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

// GetTestDBWithT opens a pool against the test database and brings the schema
// up once per test binary. Without a configured database the test is skipped.
func GetTestDBWithT(t *testing.T) *sql.DB {
	t.Helper()

	url := GetTestDatabaseURL()
	if url == "" {
		t.Skip("no test database configured (DATABASE_URL / SWARM_TEST_DB_URL)")
	}

	db, err := sql.Open("pgx", url)
	require.NoError(t, err, "open test database")
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	t.Cleanup(func() {
		if cerr := db.Close(); cerr != nil {
			t.Logf("closing test database: %v", cerr)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	defer cancel()
	require.NoError(t, db.PingContext(ctx), "ping test database")

	schemaOnce.Do(func() {
		quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
		schemaErr = postgres.Migrate(context.Background(), db, "up", quiet)
	})
	require.NoError(t, schemaErr, "migrate test database")
	return db
}

// WithTx runs fn inside a transaction that is always rolled back.
func WithTx(t *testing.T, db *sql.DB, fn func(t *testing.T, tx *sql.Tx)) {
	t.Helper()

	tx, err := db.Begin()
	require.NoError(t, err, "begin test transaction")
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			t.Logf("rolling back test transaction: %v", rerr)
		}
	}()

	fn(t, tx)
}

// Truncate empties the swarm tables. Tests that need committed data across
// connections (claim races, transactor tests) call it instead of WithTx.
func Truncate(t *testing.T, db *sql.DB) {
	t.Helper()
	_, err := db.Exec(`TRUNCATE tasks, subject_components, subjects, workers`)
	require.NoError(t, err, "truncate swarm tables")
}

// UniqueID returns an identifier safe to use as a subject or worker ID
// across parallel tests.
func UniqueID(t *testing.T, prefix string) string {
	t.Helper()
	name := strings.NewReplacer("/", "-", " ", "-").Replace(t.Name())
	return fmt.Sprintf("%s-%s-%d", prefix, name, time.Now().UnixNano())
}
