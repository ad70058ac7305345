// Package testdb provides utilities for Postgres integration tests.
//
// Tests are skipped unless DATABASE_URL (or SWARM_TEST_DB_URL) is set.
// GetTestDBWithT opens a pool and migrates the schema once per process;
// WithTx runs a test body inside a transaction that is always rolled back,
// so tests can share one database without cleanup.
//
//	func TestClaim(t *testing.T) {
//	    db := testdb.GetTestDBWithT(t)
//	    testdb.WithTx(t, db, func(t *testing.T, tx *sql.Tx) {
//	        tasks := postgres.NewPostgresTaskStore(tx, nil)
//	        // ...
//	    })
//	}
package testdb
