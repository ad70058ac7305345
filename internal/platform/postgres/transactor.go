package postgres

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/phrazzld/scry-swarm/internal/store"
)

// Transactor implements store.Transactor on top of a *sql.DB. Every
// repository handed to the callback shares one transaction.
type Transactor struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTransactor creates a Transactor for db.
func NewTransactor(db *sql.DB, logger *slog.Logger) *Transactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transactor{db: db, logger: logger}
}

var _ store.Transactor = (*Transactor)(nil)

// Repositories returns stores bound directly to the connection pool.
func (t *Transactor) Repositories() store.Repositories {
	return repositories(t.db, t.logger)
}

// WithinTx implements store.Transactor.
func (t *Transactor) WithinTx(
	ctx context.Context,
	fn func(ctx context.Context, repos store.Repositories) error,
) error {
	return store.RunInTransaction(ctx, t.db, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, repositories(tx, t.logger))
	})
}

func repositories(db store.DBTX, logger *slog.Logger) store.Repositories {
	return store.Repositories{
		Tasks:    NewPostgresTaskStore(db, logger),
		Subjects: NewPostgresSubjectStore(db, logger),
		Workers:  NewPostgresWorkerStore(db, logger),
	}
}
