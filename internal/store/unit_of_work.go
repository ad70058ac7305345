package store

import "context"

// Repositories bundles the stores a unit of work operates on. Inside
// Transactor.WithinTx they all share one transaction.
type Repositories struct {
	Tasks    TaskStore
	Subjects SubjectStore
	Workers  WorkerRegistry
}

// Transactor runs a function against repositories bound to one atomic
// unit of work. If fn returns an error nothing it wrote is kept.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
