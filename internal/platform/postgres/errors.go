package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/phrazzld/scry-swarm/internal/store"
)

// SQLSTATE codes the stores translate.
const (
	uniqueViolationCode     = "23505"
	foreignKeyViolationCode = "23503"
	checkViolationCode      = "23514"
	notNullViolationCode    = "23502"
)

const (
	liveTaskConstraint   = "tasks_one_live_per_subject"
	taskSubjectFKey      = "tasks_subject_id_fkey"
	componentSubjectFKey = "subject_components_subject_id_fkey"
)

// MapError translates driver errors into store and domain sentinels,
// keeping the driver error in the message. Unknown errors pass through.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case uniqueViolationCode:
		if pgErr.ConstraintName == liveTaskConstraint {
			return fmt.Errorf("%w: %v", domain.ErrDuplicateSubjectWork, err)
		}
		return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
	case foreignKeyViolationCode:
		switch pgErr.ConstraintName {
		case taskSubjectFKey, componentSubjectFKey:
			return fmt.Errorf("%w: %v", store.ErrSubjectNotFound, err)
		}
		return invalid("foreign key", pgErr.ConstraintName, err)
	case checkViolationCode:
		return invalid("check", pgErr.ConstraintName, err)
	case notNullViolationCode:
		return invalid("not null", pgErr.ColumnName, err)
	}
	return err
}

func invalid(kind, target string, err error) error {
	return fmt.Errorf("%w: %s violation on %q: %v", store.ErrInvalidEntity, kind, target, err)
}

// IsUniqueViolation reports whether err wraps a unique constraint failure.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// CheckRowsAffected returns notFound (store.ErrNotFound when nil) if the
// statement touched no rows.
func CheckRowsAffected(result sql.Result, notFound error) error {
	if result == nil {
		return errors.New("postgres: nil sql.Result")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if notFound == nil {
		return store.ErrNotFound
	}
	return notFound
}
