package store

import (
	"context"

	"github.com/phrazzld/scry-swarm/internal/domain"
)

// SubjectProgress is the analysis summary after a component write.
type SubjectProgress struct {
	SubjectID      string
	Added          int
	ComponentCount int
	FullyAnalyzed  bool
}

// SubjectCounts aggregates completion across all subjects.
type SubjectCounts struct {
	Total    int64
	Analyzed int64
}

// SubjectStore defines the interface for subject documents and their
// analysis sub-structure.
type SubjectStore interface {
	// Save inserts or updates the subject's catalog and scoring fields.
	// It never touches stored components.
	Save(ctx context.Context, subject *domain.Subject) error

	// Get retrieves a subject with its components.
	// Returns ErrSubjectNotFound if it does not exist.
	Get(ctx context.Context, id string) (*domain.Subject, error)

	// SaveComponents upserts components by type, then recomputes the
	// component count from the stored key set and raises fully_analyzed
	// once the required set is covered. The flag is never lowered.
	SaveComponents(ctx context.Context, subjectID string, components map[domain.ComponentType]domain.Component) (SubjectProgress, error)

	// ListIncomplete pages through subjects that are not fully analyzed,
	// ordered by ID, starting after afterID. Components are not loaded.
	ListIncomplete(ctx context.Context, afterID string, limit int) ([]*domain.Subject, error)

	// Counts returns total and fully analyzed subject counts.
	Counts(ctx context.Context) (SubjectCounts, error)
}
