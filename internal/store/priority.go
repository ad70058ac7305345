package store

import "context"

// ScoredSubject pairs a subject ID with its priority score.
type ScoredSubject struct {
	SubjectID string
	Score     float64
}

// PriorityIndex holds the cached subject ranking the dispatcher reads.
// Implementations must make Replace atomic: concurrent readers observe
// either the previous snapshot or the new one, never a mix.
type PriorityIndex interface {
	// Replace swaps the whole projection for scores.
	Replace(ctx context.Context, scores []ScoredSubject) error

	// Set inserts or updates one entry.
	Set(ctx context.Context, subjectID string, score float64) error

	// Remove drops one entry. Removing a missing entry is not an error.
	Remove(ctx context.Context, subjectID string) error

	// Score returns the entry for subjectID and whether it exists.
	Score(ctx context.Context, subjectID string) (float64, bool, error)

	// Top returns up to n entries, highest score first, ties by subject ID.
	Top(ctx context.Context, n int) ([]ScoredSubject, error)

	// Len returns the number of entries.
	Len(ctx context.Context) (int64, error)
}
