package domain

import (
	"encoding/json"
	"errors"
	"time"
)

// Subject validation errors
var (
	// ErrSubjectIDEmpty is returned when a subject ID is empty.
	ErrSubjectIDEmpty = errors.New("subject ID cannot be empty")
)

// Subject is the unit of analysis: one catalog item that accumulates the
// full set of generated components over time.
type Subject struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Scoring signals. PopularityRank is nil when unknown; lower ranks are
	// more popular.
	PopularityRank *int     `json:"popularity_rank,omitempty"`
	Value          *float64 `json:"value,omitempty"`
	ViewCount      int      `json:"view_count"`
	RecentViews    int      `json:"recent_views"`

	// Context is opaque subject data handed to workers for generation.
	Context json.RawMessage `json:"context,omitempty"`

	Analysis Analysis `json:"analysis"`
}

// Analysis is the generated sub-structure of a subject document.
type Analysis struct {
	Components     map[ComponentType]Component `json:"components"`
	ComponentCount int                         `json:"component_count"`
	FullyAnalyzed  bool                        `json:"fully_analyzed"`
	CompletedAt    *time.Time                  `json:"completed_at,omitempty"`
	LastUpdated    time.Time                   `json:"last_updated"`
}

// Component is one stored piece of generated analysis. Components are
// replaced as a whole by type, never partially mutated.
type Component struct {
	Content            string            `json:"content"`
	GeneratedBy        string            `json:"generated_by"`
	ModelInfo          map[string]string `json:"model_info,omitempty"`
	GeneratedAt        time.Time         `json:"generated_at"`
	CoherenceScore     float64           `json:"coherence_score"`
	CoherenceConflicts []string          `json:"coherence_conflicts,omitempty"`
}

// Validate checks the fields a store requires before saving a subject.
func (s *Subject) Validate() error {
	if s.ID == "" {
		return ErrSubjectIDEmpty
	}
	return nil
}

// ComponentSet returns the set of component types currently stored.
func (s *Subject) ComponentSet() map[ComponentType]struct{} {
	set := make(map[ComponentType]struct{}, len(s.Analysis.Components))
	for t := range s.Analysis.Components {
		set[t] = struct{}{}
	}
	return set
}

// Missing returns the required components the subject does not have yet.
func (s *Subject) Missing() []ComponentType {
	return MissingComponents(s.ComponentSet())
}

// ApplyComponents merges components into the analysis, then recomputes the
// count from the stored key set and raises the fully-analyzed flag when the
// required set is covered. The flag never goes back to false. It returns
// the number of component types that were not stored before.
func (s *Subject) ApplyComponents(components map[ComponentType]Component, now time.Time) int {
	if s.Analysis.Components == nil {
		s.Analysis.Components = make(map[ComponentType]Component, len(components))
	}
	added := 0
	for t, c := range components {
		if _, exists := s.Analysis.Components[t]; !exists {
			added++
		}
		s.Analysis.Components[t] = c
	}

	present := s.ComponentSet()
	s.Analysis.ComponentCount = CountRequired(present)
	if !s.Analysis.FullyAnalyzed && CoversRequired(present) {
		s.Analysis.FullyAnalyzed = true
		completed := now
		s.Analysis.CompletedAt = &completed
	}
	s.Analysis.LastUpdated = now
	return added
}
