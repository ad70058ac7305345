package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/phrazzld/scry-swarm/internal/store"
)

// SubjectStore implements store.SubjectStore over a Store.
type SubjectStore struct {
	s      *Store
	locked bool
}

var _ store.SubjectStore = (*SubjectStore)(nil)

// Save implements store.SubjectStore.Save.
func (v *SubjectStore) Save(ctx context.Context, subject *domain.Subject) error {
	defer v.s.guard(v.locked)()

	if err := subject.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	next := cloneSubject(subject, false)
	if existing, ok := v.s.subjects[subject.ID]; ok {
		next.Analysis = existing.Analysis
	} else {
		next.Analysis = domain.Analysis{Components: make(map[domain.ComponentType]domain.Component)}
	}
	next.Analysis.LastUpdated = v.s.now()
	v.s.subjects[subject.ID] = next
	return nil
}

// Get implements store.SubjectStore.Get.
func (v *SubjectStore) Get(ctx context.Context, id string) (*domain.Subject, error) {
	defer v.s.guard(v.locked)()

	subject, ok := v.s.subjects[id]
	if !ok {
		return nil, store.ErrSubjectNotFound
	}
	return cloneSubject(subject, true), nil
}

// SaveComponents implements store.SubjectStore.SaveComponents.
func (v *SubjectStore) SaveComponents(
	ctx context.Context,
	subjectID string,
	components map[domain.ComponentType]domain.Component,
) (store.SubjectProgress, error) {
	defer v.s.guard(v.locked)()

	subject, ok := v.s.subjects[subjectID]
	if !ok {
		return store.SubjectProgress{SubjectID: subjectID}, store.ErrSubjectNotFound
	}
	for t, c := range components {
		if c.Content == "" {
			return store.SubjectProgress{SubjectID: subjectID},
				fmt.Errorf("%w: empty content for %s", store.ErrInvalidEntity, t)
		}
	}

	added := subject.ApplyComponents(components, v.s.now())
	return store.SubjectProgress{
		SubjectID:      subjectID,
		Added:          added,
		ComponentCount: subject.Analysis.ComponentCount,
		FullyAnalyzed:  subject.Analysis.FullyAnalyzed,
	}, nil
}

// ListIncomplete implements store.SubjectStore.ListIncomplete.
func (v *SubjectStore) ListIncomplete(ctx context.Context, afterID string, limit int) ([]*domain.Subject, error) {
	defer v.s.guard(v.locked)()

	ids := make([]string, 0, len(v.s.subjects))
	for id, subject := range v.s.subjects {
		if !subject.Analysis.FullyAnalyzed && id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	out := make([]*domain.Subject, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneSubject(v.s.subjects[id], false))
	}
	return out, nil
}

// Counts implements store.SubjectStore.Counts.
func (v *SubjectStore) Counts(ctx context.Context) (store.SubjectCounts, error) {
	defer v.s.guard(v.locked)()

	counts := store.SubjectCounts{Total: int64(len(v.s.subjects))}
	for _, subject := range v.s.subjects {
		if subject.Analysis.FullyAnalyzed {
			counts.Analyzed++
		}
	}
	return counts, nil
}
