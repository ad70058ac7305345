package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/phrazzld/scry-swarm/internal/store"
)

// PriorityIndex is an in-process store.PriorityIndex. Readers load an
// immutable snapshot; writers build a new one and publish it atomically.
type PriorityIndex struct {
	writeMu sync.Mutex
	current atomic.Pointer[ranking]
}

type ranking struct {
	scores map[string]float64
	order  []store.ScoredSubject
}

var _ store.PriorityIndex = (*PriorityIndex)(nil)

// NewPriorityIndex creates an empty index.
func NewPriorityIndex() *PriorityIndex {
	idx := &PriorityIndex{}
	idx.current.Store(newRanking(nil))
	return idx
}

func newRanking(scores map[string]float64) *ranking {
	r := &ranking{scores: scores, order: make([]store.ScoredSubject, 0, len(scores))}
	if r.scores == nil {
		r.scores = make(map[string]float64)
	}
	for id, score := range r.scores {
		r.order = append(r.order, store.ScoredSubject{SubjectID: id, Score: score})
	}
	sort.Slice(r.order, func(i, j int) bool {
		if r.order[i].Score != r.order[j].Score {
			return r.order[i].Score > r.order[j].Score
		}
		return r.order[i].SubjectID < r.order[j].SubjectID
	})
	return r
}

// Replace implements store.PriorityIndex.Replace.
func (p *PriorityIndex) Replace(ctx context.Context, scores []store.ScoredSubject) error {
	next := make(map[string]float64, len(scores))
	for _, s := range scores {
		next[s.SubjectID] = s.Score
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.current.Store(newRanking(next))
	return nil
}

func (p *PriorityIndex) update(fn func(scores map[string]float64)) {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	old := p.current.Load().scores
	next := make(map[string]float64, len(old)+1)
	for id, score := range old {
		next[id] = score
	}
	fn(next)
	p.current.Store(newRanking(next))
}

// Set implements store.PriorityIndex.Set.
func (p *PriorityIndex) Set(ctx context.Context, subjectID string, score float64) error {
	p.update(func(scores map[string]float64) { scores[subjectID] = score })
	return nil
}

// Remove implements store.PriorityIndex.Remove.
func (p *PriorityIndex) Remove(ctx context.Context, subjectID string) error {
	if _, ok := p.current.Load().scores[subjectID]; !ok {
		return nil
	}
	p.update(func(scores map[string]float64) { delete(scores, subjectID) })
	return nil
}

// Score implements store.PriorityIndex.Score.
func (p *PriorityIndex) Score(ctx context.Context, subjectID string) (float64, bool, error) {
	score, ok := p.current.Load().scores[subjectID]
	return score, ok, nil
}

// Top implements store.PriorityIndex.Top.
func (p *PriorityIndex) Top(ctx context.Context, n int) ([]store.ScoredSubject, error) {
	order := p.current.Load().order
	if n <= 0 || n > len(order) {
		n = len(order)
	}
	return append([]store.ScoredSubject(nil), order[:n]...), nil
}

// Len implements store.PriorityIndex.Len.
func (p *PriorityIndex) Len(ctx context.Context) (int64, error) {
	return int64(len(p.current.Load().scores)), nil
}
