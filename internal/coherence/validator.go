// Package coherence checks newly generated components against the stored
// components of the same coherence group.
package coherence

import (
	"context"
	"log/slog"

	"github.com/phrazzld/scry-swarm/internal/domain"
	"github.com/phrazzld/scry-swarm/internal/generation"
	"github.com/phrazzld/scry-swarm/internal/platform/logger"
)

// Method records how a verdict was reached.
type Method string

const (
	// MethodFoundation: the component had nothing to be compared with.
	MethodFoundation Method = "foundation"
	// MethodOffline: no reasoner is configured.
	MethodOffline Method = "offline"
	// MethodFallback: the reasoner failed.
	MethodFallback Method = "fallback"
	// MethodReasoner: the reasoner's verdict was used.
	MethodReasoner Method = "reasoner"
)

// Confidence reported when the reasoner cannot be consulted.
const (
	foundationConfidence = 1.0
	offlineConfidence    = 0.8
	fallbackConfidence   = 0.5
)

// DefaultMinConfidence mirrors the coherence.min_confidence config default.
const DefaultMinConfidence = 0.7

// Verdict is the outcome of a coherence check.
type Verdict struct {
	Accepted    bool     `json:"accepted"`
	Confidence  float64  `json:"confidence"`
	Conflicts   []string `json:"conflicts,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Method      Method   `json:"method"`
}

// Validator runs coherence checks. It has no side effects.
type Validator struct {
	reasoner      generation.Reasoner
	minConfidence float64
	logger        *slog.Logger
}

// NewValidator creates a validator. A nil reasoner puts it in offline mode.
// minConfidence is used as given, so 0 accepts every coherent verdict;
// values outside [0, 1] fall back to DefaultMinConfidence.
func NewValidator(reasoner generation.Reasoner, minConfidence float64, log *slog.Logger) *Validator {
	if log == nil {
		log = slog.Default()
	}
	if minConfidence < 0 || minConfidence > 1 {
		minConfidence = DefaultMinConfidence
	}
	return &Validator{
		reasoner:      reasoner,
		minConfidence: minConfidence,
		logger:        log.With(slog.String("component", "coherence_validator")),
	}
}

// Check validates newText for componentType against siblings, which maps
// component types already known for the subject to their text. Only
// siblings in the same coherence group are considered.
func (v *Validator) Check(
	ctx context.Context,
	subjectID string,
	componentType domain.ComponentType,
	newText string,
	siblings map[domain.ComponentType]string,
) Verdict {
	log := logger.FromContextOrDefault(ctx, v.logger)

	group, ok := domain.GroupOf(componentType)
	if !ok {
		return Verdict{Accepted: true, Confidence: foundationConfidence, Method: MethodFoundation}
	}

	related := make(map[domain.ComponentType]string)
	for _, member := range domain.GroupMembers(group) {
		if member == componentType {
			continue
		}
		if text, ok := siblings[member]; ok && text != "" {
			related[member] = text
		}
	}
	if len(related) == 0 {
		return Verdict{Accepted: true, Confidence: foundationConfidence, Method: MethodFoundation}
	}

	if v.reasoner == nil {
		return Verdict{Accepted: true, Confidence: offlineConfidence, Method: MethodOffline}
	}

	assessment, err := v.reasoner.AssessCoherence(ctx, generation.CoherenceRequest{
		Group:     string(group),
		Component: componentType,
		Text:      newText,
		Siblings:  related,
	})
	if err != nil {
		log.WarnContext(ctx, "coherence reasoner failed, accepting with fallback confidence",
			"subject_id", subjectID,
			"component_type", componentType,
			"error", err)
		return Verdict{Accepted: true, Confidence: fallbackConfidence, Method: MethodFallback}
	}

	verdict := Verdict{
		Accepted:    assessment.IsCoherent && assessment.ConfidenceScore >= v.minConfidence,
		Confidence:  assessment.ConfidenceScore,
		Conflicts:   assessment.PotentialConflicts,
		Suggestions: assessment.Suggestions,
		Method:      MethodReasoner,
	}
	if !verdict.Accepted {
		log.InfoContext(ctx, "coherence check flagged component",
			"subject_id", subjectID,
			"component_type", componentType,
			"group", group,
			"confidence", verdict.Confidence,
			"conflicts", len(verdict.Conflicts))
	}
	return verdict
}
