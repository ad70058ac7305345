package generation

import (
	"context"
	"encoding/json"

	"github.com/phrazzld/scry-swarm/internal/domain"
)

// Params are the generation settings for one component type. The scheduler
// treats them as opaque and hands them to workers with each task.
type Params struct {
	Model       string  `yaml:"model" json:"model"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
	Prompt      string  `yaml:"prompt" json:"prompt"`
}

// Request is everything a Generator needs to write one component.
type Request struct {
	SubjectName string
	Context     json.RawMessage
	Component   domain.ComponentType
	Params      Params
	// Existing holds previously generated components, used as context.
	Existing map[domain.ComponentType]string
}

// Output is generated text plus a description of the model that wrote it.
type Output struct {
	Text      string
	ModelInfo map[string]string
}

// Generator defines the interface for writing component text.
// This interface serves as a boundary between the application core and
// external LLM services.
type Generator interface {
	// Generate writes the text for req.Component. It returns an error
	// wrapping one of the sentinels in errors.go when generation fails.
	Generate(ctx context.Context, req Request) (Output, error)
}

// CoherenceRequest asks whether Text is consistent with its siblings in Group.
type CoherenceRequest struct {
	Group     string
	Component domain.ComponentType
	Text      string
	Siblings  map[domain.ComponentType]string
}

// CoherenceAssessment is the structured verdict a Reasoner returns.
type CoherenceAssessment struct {
	IsCoherent         bool     `json:"is_coherent"`
	ConfidenceScore    float64  `json:"confidence_score"`
	PotentialConflicts []string `json:"potential_conflicts"`
	Suggestions        []string `json:"suggestions"`
}

// Reasoner judges cross-component consistency.
type Reasoner interface {
	AssessCoherence(ctx context.Context, req CoherenceRequest) (CoherenceAssessment, error)
}
