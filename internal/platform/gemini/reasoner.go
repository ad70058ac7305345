package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/phrazzld/scry-swarm/internal/generation"
)

// coherenceTemperature keeps verdicts stable between calls.
const coherenceTemperature = 0.1

var coherencePrompt = template.Must(template.New("coherence").Parse(`You are checking analysis components of one subject for consistency.

COMPONENT GROUP: {{.Group}}
NEW COMPONENT: {{.Component}}
NEW ANALYSIS: {{.Text}}

EXISTING RELATED ANALYSES:
{{.Siblings}}

Task: check whether the new analysis is coherent with the existing analyses. Look for:
1. Contradictory power level assessments
2. Conflicting strategic advice
3. Inconsistent evaluation
4. Misaligned recommendations

Respond with JSON only:
{"is_coherent": true/false, "confidence_score": 0.0-1.0, "potential_conflicts": ["..."], "suggestions": ["..."]}
`))

// Reasoner implements generation.Reasoner.
type Reasoner struct {
	client *Client
	model  string
}

var _ generation.Reasoner = (*Reasoner)(nil)

// NewReasoner returns a reasoner that asks model for verdicts.
func NewReasoner(client *Client, model string) *Reasoner {
	return &Reasoner{client: client, model: model}
}

// AssessCoherence asks the model whether req.Text agrees with its siblings.
func (r *Reasoner) AssessCoherence(ctx context.Context, req generation.CoherenceRequest) (generation.CoherenceAssessment, error) {
	siblings, err := json.MarshalIndent(req.Siblings, "", "  ")
	if err != nil {
		return generation.CoherenceAssessment{}, fmt.Errorf("failed to encode sibling components: %w", err)
	}

	var buf bytes.Buffer
	if err := coherencePrompt.Execute(&buf, map[string]any{
		"Group":     req.Group,
		"Component": req.Component,
		"Text":      req.Text,
		"Siblings":  string(siblings),
	}); err != nil {
		return generation.CoherenceAssessment{}, fmt.Errorf("failed to execute coherence template: %w", err)
	}

	text, err := r.client.generate(ctx, buf.String(), callOptions{
		model:       r.model,
		temperature: coherenceTemperature,
		jsonOutput:  true,
	})
	if err != nil {
		return generation.CoherenceAssessment{}, err
	}
	return parseAssessment(text)
}

func parseAssessment(text string) (generation.CoherenceAssessment, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var a generation.CoherenceAssessment
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &a); err != nil {
		return generation.CoherenceAssessment{}, fmt.Errorf("%w: failed to parse JSON response: %v",
			generation.ErrInvalidResponse, err)
	}
	if a.ConfidenceScore < 0 || a.ConfidenceScore > 1 {
		return generation.CoherenceAssessment{}, fmt.Errorf("%w: confidence %.2f out of range",
			generation.ErrInvalidResponse, a.ConfidenceScore)
	}
	return a, nil
}
