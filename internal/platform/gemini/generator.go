package gemini

import (
	"context"
	"fmt"

	"github.com/phrazzld/scry-swarm/internal/generation"
)

// Generator implements generation.Generator.
type Generator struct {
	client       *Client
	defaultModel string
}

var _ generation.Generator = (*Generator)(nil)

// NewGenerator returns a generator that falls back to defaultModel when a
// request does not name one.
func NewGenerator(client *Client, defaultModel string) *Generator {
	return &Generator{client: client, defaultModel: defaultModel}
}

// Generate renders the prompt for req and asks the model for the text.
func (g *Generator) Generate(ctx context.Context, req generation.Request) (generation.Output, error) {
	prompt, err := generation.RenderPrompt(req)
	if err != nil {
		return generation.Output{}, fmt.Errorf("%w: %v", generation.ErrGenerationFailed, err)
	}

	model := req.Params.Model
	if model == "" {
		model = g.defaultModel
	}

	text, err := g.client.generate(ctx, prompt, callOptions{
		model:       model,
		temperature: req.Params.Temperature,
		maxTokens:   req.Params.MaxTokens,
	})
	if err != nil {
		return generation.Output{}, err
	}

	return generation.Output{
		Text: text,
		ModelInfo: map[string]string{
			"provider": "gemini",
			"model":    model,
		},
	}, nil
}
