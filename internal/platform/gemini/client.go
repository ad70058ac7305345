package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/phrazzld/scry-swarm/internal/config"
	"github.com/phrazzld/scry-swarm/internal/generation"
	"google.golang.org/genai"
)

// contentGenerator is the slice of the genai client this package uses.
// *genai.Models satisfies it.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client wraps a genai client with retry handling shared by the generator
// and the reasoner.
type Client struct {
	models     contentGenerator
	logger     *slog.Logger
	maxRetries int
	baseDelay  time.Duration

	rngMu sync.Mutex
	rng   *rand.Rand

	// wait blocks for d or until ctx is done. Tests replace it.
	wait func(ctx context.Context, d time.Duration) error
}

// NewClient connects to the Gemini API using cfg.
func NewClient(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (*Client, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}
	return newClient(client.Models, cfg, logger), nil
}

func newClient(models contentGenerator, cfg config.LLMConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		models:     models,
		logger:     logger.With(slog.String("component", "gemini")),
		maxRetries: cfg.MaxRetries,
		baseDelay:  time.Duration(cfg.RetryDelaySeconds) * time.Second,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		wait:       sleepContext,
	}
	if c.maxRetries < 0 {
		c.logger.Warn("invalid max retries value, using default", "max_retries", 3)
		c.maxRetries = 3
	}
	if c.baseDelay < time.Second {
		c.logger.Warn("invalid retry delay value, using default", "base_delay_seconds", 2)
		c.baseDelay = 2 * time.Second
	}
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// callOptions are per-call model settings.
type callOptions struct {
	model       string
	temperature float64
	maxTokens   int
	jsonOutput  bool
}

// generate sends prompt to the model, retrying transient failures up to
// maxRetries times.
func (c *Client) generate(ctx context.Context, prompt string, opts callOptions) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(opts.temperature)),
	}
	if opts.maxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.maxTokens)
	}
	if opts.jsonOutput {
		cfg.ResponseMIMEType = "application/json"
	}

	for attempt := 0; ; attempt++ {
		attemptNum := attempt + 1
		c.logger.DebugContext(ctx, "making Gemini API call",
			"model", opts.model,
			"attempt", attemptNum,
			"max_attempts", c.maxRetries+1)

		resp, err := c.models.GenerateContent(ctx, opts.model, genai.Text(prompt), cfg)
		var text string
		if err == nil {
			text, err = extractText(resp)
		} else {
			err = classifyAPIError(err)
		}
		if err == nil {
			return text, nil
		}

		c.logger.WarnContext(ctx, "Gemini API call failed",
			"model", opts.model,
			"attempt", attemptNum,
			"error", err)

		if !isRetryable(err) {
			return "", err
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", generation.ErrTransientFailure, ctx.Err())
		}
		if attempt >= c.maxRetries {
			return "", fmt.Errorf("%w: exceeded maximum retry attempts (%d): %v",
				generation.ErrTransientFailure, c.maxRetries, err)
		}

		delay := c.backoff(attempt)
		c.logger.DebugContext(ctx, "retrying after delay",
			"attempt", attemptNum,
			"delay", delay)
		if err := c.wait(ctx, delay); err != nil {
			return "", fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
		}
	}
}

// backoff returns base * 2^attempt scaled by a jitter factor in [0.5, 1).
func (c *Client) backoff(attempt int) time.Duration {
	c.rngMu.Lock()
	jitter := 0.5 + c.rng.Float64()*0.5
	c.rngMu.Unlock()
	return time.Duration(float64(c.baseDelay) * math.Pow(2, float64(attempt)) * jitter)
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked (%s)", generation.ErrContentBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return "", fmt.Errorf("%w: no content generated", generation.ErrInvalidResponse)
	}
	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: content blocked by safety filters", generation.ErrContentBlocked)
	}
	if cand.Content == nil {
		return "", fmt.Errorf("%w: empty content in response", generation.ErrInvalidResponse)
	}

	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("%w: response contained no text", generation.ErrInvalidResponse)
	}
	return text, nil
}

// classifyAPIError marks client errors other than rate limiting as
// permanent. Everything else is treated as transient.
func classifyAPIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code >= 400 && apiErr.Code < 500 &&
		apiErr.Code != http.StatusTooManyRequests && apiErr.Code != http.StatusRequestTimeout {
		return fmt.Errorf("%w: %v", generation.ErrGenerationFailed, err)
	}
	return err
}

func isRetryable(err error) bool {
	return !errors.Is(err, generation.ErrContentBlocked) &&
		!errors.Is(err, generation.ErrInvalidResponse) &&
		!errors.Is(err, generation.ErrGenerationFailed)
}
