package naming

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/opensource-analytics/harrier/internal/domain"
)

const defaultModel = openai.GPT4oMini

// OpenAINamer names segments via an OpenAI-compatible chat endpoint.
// Every call carries a hard timeout; failures surface as
// ErrNamingCollaborator so callers fall back to the rule-based name.
type OpenAINamer struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAINamer builds a namer from config.
func NewOpenAINamer(cfg domain.NamingConfig) (*OpenAINamer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key is required", domain.ErrInvalidConfig)
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &OpenAINamer{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   model,
		timeout: timeout,
	}, nil
}

type namedSegment struct {
	Name           string `json:"name"`
	Interpretation string `json:"interpretation"`
}

// Name implements Service.
func (n *OpenAINamer) Name(ctx context.Context, req Request) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	resp, err := n.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: n.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: "You name behavioral customer segments. Reply with JSON " +
					`{"name":"snake_case_label","interpretation":"one sentence"}. ` +
					"Names are lowercase snake_case, at most three words.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: n.prompt(req),
			},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", domain.ErrNamingCollaborator, err)
	}
	if len(resp.Choices) == 0 {
		return Result{}, fmt.Errorf("%w: empty completion", domain.ErrNamingCollaborator)
	}

	var parsed namedSegment
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return Result{}, fmt.Errorf("%w: unparseable completion: %v", domain.ErrNamingCollaborator, err)
	}
	if parsed.Name == "" {
		return Result{}, fmt.Errorf("%w: completion missing name", domain.ErrNamingCollaborator)
	}

	return Result{
		Name:           sanitize(parsed.Name),
		Interpretation: parsed.Interpretation,
	}, nil
}

func (n *OpenAINamer) prompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Axis: %s\nSegment %d of the axis, %.1f%% of the population (%d subjects).\nCenter values:\n",
		req.Axis, req.Rank, req.PopulationPct*100, req.MemberCount)
	for i, f := range req.FeatureNames {
		if i < len(req.Center) {
			fmt.Fprintf(&b, "  %s = %.2f\n", f, req.Center[i])
		}
	}
	return b.String()
}

func sanitize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "-", "_")
	return name
}

// New builds the configured naming service. Provider "none" (or empty)
// yields the deterministic fallback.
func New(cfg domain.NamingConfig) (Service, error) {
	switch cfg.Provider {
	case "", "none":
		return Fallback{}, nil
	case "openai":
		return NewOpenAINamer(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported naming provider %q", domain.ErrInvalidConfig, cfg.Provider)
	}
}
