package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/openai"
)

// Rewriter post-processes a raw transcript. prompt is the system
// instruction; model selects the backend model where the backend has one.
type Rewriter interface {
	Rewrite(ctx context.Context, text, model, prompt string) (string, error)
}

// New builds the rewriter selected by cfg. A disabled rewrite pass returns
// the transcript unchanged.
func New(cfg config.RewriteConfig) (Rewriter, error) {
	if !cfg.Enabled {
		return NewPassthrough(), nil
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	switch cfg.Mode {
	case "openai":
		return NewOpenAIRewriter(cfg.BaseURL, cfg.APIKey, timeout), nil
	case "ollama":
		return NewOllamaRewriter(cfg.BaseURL, timeout), nil
	case "exec":
		return NewExecRewriter(cfg.Command, timeout)
	case "mock":
		return NewMockRewriter(), nil
	default:
		return nil, fmt.Errorf("unknown rewrite mode %q", cfg.Mode)
	}
}

type openAIRewriter struct {
	client *openai.Client
}

func NewOpenAIRewriter(baseURL, apiKey string, timeout time.Duration) Rewriter {
	return &openAIRewriter{client: openai.NewClient(baseURL, apiKey, &http.Client{Timeout: timeout})}
}

func (r *openAIRewriter) Rewrite(ctx context.Context, text, model, prompt string) (string, error) {
	return r.client.Rewrite(ctx, text, model, prompt)
}

type passthrough struct{}

// NewPassthrough returns a Rewriter that leaves text untouched.
func NewPassthrough() Rewriter { return passthrough{} }

func (passthrough) Rewrite(_ context.Context, text, _, _ string) (string, error) {
	return text, nil
}
