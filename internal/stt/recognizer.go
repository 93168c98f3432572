package stt

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/openai"
)

// Recognizer abstracts STT backends. wav is a complete RIFF/WAVE file.
type Recognizer interface {
	Transcribe(ctx context.Context, wav []byte, model string) (string, error)
}

// New builds the recognizer selected by cfg.Mode.
func New(cfg config.STTConfig) (Recognizer, error) {
	switch cfg.Mode {
	case "openai":
		return NewOpenAIRecognizer(cfg), nil
	case "exec":
		return NewExecRecognizer(cfg)
	case "mock":
		return NewMockRecognizer(), nil
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}

type openAIRecognizer struct {
	client   *openai.Client
	language string
}

// NewOpenAIRecognizer uploads audio to the transcription endpoint at
// cfg.BaseURL.
func NewOpenAIRecognizer(cfg config.STTConfig) Recognizer {
	httpClient := &http.Client{Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond}
	return &openAIRecognizer{
		client:   openai.NewClient(cfg.BaseURL, cfg.APIKey, httpClient),
		language: cfg.Language,
	}
}

func (r *openAIRecognizer) Transcribe(ctx context.Context, wav []byte, model string) (string, error) {
	return r.client.Transcribe(ctx, wav, model, r.language)
}
