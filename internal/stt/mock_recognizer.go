package stt

import (
	"context"
	"fmt"
)

type mockRecognizer struct{}

func NewMockRecognizer() Recognizer {
	return &mockRecognizer{}
}

func (m *mockRecognizer) Transcribe(_ context.Context, wav []byte, model string) (string, error) {
	return fmt.Sprintf("[%s transcript bytes=%d]", model, len(wav)), nil
}
