package llm

import (
	"context"
	"strings"
)

type mockRewriter struct{}

func NewMockRewriter() Rewriter { return &mockRewriter{} }

func (m *mockRewriter) Rewrite(ctx context.Context, text, _, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "[mock rewrite of " + strings.TrimSpace(text) + "]", nil
}
