package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"
)

// execRewriter pipes {"text","model","prompt"} to a local command and reads
// {"content"} back from stdout. A positive timeout bounds each run.
type execRewriter struct {
	cmd     []string
	timeout time.Duration
	mu      sync.Mutex
}

type execRequest struct {
	Text   string `json:"text"`
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
}

type execResponse struct {
	Content string `json:"content"`
}

func NewExecRewriter(command string, timeout time.Duration) (Rewriter, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse rewrite command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("rewrite command empty")
	}
	return &execRewriter{cmd: args, timeout: timeout}, nil
}

func (r *execRewriter) Rewrite(ctx context.Context, text, model, prompt string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	input, err := json.Marshal(execRequest{Text: text, Model: model, Prompt: prompt})
	if err != nil {
		return "", err
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.cmd[0], r.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	output, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("rewrite exec command aborted: %w", ctxErr)
		}
		return "", fmt.Errorf("rewrite exec command failed: %w", err)
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return "", fmt.Errorf("decode rewrite exec response: %w", err)
	}
	return resp.Content, nil
}
