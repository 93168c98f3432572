// Package openai is a minimal client for the OpenAI transcription and
// Responses endpoints.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
)

// ErrMissingCredential is returned before any request when no API key is set.
var ErrMissingCredential = errors.New("openai api key not configured")

// ServiceError reports a non-2xx response.
type ServiceError struct {
	Op         string
	StatusCode int
	Body       string
	// Message is error.message from the response body, when present.
	Message string
}

func (e *ServiceError) Error() string {
	detail := e.Message
	if detail == "" {
		detail = strings.TrimSpace(e.Body)
	}
	if detail == "" {
		return fmt.Sprintf("openai %s failed: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("openai %s failed: HTTP %d: %s", e.Op, e.StatusCode, detail)
}

// Client talks to an OpenAI compatible API. It is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient trims any trailing slash from baseURL. A nil httpClient uses
// http.DefaultClient.
func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    httpClient,
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads a WAV file and returns the recognised text. A response
// without a text field yields "".
func (c *Client) Transcribe(ctx context.Context, wav []byte, model, language string) (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingCredential
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("model", model); err != nil {
		return "", err
	}
	if language != "" {
		if err := form.WriteField("language", language); err != nil {
			return "", err
		}
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="audio.wav"`)
	header.Set("Content-Type", "audio/wav")
	part, err := form.CreatePart(header)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(wav); err != nil {
		return "", err
	}
	if err := form.Close(); err != nil {
		return "", err
	}

	raw, err := c.post(ctx, "transcribe", "/v1/audio/transcriptions", form.FormDataContentType(), &body)
	if err != nil {
		return "", err
	}
	var resp transcriptionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}
	return resp.Text, nil
}

type responseInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesRequest struct {
	Model string          `json:"model"`
	Input []responseInput `json:"input"`
}

type responsesResponse struct {
	OutputText *string `json:"output_text"`
	Output     []struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

// Rewrite sends text through the Responses API with prompt as the system
// message. output_text wins when present; otherwise every output content
// text is concatenated in order.
func (c *Client) Rewrite(ctx context.Context, text, model, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingCredential
	}
	payload, err := json.Marshal(responsesRequest{
		Model: model,
		Input: []responseInput{
			{Role: "system", Content: prompt},
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return "", err
	}

	raw, err := c.post(ctx, "rewrite", "/v1/responses", "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	var resp responsesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode responses payload: %w", err)
	}
	if resp.OutputText != nil {
		return *resp.OutputText, nil
	}
	var sb strings.Builder
	for _, out := range resp.Output {
		for _, content := range out.Content {
			sb.WriteString(content.Text)
		}
	}
	return sb.String(), nil
}

func (c *Client) post(ctx context.Context, op, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai %s request: %w", op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai %s read response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &ServiceError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       string(raw),
			Message:    errorMessage(raw),
		}
	}
	return raw, nil
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func errorMessage(body []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	return env.Error.Message
}
