package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestTranscribeSendsMultipartForm(t *testing.T) {
	wav := []byte("RIFF....WAVE")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		if got := r.FormValue("model"); got != "gpt-4o-transcribe" {
			t.Errorf("unexpected model %q", got)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("unexpected language %q", got)
		}
		file, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer file.Close()
		if hdr.Filename != "audio.wav" || hdr.Header.Get("Content-Type") != "audio/wav" {
			t.Errorf("unexpected file part %s %s", hdr.Filename, hdr.Header.Get("Content-Type"))
		}
		data, _ := io.ReadAll(file)
		if string(data) != string(wav) {
			t.Errorf("unexpected file contents %q", data)
		}
		_, _ = w.Write([]byte(`{"text":"hello world"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "sk-test", srv.Client())
	text, err := client.Transcribe(context.Background(), wav, "gpt-4o-transcribe", "en")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("expected transcript, got %q", text)
	}
}

func TestTranscribeMissingTextIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	text, err := NewClient(srv.URL, "sk-test", nil).Transcribe(context.Background(), nil, "m", "")
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "" {
		t.Fatalf("expected empty text, got %q", text)
	}
}

func TestServiceErrorCarriesStatusAndMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided"}}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "sk-bad", nil).Transcribe(context.Background(), nil, "m", "")
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected ServiceError, got %v", err)
	}
	if svcErr.StatusCode != http.StatusUnauthorized || svcErr.Op != "transcribe" {
		t.Fatalf("unexpected service error %+v", svcErr)
	}
	if svcErr.Message != "Incorrect API key provided" {
		t.Fatalf("expected extracted message, got %q", svcErr.Message)
	}
	if svcErr.Error() != "openai transcribe failed: HTTP 401: Incorrect API key provided" {
		t.Fatalf("unexpected error text %q", svcErr.Error())
	}
}

func TestServiceErrorFallsBackToBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "sk-test", nil).Rewrite(context.Background(), "x", "m", "p")
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected ServiceError, got %v", err)
	}
	if svcErr.Message != "" || svcErr.Error() != "openai rewrite failed: HTTP 502: upstream exploded" {
		t.Fatalf("unexpected error %q", svcErr.Error())
	}
}

func TestMissingCredentialSkipsRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", nil)
	if _, err := client.Transcribe(context.Background(), nil, "m", ""); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
	if _, err := client.Rewrite(context.Background(), "x", "m", "p"); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatalf("expected no requests, got %d", hits.Load())
	}
}

func TestRewriteRequestShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/responses" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		var req responsesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		if req.Model != "gpt-5-mini" || len(req.Input) != 2 {
			t.Errorf("unexpected request %+v", req)
			return
		}
		if req.Input[0] != (responseInput{Role: "system", Content: "fix it"}) ||
			req.Input[1] != (responseInput{Role: "user", Content: "hello world"}) {
			t.Errorf("unexpected input %+v", req.Input)
		}
		_, _ = w.Write([]byte(`{"output_text":"Hello, world.","output":[{"content":[{"text":"ignored"}]}]}`))
	}))
	defer srv.Close()

	out, err := NewClient(srv.URL, "sk-test", nil).Rewrite(context.Background(), "hello world", "gpt-5-mini", "fix it")
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if out != "Hello, world." {
		t.Fatalf("expected output_text, got %q", out)
	}
}

func TestRewriteConcatenatesOutputContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"output":[{"content":[{"text":"Hello, "},{"text":"world"}]},{"content":[]},{"content":[{"text":"."}]}]}`))
	}))
	defer srv.Close()

	out, err := NewClient(srv.URL, "sk-test", nil).Rewrite(context.Background(), "hello world", "m", "p")
	if err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if out != "Hello, world." {
		t.Fatalf("expected concatenated text, got %q", out)
	}
}
