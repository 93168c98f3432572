package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4223" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.STT.BaseURL != DefaultBaseURL || cfg.Rewrite.BaseURL != DefaultBaseURL {
		t.Fatalf("expected default base url, got %q / %q", cfg.STT.BaseURL, cfg.Rewrite.BaseURL)
	}
	if cfg.STT.Model != DefaultTranscribeModel {
		t.Fatalf("expected transcribe model %q, got %q", DefaultTranscribeModel, cfg.STT.Model)
	}
	if cfg.Rewrite.Model != DefaultRewriteModel {
		t.Fatalf("expected rewrite model %q, got %q", DefaultRewriteModel, cfg.Rewrite.Model)
	}
	if cfg.Rewrite.Prompt != DefaultRewritePrompt {
		t.Fatalf("expected default rewrite prompt, got %q", cfg.Rewrite.Prompt)
	}
	if cfg.Capture.PollIntervalMS != 100 {
		t.Fatalf("expected 100ms poll interval, got %d", cfg.Capture.PollIntervalMS)
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dictation.yaml")
	data := []byte("stt:\n  model: whisper-1\nrewrite:\n  prompt: Fix it.\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.STT.Model != "whisper-1" {
		t.Fatalf("expected model override, got %q", cfg.STT.Model)
	}
	if cfg.Rewrite.Prompt != "Fix it." {
		t.Fatalf("expected prompt override, got %q", cfg.Rewrite.Prompt)
	}
	if cfg.STT.BaseURL != DefaultBaseURL {
		t.Fatalf("expected base url default to survive, got %q", cfg.STT.BaseURL)
	}
	if cfg.Rewrite.Model != DefaultRewriteModel {
		t.Fatalf("expected rewrite model default to survive, got %q", cfg.Rewrite.Model)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_TLS_INSECURE", "true")
	t.Setenv("LOQA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "persistent")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_DAYS", "7")
	t.Setenv("LOQA_CAPTURE_DEVICE", "USB Mic")
	t.Setenv("LOQA_CAPTURE_POLL_INTERVAL_MS", "50")
	t.Setenv("LOQA_STT_MODE", "mock")
	t.Setenv("LOQA_REWRITE_MODE", "ollama")
	t.Setenv("LOQA_REWRITE_BASE_URL", "http://localhost:11434")
	t.Setenv("LOQA_CONTROL_SUBJECT_PREFIX", "desk.dictation")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if !cfg.Bus.TLSInsecure {
		t.Fatal("expected tls insecure override true")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.EventStore.RetentionMode != "persistent" || cfg.EventStore.RetentionDays != 7 {
		t.Fatalf("expected event store overrides, got %+v", cfg.EventStore)
	}
	if cfg.Capture.Device != "USB Mic" || cfg.Capture.PollIntervalMS != 50 {
		t.Fatalf("expected capture overrides, got %+v", cfg.Capture)
	}
	if cfg.STT.Mode != "mock" {
		t.Fatalf("expected stt mode override, got %q", cfg.STT.Mode)
	}
	if cfg.Rewrite.Mode != "ollama" || cfg.Rewrite.BaseURL != "http://localhost:11434" {
		t.Fatalf("expected rewrite overrides, got %+v", cfg.Rewrite)
	}
	if cfg.Control.SubjectPrefix != "desk.dictation" {
		t.Fatalf("expected control prefix override, got %q", cfg.Control.SubjectPrefix)
	}
}

func TestSharedAPIKeyFallback(t *testing.T) {
	t.Setenv(APIKeyEnv, "sk-shared")
	t.Setenv("LOQA_REWRITE_API_KEY", "sk-rewrite")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.STT.APIKey != "sk-shared" {
		t.Fatalf("expected shared key for stt, got %q", cfg.STT.APIKey)
	}
	if cfg.Rewrite.APIKey != "sk-rewrite" {
		t.Fatalf("expected explicit rewrite key to win, got %q", cfg.Rewrite.APIKey)
	}
}

func TestValidateRejectsUnknownModes(t *testing.T) {
	t.Setenv("LOQA_STT_MODE", "carrier-pigeon")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for unknown stt mode")
	}
}

func TestValidateExecNeedsCommand(t *testing.T) {
	t.Setenv("LOQA_REWRITE_MODE", "exec")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for exec rewrite without command")
	}
}
