package eventstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T, cfg config.EventStoreConfig) *Store {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "events.db")
	}
	es, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open event store: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	return es
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.EventStoreConfig{RetentionMode: "ephemeral"}
	es, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = es.Close() })
	if err := es.StartSession(ctx, "s", "cli"); err != nil {
		t.Fatalf("ephemeral start should be a no-op: %v", err)
	}
	if err := es.FinishSession(ctx, "missing", OutcomeCompleted, "", ""); err != nil {
		t.Fatalf("ephemeral finish should be a no-op: %v", err)
	}
	sessions, err := es.RecentSessions(ctx, 5)
	if err != nil || len(sessions) != 0 {
		t.Fatalf("expected no sessions, got %v, %v", sessions, err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "session"})
	ctx := context.Background()

	sessionID := "session-123"
	if err := es.StartSession(ctx, sessionID, "hotkey"); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{SessionID: sessionID, Type: TypeBegin}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{SessionID: sessionID, Type: TypeTranscript, Payload: []byte("hello")}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	events, err := es.ListSessionEvents(ctx, sessionID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != TypeBegin || events[1].Type != TypeTranscript {
		t.Fatalf("unexpected event order %s, %s", events[0].Type, events[1].Type)
	}
	if string(events[1].Payload) != "hello" {
		t.Fatalf("unexpected payload: %s", events[1].Payload)
	}
	if events[0].CreatedAt.IsZero() {
		t.Fatal("expected created_at to round-trip")
	}
}

func TestFinishSessionAndRecent(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent"})
	ctx := context.Background()

	es.clock = func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }
	if err := es.StartSession(ctx, "first", "cli"); err != nil {
		t.Fatalf("start: %v", err)
	}
	es.clock = func() time.Time { return time.Date(2025, 3, 1, 9, 0, 5, 0, time.UTC) }
	if err := es.FinishSession(ctx, "first", OutcomeCompleted, "Hello there.", ""); err != nil {
		t.Fatalf("finish: %v", err)
	}
	es.clock = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }
	if err := es.StartSession(ctx, "second", "hotkey"); err != nil {
		t.Fatalf("start: %v", err)
	}

	sessions, err := es.RecentSessions(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != "second" || sessions[0].Outcome != OutcomeRecording || !sessions[0].EndedAt.IsZero() {
		t.Fatalf("unexpected newest session %+v", sessions[0])
	}
	first := sessions[1]
	if first.Outcome != OutcomeCompleted || first.Text != "Hello there." || first.Source != "cli" {
		t.Fatalf("unexpected finished session %+v", first)
	}
	if got := first.EndedAt.Sub(first.StartedAt); got != 5*time.Second {
		t.Fatalf("expected 5s duration, got %s", got)
	}

	if err := es.FinishSession(ctx, "nope", OutcomeFailed, "", "x"); err == nil {
		t.Fatal("expected unknown session to fail")
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	es := openStore(t, config.EventStoreConfig{RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1})
	ctx := context.Background()

	es.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := es.StartSession(ctx, "old-session", "cli"); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := es.AppendEvent(ctx, Event{SessionID: "old-session", Type: TypeBegin}); err != nil {
		t.Fatalf("append event: %v", err)
	}

	es.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := es.StartSession(ctx, "new-session", "cli"); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := es.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	events, err := es.ListSessionEvents(ctx, "old-session", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected old session pruned")
	}
	sessions, err := es.RecentSessions(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "new-session" {
		t.Fatalf("expected only new session, got %+v", sessions)
	}
}
