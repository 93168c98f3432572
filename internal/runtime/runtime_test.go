package runtime

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/bus"
	"github.com/loqalabs/loqa-dictation/internal/capture"
	"github.com/loqalabs/loqa-dictation/internal/capture/capturetest"
	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/protocol"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.HTTP.Bind = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Bus.Port = -1
	cfg.EventStore.RetentionMode = "ephemeral"
	cfg.STT.Mode = "mock"
	cfg.Rewrite.Mode = "mock"
	cfg.Control.RequestTimeoutMS = 5000
	return cfg
}

func TestRuntimeServesControlAndHealth(t *testing.T) {
	dev := capturetest.NewDevice("built-in", 16000)
	dev.Blocks = []capture.Block{{Int16: []int16{1, 2, 3}}}
	rt := New(testConfig(), "test", capturetest.NewHost(dev), newLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			t.Error("runtime did not stop")
		}
	})

	select {
	case <-rt.Started():
	case err := <-done:
		t.Fatalf("runtime exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("runtime did not start")
	}

	for path, want := range map[string]string{"/healthz": "ok", "/readyz": "ready"} {
		body := httpGet(t, "http://"+rt.HTTPAddr()+path)
		if body != want {
			t.Fatalf("%s: expected %q, got %q", path, want, body)
		}
	}

	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{rt.BusURL()}, ConnectTimeout: 2000}, "runtime-test", newLogger())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	prefix := config.Default().Control.SubjectPrefix
	reqCtx, reqCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer reqCancel()
	var reply protocol.ControlReply
	if err := client.RequestJSON(reqCtx, protocol.ControlSubject(prefix, protocol.OpBegin), protocol.ControlRequest{}, &reply); err != nil || !reply.OK {
		t.Fatalf("begin: %+v, %v", reply, err)
	}
	reply = protocol.ControlReply{}
	if err := client.RequestJSON(reqCtx, protocol.ControlSubject(prefix, protocol.OpEnd), protocol.ControlRequest{}, &reply); err != nil || !reply.OK {
		t.Fatalf("end: %+v, %v", reply, err)
	}
	if !strings.HasPrefix(reply.Text, "[mock rewrite of [gpt-4o-transcribe transcript bytes=50]") {
		t.Fatalf("unexpected text %q", reply.Text)
	}

	metrics := httpGet(t, "http://"+rt.HTTPAddr()+"/metrics")
	if !strings.Contains(metrics, "dictation_sessions_completed_total") {
		t.Fatalf("expected session metrics, got:\n%s", metrics)
	}
}

func httpGet(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", url, err)
	}
	return string(body)
}
