// Package session mediates push-to-talk begin/end requests against the
// capture worker and runs the encode, transcribe and rewrite pipeline on the
// recorded audio.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loqalabs/loqa-dictation/internal/capture"
	"github.com/loqalabs/loqa-dictation/internal/pcm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-dictation/internal/session"

var (
	ErrCaptureStartFailed  = errors.New("capture start failed")
	ErrEncodeFailed        = errors.New("audio encode failed")
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrRewriteFailed       = errors.New("rewrite failed")
)

// Capturer is the capture worker seen from the coordinator.
type Capturer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (capture.Session, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte, model string) (string, error)
}

type Rewriter interface {
	Rewrite(ctx context.Context, text, model, prompt string) (string, error)
}

// Encoder wraps mono PCM16 samples in an audio container.
type Encoder func(samples []int16, sampleRate uint32) ([]byte, error)

type Options struct {
	TranscribeModel string
	RewriteModel    string
	RewritePrompt   string
	// Encode defaults to pcm.EncodeWAV.
	Encode Encoder
	// Tracer and Meter default to the global providers.
	Tracer trace.Tracer
	Meter  metric.Meter
}

// Phase is the coarse activity reported by Status.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseRecording    Phase = "recording"
	PhaseTranscribing Phase = "transcribing"
	PhaseRewriting    Phase = "rewriting"
)

type Status struct {
	Recording bool   `json:"recording"`
	Phase     Phase  `json:"phase"`
	LastError string `json:"last_error,omitempty"`
}

// Coordinator serialises begin/end requests. The recording flag reflects the
// caller's most recent request, not whether a stream is actually open.
type Coordinator struct {
	capture     Capturer
	transcriber Transcriber
	rewriter    Rewriter
	opts        Options
	log         *slog.Logger
	tracer      trace.Tracer

	mu        sync.Mutex
	recording bool
	// starting is closed once the in-flight BeginSession has its reply.
	starting chan struct{}

	statusMu  sync.Mutex
	phase     Phase
	lastError error

	started   metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
	samples   metric.Int64Histogram
}

func NewCoordinator(capturer Capturer, transcriber Transcriber, rewriter Rewriter, opts Options, logger *slog.Logger) (*Coordinator, error) {
	if opts.Encode == nil {
		opts.Encode = pcm.EncodeWAV
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(instrumentationName)
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter(instrumentationName)
	}
	c := &Coordinator{
		capture:     capturer,
		transcriber: transcriber,
		rewriter:    rewriter,
		opts:        opts,
		log:         logger.With(slog.String("component", "session-coordinator")),
		tracer:      opts.Tracer,
		phase:       PhaseIdle,
	}
	if err := c.initMetrics(capturer); err != nil {
		return nil, fmt.Errorf("session metrics: %w", err)
	}
	return c, nil
}

func (c *Coordinator) initMetrics(capturer Capturer) error {
	meter := c.opts.Meter
	var err error
	if c.started, err = meter.Int64Counter("dictation.sessions.started",
		metric.WithDescription("Capture sessions opened")); err != nil {
		return err
	}
	if c.completed, err = meter.Int64Counter("dictation.sessions.completed",
		metric.WithDescription("Sessions that produced a result")); err != nil {
		return err
	}
	if c.failed, err = meter.Int64Counter("dictation.sessions.failed",
		metric.WithDescription("Session failures by stage")); err != nil {
		return err
	}
	if c.samples, err = meter.Int64Histogram("dictation.capture.samples",
		metric.WithDescription("Mono samples captured per session")); err != nil {
		return err
	}
	if counter, ok := capturer.(interface{ DroppedBlocks() uint64 }); ok {
		_, err = meter.Int64ObservableGauge("dictation.capture.dropped_blocks",
			metric.WithDescription("Audio blocks dropped because the buffer was busy"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(int64(counter.DroppedBlocks()))
				return nil
			}))
		if err != nil {
			return err
		}
	}
	return nil
}

// Recording reports the flag set by BeginSession and cleared by EndSession.
func (c *Coordinator) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// BeginSession opens a capture unless one was already requested. On failure
// the flag stays set until EndSession.
func (c *Coordinator) BeginSession(ctx context.Context) error {
	c.mu.Lock()
	if c.recording {
		c.mu.Unlock()
		c.log.Debug("begin ignored, already recording")
		return nil
	}
	c.recording = true
	starting := make(chan struct{})
	c.starting = starting
	c.mu.Unlock()
	defer close(starting)

	ctx, span := c.tracer.Start(ctx, "session.begin")
	defer span.End()

	if err := c.capture.Start(ctx); err != nil {
		err = fmt.Errorf("%w: %w", ErrCaptureStartFailed, err)
		c.fail(ctx, span, "capture", err)
		return err
	}
	c.started.Add(ctx, 1)
	c.setStatus(PhaseRecording, nil)
	c.log.Info("session started")
	return nil
}

// EndSession stops the capture and returns the rewritten transcript. An empty
// recording yields "" with no downstream calls.
func (c *Coordinator) EndSession(ctx context.Context) (string, error) {
	c.mu.Lock()
	c.recording = false
	starting := c.starting
	c.starting = nil
	c.mu.Unlock()

	// Stop must reach the actor after a concurrent Start, or the stream it
	// opens would outlive the session.
	if starting != nil {
		select {
		case <-starting:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	ctx, span := c.tracer.Start(ctx, "session.end")
	defer span.End()

	sess, err := c.capture.Stop(ctx)
	if err != nil {
		c.fail(ctx, span, "capture", err)
		return "", err
	}
	c.samples.Record(ctx, int64(len(sess.Samples)))
	span.SetAttributes(
		attribute.Int("audio.samples", len(sess.Samples)),
		attribute.Int64("audio.sample_rate", int64(sess.Format.SampleRate)),
	)
	if len(sess.Samples) == 0 {
		c.setStatus(PhaseIdle, nil)
		c.log.Info("session ended with no audio")
		return "", nil
	}

	c.setStatus(PhaseTranscribing, nil)
	wav, err := c.encode(ctx, sess)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrEncodeFailed, err)
		c.fail(ctx, span, "encode", err)
		return "", err
	}

	raw, err := c.transcribe(ctx, wav)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
		c.fail(ctx, span, "transcribe", err)
		return "", err
	}

	c.setStatus(PhaseRewriting, nil)
	text, err := c.rewrite(ctx, raw)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrRewriteFailed, err)
		c.fail(ctx, span, "rewrite", err)
		return "", err
	}

	c.completed.Add(ctx, 1)
	c.setStatus(PhaseIdle, nil)
	c.log.Info("session completed",
		slog.Int("samples", len(sess.Samples)),
		slog.Int("sample_rate", int(sess.Format.SampleRate)),
		slog.Int("chars", len(text)),
	)
	return text, nil
}

func (c *Coordinator) Ping() string { return "pong" }

func (c *Coordinator) Status() Status {
	st := Status{Recording: c.Recording()}
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	st.Phase = c.phase
	if c.lastError != nil {
		st.LastError = c.lastError.Error()
	}
	return st
}

func (c *Coordinator) encode(ctx context.Context, sess capture.Session) ([]byte, error) {
	_, span := c.tracer.Start(ctx, "audio.encode")
	defer span.End()
	wav, err := c.opts.Encode(sess.Samples, sess.Format.SampleRate)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("audio.bytes", len(wav)))
	return wav, nil
}

func (c *Coordinator) transcribe(ctx context.Context, wav []byte) (string, error) {
	ctx, span := c.tracer.Start(ctx, "stt.transcribe",
		trace.WithAttributes(attribute.String("stt.model", c.opts.TranscribeModel)))
	defer span.End()
	text, err := c.transcriber.Transcribe(ctx, wav, c.opts.TranscribeModel)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return text, nil
}

func (c *Coordinator) rewrite(ctx context.Context, text string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "text.rewrite",
		trace.WithAttributes(attribute.String("rewrite.model", c.opts.RewriteModel)))
	defer span.End()
	out, err := c.rewriter.Rewrite(ctx, text, c.opts.RewriteModel, c.opts.RewritePrompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return out, nil
}

func (c *Coordinator) fail(ctx context.Context, span trace.Span, stage string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	c.setStatus(PhaseIdle, err)
	c.log.Warn("session failed", slog.String("stage", stage), slogError(err))
}

func (c *Coordinator) setStatus(phase Phase, err error) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	c.phase = phase
	c.lastError = err
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
