package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/bus"
	"github.com/loqalabs/loqa-dictation/internal/capture"
	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/control"
	"github.com/loqalabs/loqa-dictation/internal/eventstore"
	"github.com/loqalabs/loqa-dictation/internal/llm"
	"github.com/loqalabs/loqa-dictation/internal/natsserver"
	"github.com/loqalabs/loqa-dictation/internal/session"
	"github.com/loqalabs/loqa-dictation/internal/stt"
)

const pruneInterval = time.Hour

// Runtime wires the capture worker, coordinator and control surface together
// and serves health and metrics over HTTP.
type Runtime struct {
	cfg     config.Config
	version string
	host    capture.Host
	logger  *slog.Logger

	httpServer  *http.Server
	httpAddr    string
	busURL      string
	tracerClose func(context.Context) error
	ready       atomic.Bool
	started     chan struct{}
	wg          sync.WaitGroup

	healthChecks []func() bool
}

func New(cfg config.Config, version string, host capture.Host, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:     cfg,
		version: version,
		host:    host,
		logger:  logger,
		started: make(chan struct{}),
	}
}

// Started is closed once every component is up and serving.
func (r *Runtime) Started() <-chan struct{} { return r.started }

// HTTPAddr is the bound health/metrics address, valid after Started.
func (r *Runtime) HTTPAddr() string { return r.httpAddr }

// BusURL is the NATS URL the control surface listens on, valid after Started.
func (r *Runtime) BusURL() string { return r.busURL }

// Start brings the runtime up and blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.version, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		r.closeTelemetry()
	}()

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger.With(slog.String("component", "nats")))
	if err != nil {
		return err
	}
	closers = append(closers, embedded.Shutdown)

	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	busClient, err := bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return err
	}
	closers = append(closers, busClient.Close)
	r.busURL = busCfg.Servers[0]

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	closers = append(closers, func() {
		if err := store.Close(); err != nil {
			r.logger.Warn("event store close error", slog.String("error", err.Error()))
		}
	})

	errs := &capture.ErrorSlot{}
	engine := capture.NewEngine(r.host, capture.EngineOptions{
		DeviceName:   r.cfg.Capture.Device,
		PollInterval: time.Duration(r.cfg.Capture.PollIntervalMS) * time.Millisecond,
	}, errs, r.logger)
	actor := capture.NewActor(engine, errs, r.logger)
	closers = append(closers, actor.Close)

	recognizer, err := stt.New(r.cfg.STT)
	if err != nil {
		return err
	}
	rewriter, err := llm.New(r.cfg.Rewrite)
	if err != nil {
		return err
	}
	coord, err := session.NewCoordinator(actor, recognizer, rewriter, session.Options{
		TranscribeModel: r.cfg.STT.Model,
		RewriteModel:    r.cfg.Rewrite.Model,
		RewritePrompt:   r.cfg.Rewrite.Prompt,
	}, r.logger)
	if err != nil {
		return err
	}

	controlSvc := control.NewService(ctx, r.cfg.Control, busClient, coord, actor, store, r.logger)
	if err := controlSvc.Start(); err != nil {
		return fmt.Errorf("start control surface: %w", err)
	}
	closers = append(closers, controlSvc.Close)
	r.healthChecks = append(r.healthChecks, busClient.Healthy, controlSvc.Healthy)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := net.JoinHostPort(r.cfg.HTTP.Bind, strconv.Itoa(r.cfg.HTTP.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	r.httpAddr = listener.Addr().String()
	r.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.pruneLoop(ctx, store)
	}()

	r.ready.Store(true)
	close(r.started)
	r.logger.Info("runtime started",
		slog.String("addr", r.httpAddr),
		slog.String("bus", r.busURL),
		slog.String("version", r.version),
	)

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
	return nil
}

func (r *Runtime) closeTelemetry() {
	if r.tracerClose == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tracerClose(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
}

func (r *Runtime) pruneLoop(ctx context.Context, store *eventstore.Store) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := store.Prune(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Warn("event store prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) healthy() bool {
	for _, check := range r.healthChecks {
		if !check() {
			return false
		}
	}
	return true
}
