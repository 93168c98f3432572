// Package control exposes the session coordinator as NATS request/reply
// subjects and records each session in the event store.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-dictation/internal/bus"
	"github.com/loqalabs/loqa-dictation/internal/capture"
	"github.com/loqalabs/loqa-dictation/internal/config"
	"github.com/loqalabs/loqa-dictation/internal/eventstore"
	"github.com/loqalabs/loqa-dictation/internal/protocol"
	"github.com/loqalabs/loqa-dictation/internal/session"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Coordinator interface {
	BeginSession(ctx context.Context) error
	EndSession(ctx context.Context) (string, error)
	Ping() string
	Status() session.Status
}

// Devices lists capture inputs and reports dropped audio blocks.
type Devices interface {
	Devices(ctx context.Context) ([]capture.DeviceInfo, error)
	DroppedBlocks() uint64
}

// History persists session outcomes. *eventstore.Store satisfies it.
type History interface {
	StartSession(ctx context.Context, sessionID, source string) error
	FinishSession(ctx context.Context, sessionID, outcome, text, errMsg string) error
	AppendEvent(ctx context.Context, evt eventstore.Event) error
	RecentSessions(ctx context.Context, limit int) ([]eventstore.Session, error)
}

type activeSession struct {
	id     string
	source string
	// failed marks a session whose begin already recorded its outcome.
	failed bool
}

type Service struct {
	cfg     config.ControlConfig
	bus     *bus.Client
	coord   Coordinator
	devices Devices
	history History
	logger  *slog.Logger
	tracer  trace.Tracer

	subs   []*nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active *activeSession
	newID  func() string
}

func NewService(parent context.Context, cfg config.ControlConfig, busClient *bus.Client, coord Coordinator, devices Devices, history History, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:     cfg,
		bus:     busClient,
		coord:   coord,
		devices: devices,
		history: history,
		logger:  logger.With(slog.String("component", "control")),
		tracer:  otel.Tracer("github.com/loqalabs/loqa-dictation/internal/control"),
		ctx:     ctx,
		cancel:  cancel,
		newID:   func() string { return uuid.NewString() },
	}
}

func (s *Service) Start() error {
	handlers := map[string]func(context.Context, protocol.ControlRequest) protocol.ControlReply{
		protocol.OpBegin:   s.begin,
		protocol.OpEnd:     s.end,
		protocol.OpPing:    s.ping,
		protocol.OpStatus:  s.status,
		protocol.OpDevices: s.listDevices,
		protocol.OpHistory: s.recent,
	}
	for op, handler := range handlers {
		subject := protocol.ControlSubject(s.cfg.SubjectPrefix, op)
		sub, err := s.bus.Conn().Subscribe(subject, s.dispatch(op, handler))
		if err != nil {
			s.drain()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	if err := s.bus.Conn().Flush(); err != nil {
		s.drain()
		return fmt.Errorf("flush control subscriptions: %w", err)
	}
	s.logger.Info("control surface ready", slog.String("prefix", protocol.ControlSubject(s.cfg.SubjectPrefix, "*")))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.drain()
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return len(s.subs) > 0 && s.bus.Healthy()
}

func (s *Service) drain() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) dispatch(op string, handler func(context.Context, protocol.ControlRequest) protocol.ControlReply) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var req protocol.ControlRequest
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &req); err != nil {
				s.logger.Warn("failed to decode control request", slog.String("op", op), slogError(err))
				s.respond(msg, protocol.ControlReply{Error: fmt.Sprintf("invalid request: %v", err)})
				return
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ctx, cancel := context.WithTimeout(s.ctx, time.Duration(s.cfg.RequestTimeoutMS)*time.Millisecond)
			defer cancel()
			ctx, span := s.tracer.Start(ctx, "control."+op, trace.WithAttributes(attribute.String("control.source", req.Source)))
			defer span.End()
			s.respond(msg, handler(ctx, req))
		}()
	}
}

func (s *Service) respond(msg *nats.Msg, reply protocol.ControlReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Warn("failed to marshal control reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send control reply", slogError(err))
	}
}

func (s *Service) begin(ctx context.Context, req protocol.ControlRequest) protocol.ControlReply {
	act, fresh := s.ensureSession(req.Source)
	if fresh {
		s.record(func() error { return s.history.StartSession(ctx, act.id, act.source) })
		s.appendEvent(ctx, act.id, eventstore.TypeBegin, []byte(act.source))
	}

	err := s.coord.BeginSession(ctx)
	if err != nil {
		s.markFailed(act.id)
		s.appendEvent(ctx, act.id, eventstore.TypeError, []byte(err.Error()))
		s.record(func() error {
			return s.history.FinishSession(ctx, act.id, eventstore.OutcomeFailed, "", err.Error())
		})
	}
	s.publishState(act.id, err)
	if err != nil {
		return protocol.ControlReply{SessionID: act.id, Error: err.Error()}
	}
	return protocol.ControlReply{OK: true, SessionID: act.id}
}

func (s *Service) end(ctx context.Context, _ protocol.ControlRequest) protocol.ControlReply {
	act := s.takeSession()
	text, err := s.coord.EndSession(ctx)

	var id string
	if act != nil {
		id = act.id
	}
	if act != nil && !act.failed {
		s.appendEvent(ctx, id, eventstore.TypeEnd, nil)
		outcome, errMsg := eventstore.OutcomeCompleted, ""
		switch {
		case err != nil:
			outcome, errMsg = eventstore.OutcomeFailed, err.Error()
			s.appendEvent(ctx, id, eventstore.TypeError, []byte(errMsg))
		case text == "":
			outcome = eventstore.OutcomeEmpty
		default:
			s.appendEvent(ctx, id, eventstore.TypeTranscript, []byte(text))
		}
		s.record(func() error { return s.history.FinishSession(ctx, id, outcome, text, errMsg) })
	}

	s.publishState(id, err)
	if err != nil {
		return protocol.ControlReply{SessionID: id, Error: err.Error()}
	}
	if text != "" {
		transcript := protocol.Transcript{SessionID: id, Text: text, Timestamp: time.Now().UTC()}
		if perr := s.bus.PublishJSON(protocol.SubjectTranscriptFinal, transcript); perr != nil {
			s.logger.Warn("failed to publish transcript", slogError(perr))
		}
	}
	return protocol.ControlReply{OK: true, Text: text, SessionID: id}
}

func (s *Service) ping(context.Context, protocol.ControlRequest) protocol.ControlReply {
	return protocol.ControlReply{OK: true, Text: s.coord.Ping()}
}

func (s *Service) status(context.Context, protocol.ControlRequest) protocol.ControlReply {
	st := s.coord.Status()
	s.mu.Lock()
	var id string
	if s.active != nil {
		id = s.active.id
	}
	s.mu.Unlock()
	return protocol.ControlReply{OK: true, SessionID: id, Status: &protocol.SessionStatus{
		Recording:     st.Recording,
		Phase:         string(st.Phase),
		SessionID:     id,
		LastError:     st.LastError,
		DroppedBlocks: s.devices.DroppedBlocks(),
	}}
}

func (s *Service) listDevices(ctx context.Context, _ protocol.ControlRequest) protocol.ControlReply {
	infos, err := s.devices.Devices(ctx)
	if err != nil {
		return protocol.ControlReply{Error: err.Error()}
	}
	out := make([]protocol.Device, 0, len(infos))
	for _, d := range infos {
		out = append(out, protocol.Device{Name: d.Name, Default: d.Default, SampleRate: d.SampleRate, Channels: d.Channels})
	}
	return protocol.ControlReply{OK: true, Devices: out}
}

func (s *Service) recent(ctx context.Context, req protocol.ControlRequest) protocol.ControlReply {
	sessions, err := s.history.RecentSessions(ctx, req.Limit)
	if err != nil {
		return protocol.ControlReply{Error: err.Error()}
	}
	out := make([]protocol.SessionSummary, 0, len(sessions))
	for _, sess := range sessions {
		summary := protocol.SessionSummary{
			SessionID: sess.ID,
			Outcome:   sess.Outcome,
			Source:    sess.Source,
			StartedAt: sess.StartedAt,
			Text:      sess.Text,
			Error:     sess.Error,
		}
		if !sess.EndedAt.IsZero() {
			ended := sess.EndedAt
			summary.EndedAt = &ended
		}
		out = append(out, summary)
	}
	return protocol.ControlReply{OK: true, Sessions: out}
}

func (s *Service) ensureSession(source string) (*activeSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return s.active, false
	}
	s.active = &activeSession{id: s.newID(), source: source}
	return s.active, true
}

func (s *Service) markFailed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && s.active.id == id {
		s.active.failed = true
	}
}

func (s *Service) takeSession() *activeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	act := s.active
	s.active = nil
	return act
}

func (s *Service) appendEvent(ctx context.Context, sessionID, eventType string, payload []byte) {
	if sessionID == "" {
		return
	}
	evt := eventstore.Event{SessionID: sessionID, Type: eventType, Payload: payload}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		evt.TraceID = sc.TraceID().String()
	}
	s.record(func() error { return s.history.AppendEvent(ctx, evt) })
}

// record logs history failures; they never fail a control request.
func (s *Service) record(write func() error) {
	if err := write(); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("failed to record session history", slogError(err))
	}
}

func (s *Service) publishState(sessionID string, err error) {
	st := s.coord.Status()
	msg := protocol.SessionState{
		SessionID: sessionID,
		Recording: st.Recording,
		Phase:     string(st.Phase),
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		msg.Error = err.Error()
	}
	if perr := s.bus.PublishJSON(protocol.SubjectSessionState, msg); perr != nil {
		s.logger.Warn("failed to publish session state", slogError(perr))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
