package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrDeviceUnavailable = errors.New("input device unavailable")
	ErrConfiguration     = errors.New("input device configuration unreadable")
	ErrUnsupportedFormat = errors.New("unsupported sample format")
	ErrStreamStart       = errors.New("input stream failed to start")
	ErrCaptureCallback   = errors.New("input stream error")
)

// DefaultPollInterval bounds how long the backend may buffer before a callback.
const DefaultPollInterval = 100 * time.Millisecond

// AudioFormat is fixed when a stream opens.
type AudioFormat struct {
	SampleRate uint32
}

// ErrorSlot holds the most recent capture failure that no caller was waiting
// for. Set overwrites; Take reads and clears.
type ErrorSlot struct {
	mu   sync.Mutex
	last error
}

func (s *ErrorSlot) Set(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.last = err
	s.mu.Unlock()
}

func (s *ErrorSlot) Take() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.last
	s.last = nil
	return err
}

// EngineOptions configures device selection.
type EngineOptions struct {
	// DeviceName selects an input device by name; empty uses the host default.
	DeviceName   string
	PollInterval time.Duration
}

// Engine opens device streams and owns their sample buffers. It is not safe
// for concurrent use; Actor serializes access to it.
type Engine struct {
	host Host
	opts EngineOptions
	errs *ErrorSlot
	log  *slog.Logger

	dropped atomic.Uint64
}

func NewEngine(host Host, opts EngineOptions, errs *ErrorSlot, logger *slog.Logger) *Engine {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if errs == nil {
		errs = &ErrorSlot{}
	}
	return &Engine{
		host: host,
		opts: opts,
		errs: errs,
		log:  logger.With(slog.String("component", "capture-engine")),
	}
}

// Handle is a running capture. StopAndTake consumes it.
type Handle struct {
	engine *Engine
	stream Stream
	agg    *Aggregator
	format AudioFormat
	device string
}

func (h *Handle) Format() AudioFormat { return h.format }

func (h *Handle) DeviceName() string { return h.device }

// StopAndTake closes the stream and moves the captured samples out. Calling
// it again returns nil.
func (h *Handle) StopAndTake() []int16 {
	if h == nil || h.stream == nil {
		return nil
	}
	if err := h.stream.Close(); err != nil {
		h.engine.log.Warn("closing input stream failed", slogError(err))
	}
	h.stream = nil
	samples := h.agg.Take()
	h.agg = nil
	return samples
}

// StartCapture opens the selected input device and begins feeding samples
// into a fresh buffer.
func (e *Engine) StartCapture() (*Handle, error) {
	device, err := e.selectDevice()
	if err != nil {
		return nil, err
	}

	cfg, err := device.DefaultInputConfig()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	switch cfg.Format {
	case FormatInt16, FormatUint16, FormatFloat32:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, cfg.Format)
	}
	if cfg.SampleRate == 0 {
		return nil, fmt.Errorf("%w: device reports zero sample rate", ErrConfiguration)
	}
	channels := cfg.Channels
	if channels < 1 {
		channels = 1
	}

	agg := newAggregatorCounting(&e.dropped)
	onData := func(block Block) { agg.Push(block, channels) }
	onError := func(streamErr error) {
		e.log.Warn("input stream error", slogError(streamErr))
		e.errs.Set(fmt.Errorf("%w: %v", ErrCaptureCallback, streamErr))
	}

	stream, err := device.OpenInputStream(cfg, onData, onError, e.opts.PollInterval)
	if err != nil {
		return nil, fmt.Errorf("%w: open: %v", ErrStreamStart, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("%w: %v", ErrStreamStart, err)
	}

	e.log.Info("capture started",
		slog.String("device", device.Name()),
		slog.Int("sample_rate", int(cfg.SampleRate)),
		slog.Int("channels", channels),
		slog.String("format", cfg.Format.String()))

	return &Handle{
		engine: e,
		stream: stream,
		agg:    agg,
		format: AudioFormat{SampleRate: cfg.SampleRate},
		device: device.Name(),
	}, nil
}

// Devices lists input devices, marking the host default.
func (e *Engine) Devices() ([]DeviceInfo, error) {
	devices, err := e.host.InputDevices()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	var defaultName string
	if def, err := e.host.DefaultInputDevice(); err == nil && def != nil {
		defaultName = def.Name()
	}
	infos := make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		info := DeviceInfo{Name: d.Name(), Default: d.Name() == defaultName}
		if cfg, err := d.DefaultInputConfig(); err == nil {
			info.SampleRate = cfg.SampleRate
			info.Channels = cfg.Channels
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// DroppedBlocks reports blocks skipped across all captures. Safe to call
// from any goroutine.
func (e *Engine) DroppedBlocks() uint64 {
	return e.dropped.Load()
}

func (e *Engine) selectDevice() (Device, error) {
	if e.opts.DeviceName == "" {
		device, err := e.host.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		if device == nil {
			return nil, ErrDeviceUnavailable
		}
		return device, nil
	}

	devices, err := e.host.InputDevices()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	for _, d := range devices {
		if d.Name() == e.opts.DeviceName {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: no input device named %q", ErrDeviceUnavailable, e.opts.DeviceName)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
