// Package portaudio implements capture.Host on top of PortAudio.
package portaudio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"
	"github.com/loqalabs/loqa-dictation/internal/capture"
)

// maxChannels caps the channel count requested from multi-channel
// interfaces; the aggregator downmixes to mono anyway.
const maxChannels = 2

// ErrInputOverflow is reported when PortAudio drops input because the
// callback ran late.
var ErrInputOverflow = errors.New("portaudio input overflow")

// Host owns the PortAudio library lifetime. Close terminates it.
type Host struct {
	format capture.SampleFormat
	log    *slog.Logger
}

// Open initialises PortAudio. format is the sample type streams are opened
// with; PortAudio converts from the device's native format. Only int16 and
// float32 are supported, anything else surfaces as an unsupported format when
// a capture starts.
func Open(format capture.SampleFormat, logger *slog.Logger) (*Host, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}
	logger = logger.With(slog.String("component", "portaudio"))
	logger.Info("portaudio initialized", slog.String("version", pa.VersionText()), slog.String("sample_format", format.String()))
	return &Host{format: format, log: logger}, nil
}

func (h *Host) Close() error {
	return pa.Terminate()
}

func (h *Host) DefaultInputDevice() (capture.Device, error) {
	info, err := pa.DefaultInputDevice()
	if err != nil {
		return nil, err
	}
	return &device{info: info, host: h}, nil
}

func (h *Host) InputDevices() ([]capture.Device, error) {
	infos, err := pa.Devices()
	if err != nil {
		return nil, err
	}
	var out []capture.Device
	for _, info := range infos {
		if info.MaxInputChannels < 1 {
			continue
		}
		out = append(out, &device{info: info, host: h})
	}
	return out, nil
}

type device struct {
	info *pa.DeviceInfo
	host *Host
}

func (d *device) Name() string { return d.info.Name }

func (d *device) DefaultInputConfig() (capture.StreamConfig, error) {
	if d.info.MaxInputChannels < 1 {
		return capture.StreamConfig{}, fmt.Errorf("device %q has no input channels", d.info.Name)
	}
	if d.info.DefaultSampleRate <= 0 {
		return capture.StreamConfig{}, fmt.Errorf("device %q reports no default sample rate", d.info.Name)
	}
	format := d.host.format
	if format != capture.FormatInt16 && format != capture.FormatFloat32 {
		format = capture.FormatUnknown
	}
	return capture.StreamConfig{
		SampleRate: uint32(d.info.DefaultSampleRate),
		Channels:   min(d.info.MaxInputChannels, maxChannels),
		Format:     format,
	}, nil
}

func (d *device) OpenInputStream(cfg capture.StreamConfig, onData func(capture.Block), onError func(error), timeout time.Duration) (capture.Stream, error) {
	params := pa.LowLatencyParameters(d.info, nil)
	params.Input.Channels = cfg.Channels
	params.SampleRate = float64(cfg.SampleRate)
	params.FramesPerBuffer = int(float64(cfg.SampleRate) * timeout.Seconds())

	report := func(flags pa.StreamCallbackFlags) {
		if flags&pa.InputOverflow != 0 {
			onError(ErrInputOverflow)
		}
	}

	var (
		stream *pa.Stream
		err    error
	)
	switch cfg.Format {
	case capture.FormatInt16:
		stream, err = pa.OpenStream(params, func(in []int16, _ pa.StreamCallbackTimeInfo, flags pa.StreamCallbackFlags) {
			report(flags)
			onData(capture.Block{Int16: in})
		})
	case capture.FormatFloat32:
		stream, err = pa.OpenStream(params, func(in []float32, _ pa.StreamCallbackTimeInfo, flags pa.StreamCallbackFlags) {
			report(flags)
			onData(capture.Block{Float32: in})
		})
	default:
		return nil, fmt.Errorf("portaudio cannot open %s streams", cfg.Format)
	}
	if err != nil {
		return nil, err
	}
	d.host.log.Debug("stream opened",
		slog.String("device", d.info.Name),
		slog.Int("channels", cfg.Channels),
		slog.Int("frames_per_buffer", params.FramesPerBuffer),
	)
	return &inputStream{stream: stream}, nil
}

type inputStream struct {
	stream  *pa.Stream
	mu      sync.Mutex
	started bool
}

func (s *inputStream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.stream.Start(); err != nil {
		return err
	}
	s.started = true
	return nil
}

// Close stops a running stream before releasing it.
func (s *inputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.started {
		if err := s.stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop stream: %w", err))
		}
		s.started = false
	}
	if err := s.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close stream: %w", err))
	}
	return errors.Join(errs...)
}
