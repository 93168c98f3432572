// Package capturetest provides an in-memory capture host for tests.
package capturetest

import (
	"errors"
	"sync"
	"time"

	"github.com/loqalabs/loqa-dictation/internal/capture"
)

// Host is a capture.Host backed by a fixed device list.
type Host struct {
	Devices []*Device
	// DefaultIndex selects the default device; -1 means none.
	DefaultIndex int
	ListErr      error
}

// NewHost returns a host whose first device is the default.
func NewHost(devices ...*Device) *Host {
	idx := 0
	if len(devices) == 0 {
		idx = -1
	}
	return &Host{Devices: devices, DefaultIndex: idx}
}

func (h *Host) DefaultInputDevice() (capture.Device, error) {
	if h.DefaultIndex < 0 || h.DefaultIndex >= len(h.Devices) {
		return nil, errors.New("no default input device")
	}
	return h.Devices[h.DefaultIndex], nil
}

func (h *Host) InputDevices() ([]capture.Device, error) {
	if h.ListErr != nil {
		return nil, h.ListErr
	}
	out := make([]capture.Device, 0, len(h.Devices))
	for _, d := range h.Devices {
		out = append(out, d)
	}
	return out, nil
}

// Device replays Blocks synchronously when a stream starts and then reports
// StreamErr, if set, through the error callback.
type Device struct {
	DeviceName string
	Config     capture.StreamConfig
	ConfigErr  error
	OpenErr    error
	StartErr   error
	Blocks     []capture.Block
	StreamErr  error

	mu          sync.Mutex
	opens       int
	closes      int
	lastTimeout time.Duration
}

// NewDevice returns a mono int16 device at the given rate.
func NewDevice(name string, sampleRate uint32) *Device {
	return &Device{
		DeviceName: name,
		Config:     capture.StreamConfig{SampleRate: sampleRate, Channels: 1, Format: capture.FormatInt16},
	}
}

func (d *Device) Name() string { return d.DeviceName }

func (d *Device) DefaultInputConfig() (capture.StreamConfig, error) {
	if d.ConfigErr != nil {
		return capture.StreamConfig{}, d.ConfigErr
	}
	return d.Config, nil
}

func (d *Device) OpenInputStream(cfg capture.StreamConfig, onData func(capture.Block), onError func(error), timeout time.Duration) (capture.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	d.opens++
	d.lastTimeout = timeout
	return &stream{device: d, onData: onData, onError: onError}, nil
}

// Opens reports how many streams were opened.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Closes reports how many streams were closed.
func (d *Device) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// LastTimeout is the callback bound passed to the most recent open.
func (d *Device) LastTimeout() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastTimeout
}

type stream struct {
	device  *Device
	onData  func(capture.Block)
	onError func(error)
}

func (s *stream) Start() error {
	if s.device.StartErr != nil {
		return s.device.StartErr
	}
	for _, b := range s.device.Blocks {
		s.onData(b)
	}
	if s.device.StreamErr != nil {
		s.onError(s.device.StreamErr)
	}
	return nil
}

func (s *stream) Close() error {
	s.device.mu.Lock()
	s.device.closes++
	s.device.mu.Unlock()
	return nil
}
