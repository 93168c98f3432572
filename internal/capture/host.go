package capture

import "time"

// SampleFormat is the native encoding a device delivers samples in.
type SampleFormat int

const (
	FormatUnknown SampleFormat = iota
	FormatInt16
	FormatUint16
	FormatFloat32
)

func (f SampleFormat) String() string {
	switch f {
	case FormatInt16:
		return "int16"
	case FormatUint16:
		return "uint16"
	case FormatFloat32:
		return "float32"
	default:
		return "unknown"
	}
}

// ParseSampleFormat maps a config string to a SampleFormat.
func ParseSampleFormat(s string) SampleFormat {
	switch s {
	case "int16", "i16", "s16":
		return FormatInt16
	case "uint16", "u16":
		return FormatUint16
	case "float32", "f32":
		return FormatFloat32
	default:
		return FormatUnknown
	}
}

// StreamConfig describes the layout of the blocks a stream delivers.
type StreamConfig struct {
	SampleRate uint32
	Channels   int
	Format     SampleFormat
}

// Block is one callback's worth of interleaved samples. Exactly one of the
// slices is populated, matching the stream's Format.
type Block struct {
	Int16   []int16
	Uint16  []uint16
	Float32 []float32
}

// Host enumerates capture devices on the platform audio backend.
type Host interface {
	DefaultInputDevice() (Device, error)
	InputDevices() ([]Device, error)
}

// Device is an input device able to open capture streams.
type Device interface {
	Name() string
	DefaultInputConfig() (StreamConfig, error)
	// OpenInputStream prepares a stream. onData is called from the backend's
	// audio thread; onError receives asynchronous stream faults. timeout bounds
	// how long the backend may hold samples before delivering them.
	OpenInputStream(cfg StreamConfig, onData func(Block), onError func(error), timeout time.Duration) (Stream, error)
}

// Stream is an opened device stream.
type Stream interface {
	Start() error
	Close() error
}

// DeviceInfo is the listing shape returned to control clients.
type DeviceInfo struct {
	Name       string `json:"name"`
	Default    bool   `json:"default"`
	SampleRate uint32 `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}
