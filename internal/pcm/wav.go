// Package pcm encodes captured mono PCM16 samples into WAV containers.
package pcm

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	bitDepth    = 16
	numChannels = 1
	// wavFormatPCM is the WAVE_FORMAT_PCM tag.
	wavFormatPCM = 1
	// HeaderSize is the size of the canonical RIFF/WAVE header written by EncodeWAV.
	HeaderSize = 44
)

// ErrInvalidSampleRate is returned for a zero sample rate.
var ErrInvalidSampleRate = errors.New("sample rate must be positive")

// EncodeWAV wraps samples in a RIFF/WAVE container: PCM, mono, 16-bit little
// endian. An empty slice yields a header-only file.
func EncodeWAV(samples []int16, sampleRate uint32) ([]byte, error) {
	if sampleRate == 0 {
		return nil, ErrInvalidSampleRate
	}
	out := &memFile{buf: make([]byte, 0, HeaderSize+2*len(samples))}
	enc := wav.NewEncoder(out, int(sampleRate), bitDepth, numChannels, wavFormatPCM)

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buffer := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: numChannels, SampleRate: int(sampleRate)},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	// Write even when empty so the header and data chunk are emitted.
	if err := enc.Write(buffer); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	return out.buf, nil
}

// memFile is a growable in-memory io.WriteSeeker; the encoder seeks back to
// patch chunk sizes on Close.
type memFile struct {
	buf []byte
	pos int
}

func (m *memFile) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		if end > cap(m.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, m.buf)
			m.buf = grown
		} else {
			m.buf = m.buf[:end]
		}
	}
	copy(m.buf[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(m.pos) + offset
	case io.SeekEnd:
		next = int64(len(m.buf)) + offset
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("seek: negative position %d", next)
	}
	m.pos = int(next)
	return next, nil
}
