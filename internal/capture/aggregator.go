package capture

import (
	"math"
	"sync"
	"sync/atomic"
)

// Aggregator folds device blocks into a mono int16 buffer. Push runs on the
// audio thread and never waits for the lock: a block that arrives while the
// buffer is held elsewhere is dropped and counted.
type Aggregator struct {
	mu      sync.Mutex
	samples []int16
	dropped *atomic.Uint64
}

func NewAggregator() *Aggregator {
	return &Aggregator{dropped: new(atomic.Uint64)}
}

// newAggregatorCounting shares a drop counter that outlives the aggregator.
func newAggregatorCounting(dropped *atomic.Uint64) *Aggregator {
	return &Aggregator{dropped: dropped}
}

// Push appends the mono downmix of block.
func (a *Aggregator) Push(block Block, channels int) {
	if !a.mu.TryLock() {
		a.dropped.Add(1)
		return
	}
	defer a.mu.Unlock()

	switch {
	case block.Int16 != nil:
		a.samples = appendInt16(a.samples, block.Int16, channels)
	case block.Uint16 != nil:
		a.samples = appendUint16(a.samples, block.Uint16, channels)
	case block.Float32 != nil:
		a.samples = appendFloat32(a.samples, block.Float32, channels)
	}
}

// Take moves the buffer out, leaving the aggregator empty.
func (a *Aggregator) Take() []int16 {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.samples
	a.samples = nil
	return out
}

// Len reports the number of buffered samples.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.samples)
}

// Dropped reports how many blocks were skipped because the lock was busy.
func (a *Aggregator) Dropped() uint64 {
	return a.dropped.Load()
}

func appendInt16(dst, data []int16, channels int) []int16 {
	if channels <= 1 {
		return append(dst, data...)
	}
	for i := 0; i+channels <= len(data); i += channels {
		var acc int32
		for _, s := range data[i : i+channels] {
			acc += int32(s)
		}
		dst = append(dst, clampInt16(acc/int32(channels)))
	}
	return dst
}

func appendUint16(dst []int16, data []uint16, channels int) []int16 {
	if channels < 1 {
		channels = 1
	}
	for i := 0; i+channels <= len(data); i += channels {
		var acc float32
		for _, s := range data[i : i+channels] {
			acc += (float32(s)/65535)*2 - 1
		}
		dst = append(dst, scaleUnit(acc/float32(channels)))
	}
	return dst
}

func appendFloat32(dst []int16, data []float32, channels int) []int16 {
	if channels < 1 {
		channels = 1
	}
	for i := 0; i+channels <= len(data); i += channels {
		var acc float32
		for _, s := range data[i : i+channels] {
			acc += s
		}
		dst = append(dst, scaleUnit(acc/float32(channels)))
	}
	return dst
}

func clampInt16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// scaleUnit clamps v to [-1, 1] and scales it to int16, truncating toward zero.
func scaleUnit(v float32) int16 {
	if v != v { // NaN
		return 0
	}
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(v * math.MaxInt16)
}
