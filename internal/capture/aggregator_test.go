package capture_test

import (
	"math"
	"sync"
	"testing"

	"github.com/loqalabs/loqa-dictation/internal/capture"
)

func TestAggregatorMonoInt16Passthrough(t *testing.T) {
	agg := capture.NewAggregator()
	agg.Push(capture.Block{Int16: []int16{1, -2, 3}}, 1)
	agg.Push(capture.Block{Int16: []int16{4}}, 1)

	got := agg.Take()
	want := []int16{1, -2, 3, 4}
	assertSamples(t, got, want)
}

func TestAggregatorInt16DownmixDoesNotOverflow(t *testing.T) {
	agg := capture.NewAggregator()
	agg.Push(capture.Block{Int16: []int16{32767, 32767, -32768, -32768, 100, -300}}, 2)

	assertSamples(t, agg.Take(), []int16{32767, -32768, -100})
}

func TestAggregatorIgnoresPartialFrame(t *testing.T) {
	agg := capture.NewAggregator()
	agg.Push(capture.Block{Int16: []int16{10, 20, 30}}, 2)

	assertSamples(t, agg.Take(), []int16{15})
}

func TestAggregatorUint16(t *testing.T) {
	agg := capture.NewAggregator()
	agg.Push(capture.Block{Uint16: []uint16{65535, 0, 65535, 65535}}, 2)

	got := agg.Take()
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	// 65535 and 0 average to 0 after normalisation.
	if got[0] != 0 {
		t.Fatalf("expected silence for opposite extremes, got %d", got[0])
	}
	if got[1] != math.MaxInt16 {
		t.Fatalf("expected full scale, got %d", got[1])
	}
}

func TestAggregatorUint16Mono(t *testing.T) {
	agg := capture.NewAggregator()
	agg.Push(capture.Block{Uint16: []uint16{0}}, 1)

	assertSamples(t, agg.Take(), []int16{-math.MaxInt16})
}

func TestAggregatorFloat32ClampsAndScales(t *testing.T) {
	agg := capture.NewAggregator()
	agg.Push(capture.Block{Float32: []float32{2, 2, -3, -1, 0.5, 0.5, 0, 0}}, 2)

	assertSamples(t, agg.Take(), []int16{32767, -32767, 16383, 0})
}

func TestAggregatorTreatsZeroChannelsAsMono(t *testing.T) {
	agg := capture.NewAggregator()
	agg.Push(capture.Block{Float32: []float32{1, -1}}, 0)

	assertSamples(t, agg.Take(), []int16{32767, -32767})
}

func TestAggregatorTakeEmpties(t *testing.T) {
	agg := capture.NewAggregator()
	agg.Push(capture.Block{Int16: []int16{1, 2}}, 1)
	if first := agg.Take(); len(first) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(first))
	}
	if second := agg.Take(); len(second) != 0 {
		t.Fatalf("expected empty buffer after take, got %v", second)
	}
	if agg.Len() != 0 {
		t.Fatalf("expected zero length, got %d", agg.Len())
	}
}

func TestAggregatorConcurrentPushNeverBlocks(t *testing.T) {
	agg := capture.NewAggregator()

	var wg sync.WaitGroup
	const producers, pushes = 4, 200
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < pushes; i++ {
				agg.Push(capture.Block{Int16: []int16{1}}, 1)
			}
		}()
	}
	wg.Wait()

	kept := uint64(len(agg.Take()))
	if kept+agg.Dropped() != producers*pushes {
		t.Fatalf("kept %d + dropped %d != %d", kept, agg.Dropped(), producers*pushes)
	}
}

func assertSamples(t *testing.T, got, want []int16) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d samples %v, got %d %v", len(want), want, len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: expected %d, got %d (all: %v)", i, want[i], got[i], got)
		}
	}
}
