package audio

import (
	"math"
	"math/rand"
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func constant(v float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func approxEqual(a, b float32) bool {
	return math.Abs(float64(a-b)) < 1e-6
}

func TestCombineMinLengthAndLeftover(t *testing.T) {
	clock := newFakeClock()
	b := NewStreamBuffer(WithClock(clock.Now))
	mic := Key("c1", Microphone)
	sys := Key("c1", System)

	b.AddAudio(mic, constant(0.2, 5))
	b.AddAudio(sys, constant(0.2, 3))

	out := b.Combine()
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
	for i, v := range out {
		if !approxEqual(v, 0.4) {
			t.Errorf("out[%d] = %v, want 0.4", i, v)
		}
	}

	status := b.Status()
	if got := status[mic].SampleCount; got != 2 {
		t.Errorf("mic leftover = %d, want 2", got)
	}
	if got := status[sys].SampleCount; got != 0 {
		t.Errorf("sys leftover = %d, want 0", got)
	}

	// sys is drained, so the next round has nothing to mix
	if out := b.Combine(); out != nil {
		t.Errorf("second combine = %v, want nil", out)
	}
}

func TestCombineSumsSameLengthFrames(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 50; round++ {
		clock := newFakeClock()
		b := NewStreamBuffer(WithClock(clock.Now))
		n := 1 + rng.Intn(400)
		a := make([]float32, n)
		c := make([]float32, n)
		for i := 0; i < n; i++ {
			a[i] = float32(rng.Float64()*0.8 - 0.4)
			c[i] = float32(rng.Float64()*0.8 - 0.4)
		}
		b.AddAudio(Key("x", Microphone), a)
		b.AddAudio(Key("x", System), c)

		out := b.Combine()
		if len(out) != n {
			t.Fatalf("round %d: len = %d, want %d", round, len(out), n)
		}
		for i := range out {
			if !approxEqual(out[i], a[i]+c[i]) {
				t.Fatalf("round %d: out[%d] = %v, want %v", round, i, out[i], a[i]+c[i])
			}
		}
	}
}

func TestCombineRescalesOnlyWhenClipping(t *testing.T) {
	clock := newFakeClock()
	b := NewStreamBuffer(WithClock(clock.Now))
	b.AddAudio(Key("c", Microphone), []float32{0.8, 0.2, -0.4})
	b.AddAudio(Key("c", System), []float32{0.8, 0.2, -0.4})

	out := b.Combine()
	want := []float32{1.0, 0.25, -0.5}
	for i := range want {
		if !approxEqual(out[i], want[i]) {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}

	b.AddAudio(Key("c", Microphone), []float32{0.5})
	b.AddAudio(Key("c", System), []float32{0.5})
	if out := b.Combine(); !approxEqual(out[0], 1.0) {
		t.Errorf("exact 1.0 peak should pass through, got %v", out[0])
	}
}

func TestCombineEvictsStaleStreams(t *testing.T) {
	clock := newFakeClock()
	b := NewStreamBuffer(WithClock(clock.Now))
	stale := Key("c", System)
	live := Key("c", Microphone)

	b.AddAudio(stale, constant(0.3, 10))
	clock.Advance(200 * time.Millisecond)
	b.AddAudio(live, constant(0.1, 4))

	out := b.Combine()
	if len(out) != 4 {
		t.Fatalf("len(out) = %d, want 4 (stale stream must not hold back the mix)", len(out))
	}
	for _, v := range out {
		if !approxEqual(v, 0.1) {
			t.Fatalf("stale samples leaked into mix: %v", out)
		}
	}
	if _, ok := b.Status()[stale]; ok {
		t.Error("stale stream still present after combine")
	}

	// a later write starts the stream afresh without the discarded samples
	b.AddAudio(stale, constant(0.3, 1))
	if got := b.Status()[stale].SampleCount; got != 1 {
		t.Errorf("revived stream samples = %d, want 1", got)
	}
}

func TestCombineAtExactMaxDelayKeepsStream(t *testing.T) {
	clock := newFakeClock()
	b := NewStreamBuffer(WithClock(clock.Now))
	b.AddAudio(Key("c", Microphone), constant(0.1, 2))
	clock.Advance(DefaultMaxDelay)

	if out := b.Combine(); len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
}

func TestCombineEmpty(t *testing.T) {
	b := NewStreamBuffer()
	if out := b.Combine(); out != nil {
		t.Fatalf("empty buffer combine = %v", out)
	}
	b.AddStream(Key("c", Microphone))
	if out := b.Combine(); out != nil {
		t.Fatalf("zero-length combine = %v", out)
	}
}

func TestAddStreamKeepsExistingSamples(t *testing.T) {
	b := NewStreamBuffer()
	key := Key("c", Microphone)
	b.AddAudio(key, constant(0.1, 6))
	b.AddStream(key)

	if got := b.Status()[key].SampleCount; got != 6 {
		t.Fatalf("re-registration lost samples: %d", got)
	}
}

func TestRemoveAndClearAreIdempotent(t *testing.T) {
	b := NewStreamBuffer()
	key := Key("c", Microphone)
	b.AddAudio(key, constant(0.1, 3))
	b.RemoveStream(key)
	b.RemoveStream(key)
	if len(b.Status()) != 0 {
		t.Fatal("stream not removed")
	}

	b.AddAudio(key, constant(0.1, 3))
	b.Clear()
	b.Clear()
	if len(b.Status()) != 0 {
		t.Fatal("buffer not cleared")
	}
}

func TestStatusDuration(t *testing.T) {
	clock := newFakeClock()
	b := NewStreamBuffer(WithClock(clock.Now), WithSampleRate(16000))
	key := Key("c", Microphone)
	b.AddAudio(key, constant(0.1, 8000))

	st := b.Status()[key]
	if st.DurationSeconds != 0.5 {
		t.Errorf("duration = %v, want 0.5", st.DurationSeconds)
	}
	if !st.LastUpdated.Equal(clock.Now()) {
		t.Errorf("last updated = %v, want %v", st.LastUpdated, clock.Now())
	}
}

func TestSampleQueueCompaction(t *testing.T) {
	var q sampleQueue
	total := 0
	for i := 0; i < 1000; i++ {
		q.Push(constant(float32(i), 10))
		total += 10
		q.Discard(7)
		total -= 7
		if q.Len() != total {
			t.Fatalf("iteration %d: Len = %d, want %d", i, q.Len(), total)
		}
	}
	if cap(q.data) > 8*total {
		t.Errorf("backing array grew unbounded: cap %d for %d live samples", cap(q.data), total)
	}
	// FIFO: the oldest live sample comes from push 700
	if got := q.Front(1)[0]; got != 700 {
		t.Errorf("front = %v, want 700", got)
	}
}
