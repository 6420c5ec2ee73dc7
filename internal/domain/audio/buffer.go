package audio

import (
	"sync"
	"time"

	"meetscribe-server/internal/platform/logging"
)

// DefaultMaxDelay is how long a stream may go without writes before Combine
// stops waiting for it.
const DefaultMaxDelay = 150 * time.Millisecond

// BufferStatus describes one stream buffer.
type BufferStatus struct {
	SampleCount     int       `json:"samples"`
	DurationSeconds float64   `json:"duration"`
	LastUpdated     time.Time `json:"last_updated"`
}

// sampleQueue is a FIFO of samples. Consumed samples are skipped by advancing
// head and the backing array is compacted once the dead prefix dominates.
type sampleQueue struct {
	data []float32
	head int
}

func (q *sampleQueue) Len() int {
	return len(q.data) - q.head
}

func (q *sampleQueue) Push(samples []float32) {
	if q.head > 0 && q.head >= len(q.data)/2 {
		n := copy(q.data, q.data[q.head:])
		q.data = q.data[:n]
		q.head = 0
	}
	q.data = append(q.data, samples...)
}

// Front returns the first n samples without consuming them.
func (q *sampleQueue) Front(n int) []float32 {
	return q.data[q.head : q.head+n]
}

func (q *sampleQueue) Discard(n int) {
	q.head += n
	if q.head >= len(q.data) {
		q.data = q.data[:0]
		q.head = 0
	}
}

type streamBuffer struct {
	samples   sampleQueue
	createdAt time.Time
	lastWrite time.Time
}

// BufferOption customises a StreamBuffer.
type BufferOption func(*StreamBuffer)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) BufferOption {
	return func(b *StreamBuffer) { b.now = now }
}

// WithMaxDelay overrides DefaultMaxDelay.
func WithMaxDelay(d time.Duration) BufferOption {
	return func(b *StreamBuffer) {
		if d > 0 {
			b.maxDelay = d
		}
	}
}

// WithSampleRate sets the rate used for status durations.
func WithSampleRate(rate int) BufferOption {
	return func(b *StreamBuffer) {
		if rate > 0 {
			b.sampleRate = rate
		}
	}
}

// WithBufferLogger attaches a logger.
func WithBufferLogger(l *logging.Logger) BufferOption {
	return func(b *StreamBuffer) {
		if l != nil {
			b.logger = l
		}
	}
}

// StreamBuffer holds per-stream sample queues and combines them into one
// aligned signal. All methods are safe for concurrent use; Combine holds the
// lock for its whole evict, sum and drain cycle.
type StreamBuffer struct {
	mu         sync.Mutex
	streams    map[StreamKey]*streamBuffer
	maxDelay   time.Duration
	sampleRate int
	now        func() time.Time
	logger     *logging.Logger
}

func NewStreamBuffer(opts ...BufferOption) *StreamBuffer {
	b := &StreamBuffer{
		streams:    make(map[StreamKey]*streamBuffer),
		maxDelay:   DefaultMaxDelay,
		sampleRate: 16000,
		now:        time.Now,
		logger:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddStream registers key. Re-registering an existing key keeps its samples.
func (b *StreamBuffer) AddStream(key StreamKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.addLocked(key)
}

func (b *StreamBuffer) addLocked(key StreamKey) *streamBuffer {
	if s, ok := b.streams[key]; ok {
		return s
	}
	now := b.now()
	s := &streamBuffer{createdAt: now, lastWrite: now}
	b.streams[key] = s
	b.logger.DebugTag("AUDIO", "buffer added", "stream", key.String())
	return s
}

// AddAudio appends frame to key, creating the stream if it is unseen.
func (b *StreamBuffer) AddAudio(key StreamKey, frame []float32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.addLocked(key)
	s.samples.Push(frame)
	s.lastWrite = b.now()
}

// Combine evicts stale streams, sums the first L samples of every remaining
// stream where L is the shortest buffer, drains those samples and rescales
// the sum if it clips. It returns nil when there is nothing to combine.
func (b *StreamBuffer) Combine() []float32 {
	frame, _ := b.combine()
	return frame
}

func (b *StreamBuffer) combine() (combined []float32, evicted int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.streams) == 0 {
		return nil, 0
	}

	now := b.now()
	for key, s := range b.streams {
		if now.Sub(s.lastWrite) > b.maxDelay {
			delete(b.streams, key)
			evicted++
			b.logger.WarnTag("AUDIO", "stale stream evicted", "stream", key.String(), "dropped_samples", s.samples.Len())
		}
	}
	if len(b.streams) == 0 {
		return nil, evicted
	}

	minLen := -1
	for _, s := range b.streams {
		if n := s.samples.Len(); minLen < 0 || n < minLen {
			minLen = n
		}
	}
	if minLen <= 0 {
		return nil, evicted
	}

	combined = make([]float32, minLen)
	for _, s := range b.streams {
		for i, v := range s.samples.Front(minLen) {
			combined[i] += v
		}
		s.samples.Discard(minLen)
	}

	if peak := Peak(combined); peak > 1.0 {
		scale := 1.0 / peak
		for i := range combined {
			combined[i] = float32(float64(combined[i]) * scale)
		}
	}
	return combined, evicted
}

// RemoveStream drops key and its samples. Unknown keys are ignored.
func (b *StreamBuffer) RemoveStream(key StreamKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.streams[key]; ok {
		delete(b.streams, key)
		b.logger.DebugTag("AUDIO", "buffer removed", "stream", key.String())
	}
}

// Len is the number of buffered streams.
func (b *StreamBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams)
}

// Clear drops every stream.
func (b *StreamBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.streams)
}

// Status reports every buffered stream.
func (b *StreamBuffer) Status() map[StreamKey]BufferStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[StreamKey]BufferStatus, len(b.streams))
	for key, s := range b.streams {
		out[key] = b.statusLocked(s)
	}
	return out
}

// StreamStatus reports a single stream.
func (b *StreamBuffer) StreamStatus(key StreamKey) (BufferStatus, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[key]
	if !ok {
		return BufferStatus{}, false
	}
	return b.statusLocked(s), true
}

func (b *StreamBuffer) statusLocked(s *streamBuffer) BufferStatus {
	n := s.samples.Len()
	return BufferStatus{
		SampleCount:     n,
		DurationSeconds: float64(n) / float64(b.sampleRate),
		LastUpdated:     s.lastWrite,
	}
}
