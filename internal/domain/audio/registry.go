package audio

import (
	"sync"
	"time"

	"meetscribe-server/internal/platform/errors"
	"meetscribe-server/internal/platform/logging"
	"meetscribe-server/internal/platform/observability"
)

// DefaultAdmissionRMS is the RMS above which a processed frame is buffered
// even when the speech heuristic says no.
const DefaultAdmissionRMS = 0.01

// StreamMetrics is the latest per-chunk measurement of a stream.
type StreamMetrics struct {
	Quality     QualityMetrics `json:"quality_metrics"`
	IsSpeech    bool           `json:"is_speech"`
	LastUpdated time.Time      `json:"last_updated"`
}

// StreamStatus merges the registration record, latest metrics and buffer
// state of one stream.
type StreamStatus struct {
	Type      AudioType      `json:"type"`
	CreatedAt time.Time      `json:"created_at"`
	Active    bool           `json:"is_active"`
	Metrics   *StreamMetrics `json:"metrics,omitempty"`
	Buffer    *BufferStatus  `json:"buffer_status,omitempty"`
}

// IngestResult describes what happened to one chunk.
type IngestResult struct {
	Key       StreamKey      `json:"-"`
	AudioType AudioType      `json:"audio_type"`
	Samples   int            `json:"samples"`
	IsSpeech  bool           `json:"is_speech"`
	Admitted  bool           `json:"admitted"`
	Quality   QualityMetrics `json:"quality_metrics"`
	Timestamp time.Time      `json:"timestamp"`
}

type streamRecord struct {
	createdAt time.Time
	active    bool
}

// RegistryConfig parameterises a Registry.
type RegistryConfig struct {
	Quality      QualityConfig
	AdmissionRMS float64
	MaxDelay     time.Duration
	SampleRate   int
}

// DefaultRegistryConfig returns the stock gate and alignment settings.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		Quality:      DefaultQualityConfig(),
		AdmissionRMS: DefaultAdmissionRMS,
		MaxDelay:     DefaultMaxDelay,
		SampleRate:   16000,
	}
}

// Registry tracks the streams of one or more clients and runs every chunk
// through the quality gate into that client's StreamBuffer. Buffers are
// owned per client so combining never mixes two clients' audio.
type Registry struct {
	mu           sync.Mutex
	cfg          RegistryConfig
	buffers      map[string]*StreamBuffer
	quality      *QualityController
	streams      map[StreamKey]*streamRecord
	metrics      map[StreamKey]StreamMetrics
	admissionRMS float64
	now          func() time.Time
	logger       *logging.Logger
	stats        *observability.Metrics
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithRegistryClock replaces time.Now for the registry and its buffer.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// WithRegistryLogger attaches a logger.
func WithRegistryLogger(l *logging.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRegistryMetrics overrides the process-wide collectors.
func WithRegistryMetrics(m *observability.Metrics) RegistryOption {
	return func(r *Registry) {
		if m != nil {
			r.stats = m
		}
	}
}

func NewRegistry(cfg RegistryConfig, opts ...RegistryOption) *Registry {
	if cfg.AdmissionRMS <= 0 {
		cfg.AdmissionRMS = DefaultAdmissionRMS
	}
	r := &Registry{
		cfg:          cfg,
		buffers:      make(map[string]*StreamBuffer),
		quality:      NewQualityController(cfg.Quality),
		streams:      make(map[StreamKey]*streamRecord),
		metrics:      make(map[StreamKey]StreamMetrics),
		admissionRMS: cfg.AdmissionRMS,
		now:          time.Now,
		logger:       logging.Discard(),
		stats:        observability.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// bufferLocked returns the buffer of clientID, creating it when create is set.
func (r *Registry) bufferLocked(clientID string, create bool) *StreamBuffer {
	b, ok := r.buffers[clientID]
	if !ok && create {
		b = NewStreamBuffer(
			WithClock(r.now),
			WithMaxDelay(r.cfg.MaxDelay),
			WithSampleRate(r.cfg.SampleRate),
			WithBufferLogger(r.logger),
		)
		r.buffers[clientID] = b
	}
	return b
}

// AddStream registers the (clientID, t) stream. Registering an active stream
// again is a no-op; a removed stream is reactivated.
func (r *Registry) AddStream(clientID string, t AudioType) error {
	if !t.Valid() {
		return errors.Annotate(errors.KindProtocol, "registry.add_stream", "rejected stream type "+string(t), ErrInvalidAudioType)
	}
	key := Key(clientID, t)

	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.streams[key]; ok && rec.active {
		return nil
	}
	r.streams[key] = &streamRecord{createdAt: r.now(), active: true}
	r.bufferLocked(clientID, true).AddStream(key)
	r.logger.InfoTag("AUDIO", "stream added", "stream", key.String())
	return nil
}

// Ingest decodes raw PCM16LE, conditions it and buffers it if it passes the
// admission gate. Metrics are refreshed for every non-empty chunk whether or
// not it is admitted. An empty chunk yields an empty result.
func (r *Registry) Ingest(clientID string, raw []byte, t AudioType) (*IngestResult, error) {
	const op = "registry.ingest"
	if !t.Valid() {
		r.stats.ChunksIngested.WithLabelValues("invalid", "rejected").Inc()
		return nil, errors.Annotate(errors.KindProtocol, op, "rejected chunk type "+string(t), ErrInvalidAudioType)
	}
	key := Key(clientID, t)

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.streams[key]
	if !ok || !rec.active {
		r.stats.ChunksIngested.WithLabelValues(string(t), "rejected").Inc()
		r.logger.WarnTag("AUDIO", "chunk for unknown stream", "stream", key.String())
		return nil, errors.Annotate(errors.KindProtocol, op, "unknown stream "+key.String(), ErrUnknownStream)
	}

	now := r.now()
	frame := DecodePCM16(raw)
	if len(frame) == 0 {
		return &IngestResult{Key: key, AudioType: t, Timestamp: now}, nil
	}

	processed, isSpeech := r.quality.Process(frame)
	quality := r.quality.CheckQuality(processed)
	admitted := quality.RMS > r.admissionRMS || isSpeech
	if admitted {
		r.bufferLocked(clientID, true).AddAudio(key, processed)
		r.stats.ChunksIngested.WithLabelValues(string(t), "admitted").Inc()
	} else {
		r.stats.ChunksIngested.WithLabelValues(string(t), "gated").Inc()
	}

	r.metrics[key] = StreamMetrics{Quality: quality, IsSpeech: isSpeech, LastUpdated: now}

	return &IngestResult{
		Key:       key,
		AudioType: t,
		Samples:   len(processed),
		IsSpeech:  isSpeech,
		Admitted:  admitted,
		Quality:   quality,
		Timestamp: now,
	}, nil
}

// RemoveStream marks the stream inactive and purges its buffer and metrics.
func (r *Registry) RemoveStream(clientID string, t AudioType) {
	key := Key(clientID, t)

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.streams[key]
	if !ok {
		return
	}
	rec.active = false
	delete(r.metrics, key)
	if b := r.bufferLocked(clientID, false); b != nil {
		b.RemoveStream(key)
		if b.Len() == 0 {
			delete(r.buffers, clientID)
		}
	}
	r.logger.InfoTag("AUDIO", "stream removed", "stream", key.String())
}

// Status returns the merged view of one stream, or false if it was never
// registered.
func (r *Registry) Status(clientID string, t AudioType) (*StreamStatus, bool) {
	key := Key(clientID, t)

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.statusLocked(key)
}

func (r *Registry) statusLocked(key StreamKey) (*StreamStatus, bool) {
	rec, ok := r.streams[key]
	if !ok {
		return nil, false
	}
	st := &StreamStatus{Type: key.Type, CreatedAt: rec.createdAt, Active: rec.active}
	if m, ok := r.metrics[key]; ok {
		st.Metrics = &m
	}
	if buf := r.bufferLocked(key.ClientID, false); buf != nil {
		if b, ok := buf.StreamStatus(key); ok {
			st.Buffer = &b
		}
	}
	return st, true
}

// Statuses returns every stream of clientID keyed by audio type.
func (r *Registry) Statuses(clientID string) map[AudioType]*StreamStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[AudioType]*StreamStatus)
	for key := range r.streams {
		if key.ClientID != clientID {
			continue
		}
		if st, ok := r.statusLocked(key); ok {
			out[key.Type] = st
		}
	}
	return out
}

// Combine mixes and drains the buffered streams of clientID. See
// StreamBuffer.Combine.
func (r *Registry) Combine(clientID string) []float32 {
	r.mu.Lock()
	b := r.bufferLocked(clientID, false)
	r.mu.Unlock()
	if b == nil {
		return nil
	}

	frame, evicted := b.combine()
	if evicted > 0 {
		r.stats.StaleEvictions.Add(float64(evicted))
	}
	if len(frame) > 0 {
		r.stats.CombinedFrames.Inc()
		r.stats.CombinedLength.Observe(float64(len(frame)))
	}
	return frame
}
