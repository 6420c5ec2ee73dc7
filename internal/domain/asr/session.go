// Package asr runs the per-connection recognition worker that feeds a
// streaming recognizer from a bounded chunk queue and hands results back to
// the connection in receipt order.
package asr

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"meetscribe-server/internal/domain/asr/inter"
	"meetscribe-server/internal/domain/audio"
	"meetscribe-server/internal/platform/errors"
	"meetscribe-server/internal/platform/logging"
	"meetscribe-server/internal/platform/observability"
)

// State is the lifecycle phase of a Session.
type State int32

const (
	StateIdle State = iota
	StateStreaming
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// UnknownAudioType tags results produced before any chunk was sent.
const UnknownAudioType = "unknown"

var (
	ErrSessionStopped = errors.New(errors.KindDomain, "asr.session", "recognition session is not running")
	ErrQueueFull      = errors.New(errors.KindDomain, "asr.enqueue", "recognition queue is full")
	ErrAlreadyStarted = errors.New(errors.KindDomain, "asr.start", "recognition session already started")

	errAudioTimeout = errors.New(errors.KindRecognizer, "asr.pump", "no audio within timeout")
)

// Chunk is one raw PCM frame waiting for the recognizer.
type Chunk struct {
	Type       audio.AudioType
	Data       []byte
	ReceivedAt time.Time
}

// Transcript is a recognizer result bound to the session that produced it.
type Transcript struct {
	ClientID   string
	Text       string
	IsFinal    bool
	Confidence float32
	AudioType  string
	Timestamp  time.Time
}

// Dispatcher is the consumer side of a Session. Deliver and Commit must not
// return before the consumer has handled the transcript; the worker waits on
// them before reading the next recognizer result.
type Dispatcher interface {
	// Deliver hands a result to the client.
	Deliver(ctx context.Context, t Transcript) error
	// Commit persists a final result. It is never called for interim ones.
	Commit(ctx context.Context, t Transcript) error
	// ReportError surfaces a recognizer fault. fatal means the session stopped.
	ReportError(ctx context.Context, err error, fatal bool)
}

// Config tunes a Session.
type Config struct {
	QueueSize       int
	PollInterval    time.Duration
	AudioTimeout    time.Duration
	EnqueueTimeout  time.Duration
	DeliveryTimeout time.Duration
	DrainTimeout    time.Duration
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
	MaxRetries      int
	Stream          inter.StreamConfig
}

// DefaultConfig returns the stock worker settings.
func DefaultConfig() Config {
	return Config{
		QueueSize:       256,
		PollInterval:    time.Second,
		AudioTimeout:    60 * time.Second,
		EnqueueTimeout:  100 * time.Millisecond,
		DeliveryTimeout: 5 * time.Second,
		DrainTimeout:    2 * time.Second,
		InitialBackoff:  500 * time.Millisecond,
		MaxBackoff:      30 * time.Second,
		MaxRetries:      5,
		Stream: inter.StreamConfig{
			Encoding:       "LINEAR16",
			SampleRate:     16000,
			Language:       "en-US",
			Punctuation:    true,
			Enhanced:       true,
			InterimResults: true,
		},
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.AudioTimeout <= 0 {
		c.AudioTimeout = def.AudioTimeout
	}
	if c.EnqueueTimeout <= 0 {
		c.EnqueueTimeout = def.EnqueueTimeout
	}
	if c.DeliveryTimeout <= 0 {
		c.DeliveryTimeout = def.DeliveryTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = def.DrainTimeout
	}
	if c.Stream.Encoding == "" {
		c.Stream.Encoding = def.Stream.Encoding
	}
	if c.Stream.SampleRate <= 0 {
		c.Stream.SampleRate = def.Stream.SampleRate
	}
	if c.Stream.Language == "" {
		c.Stream.Language = def.Stream.Language
	}
}

// Status is a diagnostic snapshot of a Session.
type Status struct {
	ClientID      string    `json:"client_id"`
	State         string    `json:"state"`
	Running       bool      `json:"is_running"`
	Recognizer    string    `json:"recognizer"`
	SampleRate    int       `json:"sample_rate"`
	AudioType     string    `json:"audio_type"`
	QueueLength   int       `json:"queue_length"`
	QueueCapacity int       `json:"queue_capacity"`
	LastAudio     time.Time `json:"last_audio"`
	Reconnects    int       `json:"reconnects"`
	LastError     string    `json:"last_error,omitempty"`
}

// Option customises a Session.
type Option func(*Session)

func WithLogger(l *logging.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Session) {
		if m != nil {
			s.stats = m
		}
	}
}

// Session owns one bounded chunk queue and the single worker goroutine that
// streams it to the recognizer. Enqueue is the only method that touches the
// queue from outside the worker.
type Session struct {
	clientID   string
	cfg        Config
	recognizer inter.Recognizer
	dispatcher Dispatcher
	logger     *logging.Logger
	stats      *observability.Metrics

	queue  chan Chunk
	stopCh chan struct{}
	done   chan struct{}

	enqMu    sync.RWMutex
	running  atomic.Bool
	state    atomic.Int32
	stopOnce sync.Once

	mu          sync.Mutex
	started     bool
	baseCtx     context.Context
	cancel      context.CancelFunc
	sampleRate  int
	currentType string
	lastAudio   time.Time
	reconnects  int
	lastErr     string

	// owned by the worker goroutine
	pending *Chunk
	retry   *backoff
}

func NewSession(clientID string, recognizer inter.Recognizer, dispatcher Dispatcher, cfg Config, opts ...Option) *Session {
	cfg.applyDefaults()
	s := &Session{
		clientID:    clientID,
		cfg:         cfg,
		recognizer:  recognizer,
		dispatcher:  dispatcher,
		logger:      logging.Discard(),
		stats:       observability.Default(),
		queue:       make(chan Chunk, cfg.QueueSize),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
		sampleRate:  cfg.Stream.SampleRate,
		currentType: UnknownAudioType,
		retry:       newBackoff(cfg.InitialBackoff, cfg.MaxBackoff, cfg.MaxRetries),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the worker. The session stays bound to ctx: cancelling it
// has the same effect as Stop without the join.
func (s *Session) Start(ctx context.Context) error {
	select {
	case <-s.stopCh:
		return ErrSessionStopped
	default:
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	if s.recognizer == nil || s.dispatcher == nil {
		s.mu.Unlock()
		return errors.New(errors.KindDomain, "asr.start", "recognizer and dispatcher are required")
	}
	s.started = true
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.running.Store(true)
	s.setState(StateStreaming)
	s.stats.ActiveSessions.Inc()
	s.logger.InfoTag("ASR", "recognition session started", "client_id", s.clientID, "recognizer", s.recognizer.Name())

	go s.run()
	return nil
}

// Enqueue queues a raw chunk for the recognizer. When the queue is full it
// waits up to EnqueueTimeout and then drops the chunk with ErrQueueFull;
// accepted chunks keep their relative order.
func (s *Session) Enqueue(t audio.AudioType, data []byte) error {
	if !t.Valid() {
		return errors.Annotate(errors.KindProtocol, "asr.enqueue", "rejected chunk type "+string(t), audio.ErrInvalidAudioType)
	}

	s.enqMu.RLock()
	defer s.enqMu.RUnlock()

	if !s.running.Load() {
		return ErrSessionStopped
	}
	if len(data) == 0 {
		return nil
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	chunk := Chunk{Type: t, Data: buf, ReceivedAt: time.Now()}

	select {
	case s.queue <- chunk:
		s.touch(chunk.ReceivedAt)
		return nil
	default:
	}

	timer := time.NewTimer(s.cfg.EnqueueTimeout)
	defer timer.Stop()
	select {
	case s.queue <- chunk:
		s.touch(chunk.ReceivedAt)
		return nil
	case <-s.stopCh:
		return ErrSessionStopped
	case <-timer.C:
		s.stats.QueueDrops.Inc()
		s.logger.WarnTag("ASR", "recognition queue full, chunk dropped",
			"client_id", s.clientID, "audio_type", string(t), "bytes", len(data))
		return ErrQueueFull
	}
}

// SetSampleRate changes the rate announced on the next recognizer stream.
func (s *Session) SetSampleRate(rate int) {
	if rate <= 0 {
		return
	}
	s.mu.Lock()
	s.sampleRate = rate
	s.mu.Unlock()
}

// Stop clears the running flag, waits for the worker to exit and discards
// whatever is still queued. Safe to call more than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.running.Store(false)
		close(s.stopCh)

		// wait out in-flight Enqueue calls
		s.enqMu.Lock()
		s.enqMu.Unlock()

		s.mu.Lock()
		started, cancel := s.started, s.cancel
		s.mu.Unlock()

		if started {
			grace := s.cfg.PollInterval + s.cfg.DrainTimeout + s.cfg.DeliveryTimeout
			timer := time.NewTimer(grace)
			select {
			case <-s.done:
			case <-timer.C:
				s.logger.WarnTag("ASR", "worker slow to stop, cancelling recognizer", "client_id", s.clientID)
				cancel()
				<-s.done
			}
			timer.Stop()
			cancel()
		}
		s.setState(StateStopped)

		discarded := 0
		for {
			select {
			case <-s.queue:
				discarded++
				continue
			default:
			}
			break
		}
		s.logger.InfoTag("ASR", "recognition session stopped", "client_id", s.clientID, "discarded_chunks", discarded)
	})
}

// Done is closed when the worker has exited.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) Running() bool {
	return s.running.Load()
}

// Status returns a diagnostic snapshot.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := ""
	if s.recognizer != nil {
		name = s.recognizer.Name()
	}
	return Status{
		ClientID:      s.clientID,
		State:         s.State().String(),
		Running:       s.running.Load(),
		Recognizer:    name,
		SampleRate:    s.sampleRate,
		AudioType:     s.currentType,
		QueueLength:   len(s.queue),
		QueueCapacity: cap(s.queue),
		LastAudio:     s.lastAudio,
		Reconnects:    s.reconnects,
		LastError:     s.lastErr,
	}
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

func (s *Session) touch(at time.Time) {
	s.mu.Lock()
	s.lastAudio = at
	s.mu.Unlock()
}

func (s *Session) markSent(t audio.AudioType) {
	s.mu.Lock()
	s.currentType = string(t)
	s.mu.Unlock()
}

func (s *Session) currentAudioType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentType
}

func (s *Session) streamConfig() inter.StreamConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.cfg.Stream
	cfg.SampleRate = s.sampleRate
	return cfg
}

func (s *Session) stopped() bool {
	return !s.running.Load() || s.baseCtx.Err() != nil
}

// run is the worker loop: one recognizer connection per iteration.
func (s *Session) run() {
	defer close(s.done)
	defer s.stats.ActiveSessions.Dec()
	defer func() {
		if r := recover(); r != nil {
			s.fail(errors.New(errors.KindFatal, "asr.worker", fmt.Sprintf("worker panic: %v", r)))
		}
		s.setState(StateStopped)
	}()

	for !s.stopped() {
		err := s.connect()
		if s.stopped() {
			return
		}
		switch {
		case err == nil:
			s.noteReconnect("stream_end", nil)
		case errors.Is(err, errAudioTimeout):
			s.noteReconnect("audio_timeout", nil)
		case errors.IsKind(err, errors.KindFatal):
			s.fail(err)
			return
		default:
			s.noteReconnect("error", err)
			if !s.waitBackoff(err) {
				return
			}
		}
	}
}

// connect serves one recognizer connection. It opens lazily on the first
// queued chunk so an idle session holds no backend stream.
func (s *Session) connect() error {
	first, ok := s.awaitChunk()
	if !ok {
		return nil
	}

	ctx, cancel := context.WithCancel(s.baseCtx)
	defer cancel()

	ctx, spanEnd := observability.StartSpan(ctx, "asr.session", "connect")
	stream, err := s.recognizer.Open(ctx, s.streamConfig())
	if err != nil {
		s.pending = &first
		err = errors.Annotate(errors.KindRecognizer, "asr.open", "open recognizer stream", err)
		spanEnd(err)
		return err
	}
	s.setState(StateStreaming)
	s.logger.InfoTag("ASR", "recognizer stream opened", "client_id", s.clientID)

	pumpDone := make(chan error, 1)
	go func() {
		pumpDone <- s.pump(ctx, cancel, stream, first)
	}()

	recvErr := s.receive(stream)
	cancel()
	pumpErr := <-pumpDone

	switch {
	case pumpErr != nil:
		err = pumpErr
	case recvErr != nil:
		err = recvErr
	}
	if errors.Is(err, errAudioTimeout) {
		spanEnd(nil)
	} else {
		spanEnd(err)
	}
	return err
}

// awaitChunk returns the chunk left over from a failed connection or waits
// for the next queued one, polling so shutdown is noticed promptly.
func (s *Session) awaitChunk() (Chunk, bool) {
	if s.pending != nil {
		c := *s.pending
		s.pending = nil
		return c, true
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case c := <-s.queue:
			return c, true
		case <-s.stopCh:
			return Chunk{}, false
		case <-s.baseCtx.Done():
			return Chunk{}, false
		case <-ticker.C:
			if !s.running.Load() {
				return Chunk{}, false
			}
		}
	}
}

// pump streams queued chunks to the recognizer until the session stops, the
// connection ends or no audio arrives for AudioTimeout.
func (s *Session) pump(ctx context.Context, cancel context.CancelFunc, stream inter.RecognizeStream, first Chunk) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.KindFatal, "asr.pump", fmt.Sprintf("request pump panic: %v", r))
			cancel()
		}
	}()

	lastSent := time.Now()
	send := func(c Chunk) error {
		if err := stream.Send(c.Data); err != nil {
			s.pending = &c
			if ctx.Err() != nil {
				return nil
			}
			return errors.Annotate(errors.KindRecognizer, "asr.send", "send audio", err)
		}
		s.markSent(c.Type)
		lastSent = time.Now()
		return nil
	}

	if err := send(first); err != nil {
		cancel()
		return err
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopCh:
			s.closeSend(ctx, cancel, stream)
			return nil
		case c := <-s.queue:
			if err := send(c); err != nil {
				cancel()
				return err
			}
		case <-ticker.C:
			if !s.running.Load() {
				s.closeSend(ctx, cancel, stream)
				return nil
			}
			if idle := time.Since(lastSent); idle >= s.cfg.AudioTimeout {
				s.logger.InfoTag("ASR", "no audio received, recycling recognizer stream",
					"client_id", s.clientID, "idle", idle.String())
				s.closeSend(ctx, cancel, stream)
				return errAudioTimeout
			}
		}
	}
}

// closeSend half-closes the stream and gives the backend DrainTimeout to
// flush its last results before the connection is cancelled.
func (s *Session) closeSend(ctx context.Context, cancel context.CancelFunc, stream inter.RecognizeStream) {
	if err := stream.CloseSend(); err != nil {
		s.logger.DebugTag("ASR", "close send failed", "client_id", s.clientID, "error", err.Error())
	}
	go func() {
		timer := time.NewTimer(s.cfg.DrainTimeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancel()
		case <-ctx.Done():
		}
	}()
}

// receive reads results until the stream ends, dispatching each one fully
// before reading the next. After Stop it keeps going until the backend
// reports EOF or the drain window cancels the stream, so results flushed in
// response to CloseSend are still delivered and committed.
func (s *Session) receive(stream inter.RecognizeStream) error {
	for {
		res, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if s.stopped() {
				return nil
			}
			return errors.Annotate(errors.KindRecognizer, "asr.recv", "receive results", err)
		}
		if strings.TrimSpace(res.Text) == "" {
			continue
		}
		s.retry.Reset()
		s.dispatch(res)
	}
}

func (s *Session) dispatch(res inter.Result) {
	tr := Transcript{
		ClientID:  s.clientID,
		Text:      res.Text,
		IsFinal:   res.IsFinal,
		AudioType: s.currentAudioType(),
		Timestamp: time.Now().UTC(),
	}
	kind := "interim"
	if res.IsFinal {
		kind = "final"
		tr.Confidence = res.Confidence
	}

	ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.DeliveryTimeout)
	start := time.Now()
	err := s.dispatcher.Deliver(ctx, tr)
	cancel()
	s.stats.DeliveryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.stats.Results.WithLabelValues(kind, "dropped").Inc()
		s.logger.WarnTag("ASR", "transcript delivery failed, result dropped",
			"client_id", s.clientID, "final", res.IsFinal, "error", err.Error())
	} else {
		s.stats.Results.WithLabelValues(kind, "delivered").Inc()
	}

	if !tr.IsFinal {
		return
	}
	ctx, cancel = context.WithTimeout(s.baseCtx, s.cfg.DeliveryTimeout)
	defer cancel()
	if err := s.dispatcher.Commit(ctx, tr); err != nil {
		s.stats.Results.WithLabelValues(kind, "commit_failed").Inc()
		s.logger.ErrorTag("ASR", "final transcript commit failed", "client_id", s.clientID, "error", err.Error())
	}
}

func (s *Session) noteReconnect(reason string, cause error) {
	s.mu.Lock()
	s.reconnects++
	if cause != nil {
		s.lastErr = cause.Error()
	}
	s.mu.Unlock()
	s.stats.RecognizerReconnects.WithLabelValues(reason).Inc()
	if cause != nil {
		s.logger.WarnTag("ASR", "recognizer connection failed", "client_id", s.clientID, "reason", reason, "error", cause.Error())
	} else {
		s.logger.InfoTag("ASR", "recognizer connection ended", "client_id", s.clientID, "reason", reason)
	}
}

// waitBackoff sleeps before the next attempt and reports the error upstream
// when the retry window is exhausted. It returns false if the session stopped
// while waiting.
func (s *Session) waitBackoff(cause error) bool {
	s.setState(StateReconnecting)
	delay, exhausted := s.retry.Next()
	if exhausted {
		s.logger.ErrorTag("ASR", "recognizer retries exhausted", "client_id", s.clientID, "attempts", s.retry.Attempts())
		s.report(cause, false)
		s.retry.Reset()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.stopCh:
		return false
	case <-s.baseCtx.Done():
		return false
	}
}

func (s *Session) fail(err error) {
	s.running.Store(false)
	s.setState(StateStopped)
	s.mu.Lock()
	s.lastErr = err.Error()
	s.mu.Unlock()
	s.logger.ErrorTag("ASR", "recognition session failed", "client_id", s.clientID, "error", err.Error())
	s.report(err, true)
}

func (s *Session) report(err error, fatal bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorTag("ASR", "error reporter panicked", "client_id", s.clientID, "panic", fmt.Sprint(r))
		}
	}()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.baseCtx), s.cfg.DeliveryTimeout)
	defer cancel()
	s.dispatcher.ReportError(ctx, err, fatal)
}
