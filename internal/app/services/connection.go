package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"meetscribe-server/internal/domain/asr"
	"meetscribe-server/internal/domain/asr/inter"
	"meetscribe-server/internal/domain/audio"
	"meetscribe-server/internal/domain/eventbus"
	"meetscribe-server/internal/domain/transcript"
	"meetscribe-server/internal/platform/errors"
	"meetscribe-server/internal/platform/logging"
	"meetscribe-server/internal/platform/observability"
)

// DefaultSampleRate is assumed when an audio_meta frame omits sampleRate.
const DefaultSampleRate = 16000

// Accepted audio_meta sample rates, inclusive.
const (
	MinSampleRate = 8000
	MaxSampleRate = 48000
)

var (
	ErrNoMetadata     = errors.New(errors.KindProtocol, "connection.binary", "binary frame received before audio_meta")
	ErrUnknownMessage = errors.New(errors.KindProtocol, "connection.text", "unsupported message type")
	ErrSampleRate     = errors.New(errors.KindProtocol, "connection.text", "sample rate out of range")
	ErrClosed         = errors.New(errors.KindDelivery, "connection.write", "connection closed")
)

// Conn is the socket side of a ConnectionSession.
type Conn interface {
	ReadMessage() (messageType int, payload []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// MeetingRecorder persists meetings and final transcripts.
type MeetingRecorder interface {
	StartMeeting(ctx context.Context, clientID, title string) (transcript.Meeting, error)
	EndMeeting(ctx context.Context, clientID string) (transcript.Meeting, bool, error)
	SaveFinalTranscript(ctx context.Context, clientID, text string, confidence float64, speaker, audioType string, ts time.Time) error
}

// ConnectionConfig wires a ConnectionSession to its collaborators.
type ConnectionConfig struct {
	ClientID   string
	RemoteAddr string
	Conn       Conn
	Registry   *audio.Registry
	Recognizer inter.Recognizer
	Meetings   MeetingRecorder
	Publisher  evbus.BusPublisher
	Session    asr.Config
	Logger     *logging.Logger
	Metrics    *observability.Metrics

	PingInterval time.Duration
	OutboundSize int
}

// ConnectionStatus aggregates the per-connection diagnostics.
type ConnectionStatus struct {
	ClientID    string                                  `json:"client_id"`
	RemoteAddr  string                                  `json:"remote_addr,omitempty"`
	ConnectedAt time.Time                               `json:"connected_at"`
	AudioType   string                                  `json:"audio_type"`
	SampleRate  int                                     `json:"sample_rate"`
	MeetingID   string                                  `json:"meeting_id,omitempty"`
	Session     asr.Status                              `json:"session"`
	Streams     map[audio.AudioType]*audio.StreamStatus `json:"streams"`

	CombinedFrames  int64 `json:"combined_frames"`
	CombinedSamples int64 `json:"combined_samples"`
}

type audioMeta struct {
	Type       string `json:"type"`
	AudioType  string `json:"audioType"`
	SampleRate int    `json:"sampleRate"`
}

type statusFrame struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	ClientID string `json:"client_id"`
}

type transcriptFrame struct {
	Type       string   `json:"type"`
	Text       string   `json:"text"`
	IsFinal    bool     `json:"is_final"`
	Confidence *float32 `json:"confidence"`
	AudioType  string   `json:"audioType"`
	Timestamp  string   `json:"timestamp"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

var pingFrame = []byte(`{"type":"ping"}`)

type outbound struct {
	data []byte
	// done receives the write result when the sender waits for it.
	done chan error
}

type inbound struct {
	kind    int
	payload []byte
	err     error
}

// ConnectionSession binds one websocket client to its audio streams, its
// recognition session and its meeting. Socket writes happen only on the
// writer goroutine; socket reads only on the reader goroutine, whose
// messages are handled one at a time by Serve.
type ConnectionSession struct {
	cfg       ConnectionConfig
	clientID  string
	conn      Conn
	registry  *audio.Registry
	session   *asr.Session
	meetings  MeetingRecorder
	publisher evbus.BusPublisher
	logger    *logging.Logger
	stats     *observability.Metrics

	out       chan outbound
	closing   chan struct{}
	writerEnd chan struct{}

	stopOnce sync.Once
	writeErr error

	mu          sync.Mutex
	started     bool
	connectedAt time.Time
	audioType   audio.AudioType
	hasMeta     bool
	sampleRate  int
	meetingID   string

	combinedFrames  int64
	combinedSamples int64
}

func NewConnectionSession(cfg ConnectionConfig) *ConnectionSession {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.OutboundSize <= 0 {
		cfg.OutboundSize = 64
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	stats := cfg.Metrics
	if stats == nil {
		stats = observability.Default()
	}

	c := &ConnectionSession{
		cfg:        cfg,
		clientID:   cfg.ClientID,
		conn:       cfg.Conn,
		registry:   cfg.Registry,
		meetings:   cfg.Meetings,
		publisher:  cfg.Publisher,
		logger:     logger,
		stats:      stats,
		out:        make(chan outbound, cfg.OutboundSize),
		closing:    make(chan struct{}),
		writerEnd:  make(chan struct{}),
		sampleRate: DefaultSampleRate,
	}
	c.session = asr.NewSession(cfg.ClientID, cfg.Recognizer, c, cfg.Session,
		asr.WithLogger(logger), asr.WithMetrics(stats))
	return c
}

// ClientID identifies the connection.
func (c *ConnectionSession) ClientID() string {
	return c.clientID
}

// Start registers both audio streams, opens a meeting and launches the
// recognition worker and the socket writer.
func (c *ConnectionSession) Start(ctx context.Context) error {
	const op = "connection.start"
	select {
	case <-c.closing:
		return ErrClosed
	default:
	}

	now := time.Now()
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return asr.ErrAlreadyStarted
	}
	c.started = true
	c.connectedAt = now
	c.mu.Unlock()

	go c.writeLoop()

	for _, t := range audio.AudioTypes {
		if err := c.registry.AddStream(c.clientID, t); err != nil {
			return errors.Wrap(errors.KindTransport, op, "failed to register stream", err)
		}
	}

	if c.meetings != nil {
		meeting, err := c.meetings.StartMeeting(ctx, c.clientID, "")
		if err != nil {
			c.logger.WarnTag("CONN", "failed to start meeting", "client_id", c.clientID, "error", err.Error())
		} else {
			c.mu.Lock()
			c.meetingID = meeting.ID
			c.mu.Unlock()
		}
	}

	if err := c.session.Start(ctx); err != nil {
		return errors.Wrap(errors.KindTransport, op, "failed to start recognition", err)
	}

	c.publish(eventbus.EventSessionStarted, eventbus.SessionEventData{
		ClientID: c.clientID, RemoteAddr: c.cfg.RemoteAddr, At: now,
	})
	c.logger.InfoTag("CONN", "connection started", "client_id", c.clientID, "remote", c.cfg.RemoteAddr)
	c.send(statusFrame{Type: "status", Message: "Connected to transcription service", ClientID: c.clientID})
	return nil
}

// Serve runs the connection until the client disconnects, the socket
// breaks or ctx ends. When no inbound frame arrives for PingInterval a
// ping frame is sent. Serve stops the session before returning.
func (c *ConnectionSession) Serve(ctx context.Context) error {
	if err := c.Start(ctx); err != nil && !errors.Is(err, asr.ErrAlreadyStarted) {
		c.Stop()
		return err
	}
	defer c.Stop()

	messages := make(chan inbound)
	go c.readLoop(messages)

	idle := time.NewTimer(c.cfg.PingInterval)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.writerEnd:
			return c.writeErr
		case <-idle.C:
			c.Ping()
			idle.Reset(c.cfg.PingInterval)
		case msg := <-messages:
			if msg.err != nil {
				if websocket.IsCloseError(msg.err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
					return nil
				}
				return errors.Wrap(errors.KindTransport, "connection.read", "read failed", msg.err)
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(c.cfg.PingInterval)
			_ = c.HandleMessage(msg.kind, msg.payload)
		}
	}
}

func (c *ConnectionSession) readLoop(messages chan<- inbound) {
	for {
		kind, payload, err := c.conn.ReadMessage()
		select {
		case messages <- inbound{kind: kind, payload: payload, err: err}:
		case <-c.closing:
			return
		}
		if err != nil {
			return
		}
	}
}

// HandleMessage applies one inbound frame. Text frames carry audio_meta;
// binary frames carry PCM16LE for the most recently announced audio type.
// A rejected frame leaves the connection state untouched.
func (c *ConnectionSession) HandleMessage(kind int, payload []byte) error {
	switch kind {
	case websocket.TextMessage:
		return c.handleText(payload)
	case websocket.BinaryMessage:
		return c.handleAudio(payload)
	default:
		return nil
	}
}

func (c *ConnectionSession) handleText(payload []byte) error {
	const op = "connection.text"
	var meta audioMeta
	if err := sonic.Unmarshal(payload, &meta); err != nil {
		return c.reject(errors.Wrap(errors.KindProtocol, op, "invalid JSON message", err))
	}
	if meta.Type != "audio_meta" {
		return c.reject(errors.Annotate(errors.KindProtocol, op, "message type "+meta.Type, ErrUnknownMessage))
	}
	t, err := audio.ParseAudioType(meta.AudioType)
	if err != nil {
		return c.reject(err)
	}
	if meta.SampleRate == 0 {
		meta.SampleRate = DefaultSampleRate
	}
	if meta.SampleRate < MinSampleRate || meta.SampleRate > MaxSampleRate {
		return c.reject(errors.Annotate(errors.KindProtocol, op, fmt.Sprintf("sample rate %d outside %d-%d", meta.SampleRate, MinSampleRate, MaxSampleRate), ErrSampleRate))
	}

	c.mu.Lock()
	changed := c.sampleRate != meta.SampleRate
	c.audioType = t
	c.hasMeta = true
	c.sampleRate = meta.SampleRate
	c.mu.Unlock()

	if changed {
		c.session.SetSampleRate(meta.SampleRate)
	}
	c.logger.DebugTag("CONN", "audio metadata", "client_id", c.clientID, "audio_type", t.String(), "sample_rate", meta.SampleRate)
	return nil
}

func (c *ConnectionSession) handleAudio(payload []byte) error {
	c.mu.Lock()
	t, ok := c.audioType, c.hasMeta
	c.mu.Unlock()
	if !ok {
		c.stats.ChunksIngested.WithLabelValues("unknown", "rejected").Inc()
		return c.reject(ErrNoMetadata)
	}

	if _, err := c.registry.Ingest(c.clientID, payload, t); err != nil {
		return c.reject(err)
	}
	c.combine()

	if err := c.session.Enqueue(t, payload); err != nil {
		if errors.Is(err, asr.ErrQueueFull) {
			return err
		}
		return c.reject(err)
	}
	return nil
}

// combine drains the client's aligned streams. The mixed frame is only
// counted for Status.
func (c *ConnectionSession) combine() {
	frame := c.registry.Combine(c.clientID)
	if len(frame) == 0 {
		return
	}
	c.mu.Lock()
	c.combinedFrames++
	c.combinedSamples += int64(len(frame))
	c.mu.Unlock()
}

func (c *ConnectionSession) reject(err error) error {
	c.logger.WarnTag("CONN", "rejected client frame", "client_id", c.clientID, "error", err.Error())
	c.send(errorFrame{Type: "error", Message: err.Error()})
	return err
}

// Deliver implements asr.Dispatcher: it hands the transcript frame to the
// writer and waits until it is on the wire.
func (c *ConnectionSession) Deliver(ctx context.Context, t asr.Transcript) error {
	frame := transcriptFrame{
		Type:      "transcript",
		Text:      t.Text,
		IsFinal:   t.IsFinal,
		AudioType: t.AudioType,
		Timestamp: t.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if t.IsFinal {
		confidence := t.Confidence
		frame.Confidence = &confidence
	}
	data, err := sonic.Marshal(frame)
	if err != nil {
		return errors.Wrap(errors.KindDelivery, "connection.deliver", "encode transcript", err)
	}

	done := make(chan error, 1)
	select {
	case c.out <- outbound{data: data, done: done}:
	case <-c.closing:
		return ErrClosed
	case <-ctx.Done():
		return errors.Wrap(errors.KindDelivery, "connection.deliver", "outbound queue busy", ctx.Err())
	}

	select {
	case err := <-done:
		if err != nil {
			return errors.Wrap(errors.KindDelivery, "connection.deliver", "write transcript", err)
		}
		return nil
	case <-c.writerEnd:
		return ErrClosed
	case <-ctx.Done():
		return errors.Wrap(errors.KindDelivery, "connection.deliver", "write not confirmed", ctx.Err())
	}
}

// Commit implements asr.Dispatcher by persisting the final transcript.
func (c *ConnectionSession) Commit(ctx context.Context, t asr.Transcript) error {
	if c.meetings == nil {
		return nil
	}
	return c.meetings.SaveFinalTranscript(ctx, c.clientID, t.Text, float64(t.Confidence), "", t.AudioType, t.Timestamp)
}

// ReportError implements asr.Dispatcher.
func (c *ConnectionSession) ReportError(_ context.Context, err error, fatal bool) {
	if err == nil {
		return
	}
	message := "Transcription error: " + err.Error()
	if fatal {
		message = "Transcription stopped: " + err.Error()
	}
	c.send(errorFrame{Type: "error", Message: message})
	c.publish(eventbus.EventRecognizerError, eventbus.ErrorEventData{
		ClientID: c.clientID, Message: err.Error(), Fatal: fatal, At: time.Now(),
	})
}

// Ping queues a keepalive frame.
func (c *ConnectionSession) Ping() {
	c.enqueue(pingFrame)
}

func (c *ConnectionSession) send(frame any) {
	data, err := sonic.Marshal(frame)
	if err != nil {
		c.logger.ErrorTag("CONN", "failed to encode frame", "error", err.Error())
		return
	}
	c.enqueue(data)
}

// enqueue never blocks; frames that do not fit are dropped.
func (c *ConnectionSession) enqueue(data []byte) {
	select {
	case <-c.closing:
		return
	default:
	}
	select {
	case c.out <- outbound{data: data}:
	default:
		c.logger.WarnTag("CONN", "outbound queue full, dropping frame", "client_id", c.clientID)
	}
}

func (c *ConnectionSession) writeLoop() {
	defer close(c.writerEnd)
	for {
		select {
		case <-c.closing:
			return
		case frame := <-c.out:
			err := c.conn.WriteMessage(websocket.TextMessage, frame.data)
			if frame.done != nil {
				frame.done <- err
			}
			if err != nil {
				c.writeErr = errors.Wrap(errors.KindTransport, "connection.write", "write failed", err)
				c.logger.WarnTag("CONN", "socket write failed", "client_id", c.clientID, "error", err.Error())
				return
			}
		}
	}
}

// Stop stops the recognition worker, removes both streams, ends the
// meeting and closes the socket. It is idempotent.
func (c *ConnectionSession) Stop() {
	c.stopOnce.Do(c.stop)
}

func (c *ConnectionSession) stop() {
	c.session.Stop()

	c.mu.Lock()
	started := c.started
	c.mu.Unlock()

	if started {
		for _, t := range audio.AudioTypes {
			c.registry.RemoveStream(c.clientID, t)
		}
		if c.meetings != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if _, _, err := c.meetings.EndMeeting(ctx, c.clientID); err != nil {
				c.logger.WarnTag("CONN", "failed to end meeting", "client_id", c.clientID, "error", err.Error())
			}
			cancel()
		}
		c.publish(eventbus.EventSessionStopped, eventbus.SessionEventData{
			ClientID: c.clientID, RemoteAddr: c.cfg.RemoteAddr, At: time.Now(),
		})
	}

	close(c.closing)
	if started {
		<-c.writerEnd
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.logger.InfoTag("CONN", "connection closed", "client_id", c.clientID)
}

// Done is closed once the recognition worker has exited.
func (c *ConnectionSession) Done() <-chan struct{} {
	return c.session.Done()
}

// Status returns the aggregate connection view.
func (c *ConnectionSession) Status() ConnectionStatus {
	c.mu.Lock()
	st := ConnectionStatus{
		ClientID:    c.clientID,
		RemoteAddr:  c.cfg.RemoteAddr,
		ConnectedAt: c.connectedAt,
		AudioType:   asr.UnknownAudioType,
		SampleRate:  c.sampleRate,
		MeetingID:   c.meetingID,

		CombinedFrames:  c.combinedFrames,
		CombinedSamples: c.combinedSamples,
	}
	if c.hasMeta {
		st.AudioType = c.audioType.String()
	}
	c.mu.Unlock()

	st.Session = c.session.Status()
	st.Streams = c.registry.Statuses(c.clientID)
	return st
}

func (c *ConnectionSession) publish(topic string, data any) {
	if c.publisher != nil {
		c.publisher.Publish(topic, data)
	}
}
