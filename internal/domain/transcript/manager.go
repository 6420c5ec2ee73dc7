package transcript

import (
	"context"
	"strings"
	"sync"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/google/uuid"

	"meetscribe-server/internal/domain/eventbus"
	"meetscribe-server/internal/platform/errors"
	"meetscribe-server/internal/platform/logging"
)

const titleLayout = "2006-01-02 15:04"

// MeetingManager tracks the active meeting of each client and files final
// transcripts under it.
type MeetingManager struct {
	store  Store
	logger *logging.Logger
	bus    evbus.BusPublisher
	now    func() time.Time

	mu     sync.Mutex
	active map[string]Meeting
}

type ManagerOption func(*MeetingManager)

func WithManagerLogger(l *logging.Logger) ManagerOption {
	return func(m *MeetingManager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithPublisher sends meeting and transcript events to bus.
func WithPublisher(bus evbus.BusPublisher) ManagerOption {
	return func(m *MeetingManager) { m.bus = bus }
}

func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *MeetingManager) { m.now = now }
}

func NewMeetingManager(store Store, opts ...ManagerOption) *MeetingManager {
	m := &MeetingManager{
		store:  store,
		logger: logging.Discard(),
		now:    time.Now,
		active: make(map[string]Meeting),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MeetingManager) publish(topic string, data any) {
	if m.bus != nil {
		m.bus.Publish(topic, data)
	}
}

// StartMeeting opens a meeting for clientID, ending any meeting the client
// still has open. An empty title gets a timestamped default.
func (m *MeetingManager) StartMeeting(ctx context.Context, clientID, title string) (Meeting, error) {
	if _, _, err := m.EndMeeting(ctx, clientID); err != nil {
		m.logger.WarnTag("STORE", "failed to close previous meeting", "client_id", clientID, "error", err.Error())
	}

	now := m.now().UTC()
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Meeting " + now.Format(titleLayout)
	}
	meeting := Meeting{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		Title:     title,
		StartedAt: now,
	}
	if err := m.store.SaveMeeting(ctx, meeting); err != nil {
		return Meeting{}, err
	}

	m.mu.Lock()
	m.active[clientID] = meeting
	m.mu.Unlock()

	m.logger.InfoTag("STORE", "meeting started", "meeting_id", meeting.ID, "client_id", clientID)
	m.publish(eventbus.EventMeetingStarted, eventbus.MeetingEventData{
		MeetingID: meeting.ID, ClientID: clientID, Title: title, At: now,
	})
	return meeting, nil
}

// EndMeeting closes the client's active meeting. ok is false when the client
// had none.
func (m *MeetingManager) EndMeeting(ctx context.Context, clientID string) (Meeting, bool, error) {
	m.mu.Lock()
	meeting, ok := m.active[clientID]
	delete(m.active, clientID)
	m.mu.Unlock()
	if !ok {
		return Meeting{}, false, nil
	}

	ended := m.now().UTC()
	meeting.EndedAt = &ended
	if err := m.store.SaveMeeting(ctx, meeting); err != nil {
		return meeting, true, err
	}

	m.logger.InfoTag("STORE", "meeting ended", "meeting_id", meeting.ID, "client_id", clientID)
	m.publish(eventbus.EventMeetingEnded, eventbus.MeetingEventData{
		MeetingID: meeting.ID, ClientID: clientID, Title: meeting.Title, At: ended,
	})
	return meeting, true, nil
}

// ActiveMeeting returns the client's open meeting.
func (m *MeetingManager) ActiveMeeting(clientID string) (Meeting, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	meeting, ok := m.active[clientID]
	return meeting, ok
}

// SaveFinalTranscript files a final result under the client's active
// meeting, or with no meeting when none is open.
func (m *MeetingManager) SaveFinalTranscript(ctx context.Context, clientID, text string, confidence float64, speaker, audioType string, ts time.Time) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if ts.IsZero() {
		ts = m.now()
	}
	seg := Segment{
		ClientID:   clientID,
		Text:       text,
		Speaker:    speaker,
		Confidence: confidence,
		AudioType:  audioType,
		Timestamp:  ts.UTC(),
	}
	if meeting, ok := m.ActiveMeeting(clientID); ok {
		seg.MeetingID = meeting.ID
	}
	if err := m.store.AppendSegment(ctx, seg); err != nil {
		return errors.Wrap(errors.KindStorage, "transcript.save_final", "failed to save final transcript", err)
	}
	m.publish(eventbus.EventTranscriptFinal, eventbus.TranscriptEventData{
		ClientID:   clientID,
		MeetingID:  seg.MeetingID,
		Text:       text,
		Confidence: confidence,
		AudioType:  audioType,
		At:         seg.Timestamp,
	})
	return nil
}

// Meeting loads a meeting by id.
func (m *MeetingManager) Meeting(ctx context.Context, id string) (Meeting, error) {
	return m.store.GetMeeting(ctx, id)
}

// Meetings lists meetings, optionally for one client.
func (m *MeetingManager) Meetings(ctx context.Context, clientID string) ([]Meeting, error) {
	return m.store.ListMeetings(ctx, clientID)
}

// Segments returns a meeting's segments since the given time.
func (m *MeetingManager) Segments(ctx context.Context, meetingID string, since time.Time) ([]Segment, error) {
	if _, err := m.store.GetMeeting(ctx, meetingID); err != nil {
		return nil, err
	}
	return m.store.ListSegments(ctx, Query{MeetingID: meetingID, Since: since})
}

// SetMetadata merges values into a meeting's metadata.
func (m *MeetingManager) SetMetadata(ctx context.Context, meetingID string, values map[string]any) error {
	meeting, err := m.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	if meeting.Metadata == nil {
		meeting.Metadata = make(map[string]any, len(values))
	}
	for k, v := range values {
		meeting.Metadata[k] = v
	}

	m.mu.Lock()
	if active, ok := m.active[meeting.ClientID]; ok && active.ID == meeting.ID {
		active.Metadata = meeting.Metadata
		m.active[meeting.ClientID] = active
	}
	m.mu.Unlock()
	return m.store.SaveMeeting(ctx, meeting)
}

// Close ends every open meeting.
func (m *MeetingManager) Close(ctx context.Context) error {
	m.mu.Lock()
	clients := make([]string, 0, len(m.active))
	for id := range m.active {
		clients = append(clients, id)
	}
	m.mu.Unlock()

	var firstErr error
	for _, id := range clients {
		if _, _, err := m.EndMeeting(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
