package eventbus

import "time"

// Topics.
const (
	EventSessionStarted  = "session:started"
	EventSessionStopped  = "session:stopped"
	EventRecognizerError = "recognizer:error"

	EventMeetingStarted = "meeting:started"
	EventMeetingEnded   = "meeting:ended"

	EventTranscriptFinal = "transcript:final"
)

// Topics lists every topic the recorder persists.
var Topics = []string{
	EventSessionStarted,
	EventSessionStopped,
	EventRecognizerError,
	EventMeetingStarted,
	EventMeetingEnded,
	EventTranscriptFinal,
}

// Keyed is implemented by event payloads so the recorder can index them.
type Keyed interface {
	EventKeys() (sessionID, meetingID string)
}

type SessionEventData struct {
	ClientID   string    `json:"client_id"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

func (d SessionEventData) EventKeys() (string, string) { return d.ClientID, "" }

type ErrorEventData struct {
	ClientID string    `json:"client_id"`
	Message  string    `json:"message"`
	Fatal    bool      `json:"fatal"`
	At       time.Time `json:"at"`
}

func (d ErrorEventData) EventKeys() (string, string) { return d.ClientID, "" }

type MeetingEventData struct {
	MeetingID string    `json:"meeting_id"`
	ClientID  string    `json:"client_id"`
	Title     string    `json:"title"`
	At        time.Time `json:"at"`
}

func (d MeetingEventData) EventKeys() (string, string) { return d.ClientID, d.MeetingID }

type TranscriptEventData struct {
	ClientID   string    `json:"client_id"`
	MeetingID  string    `json:"meeting_id,omitempty"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	AudioType  string    `json:"audio_type"`
	At         time.Time `json:"at"`
}

func (d TranscriptEventData) EventKeys() (string, string) { return d.ClientID, d.MeetingID }
