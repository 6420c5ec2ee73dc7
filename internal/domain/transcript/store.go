// Package transcript persists meetings and the final transcript segments
// produced during them.
package transcript

import (
	"context"
	"time"

	"meetscribe-server/internal/platform/errors"
)

// Driver identifiers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

var ErrNotFound = errors.New(errors.KindStorage, "transcript.store", "record not found")

// Meeting groups the segments of one recording.
type Meeting struct {
	ID        string         `json:"id"`
	ClientID  string         `json:"client_id"`
	Title     string         `json:"title"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Active reports whether the meeting has not ended.
func (m Meeting) Active() bool { return m.EndedAt == nil }

// Segment is one final transcript line.
type Segment struct {
	ID         string         `json:"id,omitempty"`
	MeetingID  string         `json:"meeting_id,omitempty"`
	ClientID   string         `json:"client_id"`
	Text       string         `json:"text"`
	Speaker    string         `json:"speaker,omitempty"`
	Confidence float64        `json:"confidence"`
	AudioType  string         `json:"audio_type"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Query filters ListSegments. Zero fields do not filter.
type Query struct {
	MeetingID string
	ClientID  string
	Since     time.Time
	Limit     int
}

func (q Query) match(s Segment) bool {
	if q.MeetingID != "" && s.MeetingID != q.MeetingID {
		return false
	}
	if q.ClientID != "" && s.ClientID != q.ClientID {
		return false
	}
	if !q.Since.IsZero() && s.Timestamp.Before(q.Since) {
		return false
	}
	return true
}

// Store is the persistence contract behind MeetingManager.
type Store interface {
	SaveMeeting(ctx context.Context, m Meeting) error
	GetMeeting(ctx context.Context, id string) (Meeting, error)
	ListMeetings(ctx context.Context, clientID string) ([]Meeting, error)
	AppendSegment(ctx context.Context, s Segment) error
	// ListSegments returns matching segments in timestamp order. With a
	// Limit only the most recent Limit segments are returned.
	ListSegments(ctx context.Context, q Query) ([]Segment, error)
	Stats(ctx context.Context) (map[string]any, error)
	Close(ctx context.Context) error
}

// Config selects and tunes a Store.
type Config struct {
	Driver string
	TTL    time.Duration
	Redis  *RedisConfig
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

func tail(segs []Segment, limit int) []Segment {
	if limit > 0 && len(segs) > limit {
		return segs[len(segs)-limit:]
	}
	return segs
}
