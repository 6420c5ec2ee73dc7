package repository

import (
	"context"
	"time"
)

// EventRepository persists the event log.
type EventRepository interface {
	Store(ctx context.Context, event Event) error
	FindBySessionID(ctx context.Context, sessionID string) ([]Event, error)
	FindByMeetingID(ctx context.Context, meetingID string) ([]Event, error)
	FindByEventType(ctx context.Context, eventType string, limit int) ([]Event, error)
	DeleteOldEvents(ctx context.Context, beforeTime time.Time) error
	GetEventStats(ctx context.Context) (map[string]int64, error)
}

// Event is one logged occurrence.
type Event struct {
	ID        string
	EventType string
	SessionID string
	MeetingID string
	Data      interface{}
	CreatedAt time.Time
}
