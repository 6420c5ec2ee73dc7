package storage

import (
	"time"

	"gorm.io/datatypes"
)

// MeetingRecord is the persisted form of a meeting.
type MeetingRecord struct {
	ID        string         `gorm:"primaryKey;type:varchar(64)"`
	ClientID  string         `gorm:"index;not null"`
	Title     string         `gorm:"not null"`
	StartedAt time.Time      `gorm:"not null"`
	EndedAt   *time.Time
	Metadata  datatypes.JSON
}

func (MeetingRecord) TableName() string { return "meetings" }

// SegmentRecord is one final transcript line.
type SegmentRecord struct {
	ID         uint   `gorm:"primaryKey"`
	MeetingID  string `gorm:"index"`
	ClientID   string `gorm:"index;not null"`
	Text       string `gorm:"type:text;not null"`
	Speaker    string
	Confidence float64
	AudioType  string
	Timestamp  time.Time `gorm:"index;not null"`
	Metadata   datatypes.JSON
}

func (SegmentRecord) TableName() string { return "transcript_segments" }

// DomainEvent is an entry in the event log.
type DomainEvent struct {
	ID        uint           `gorm:"primaryKey"`
	EventType string         `gorm:"index;not null"`
	SessionID string         `gorm:"index"`
	MeetingID string         `gorm:"index"`
	Data      datatypes.JSON `gorm:"not null"`
	CreatedAt time.Time      `gorm:"index"`
}

func (DomainEvent) TableName() string { return "domain_events" }
