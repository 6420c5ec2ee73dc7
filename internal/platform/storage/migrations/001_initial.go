package migrations

import "gorm.io/gorm"

// Migration001Initial creates the meeting, transcript and event tables.
type Migration001Initial struct{}

func (m *Migration001Initial) Version() string { return "001_initial" }

func (m *Migration001Initial) Description() string {
	return "Create meetings, transcript_segments and domain_events"
}

func (m *Migration001Initial) Up(db *gorm.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meetings (
			id VARCHAR(64) PRIMARY KEY,
			client_id VARCHAR(255) NOT NULL,
			title VARCHAR(255) NOT NULL,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			metadata JSON
		)`,
		`CREATE TABLE IF NOT EXISTS transcript_segments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			meeting_id VARCHAR(64),
			client_id VARCHAR(255) NOT NULL,
			text TEXT NOT NULL,
			speaker VARCHAR(255),
			confidence REAL,
			audio_type VARCHAR(32),
			timestamp DATETIME NOT NULL,
			metadata JSON
		)`,
		`CREATE TABLE IF NOT EXISTS domain_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type VARCHAR(255) NOT NULL,
			session_id VARCHAR(255),
			meeting_id VARCHAR(64),
			data JSON NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_meetings_client_id ON meetings(client_id)`,
		`CREATE INDEX IF NOT EXISTS idx_domain_events_event_type ON domain_events(event_type)`,
		`CREATE INDEX IF NOT EXISTS idx_domain_events_session_id ON domain_events(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_domain_events_meeting_id ON domain_events(meeting_id)`,
		`CREATE INDEX IF NOT EXISTS idx_domain_events_created_at ON domain_events(created_at)`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

func (m *Migration001Initial) Down(db *gorm.DB) error {
	for _, table := range []string{"domain_events", "transcript_segments", "meetings"} {
		if err := db.Exec(`DROP TABLE IF EXISTS ` + table).Error; err != nil {
			return err
		}
	}
	return nil
}
