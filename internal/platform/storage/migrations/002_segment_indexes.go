package migrations

import "gorm.io/gorm"

// Migration002SegmentIndexes indexes segment lookups by meeting and time.
type Migration002SegmentIndexes struct{}

func (m *Migration002SegmentIndexes) Version() string { return "002_segment_indexes" }

func (m *Migration002SegmentIndexes) Description() string {
	return "Index transcript_segments by meeting, client and timestamp"
}

func (m *Migration002SegmentIndexes) Up(db *gorm.DB) error {
	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_transcript_segments_meeting_ts ON transcript_segments(meeting_id, timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_transcript_segments_client_id ON transcript_segments(client_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transcript_segments_timestamp ON transcript_segments(timestamp)`,
	} {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

func (m *Migration002SegmentIndexes) Down(db *gorm.DB) error {
	for _, idx := range []string{
		"idx_transcript_segments_meeting_ts",
		"idx_transcript_segments_client_id",
		"idx_transcript_segments_timestamp",
	} {
		if err := db.Exec(`DROP INDEX IF EXISTS ` + idx).Error; err != nil {
			return err
		}
	}
	return nil
}
