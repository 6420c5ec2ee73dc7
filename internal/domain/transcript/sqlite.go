package transcript

import (
	"context"
	"encoding/json"
	"strconv"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"meetscribe-server/internal/platform/errors"
	"meetscribe-server/internal/platform/storage"
)

type sqliteStore struct {
	db *gorm.DB
}

// NewSQLite builds a store on a migrated database handle.
func NewSQLite(db *gorm.DB) (Store, error) {
	if db == nil {
		return nil, errors.New(errors.KindStorage, "transcript.sqlite", "sqlite store requires database handle")
	}
	return &sqliteStore{db: db}, nil
}

func encodeMeta(meta map[string]any) datatypes.JSON {
	if len(meta) == 0 {
		return nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func decodeMeta(raw datatypes.JSON) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil
	}
	return meta
}

func (s *sqliteStore) SaveMeeting(ctx context.Context, m Meeting) error {
	rec := storage.MeetingRecord{
		ID:        m.ID,
		ClientID:  m.ClientID,
		Title:     m.Title,
		StartedAt: m.StartedAt,
		EndedAt:   m.EndedAt,
		Metadata:  encodeMeta(m.Metadata),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
	if err != nil {
		return errors.Wrap(errors.KindStorage, "transcript.sqlite.save_meeting", "failed to save meeting", err)
	}
	return nil
}

func toMeeting(rec storage.MeetingRecord) Meeting {
	return Meeting{
		ID:        rec.ID,
		ClientID:  rec.ClientID,
		Title:     rec.Title,
		StartedAt: rec.StartedAt,
		EndedAt:   rec.EndedAt,
		Metadata:  decodeMeta(rec.Metadata),
	}
}

func (s *sqliteStore) GetMeeting(ctx context.Context, id string) (Meeting, error) {
	var rec storage.MeetingRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Meeting{}, ErrNotFound
	}
	if err != nil {
		return Meeting{}, errors.Wrap(errors.KindStorage, "transcript.sqlite.get_meeting", "failed to load meeting", err)
	}
	return toMeeting(rec), nil
}

func (s *sqliteStore) ListMeetings(ctx context.Context, clientID string) ([]Meeting, error) {
	var recs []storage.MeetingRecord
	q := s.db.WithContext(ctx).Order("started_at ASC")
	if clientID != "" {
		q = q.Where("client_id = ?", clientID)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "transcript.sqlite.list_meetings", "failed to list meetings", err)
	}
	out := make([]Meeting, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toMeeting(rec))
	}
	return out, nil
}

func (s *sqliteStore) AppendSegment(ctx context.Context, seg Segment) error {
	rec := storage.SegmentRecord{
		MeetingID:  seg.MeetingID,
		ClientID:   seg.ClientID,
		Text:       seg.Text,
		Speaker:    seg.Speaker,
		Confidence: seg.Confidence,
		AudioType:  seg.AudioType,
		Timestamp:  seg.Timestamp,
		Metadata:   encodeMeta(seg.Metadata),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "transcript.sqlite.append", "failed to save segment", err)
	}
	return nil
}

func (s *sqliteStore) ListSegments(ctx context.Context, q Query) ([]Segment, error) {
	db := s.db.WithContext(ctx).Model(&storage.SegmentRecord{})
	if q.MeetingID != "" {
		db = db.Where("meeting_id = ?", q.MeetingID)
	}
	if q.ClientID != "" {
		db = db.Where("client_id = ?", q.ClientID)
	}
	if !q.Since.IsZero() {
		db = db.Where("timestamp >= ?", q.Since)
	}

	var recs []storage.SegmentRecord
	if q.Limit > 0 {
		db = db.Order("timestamp DESC").Order("id DESC").Limit(q.Limit)
	} else {
		db = db.Order("timestamp ASC").Order("id ASC")
	}
	if err := db.Find(&recs).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "transcript.sqlite.list", "failed to list segments", err)
	}
	if q.Limit > 0 {
		for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
			recs[i], recs[j] = recs[j], recs[i]
		}
	}

	out := make([]Segment, 0, len(recs))
	for _, rec := range recs {
		out = append(out, Segment{
			ID:         strconv.FormatUint(uint64(rec.ID), 10),
			MeetingID:  rec.MeetingID,
			ClientID:   rec.ClientID,
			Text:       rec.Text,
			Speaker:    rec.Speaker,
			Confidence: rec.Confidence,
			AudioType:  rec.AudioType,
			Timestamp:  rec.Timestamp,
			Metadata:   decodeMeta(rec.Metadata),
		})
	}
	return out, nil
}

func (s *sqliteStore) Stats(ctx context.Context) (map[string]any, error) {
	var meetings, segments int64
	if err := s.db.WithContext(ctx).Model(&storage.MeetingRecord{}).Count(&meetings).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "transcript.sqlite.stats", "failed to count meetings", err)
	}
	if err := s.db.WithContext(ctx).Model(&storage.SegmentRecord{}).Count(&segments).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "transcript.sqlite.stats", "failed to count segments", err)
	}
	return map[string]any{
		"type":     DriverSQLite,
		"meetings": meetings,
		"segments": segments,
	}, nil
}

// Close leaves the shared handle open; its owner closes it.
func (s *sqliteStore) Close(context.Context) error { return nil }
