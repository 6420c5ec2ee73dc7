package infrastructure

import (
	"context"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"

	"meetscribe-server/internal/domain/eventbus/repository"
	"meetscribe-server/internal/platform/errors"
	"meetscribe-server/internal/platform/storage"
)

type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository stores events in the domain_events table.
func NewEventRepository(db *gorm.DB) repository.EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) Store(ctx context.Context, event repository.Event) error {
	data, err := sonic.Marshal(event.Data)
	if err != nil {
		return errors.Wrap(errors.KindStorage, "event.store.marshal", "failed to marshal event data", err)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	rec := &storage.DomainEvent{
		EventType: event.EventType,
		SessionID: event.SessionID,
		MeetingID: event.MeetingID,
		Data:      data,
		CreatedAt: event.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "event.store.create", "failed to store event", err)
	}
	return nil
}

func (r *eventRepository) find(ctx context.Context, op, column, value string) ([]repository.Event, error) {
	var recs []storage.DomainEvent
	if err := r.db.WithContext(ctx).
		Where(column+" = ?", value).
		Order("created_at ASC").Order("id ASC").
		Find(&recs).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, op, "failed to find events", err)
	}
	return convert(recs)
}

func (r *eventRepository) FindBySessionID(ctx context.Context, sessionID string) ([]repository.Event, error) {
	return r.find(ctx, "event.find.session", "session_id", sessionID)
}

func (r *eventRepository) FindByMeetingID(ctx context.Context, meetingID string) ([]repository.Event, error) {
	return r.find(ctx, "event.find.meeting", "meeting_id", meetingID)
}

func (r *eventRepository) FindByEventType(ctx context.Context, eventType string, limit int) ([]repository.Event, error) {
	var recs []storage.DomainEvent
	query := r.db.WithContext(ctx).
		Where("event_type = ?", eventType).
		Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&recs).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "event.find.type", "failed to find events by type", err)
	}
	return convert(recs)
}

func (r *eventRepository) DeleteOldEvents(ctx context.Context, beforeTime time.Time) error {
	if err := r.db.WithContext(ctx).
		Where("created_at < ?", beforeTime).
		Delete(&storage.DomainEvent{}).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "event.delete.old", "failed to delete old events", err)
	}
	return nil
}

func (r *eventRepository) GetEventStats(ctx context.Context) (map[string]int64, error) {
	var stats []struct {
		EventType string
		Count     int64
	}
	if err := r.db.WithContext(ctx).
		Model(&storage.DomainEvent{}).
		Select("event_type, count(*) as count").
		Group("event_type").
		Scan(&stats).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "event.stats", "failed to get event stats", err)
	}
	result := make(map[string]int64, len(stats))
	for _, stat := range stats {
		result[stat.EventType] = stat.Count
	}
	return result, nil
}

func convert(recs []storage.DomainEvent) ([]repository.Event, error) {
	events := make([]repository.Event, len(recs))
	for i, rec := range recs {
		var data interface{}
		if len(rec.Data) > 0 {
			if err := sonic.Unmarshal(rec.Data, &data); err != nil {
				return nil, errors.Wrap(errors.KindStorage, "event.convert.unmarshal", "failed to unmarshal event data", err)
			}
		}
		events[i] = repository.Event{
			ID:        strconv.FormatUint(uint64(rec.ID), 10),
			EventType: rec.EventType,
			SessionID: rec.SessionID,
			MeetingID: rec.MeetingID,
			Data:      data,
			CreatedAt: rec.CreatedAt,
		}
	}
	return events, nil
}
