package eventbus

import (
	"context"
	"time"

	"meetscribe-server/internal/domain/eventbus/repository"
	"meetscribe-server/internal/platform/logging"
	"meetscribe-server/internal/platform/observability"
)

// Subscriber is the part of a bus the recorder needs.
type Subscriber interface {
	Subscribe(topic string, fn interface{}) error
}

// Recorder logs every event, counts it and, when a repository is set,
// appends it to the event log.
type Recorder struct {
	repo    repository.EventRepository
	logger  *logging.Logger
	timeout time.Duration
}

func NewRecorder(repo repository.EventRepository, logger *logging.Logger) *Recorder {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Recorder{repo: repo, logger: logger, timeout: 5 * time.Second}
}

// Attach subscribes the recorder to every topic on bus.
func (r *Recorder) Attach(bus Subscriber) error {
	for _, topic := range Topics {
		topic := topic
		if err := bus.Subscribe(topic, func(data interface{}) { r.Handle(topic, data) }); err != nil {
			return err
		}
	}
	return nil
}

// Handle records one event.
func (r *Recorder) Handle(topic string, data interface{}) {
	var sessionID, meetingID string
	if k, ok := data.(Keyed); ok {
		sessionID, meetingID = k.EventKeys()
	}
	r.logger.DebugTag("SESSION", "event", "topic", topic, "session_id", sessionID, "meeting_id", meetingID)
	observability.RecordMetric(context.Background(), topic, 1, nil)

	if r.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	err := r.repo.Store(ctx, repository.Event{
		EventType: topic,
		SessionID: sessionID,
		MeetingID: meetingID,
		Data:      data,
		CreatedAt: time.Now(),
	})
	if err != nil {
		r.logger.WarnTag("STORE", "failed to record event", "topic", topic, "error", err.Error())
	}
}
