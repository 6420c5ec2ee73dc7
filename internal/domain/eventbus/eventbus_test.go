package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"meetscribe-server/internal/domain/eventbus/repository"
)

func TestAsyncBusDeliversAndWaits(t *testing.T) {
	bus := NewAsyncEventBus(2, 16, nil)
	bus.Start()
	defer bus.Stop()

	var mu sync.Mutex
	var got []string
	if err := bus.Subscribe(EventTranscriptFinal, func(d TranscriptEventData) {
		mu.Lock()
		got = append(got, d.Text)
		mu.Unlock()
	}); err != nil {
		t.Fatal(err)
	}

	pub := bus.Publisher()
	pub.Publish(EventTranscriptFinal, TranscriptEventData{Text: "a"})
	pub.Publish(EventTranscriptFinal, TranscriptEventData{Text: "b"})
	bus.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("handled %v", got)
	}
}

func TestAsyncBusDropsWhenFull(t *testing.T) {
	bus := NewAsyncEventBus(1, 1, nil)
	// workers not started, so the queue cannot drain
	bus.PublishAsync(EventSessionStarted, SessionEventData{ClientID: "a"})
	bus.PublishAsync(EventSessionStarted, SessionEventData{ClientID: "b"})
	if bus.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", bus.Dropped())
	}
	bus.Start()
	bus.Stop()
	bus.PublishAsync(EventSessionStarted, SessionEventData{ClientID: "c"})
}

func TestAsyncBusSurvivesHandlerPanic(t *testing.T) {
	bus := NewAsyncEventBus(1, 4, nil)
	bus.Start()
	defer bus.Stop()

	done := make(chan struct{})
	_ = bus.Subscribe(EventSessionStopped, func(d SessionEventData) {
		if d.ClientID == "bad" {
			panic("boom")
		}
		close(done)
	})
	bus.PublishAsync(EventSessionStopped, SessionEventData{ClientID: "bad"})
	bus.PublishAsync(EventSessionStopped, SessionEventData{ClientID: "good"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died after a handler panic")
	}
}

type memoryRepo struct {
	mu     sync.Mutex
	events []repository.Event
}

func (m *memoryRepo) Store(_ context.Context, e repository.Event) error {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	return nil
}
func (m *memoryRepo) FindBySessionID(context.Context, string) ([]repository.Event, error) {
	return nil, nil
}
func (m *memoryRepo) FindByMeetingID(context.Context, string) ([]repository.Event, error) {
	return nil, nil
}
func (m *memoryRepo) FindByEventType(context.Context, string, int) ([]repository.Event, error) {
	return nil, nil
}
func (m *memoryRepo) DeleteOldEvents(context.Context, time.Time) error { return nil }
func (m *memoryRepo) GetEventStats(context.Context) (map[string]int64, error) {
	return nil, nil
}

func TestRecorderStoresKeyedEvents(t *testing.T) {
	repo := &memoryRepo{}
	bus := New()
	if err := NewRecorder(repo, nil).Attach(bus); err != nil {
		t.Fatal(err)
	}

	bus.Publish(EventMeetingStarted, MeetingEventData{MeetingID: "m1", ClientID: "c1"})
	bus.Publish(EventRecognizerError, ErrorEventData{ClientID: "c1", Message: "down"})

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.events) != 2 {
		t.Fatalf("stored %d events", len(repo.events))
	}
	first := repo.events[0]
	if first.EventType != EventMeetingStarted || first.SessionID != "c1" || first.MeetingID != "m1" {
		t.Fatalf("first event %+v", first)
	}
	if repo.events[1].MeetingID != "" {
		t.Fatalf("error event indexed under a meeting: %+v", repo.events[1])
	}
}
