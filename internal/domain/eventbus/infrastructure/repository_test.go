package infrastructure

import (
	"context"
	"testing"
	"time"

	"meetscribe-server/internal/domain/eventbus/repository"
	platformtesting "meetscribe-server/internal/platform/testing"
)

func TestEventRepositoryRoundTrip(t *testing.T) {
	db := platformtesting.SetupTestDB(t)
	repo := NewEventRepository(db)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)

	events := []repository.Event{
		{EventType: "meeting:started", SessionID: "c1", MeetingID: "m1", Data: map[string]any{"title": "standup"}, CreatedAt: old},
		{EventType: "transcript:final", SessionID: "c1", MeetingID: "m1", Data: map[string]any{"text": "hello"}},
		{EventType: "transcript:final", SessionID: "c2", Data: map[string]any{"text": "other"}},
	}
	for _, e := range events {
		if err := repo.Store(ctx, e); err != nil {
			t.Fatalf("store: %v", err)
		}
	}

	byMeeting, err := repo.FindByMeetingID(ctx, "m1")
	if err != nil || len(byMeeting) != 2 {
		t.Fatalf("by meeting = %d, %v", len(byMeeting), err)
	}
	if data, ok := byMeeting[0].Data.(map[string]interface{}); !ok || data["title"] != "standup" {
		t.Fatalf("decoded data %#v", byMeeting[0].Data)
	}

	bySession, _ := repo.FindBySessionID(ctx, "c2")
	if len(bySession) != 1 {
		t.Fatalf("by session = %d", len(bySession))
	}

	latest, _ := repo.FindByEventType(ctx, "transcript:final", 1)
	if len(latest) != 1 || latest[0].SessionID != "c2" {
		t.Fatalf("latest = %+v", latest)
	}

	stats, err := repo.GetEventStats(ctx)
	if err != nil || stats["transcript:final"] != 2 || stats["meeting:started"] != 1 {
		t.Fatalf("stats = %v, %v", stats, err)
	}

	if err := repo.DeleteOldEvents(ctx, time.Now().Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	stats, _ = repo.GetEventStats(ctx)
	if stats["meeting:started"] != 0 {
		t.Fatalf("old event not deleted: %v", stats)
	}
}
