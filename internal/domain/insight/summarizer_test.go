package insight

import (
	"context"
	"strings"
	"testing"
	"time"

	"meetscribe-server/internal/domain/transcript"
	"meetscribe-server/internal/platform/errors"
)

type fakeCompleter struct {
	reply    string
	err      error
	messages []Message
}

func (f *fakeCompleter) Complete(_ context.Context, messages []Message) (Completion, error) {
	f.messages = messages
	if f.err != nil {
		return Completion{}, f.err
	}
	return Completion{Content: f.reply, PromptTokens: 42}, nil
}

func seedMeeting(t *testing.T, texts ...string) (*transcript.MeetingManager, transcript.Meeting) {
	t.Helper()
	m := transcript.NewMeetingManager(transcript.NewMemory())
	ctx := context.Background()
	meeting, err := m.StartMeeting(ctx, "c1", "Planning")
	if err != nil {
		t.Fatal(err)
	}
	for _, text := range texts {
		if err := m.SaveFinalTranscript(ctx, "c1", text, 0.9, "", "microphone", time.Now()); err != nil {
			t.Fatal(err)
		}
	}
	return m, meeting
}

func TestSummarizeFinal(t *testing.T) {
	manager, meeting := seedMeeting(t, "we ship friday", "alice owns the release")
	fc := &fakeCompleter{reply: `{"executive_summary":"Release on Friday","action_items":["alice: release"]}`}
	s := NewSummarizer(fc, manager, SummarizerConfig{}, nil)

	sum, err := s.Summarize(context.Background(), meeting.ID, KindFinal)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if sum.Content["executive_summary"] != "Release on Friday" || sum.Segments != 2 {
		t.Fatalf("summary = %+v", sum)
	}
	if len(fc.messages) != 2 || fc.messages[0].Role != RoleSystem {
		t.Fatalf("messages = %+v", fc.messages)
	}
	if !strings.Contains(fc.messages[1].Content, "we ship friday alice owns the release") {
		t.Fatalf("user prompt = %q", fc.messages[1].Content)
	}

	stored, _ := manager.Meeting(context.Background(), meeting.ID)
	if _, ok := stored.Metadata["summary_final"]; !ok {
		t.Fatalf("summary not stored: %v", stored.Metadata)
	}
}

func TestSummarizeNonJSONReply(t *testing.T) {
	manager, meeting := seedMeeting(t, "hello")
	s := NewSummarizer(&fakeCompleter{reply: "plain words"}, manager, SummarizerConfig{}, nil)
	sum, err := s.Summarize(context.Background(), meeting.ID, KindProgressive)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Content["text"] != "plain words" {
		t.Fatalf("content = %v", sum.Content)
	}
}

func TestSummarizeErrors(t *testing.T) {
	manager, meeting := seedMeeting(t)
	s := NewSummarizer(&fakeCompleter{reply: "{}"}, manager, SummarizerConfig{}, nil)
	ctx := context.Background()

	if _, err := s.Summarize(ctx, meeting.ID, KindFinal); !errors.Is(err, ErrNoTranscript) {
		t.Fatalf("empty meeting err = %v", err)
	}
	if _, err := s.Summarize(ctx, "nope", KindFinal); !errors.Is(err, transcript.ErrNotFound) {
		t.Fatalf("unknown meeting err = %v", err)
	}
	if _, err := s.Summarize(ctx, meeting.ID, Kind("weekly")); err == nil {
		t.Fatal("unknown kind accepted")
	}

	boom := errors.New(errors.KindDomain, "test", "model down")
	manager2, meeting2 := seedMeeting(t, "text")
	s2 := NewSummarizer(&fakeCompleter{err: boom}, manager2, SummarizerConfig{}, nil)
	if _, err := s2.Summarize(ctx, meeting2.ID, KindFinal); !errors.Is(err, boom) {
		t.Fatalf("completer err = %v", err)
	}
}

func TestTranscriptTextDropsOldest(t *testing.T) {
	segs := []transcript.Segment{
		{Text: strings.Repeat("a", 40)},
		{Text: strings.Repeat("b", 40)},
		{Text: "recent"},
	}
	text, used := transcriptText(segs, 15)
	if used != 2 || strings.Contains(text, "a") {
		t.Fatalf("text = %q used = %d", text, used)
	}
}
