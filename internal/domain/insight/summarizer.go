package insight

import (
	"context"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"meetscribe-server/internal/domain/transcript"
	"meetscribe-server/internal/platform/errors"
	"meetscribe-server/internal/platform/logging"
)

// Kind selects the prompt and the transcript range.
type Kind string

const (
	// KindProgressive summarises the recent window of a running meeting.
	KindProgressive Kind = "progressive"
	// KindFinal summarises the whole meeting.
	KindFinal Kind = "final"
)

var ErrNoTranscript = errors.New(errors.KindDomain, "insight.summarize", "meeting has no transcript yet")

const progressivePrompt = `You are a real-time meeting assistant. Analyze the recent discussion and provide:
1. A brief summary of the main points (2-3 sentences)
2. Key topics discussed
3. Any decisions made
4. Action items identified
Format the response as JSON with these keys: summary, topics, decisions, action_items`

const finalPrompt = `You are a meeting summarizer. Create a comprehensive summary with:
1. Executive summary (2-3 sentences)
2. Main discussion points
3. Decisions made
4. Action items
5. Key takeaways
6. Follow-up items
Format as JSON with these keys: executive_summary, discussion_points, decisions, action_items, takeaways, followup_items`

// Source supplies transcripts and stores the result.
type Source interface {
	Segments(ctx context.Context, meetingID string, since time.Time) ([]transcript.Segment, error)
	SetMetadata(ctx context.Context, meetingID string, values map[string]any) error
}

// Summary is a generated meeting summary.
type Summary struct {
	MeetingID   string         `json:"meeting_id"`
	Kind        Kind           `json:"kind"`
	Content     map[string]any `json:"content"`
	Segments    int            `json:"segments"`
	GeneratedAt time.Time      `json:"generated_at"`
}

type SummarizerConfig struct {
	Window    time.Duration
	MaxTokens int
	Timeout   time.Duration
}

type Summarizer struct {
	completer Completer
	source    Source
	cfg       SummarizerConfig
	logger    *logging.Logger
	now       func() time.Time
}

func NewSummarizer(c Completer, src Source, cfg SummarizerConfig, logger *logging.Logger) *Summarizer {
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Summarizer{completer: c, source: src, cfg: cfg, logger: logger, now: time.Now}
}

// estimateTokens is the usual four-characters-per-token approximation.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// transcriptText joins segment texts, dropping the oldest until the text fits
// the token budget.
func transcriptText(segs []transcript.Segment, budget int) (string, int) {
	start := 0
	total := 0
	for _, s := range segs {
		total += estimateTokens(s.Text) + 1
	}
	for total > budget && start < len(segs) {
		total -= estimateTokens(segs[start].Text) + 1
		start++
	}
	parts := make([]string, 0, len(segs)-start)
	for _, s := range segs[start:] {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, " "), len(parts)
}

// Summarize builds a summary of meetingID and stores it in the meeting's
// metadata under "summary_<kind>".
func (s *Summarizer) Summarize(ctx context.Context, meetingID string, kind Kind) (Summary, error) {
	var since time.Time
	prompt := finalPrompt
	label := "Full meeting transcript"
	switch kind {
	case KindProgressive:
		since = s.now().Add(-s.cfg.Window)
		prompt = progressivePrompt
		label = "Recent discussion transcript"
	case KindFinal:
	default:
		return Summary{}, errors.New(errors.KindDomain, "insight.summarize", "unknown summary kind "+string(kind))
	}

	segs, err := s.source.Segments(ctx, meetingID, since)
	if err != nil {
		return Summary{}, err
	}
	budget := s.cfg.MaxTokens - estimateTokens(prompt) - estimateTokens(label) - 8
	text, used := transcriptText(segs, budget)
	if used == 0 {
		return Summary{}, ErrNoTranscript
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	reply, err := s.completer.Complete(ctx, []Message{
		{Role: RoleSystem, Content: prompt},
		{Role: RoleUser, Content: label + ":\n\n" + text},
	})
	if err != nil {
		return Summary{}, err
	}

	content := make(map[string]any)
	if err := sonic.UnmarshalString(reply.Content, &content); err != nil {
		content = map[string]any{"text": reply.Content}
	}
	summary := Summary{
		MeetingID:   meetingID,
		Kind:        kind,
		Content:     content,
		Segments:    used,
		GeneratedAt: s.now().UTC(),
	}

	if err := s.source.SetMetadata(ctx, meetingID, map[string]any{"summary_" + string(kind): content}); err != nil {
		s.logger.WarnTag("INSIGHT", "failed to store summary", "meeting_id", meetingID, "error", err.Error())
	}
	s.logger.InfoTag("INSIGHT", "summary generated", "meeting_id", meetingID, "kind", string(kind),
		"segments", used, "prompt_tokens", reply.PromptTokens)
	return summary, nil
}
