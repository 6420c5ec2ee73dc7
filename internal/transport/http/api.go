package httptransport

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/swaggo/swag"

	_ "meetscribe-server/docs"
	"meetscribe-server/internal/app/services"
	"meetscribe-server/internal/domain/insight"
	"meetscribe-server/internal/domain/transcript"
	"meetscribe-server/internal/platform/errors"
	"meetscribe-server/internal/platform/logging"
	"meetscribe-server/internal/platform/observability"
)

const scalarHTML = `<!DOCTYPE html>
<html lang="en">
	<head>
		<meta charset="utf-8" />
		<title>meetscribe API Reference</title>
		<meta name="viewport" content="width=device-width, initial-scale=1" />
	</head>
	<body>
		<script
			id="api-reference"
			data-url="/openapi.json"
			data-layout="modern"
			src="https://cdn.jsdelivr.net/npm/@scalar/api-reference"
		></script>
	</body>
</html>`

// SessionLister exposes the live websocket sessions.
type SessionLister interface {
	Count() int
	Statuses() []services.ConnectionStatus
}

// MeetingReader reads stored meetings and transcripts.
type MeetingReader interface {
	Meeting(ctx context.Context, id string) (transcript.Meeting, error)
	Meetings(ctx context.Context, clientID string) ([]transcript.Meeting, error)
	Segments(ctx context.Context, meetingID string, since time.Time) ([]transcript.Segment, error)
}

// Summarizer generates meeting summaries.
type Summarizer interface {
	Summarize(ctx context.Context, meetingID string, kind insight.Kind) (insight.Summary, error)
}

// APIOptions wires the API handlers. Summarizer may be nil when insights
// are disabled; MetricsPath empty disables /metrics.
type APIOptions struct {
	Sessions    SessionLister
	Meetings    MeetingReader
	Summarizer  Summarizer
	Logger      *logging.Logger
	MetricsPath string
}

// API serves the JSON endpoints under /api plus metrics and docs.
type API struct {
	opts    APIOptions
	logger  *logging.Logger
	started time.Time
	proc    *process.Process
}

func NewAPI(opts APIOptions) *API {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	a := &API{opts: opts, logger: logger, started: time.Now()}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		a.proc = proc
	} else {
		logger.WarnTag("HTTP", "process stats unavailable", "error", err.Error())
	}
	return a
}

// Register mounts every route on r.
func (a *API) Register(r *Router) {
	r.API.GET("/health", a.handleHealth)
	r.API.GET("/sessions", a.handleSessions)
	r.API.GET("/meetings", a.handleMeetings)
	r.API.GET("/meetings/:id", a.handleMeeting)
	r.API.GET("/meetings/:id/transcripts", a.handleTranscripts)
	r.API.POST("/meetings/:id/summary", a.handleSummary)

	if a.opts.MetricsPath != "" {
		r.Engine.GET(a.opts.MetricsPath, gin.WrapH(observability.Handler()))
	}
	r.Engine.GET("/openapi.json", a.handleOpenAPI)
	r.Engine.GET("/docs", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(scalarHTML))
	})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, transcript.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, insight.ErrNoTranscript):
		return http.StatusConflict
	case errors.IsKind(err, errors.KindDomain), errors.IsKind(err, errors.KindProtocol):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.ErrorTag("HTTP", "request failed", "path", c.FullPath(), "error", err.Error())
		_ = c.Error(err)
	}
	RespondError(c, status, err.Error(), nil)
}

// handleHealth reports liveness and process statistics.
// @Summary Service health
// @Tags System
// @Produce json
// @Success 200 {object} APIResponse
// @Router /health [get]
func (a *API) handleHealth(c *gin.Context) {
	data := gin.H{
		"status":     "healthy",
		"uptime":     time.Since(a.started).Round(time.Second).String(),
		"goroutines": runtime.NumGoroutine(),
	}
	if a.opts.Sessions != nil {
		data["sessions"] = a.opts.Sessions.Count()
	}
	if a.proc != nil {
		stats := gin.H{}
		if mem, err := a.proc.MemoryInfo(); err == nil {
			stats["rss_bytes"] = mem.RSS
		}
		if cpu, err := a.proc.CPUPercent(); err == nil {
			stats["cpu_percent"] = cpu
		}
		if threads, err := a.proc.NumThreads(); err == nil {
			stats["threads"] = threads
		}
		data["process"] = stats
	}
	RespondSuccess(c, http.StatusOK, data, "")
}

// handleSessions lists live websocket sessions.
// @Summary Live sessions
// @Tags Sessions
// @Produce json
// @Success 200 {object} APIResponse
// @Router /sessions [get]
func (a *API) handleSessions(c *gin.Context) {
	statuses := []services.ConnectionStatus{}
	if a.opts.Sessions != nil {
		statuses = a.opts.Sessions.Statuses()
	}
	RespondSuccess(c, http.StatusOK, statuses, "")
}

func (a *API) handleMeetings(c *gin.Context) {
	meetings, err := a.opts.Meetings.Meetings(c.Request.Context(), c.Query("client_id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	RespondSuccess(c, http.StatusOK, meetings, "")
}

func (a *API) handleMeeting(c *gin.Context) {
	meeting, err := a.opts.Meetings.Meeting(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	RespondSuccess(c, http.StatusOK, meeting, "")
}

// handleTranscripts returns the final segments of a meeting.
// @Summary Meeting transcript
// @Tags Meetings
// @Produce json
// @Param id path string true "Meeting ID"
// @Param since query string false "RFC 3339 lower bound"
// @Success 200 {object} APIResponse
// @Failure 404 {object} APIResponse
// @Router /meetings/{id}/transcripts [get]
func (a *API) handleTranscripts(c *gin.Context) {
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "since must be RFC 3339", nil)
			return
		}
		since = t
	}
	segments, err := a.opts.Meetings.Segments(c.Request.Context(), c.Param("id"), since)
	if err != nil {
		a.fail(c, err)
		return
	}
	if segments == nil {
		segments = []transcript.Segment{}
	}
	RespondSuccess(c, http.StatusOK, segments, "")
}

// handleSummary generates a summary of a meeting.
// @Summary Meeting summary
// @Tags Meetings
// @Produce json
// @Param id path string true "Meeting ID"
// @Param kind query string false "progressive or final"
// @Success 200 {object} APIResponse
// @Failure 409 {object} APIResponse
// @Failure 503 {object} APIResponse
// @Router /meetings/{id}/summary [post]
func (a *API) handleSummary(c *gin.Context) {
	if a.opts.Summarizer == nil {
		RespondError(c, http.StatusServiceUnavailable, "insights are disabled", nil)
		return
	}
	kind := insight.Kind(c.DefaultQuery("kind", string(insight.KindProgressive)))
	summary, err := a.opts.Summarizer.Summarize(c.Request.Context(), c.Param("id"), kind)
	if err != nil {
		a.fail(c, err)
		return
	}
	RespondSuccess(c, http.StatusOK, summary, "")
}

func (a *API) handleOpenAPI(c *gin.Context) {
	doc, err := swag.ReadDoc()
	if err != nil {
		a.logger.ErrorTag("HTTP", "failed to render openapi document", "error", err.Error())
		RespondError(c, http.StatusInternalServerError, "failed to generate openapi spec", gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(doc))
}
