package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"meeting-minutes/internal/domain"
	"meeting-minutes/internal/jobs"
	"meeting-minutes/internal/telemetry"
)

// JobSubmitter starts background transcription jobs.
type JobSubmitter interface {
	Submit(jobID, sourcePath string) (domain.Job, error)
}

// JobReader returns job snapshots.
type JobReader interface {
	Get(jobID string) (domain.Job, error)
}

// EventReader returns a job's event history.
type EventReader interface {
	ForJob(jobID string, seq int64) []jobs.Event
}

// Summarizer condenses the transcript of one or many agenda items.
type Summarizer interface {
	Summarize(ctx context.Context, title string, lines []domain.TranscriptLine) (string, error)
	SummarizeAll(ctx context.Context, titles []string, segments map[int]string) (map[int]string, error)
	Model() string
}

// TelemetrySink accepts usage records.
type TelemetrySink interface {
	Send(event telemetry.Event)
}

// Deps are the collaborators the HTTP layer serves.
type Deps struct {
	Settings    domain.Settings
	Jobs        JobReader
	Runner      JobSubmitter
	Events      EventReader
	Summarizer  Summarizer
	Telemetry   TelemetrySink
	DeviceType  string
	Diagnostics func() domain.DiagnosticReport
	Models      func() []domain.WhisperModelOption
	Logger      *slog.Logger
	// NewJobID defaults to jobs.NewJobID.
	NewJobID func() string
}

// NewRouter builds the HTTP handler with routes, request logging and CORS.
func NewRouter(deps Deps) http.Handler {
	gin.SetMode(gin.ReleaseMode)

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "api")

	h := newHandler(deps, logger)

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/", h.Root)
	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/transcribe", h.StartTranscription)
		apiGroup.GET("/transcribe/:job_id", h.GetTranscription)
		apiGroup.GET("/transcribe/:job_id/events", h.GetTranscriptionEvents)
		apiGroup.POST("/summarize", h.Summarize)
		apiGroup.POST("/summarize/batch", h.SummarizeBatch)
		apiGroup.POST("/transcripts/parse", h.ParseTranscript)
		apiGroup.POST("/telemetry", h.RecordTelemetry)
		apiGroup.GET("/diagnostics", h.GetDiagnostics)
		apiGroup.GET("/models", h.GetModels)
	}

	return cors.New(cors.Options{
		AllowedOrigins:   deps.Settings.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowCredentials: true,
		AllowedHeaders:   []string{"*"},
	}).Handler(r)
}

// requestLogger replaces gin's text logger with one structured line per request.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}
		logger.LogAttrs(c.Request.Context(), level, "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
		)
	}
}
