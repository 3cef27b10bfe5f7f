package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"meeting-minutes/internal/audio"
	"meeting-minutes/internal/domain"
	"meeting-minutes/internal/jobs"
	"meeting-minutes/internal/telemetry"
	"meeting-minutes/internal/transcribe"
)

const apiName = "Meeting Minutes Generator API"

// maxTranscriptBytes bounds text bodies accepted by the parse endpoint.
const maxTranscriptBytes = 10 << 20

// Handler serves the HTTP API.
type Handler struct {
	deps      Deps
	logger    *slog.Logger
	newJobID  func() string
	maxUpload int64
}

func newHandler(deps Deps, logger *slog.Logger) *Handler {
	newJobID := deps.NewJobID
	if newJobID == nil {
		newJobID = jobs.NewJobID
	}
	return &Handler{
		deps:      deps,
		logger:    logger,
		newJobID:  newJobID,
		maxUpload: deps.Settings.MaxUploadMB << 20,
	}
}

type summarizeRequest struct {
	TopTitle string                  `json:"top_title"`
	Lines    []domain.TranscriptLine `json:"lines"`
}

type summarizeBatchRequest struct {
	Titles   []string       `json:"titles"`
	Segments map[int]string `json:"segments"`
}

type telemetryRequest struct {
	telemetry.SummaryMetrics
	Success *bool  `json:"success"`
	Error   string `json:"error"`
}

// Root reports the service name and version.
func (h *Handler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": apiName, "version": h.deps.Settings.AppVersion})
}

// StartTranscription stores an uploaded recording and starts a job for it.
func (h *Handler) StartTranscription(c *gin.Context) {
	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	}

	file, err := c.FormFile("audio")
	if err != nil {
		if isTooLarge(err) {
			abortDetail(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds the %d MB upload limit", h.deps.Settings.MaxUploadMB))
			return
		}
		abortDetail(c, http.StatusBadRequest, "audio file is required")
		return
	}
	if !audio.IsAllowed(file.Header.Get("Content-Type"), file.Filename) {
		abortDetail(c, http.StatusBadRequest, "Invalid file type. Allowed: MP3, WAV, M4A")
		return
	}

	jobID := h.newJobID()
	path := filepath.Join(h.deps.Settings.UploadDir, jobID+"_"+uploadName(file.Filename))
	if err := os.MkdirAll(h.deps.Settings.UploadDir, 0o755); err != nil {
		h.logger.Error("create upload dir", "error", err)
		abortDetail(c, http.StatusInternalServerError, "cannot store upload")
		return
	}
	if err := c.SaveUploadedFile(file, path); err != nil {
		h.logger.Error("save upload", "path", path, "error", err)
		abortDetail(c, http.StatusInternalServerError, "cannot store upload")
		return
	}

	attrs := []any{"job_id", jobID, "file", file.Filename, "bytes", file.Size}
	if d, err := audio.Duration(path); err == nil {
		attrs = append(attrs, "duration", d)
	}
	h.logger.Info("audio uploaded", attrs...)

	job, err := h.deps.Runner.Submit(jobID, path)
	if err != nil {
		_ = os.Remove(path)
		h.logger.Error("submit job", "job_id", jobID, "error", err)
		abortDetail(c, http.StatusInternalServerError, "cannot start transcription")
		return
	}
	c.JSON(http.StatusOK, job)
}

// GetTranscription returns the current snapshot of one job.
func (h *Handler) GetTranscription(c *gin.Context) {
	job, err := h.deps.Jobs.Get(c.Param("job_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// GetTranscriptionEvents returns a job's events after the since cursor.
func (h *Handler) GetTranscriptionEvents(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := h.deps.Jobs.Get(jobID); err != nil {
		h.writeError(c, err)
		return
	}

	var since int64
	if raw := c.Query("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			abortDetail(c, http.StatusBadRequest, "since must be a non-negative integer")
			return
		}
		since = v
	}
	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "events": h.deps.Events.ForJob(jobID, since)})
}

// Summarize condenses the transcript lines of one agenda item.
func (h *Handler) Summarize(c *gin.Context) {
	var req summarizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortDetail(c, http.StatusBadRequest, "invalid request body")
		return
	}

	summary, err := h.deps.Summarizer.Summarize(c.Request.Context(), req.TopTitle, req.Lines)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

// SummarizeBatch summarizes several agenda items in index order. Segments
// are keyed by zero-based agenda index; blank segments are skipped.
func (h *Handler) SummarizeBatch(c *gin.Context) {
	var req summarizeBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortDetail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Segments) == 0 {
		abortDetail(c, http.StatusBadRequest, "segments are required")
		return
	}

	summaries, err := h.deps.Summarizer.SummarizeAll(c.Request.Context(), req.Titles, req.Segments)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summaries": summaries})
}

// ParseTranscript converts "[SPEAKER_n]: text" lines into transcript lines.
// It accepts a multipart "file" field or a plain text body.
func (h *Handler) ParseTranscript(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxTranscriptBytes)

	var body io.Reader
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		file, err := c.FormFile("file")
		if err != nil {
			if isTooLarge(err) {
				abortDetail(c, http.StatusRequestEntityTooLarge, "transcript exceeds the 10 MB limit")
				return
			}
			abortDetail(c, http.StatusBadRequest, "transcript file is required")
			return
		}
		f, err := file.Open()
		if err != nil {
			abortDetail(c, http.StatusBadRequest, "cannot read transcript file")
			return
		}
		defer f.Close()
		body = f
	} else {
		body = c.Request.Body
	}

	lines, err := transcribe.ParseTranscript(body)
	if err != nil {
		if isTooLarge(err) {
			abortDetail(c, http.StatusRequestEntityTooLarge, "transcript exceeds the 10 MB limit")
			return
		}
		abortDetail(c, http.StatusBadRequest, "cannot read transcript: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"lines": lines})
}

// RecordTelemetry forwards summarization metrics reported by the frontend.
func (h *Handler) RecordTelemetry(c *gin.Context) {
	var req telemetryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortDetail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.LLMModel == "" && h.deps.Summarizer != nil {
		req.LLMModel = h.deps.Summarizer.Model()
	}

	collector := telemetry.NewCollector(h.deps.Settings.AppVersion, h.deps.DeviceType)
	collector.SetWhisperConfig(h.deps.Settings.WhisperModel, h.deps.Settings.WhisperBatchSize)
	collector.SetSummarization(req.SummaryMetrics)
	if (req.Success != nil && !*req.Success) || req.Error != "" {
		collector.SetError(req.Error)
	}
	if h.deps.Telemetry != nil {
		h.deps.Telemetry.Send(collector.Event())
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// GetDiagnostics returns the readiness report.
func (h *Handler) GetDiagnostics(c *gin.Context) {
	if h.deps.Diagnostics == nil {
		abortDetail(c, http.StatusServiceUnavailable, "diagnostics are not configured")
		return
	}
	c.JSON(http.StatusOK, h.deps.Diagnostics())
}

// GetModels lists the known ASR models.
func (h *Handler) GetModels(c *gin.Context) {
	models := domain.WhisperModelCatalog
	if h.deps.Models != nil {
		models = h.deps.Models()
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

// writeError maps domain error classes to HTTP responses.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		abortDetail(c, http.StatusNotFound, "job not found")
	case errors.Is(err, domain.ErrValidation):
		abortDetail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrPrecondition):
		abortDetail(c, http.StatusConflict, err.Error())
	default:
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
		abortDetail(c, http.StatusInternalServerError, err.Error())
	}
}

// isTooLarge reports whether err came from an exhausted MaxBytesReader.
func isTooLarge(err error) bool {
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large")
}

func abortDetail(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

// uploadName strips directories from a client supplied filename.
func uploadName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" || name == "" {
		return "audio"
	}
	return name
}
