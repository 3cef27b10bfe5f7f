package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"meeting-minutes/internal/domain"
)

// Event is one anonymous usage record. Unset optional metrics encode as null.
type Event struct {
	Timestamp        string  `json:"timestamp"`
	AppVersion       string  `json:"app_version"`
	DeviceType       string  `json:"device_type"`
	WhisperModel     *string `json:"whisper_model"`
	WhisperBatchSize *int    `json:"whisper_batch_size"`

	AudioDurationSeconds         *float64 `json:"audio_duration_seconds"`
	TranscriptionDurationSeconds *float64 `json:"transcription_duration_seconds"`
	TranscriptLineCount          *int     `json:"transcript_line_count"`
	TranscriptCharCount          *int     `json:"transcript_char_count"`

	LLMModel                     *string  `json:"llm_model"`
	SystemPrompt                 *string  `json:"system_prompt"`
	TopCount                     *int     `json:"top_count"`
	SummarizationDurationSeconds *float64 `json:"summarization_duration_seconds"`
	ProtocolCharCount            *int     `json:"protocol_char_count"`

	Success bool    `json:"success"`
	Error   *string `json:"error"`
}

// Collector aggregates the metrics of one session into an Event.
type Collector struct {
	event Event
}

// NewCollector starts an event stamped with the current time and version.
func NewCollector(appVersion, deviceType string) *Collector {
	return &Collector{event: Event{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		AppVersion: appVersion,
		DeviceType: deviceType,
		Success:    true,
	}}
}

// SetWhisperConfig records the speech model configuration.
func (c *Collector) SetWhisperConfig(model string, batchSize int) {
	c.event.WhisperModel = &model
	c.event.WhisperBatchSize = &batchSize
}

// SetTranscription records metrics of a finished transcription.
func (c *Collector) SetTranscription(audio, elapsed time.Duration, lines []domain.TranscriptLine) {
	audioSeconds := audio.Seconds()
	elapsedSeconds := elapsed.Seconds()
	lineCount := len(lines)
	chars := 0
	for _, line := range lines {
		chars += len([]rune(line.Text))
	}
	c.event.AudioDurationSeconds = &audioSeconds
	c.event.TranscriptionDurationSeconds = &elapsedSeconds
	c.event.TranscriptLineCount = &lineCount
	c.event.TranscriptCharCount = &chars
}

// SummaryMetrics are reported by the frontend after generating minutes.
type SummaryMetrics struct {
	LLMModel                     string  `json:"llm_model"`
	SystemPrompt                 string  `json:"system_prompt"`
	TopCount                     int     `json:"top_count"`
	SummarizationDurationSeconds float64 `json:"summarization_duration_seconds"`
	ProtocolCharCount            int     `json:"protocol_char_count"`
}

// SetSummarization records summarization metrics.
func (c *Collector) SetSummarization(m SummaryMetrics) {
	c.event.LLMModel = &m.LLMModel
	c.event.SystemPrompt = &m.SystemPrompt
	c.event.TopCount = &m.TopCount
	c.event.SummarizationDurationSeconds = &m.SummarizationDurationSeconds
	c.event.ProtocolCharCount = &m.ProtocolCharCount
}

// SetError marks the session as failed.
func (c *Collector) SetError(msg string) {
	c.event.Success = false
	c.event.Error = &msg
}

// Event returns the collected record.
func (c *Collector) Event() Event {
	return c.event
}

// Sink persists events to a daily JSONL backup and forwards them to an
// optional webhook. Delivery is best-effort; failures are only logged.
type Sink struct {
	webhookURL string
	backupDir  string
	client     *retryablehttp.Client
	logger     *slog.Logger
	now        func() time.Time
	mu         sync.Mutex
	wg         sync.WaitGroup
}

// NewSink builds a sink from runtime settings.
func NewSink(settings domain.Settings, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "telemetry")

	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = logger

	return &Sink{
		webhookURL: settings.TelemetryWebhook,
		backupDir:  settings.TelemetryDir,
		client:     client,
		logger:     logger,
		now:        time.Now,
	}
}

// Send records event in the background.
func (s *Sink) Send(event Event) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		_ = s.Record(ctx, event)
	}()
}

// Wait blocks until background sends have finished.
func (s *Sink) Wait() {
	s.wg.Wait()
}

// Record writes the backup line and then posts the event. The backup is
// attempted even when the webhook is not configured.
func (s *Sink) Record(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal telemetry event: %w", err)
	}

	backupErr := s.backup(data)
	if backupErr != nil {
		s.logger.Warn("save telemetry backup", "error", backupErr)
	}

	if s.webhookURL == "" {
		s.logger.Debug("telemetry webhook not configured, skipping send")
		return backupErr
	}
	if err := s.post(ctx, data); err != nil {
		s.logger.Warn("send telemetry", "error", err)
		return err
	}
	s.logger.Info("telemetry sent")
	return backupErr
}

// BackupPath returns the JSONL file events of the given day are appended to.
func (s *Sink) BackupPath(day time.Time) string {
	return filepath.Join(s.backupDir, "telemetry_"+day.Format("20060102")+".jsonl")
}

func (s *Sink) backup(data []byte) error {
	if s.backupDir == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	f, err := os.OpenFile(s.BackupPath(s.now()), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open backup file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write backup file: %w", err)
	}
	return nil
}

func (s *Sink) post(ctx context.Context, data []byte) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}
