package domain

import "time"

// JobStatus tracks the lifecycle of a single transcription job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// UnknownSpeaker labels utterances no diarization segment overlaps.
const UnknownSpeaker = "UNKNOWN"

// TranscriptLine is one speaker-attributed utterance.
type TranscriptLine struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// ASRSegment is a time-bounded utterance without speaker attribution.
type ASRSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// DiarizationSegment is a time-bounded interval labeled with a speaker.
type DiarizationSegment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// Settings contains runtime configuration resolved at startup.
type Settings struct {
	HTTPAddr         string        `yaml:"http_addr"`
	WhisperModel     string        `yaml:"whisper_model"`
	WhisperDevice    string        `yaml:"whisper_device"`
	WhisperBatchSize int           `yaml:"whisper_batch_size"`
	WhisperLanguage  string        `yaml:"whisper_language"`
	WhisperXPath     string        `yaml:"whisperx_bin"`
	FFmpegPath       string        `yaml:"ffmpeg_bin"`
	HFToken          string        `yaml:"-"`
	LLMBaseURL       string        `yaml:"llm_base_url"`
	LLMModel         string        `yaml:"llm_model"`
	CORSOrigins      []string      `yaml:"cors_origins"`
	UploadDir        string        `yaml:"upload_dir"`
	MaxUploadMB      int64         `yaml:"max_upload_mb"`
	JobTimeout       time.Duration `yaml:"job_timeout"`
	JobRetention     time.Duration `yaml:"job_retention"`
	UploadRetention  time.Duration `yaml:"upload_retention"`
	JanitorInterval  time.Duration `yaml:"janitor_interval"`
	TelemetryWebhook string        `yaml:"telemetry_webhook_url"`
	TelemetryDir     string        `yaml:"telemetry_backup_dir"`
	AppVersion       string        `yaml:"app_version"`
	LogLevel         string        `yaml:"log_level"`
}

// Job stores one submitted transcription request and its lifecycle record.
type Job struct {
	ID         string           `json:"job_id"`
	Status     JobStatus        `json:"status"`
	Progress   int              `json:"progress"`
	Message    string           `json:"message"`
	Transcript []TranscriptLine `json:"transcript"`
	Error      string           `json:"error,omitempty"`
	SourcePath string           `json:"-"`
	CreatedAt  time.Time        `json:"-"`
	UpdatedAt  time.Time        `json:"-"`
}

// Clone returns a copy that shares no mutable state with j.
func (j Job) Clone() Job {
	if j.Transcript != nil {
		lines := make([]TranscriptLine, len(j.Transcript))
		copy(lines, j.Transcript)
		j.Transcript = lines
	}
	return j
}
