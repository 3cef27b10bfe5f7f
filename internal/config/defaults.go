package config

import (
	"time"

	"meeting-minutes/internal/domain"
)

// DefaultCORSOrigins lists the local frontend dev servers allowed by default.
var DefaultCORSOrigins = []string{
	"http://localhost:5173",
	"http://localhost:5174",
	"http://localhost:5175",
	"http://localhost:3000",
}

// DefaultSettings returns baseline configuration for a local deployment.
func DefaultSettings() domain.Settings {
	return domain.Settings{
		HTTPAddr:         ":8010",
		WhisperModel:     "large-v2",
		WhisperDevice:    "auto",
		WhisperBatchSize: 16,
		WhisperLanguage:  "de",
		WhisperXPath:     "scripts/whisperx_helper.py",
		FFmpegPath:       "ffmpeg",
		LLMBaseURL:       "http://localhost:11434/v1",
		LLMModel:         "qwen3:8b",
		CORSOrigins:      append([]string(nil), DefaultCORSOrigins...),
		UploadDir:        "uploads",
		MaxUploadMB:      512,
		JobRetention:     24 * time.Hour,
		UploadRetention:  24 * time.Hour,
		JanitorInterval:  10 * time.Minute,
		TelemetryDir:     "telemetry_backup",
		AppVersion:       "0.1.0",
		LogLevel:         "info",
	}
}
