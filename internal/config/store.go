package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"meeting-minutes/internal/domain"
)

// Store defines how runtime settings are resolved.
type Store interface {
	Load() (domain.Settings, error)
}

// EnvStore layers defaults, an optional YAML settings file, dotenv files and
// the process environment, later sources winning.
type EnvStore struct {
	settingsPath string
	dotenvPaths  []string
	lookupEnv    func(string) (string, bool)
	readFile     func(string) ([]byte, error)
}

// NewEnvStore creates a store reading settingsPath (may be empty) and the
// given dotenv files.
func NewEnvStore(settingsPath string, dotenvPaths ...string) *EnvStore {
	return &EnvStore{
		settingsPath: settingsPath,
		dotenvPaths:  dotenvPaths,
		lookupEnv:    os.LookupEnv,
		readFile:     os.ReadFile,
	}
}

// NewEnvStoreForTests creates a store with an injectable environment.
func NewEnvStoreForTests(settingsPath string, env map[string]string, dotenvPaths ...string) *EnvStore {
	s := NewEnvStore(settingsPath, dotenvPaths...)
	s.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	return s
}

// Load resolves settings and validates the result.
func (s *EnvStore) Load() (domain.Settings, error) {
	cfg := DefaultSettings()

	if s.settingsPath != "" {
		data, err := s.readFile(s.settingsPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return domain.Settings{}, fmt.Errorf("read settings file: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return domain.Settings{}, fmt.Errorf("parse settings file %s: %w", s.settingsPath, err)
			}
		}
	}

	dotenv, err := s.readDotenv()
	if err != nil {
		return domain.Settings{}, err
	}
	lookup := func(key string) (string, bool) {
		if v, ok := s.lookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}

	if err := applyEnv(&cfg, lookup); err != nil {
		return domain.Settings{}, err
	}

	cfg = Normalize(cfg)
	if err := Validate(cfg); err != nil {
		return domain.Settings{}, err
	}
	return cfg, nil
}

// readDotenv merges existing dotenv files; earlier files win like godotenv.Load.
func (s *EnvStore) readDotenv() (map[string]string, error) {
	merged := map[string]string{}
	for _, path := range s.dotenvPaths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		values, err := godotenv.Read(path)
		if err != nil {
			return nil, fmt.Errorf("parse dotenv file %s: %w", path, err)
		}
		for k, v := range values {
			if _, seen := merged[k]; !seen {
				merged[k] = v
			}
		}
	}
	return merged, nil
}

// applyEnv overrides settings with recognized environment keys.
func applyEnv(cfg *domain.Settings, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", key, v, err)
		}
		*dst = d
		return nil
	}

	str("HTTP_ADDR", &cfg.HTTPAddr)
	str("WHISPER_MODEL", &cfg.WhisperModel)
	str("WHISPER_DEVICE", &cfg.WhisperDevice)
	str("WHISPER_LANGUAGE", &cfg.WhisperLanguage)
	str("WHISPERX_BIN", &cfg.WhisperXPath)
	str("FFMPEG_BIN", &cfg.FFmpegPath)
	str("HF_TOKEN", &cfg.HFToken)
	str("LLM_BASE_URL", &cfg.LLMBaseURL)
	str("LLM_MODEL", &cfg.LLMModel)
	str("UPLOAD_DIR", &cfg.UploadDir)
	str("TELEMETRY_WEBHOOK_URL", &cfg.TelemetryWebhook)
	str("TELEMETRY_BACKUP_DIR", &cfg.TelemetryDir)
	str("APP_VERSION", &cfg.AppVersion)
	str("LOG_LEVEL", &cfg.LogLevel)

	if v, ok := lookup("WHISPER_BATCH_SIZE"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid WHISPER_BATCH_SIZE value %q: %w", v, err)
		}
		cfg.WhisperBatchSize = n
	}
	if v, ok := lookup("MAX_UPLOAD_MB"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid MAX_UPLOAD_MB value %q: %w", v, err)
		}
		cfg.MaxUploadMB = n
	}
	if v, ok := lookup("CORS_ORIGINS"); ok && strings.TrimSpace(v) != "" {
		cfg.CORSOrigins = strings.Split(v, ",")
	}

	for key, dst := range map[string]*time.Duration{
		"JOB_TIMEOUT":      &cfg.JobTimeout,
		"JOB_RETENTION":    &cfg.JobRetention,
		"UPLOAD_RETENTION": &cfg.UploadRetention,
		"JANITOR_INTERVAL": &cfg.JanitorInterval,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// Normalize trims inputs, maps device aliases and drops blank origins.
func Normalize(cfg domain.Settings) domain.Settings {
	cfg.WhisperModel = strings.TrimSpace(cfg.WhisperModel)
	cfg.WhisperLanguage = strings.TrimSpace(cfg.WhisperLanguage)
	cfg.WhisperDevice = strings.ToLower(strings.TrimSpace(cfg.WhisperDevice))
	switch cfg.WhisperDevice {
	case "":
		cfg.WhisperDevice = "auto"
	case "gpu":
		cfg.WhisperDevice = "cuda"
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	origins := make([]string, 0, len(cfg.CORSOrigins))
	for _, origin := range cfg.CORSOrigins {
		if o := strings.TrimSpace(origin); o != "" {
			origins = append(origins, o)
		}
	}
	cfg.CORSOrigins = origins
	return cfg
}

// Validate rejects settings the pipeline cannot run with.
func Validate(cfg domain.Settings) error {
	switch cfg.WhisperDevice {
	case "auto", "cuda", "cpu":
	default:
		return fmt.Errorf("%w: WHISPER_DEVICE must be auto, gpu, cuda or cpu, got %q", domain.ErrValidation, cfg.WhisperDevice)
	}
	if cfg.WhisperModel == "" {
		return fmt.Errorf("%w: WHISPER_MODEL is required", domain.ErrValidation)
	}
	if cfg.WhisperBatchSize <= 0 {
		return fmt.Errorf("%w: WHISPER_BATCH_SIZE must be positive, got %d", domain.ErrValidation, cfg.WhisperBatchSize)
	}
	if cfg.WhisperLanguage == "" {
		return fmt.Errorf("%w: WHISPER_LANGUAGE is required", domain.ErrValidation)
	}
	if cfg.MaxUploadMB <= 0 {
		return fmt.Errorf("%w: MAX_UPLOAD_MB must be positive, got %d", domain.ErrValidation, cfg.MaxUploadMB)
	}
	if cfg.JobTimeout < 0 {
		return fmt.Errorf("%w: JOB_TIMEOUT must not be negative", domain.ErrValidation)
	}
	return nil
}
