package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"meeting-minutes/internal/domain"
)

// TestDefaultSettings verifies baseline defaults are present.
func TestDefaultSettings(t *testing.T) {
	cfg := DefaultSettings()
	if cfg.WhisperModel != "large-v2" {
		t.Fatalf("model = %q, want large-v2", cfg.WhisperModel)
	}
	if cfg.WhisperBatchSize != 16 {
		t.Fatalf("batch size = %d, want 16", cfg.WhisperBatchSize)
	}
	if cfg.WhisperLanguage != "de" {
		t.Fatalf("language = %q, want de", cfg.WhisperLanguage)
	}
	if len(cfg.CORSOrigins) != len(DefaultCORSOrigins) {
		t.Fatalf("origins = %v", cfg.CORSOrigins)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

// TestEnvStoreLoadMissingFilesReturnsDefaults checks first-run behavior.
func TestEnvStoreLoadMissingFilesReturnsDefaults(t *testing.T) {
	root := t.TempDir()
	store := NewEnvStoreForTests(filepath.Join(root, "missing.yaml"), nil, filepath.Join(root, ".env"))

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.WhisperDevice != "auto" {
		t.Fatalf("device = %q, want auto", got.WhisperDevice)
	}
	if got.HFToken != "" {
		t.Fatalf("token = %q, want empty", got.HFToken)
	}
}

// TestEnvStoreLayering checks YAML < dotenv < environment precedence.
func TestEnvStoreLayering(t *testing.T) {
	root := t.TempDir()
	settingsPath := filepath.Join(root, "settings.yaml")
	mustWrite(t, settingsPath, "whisper_model: medium\nwhisper_batch_size: 4\njanitor_interval: 1m\nllm_model: from-yaml\n")
	envPath := filepath.Join(root, ".env")
	mustWrite(t, envPath, "WHISPER_BATCH_SIZE=8\nHF_TOKEN=hf_dotenv\nLLM_MODEL=from-dotenv\n")

	store := NewEnvStoreForTests(settingsPath, map[string]string{
		"LLM_MODEL":      "from-env",
		"WHISPER_DEVICE": "GPU",
		"CORS_ORIGINS":   "https://a.example, ,https://b.example",
		"JOB_TIMEOUT":    "90m",
	}, envPath)

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.WhisperModel != "medium" {
		t.Fatalf("model = %q, want medium", got.WhisperModel)
	}
	if got.WhisperBatchSize != 8 {
		t.Fatalf("batch size = %d, want 8", got.WhisperBatchSize)
	}
	if got.HFToken != "hf_dotenv" {
		t.Fatalf("token = %q, want hf_dotenv", got.HFToken)
	}
	if got.LLMModel != "from-env" {
		t.Fatalf("llm model = %q, want from-env", got.LLMModel)
	}
	if got.WhisperDevice != "cuda" {
		t.Fatalf("device = %q, want cuda", got.WhisperDevice)
	}
	if got.JanitorInterval != time.Minute {
		t.Fatalf("janitor interval = %v, want 1m", got.JanitorInterval)
	}
	if got.JobTimeout != 90*time.Minute {
		t.Fatalf("job timeout = %v, want 90m", got.JobTimeout)
	}
	want := []string{"https://a.example", "https://b.example"}
	if len(got.CORSOrigins) != 2 || got.CORSOrigins[0] != want[0] || got.CORSOrigins[1] != want[1] {
		t.Fatalf("origins = %v, want %v", got.CORSOrigins, want)
	}
}

// TestEnvStoreRejectsInvalidValues checks parse and validation errors.
func TestEnvStoreRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"batch not a number": {"WHISPER_BATCH_SIZE": "many"},
		"batch zero":         {"WHISPER_BATCH_SIZE": "0"},
		"bad device":         {"WHISPER_DEVICE": "tpu"},
		"bad duration":       {"JOB_RETENTION": "forever"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			store := NewEnvStoreForTests("", env)
			if _, err := store.Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	store := NewEnvStoreForTests("", map[string]string{"WHISPER_DEVICE": "tpu"})
	if _, err := store.Load(); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want validation class", err)
	}
}

// TestEnvStoreLoadInvalidYAML checks parse error handling.
func TestEnvStoreLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	mustWrite(t, path, "whisper_batch_size: [not-an-int")

	store := NewEnvStoreForTests(path, nil)
	if _, err := store.Load(); err == nil {
		t.Fatal("expected yaml parse error")
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}
