package diagnostics

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"meeting-minutes/internal/domain"
)

// Checker validates external tools, credentials and writable paths the
// transcription service depends on.
type Checker struct {
	lookPath   func(string) (string, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
	now        func() time.Time
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
		now:        time.Now,
	}
}

// Run executes all readiness checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkTool("tool_ffmpeg", settings.FFmpegPath, domain.DiagnosticStatusFail,
			"Install ffmpeg or set FFMPEG_BIN to its location."),
		c.checkTool("tool_whisperx", settings.WhisperXPath, domain.DiagnosticStatusFail,
			"Run scripts/whisperx_helper.py from a Python environment with whisperx installed, or set WHISPERX_BIN."),
		c.checkGPU(settings.WhisperDevice),
		checkToken(settings.HFToken),
		checkModel(settings.WhisperModel),
		c.checkWritableDir("upload_dir", "Upload directory", settings.UploadDir, domain.DiagnosticStatusFail),
		c.checkWritableDir("telemetry_dir", "Telemetry backup directory", settings.TelemetryDir, domain.DiagnosticStatusWarn),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: c.now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkTool verifies an executable is on PATH or at the configured path.
func (c *Checker) checkTool(id, name string, missing domain.DiagnosticStatus, hint string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: id, Name: name}
	if strings.TrimSpace(name) == "" {
		item.Status = missing
		item.Message = "Executable is not configured."
		item.Hint = hint
		return item
	}

	path, err := c.lookPath(name)
	if err != nil {
		item.Status = missing
		item.Message = fmt.Sprintf("Tool not found in PATH: %s", name)
		item.Hint = hint
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	return item
}

// checkGPU reports whether CUDA acceleration is available.
func (c *Checker) checkGPU(device string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: "gpu", Name: "GPU acceleration"}
	if strings.EqualFold(strings.TrimSpace(device), "cpu") {
		item.Status = domain.DiagnosticStatusPass
		item.Message = "CPU inference configured."
		return item
	}

	if _, err := c.lookPath("nvidia-smi"); err != nil {
		item.Status = domain.DiagnosticStatusWarn
		item.Message = "No NVIDIA driver found; transcription will run on CPU."
		item.Hint = "Expect roughly real-time or slower processing on CPU."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = "NVIDIA driver found; using CUDA."
	return item
}

// checkToken verifies the diarization access token is present.
func checkToken(token string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: "hf_token", Name: "Diarization token"}
	if strings.TrimSpace(token) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "HF_TOKEN is not set; speaker diarization will fail."
		item.Hint = "Create a token at https://huggingface.co/settings/tokens and accept the pyannote model terms."
		return item
	}
	item.Status = domain.DiagnosticStatusPass
	item.Message = "HF_TOKEN is set."
	return item
}

// checkModel reports whether the configured model is a known checkpoint.
func checkModel(modelID string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: "whisper_model", Name: "Whisper model"}
	if model, ok := domain.LookupWhisperModel(modelID); ok {
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("%s (%s)", model.Name, model.Repo)
		return item
	}
	item.Status = domain.DiagnosticStatusWarn
	item.Message = fmt.Sprintf("Model %q is not in the built-in catalog.", modelID)
	item.Hint = "Custom model ids are passed to WhisperX unchanged; check the spelling."
	return item
}

// checkWritableDir validates directory existence and write access.
func (c *Checker) checkWritableDir(id, name, dir string, missing domain.DiagnosticStatus) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: id, Name: name}

	if strings.TrimSpace(dir) == "" {
		item.Status = missing
		item.Message = "Directory is not configured."
		item.Hint = "Set a writable directory."
		return item
	}

	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = missing
		item.Message = fmt.Sprintf("Cannot create directory: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = missing
		item.Message = fmt.Sprintf("Directory is not writable: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
		now:        time.Now,
	}
}
