package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"meeting-minutes/internal/domain"
)

// WhisperX drives scripts/whisperx_helper.py. Each subcommand prints one
// JSON document on stdout:
//
//	prepare    {"model": "...", "device": "..."}
//	transcribe {"segments": [{"start": 0, "end": 1.5, "text": "..."}]}
//	align      {"segments": [...]} (reads --segments JSON file)
//	diarize    {"segments": [{"start": 0, "end": 1.5, "speaker": "SPEAKER_00"}]}
//
// The diarization token is passed as HF_TOKEN in the child environment so it
// never appears in command logs.
type WhisperX struct {
	helperPath string
	model      string
	device     string
	batchSize  int
	language   string
	runner     commandRunner
	lookPath   func(string) (string, error)
	writeFile  func(name string, data []byte, perm os.FileMode) error
}

// NewWhisperX builds the engine from runtime settings.
func NewWhisperX(settings domain.Settings) *WhisperX {
	return &WhisperX{
		helperPath: settings.WhisperXPath,
		model:      settings.WhisperModel,
		device:     settings.WhisperDevice,
		batchSize:  settings.WhisperBatchSize,
		language:   settings.WhisperLanguage,
		runner:     &execRunner{},
		lookPath:   exec.LookPath,
		writeFile:  os.WriteFile,
	}
}

type segmentsOutput struct {
	Segments []struct {
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
		Text    string  `json:"text"`
		Speaker string  `json:"speaker"`
	} `json:"segments"`
}

// Prepare loads the ASR model once so later stages fail fast on bad config.
func (w *WhisperX) Prepare(ctx context.Context) error {
	device := w.resolveDevice()
	args := []string{
		"prepare",
		"--model", w.model,
		"--device", device,
		"--compute-type", computeType(device),
		"--language", w.language,
	}
	_, err := runCommand(ctx, w.runner, nil, w.helperPath, args...)
	return err
}

// Transcribe runs batched speech recognition on a 16 kHz mono WAV file.
func (w *WhisperX) Transcribe(ctx context.Context, audioPath string) ([]domain.ASRSegment, error) {
	device := w.resolveDevice()
	args := []string{
		"transcribe",
		"--audio", audioPath,
		"--model", w.model,
		"--device", device,
		"--compute-type", computeType(device),
		"--batch-size", strconv.Itoa(w.batchSize),
		"--language", w.language,
	}
	out, err := w.runJSON(ctx, nil, args)
	if err != nil {
		return nil, err
	}
	return toASRSegments(out), nil
}

// Align refines segment timestamps with the language's alignment model.
func (w *WhisperX) Align(ctx context.Context, audioPath string, segments []domain.ASRSegment) ([]domain.ASRSegment, error) {
	data, err := json.Marshal(map[string]any{"segments": segments})
	if err != nil {
		return nil, fmt.Errorf("encode segments: %w", err)
	}
	segmentsPath := filepath.Join(filepath.Dir(audioPath), "segments.json")
	if err := w.writeFile(segmentsPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("write segments file: %w", err)
	}

	args := []string{
		"align",
		"--audio", audioPath,
		"--segments", segmentsPath,
		"--device", w.resolveDevice(),
		"--language", w.language,
	}
	out, err := w.runJSON(ctx, nil, args)
	if err != nil {
		return nil, err
	}
	return toASRSegments(out), nil
}

// Diarize detects speaker turns; token authorizes the pyannote models.
func (w *WhisperX) Diarize(ctx context.Context, audioPath, token string) ([]domain.DiarizationSegment, error) {
	args := []string{
		"diarize",
		"--audio", audioPath,
		"--device", w.resolveDevice(),
	}
	out, err := w.runJSON(ctx, []string{"HF_TOKEN=" + token}, args)
	if err != nil {
		return nil, err
	}

	speakers := make([]domain.DiarizationSegment, 0, len(out.Segments))
	for _, s := range out.Segments {
		speakers = append(speakers, domain.DiarizationSegment{
			Start:   s.Start,
			End:     s.End,
			Speaker: s.Speaker,
		})
	}
	return speakers, nil
}

// runJSON executes one helper subcommand and decodes its stdout.
func (w *WhisperX) runJSON(ctx context.Context, env []string, args []string) (segmentsOutput, error) {
	log, err := runCommand(ctx, w.runner, env, w.helperPath, args...)
	if err != nil {
		return segmentsOutput{}, err
	}

	var out segmentsOutput
	if err := json.Unmarshal([]byte(log.Stdout), &out); err != nil {
		return segmentsOutput{}, &CommandError{
			Log: log,
			Err: fmt.Errorf("parse %s output: %w", args[0], err),
		}
	}
	return out, nil
}

// Device returns the compute device the helper runs on.
func (w *WhisperX) Device() string {
	return w.resolveDevice()
}

func (w *WhisperX) resolveDevice() string {
	return resolveDevice(w.device, w.lookPath)
}

// ResolveDevice maps a configured device to cuda or cpu. "auto" picks cuda
// when an NVIDIA driver is present.
func ResolveDevice(device string) string {
	return resolveDevice(device, exec.LookPath)
}

func resolveDevice(device string, lookPath func(string) (string, error)) string {
	device = strings.ToLower(strings.TrimSpace(device))
	switch device {
	case "cuda", "cpu":
		return device
	case "gpu":
		return "cuda"
	}
	if _, err := lookPath("nvidia-smi"); err == nil {
		return "cuda"
	}
	return "cpu"
}

// computeType picks half precision on GPU and int8 quantization on CPU.
func computeType(device string) string {
	if device == "cuda" {
		return "float16"
	}
	return "int8"
}

func toASRSegments(out segmentsOutput) []domain.ASRSegment {
	segments := make([]domain.ASRSegment, 0, len(out.Segments))
	for _, s := range out.Segments {
		segments = append(segments, domain.ASRSegment{
			Start: s.Start,
			End:   s.End,
			Text:  s.Text,
		})
	}
	return segments
}

// NewWhisperXForTests creates an engine with injectable process execution.
func NewWhisperXForTests(settings domain.Settings, runner commandRunner, lookPath func(string) (string, error)) *WhisperX {
	w := NewWhisperX(settings)
	w.runner = runner
	w.lookPath = lookPath
	return w
}
