package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"meeting-minutes/internal/audio"
	"meeting-minutes/internal/domain"
)

// Stage names reported in pipeline errors.
const (
	StagePreparing    = "preparing"
	StageLoadingAudio = "loading_audio"
	StageTranscribing = "transcribing"
	StageAligning     = "aligning"
	StageDiarizing    = "diarizing"
	StageMerging      = "merging"
	StageAssembling   = "assembling"
)

// ErrMissingToken is returned when diarization has no access token.
var ErrMissingToken = fmt.Errorf("%w: diarization token (HF_TOKEN) is not set", domain.ErrPrecondition)

// Progress is one checkpoint emitted before a stage starts.
type Progress struct {
	Percent int
	Message string
}

// Request contains the input audio and the progress channel for one run.
// Progress is sent synchronously; the receiver must drain it until Run returns.
type Request struct {
	AudioPath string
	Progress  chan<- Progress
}

// Result contains the merged transcript and the intermediate segmentations.
type Result struct {
	Lines         []domain.TranscriptLine
	Segments      []domain.ASRSegment
	Speakers      []domain.DiarizationSegment
	AudioDuration time.Duration
}

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// CommandError wraps a failed external command with its captured output.
type CommandError struct {
	Log CommandLog
	Err error
}

// Error formats the command failure with the last stderr line.
func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Log.Command, e.Err)
	if tail := lastLine(e.Log.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *CommandError) Unwrap() error {
	return e.Err
}

// PipelineError is a stage-aware error with optional command context.
type PipelineError struct {
	Stage      string     `json:"stage"`
	Message    string     `json:"message"`
	CommandLog CommandLog `json:"commandLog"`
	Err        error      `json:"-"`
}

// Error formats pipeline failures for logs and job records.
func (e *PipelineError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: %s", e.Stage, e.Message)
	if e.Err != nil && !strings.Contains(e.Message, e.Err.Error()) {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, env []string, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command with extra env entries and captures its output.
func (r *execRunner) Run(ctx context.Context, env []string, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, fmt.Errorf("%w: %w", ctxErr, err)
		}
		return result, err
	}

	return result, nil
}

// runCommand executes one command and converts failures into CommandError.
func runCommand(ctx context.Context, runner commandRunner, env []string, name string, args ...string) (CommandLog, error) {
	res, err := runner.Run(ctx, env, name, args...)
	log := CommandLog{
		Command:  name,
		Args:     args,
		ExitCode: res.ExitCode,
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
	}
	if err != nil {
		return log, &CommandError{Log: log, Err: err}
	}
	return log, nil
}

// Engine runs the external speech models. Implementations block until the
// model call returns and honor ctx cancellation.
type Engine interface {
	Prepare(ctx context.Context) error
	Transcribe(ctx context.Context, audioPath string) ([]domain.ASRSegment, error)
	Align(ctx context.Context, audioPath string, segments []domain.ASRSegment) ([]domain.ASRSegment, error)
	Diarize(ctx context.Context, audioPath, token string) ([]domain.DiarizationSegment, error)
}

// Pipeline sequences audio loading, the speech model stages and speaker
// assignment, reporting a progress checkpoint before each stage.
type Pipeline struct {
	ffmpegPath string
	model      string
	hfToken    string
	engine     Engine
	runner     commandRunner
	probe      func(path string) (time.Duration, error)
	mkdirTemp  func(dir, pattern string) (string, error)
	removeAll  func(path string) error
	stat       func(name string) (os.FileInfo, error)
	logger     *slog.Logger
}

// NewPipeline constructs the production pipeline backed by WhisperX.
func NewPipeline(settings domain.Settings, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		ffmpegPath: settings.FFmpegPath,
		model:      settings.WhisperModel,
		hfToken:    settings.HFToken,
		engine:     NewWhisperX(settings),
		runner:     &execRunner{},
		probe:      audio.Duration,
		mkdirTemp:  os.MkdirTemp,
		removeAll:  os.RemoveAll,
		stat:       os.Stat,
		logger:     logger.With("component", "transcribe"),
	}
}

// Run executes all stages in order; the first failure aborts the rest.
func (p *Pipeline) Run(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.AudioPath) == "" {
		return Result{}, &PipelineError{
			Stage:   StagePreparing,
			Message: "input audio path is required",
		}
	}
	if _, err := p.stat(req.AudioPath); err != nil {
		return Result{}, &PipelineError{
			Stage:   StagePreparing,
			Message: fmt.Sprintf("cannot access input audio: %s", req.AudioPath),
			Err:     err,
		}
	}

	emit(req.Progress, 5, fmt.Sprintf("Loading WhisperX model (%s)...", p.model))
	if err := p.engine.Prepare(ctx); err != nil {
		return Result{}, stageError(StagePreparing, "model preparation failed", err)
	}

	emit(req.Progress, 15, "Loading audio...")
	tempDir, err := p.mkdirTemp("", "meeting-minutes-*")
	if err != nil {
		return Result{}, &PipelineError{
			Stage:   StageLoadingAudio,
			Message: "failed to create temporary workspace",
			Err:     err,
		}
	}
	defer func() { _ = p.removeAll(tempDir) }()

	wavPath := filepath.Join(tempDir, "preprocessed-16k-mono.wav")
	if _, err := runCommand(ctx, p.runner, nil, p.ffmpegPath, buildFFmpegArgs(req.AudioPath, wavPath)...); err != nil {
		return Result{}, stageError(StageLoadingAudio, "ffmpeg audio conversion failed", err)
	}
	if _, err := p.stat(wavPath); err != nil {
		return Result{}, &PipelineError{
			Stage:   StageLoadingAudio,
			Message: "ffmpeg completed but output file is missing",
			Err:     err,
		}
	}
	duration, err := p.probe(wavPath)
	if err != nil {
		p.logger.Debug("read audio duration", "path", wavPath, "error", err)
	}

	emit(req.Progress, 25, "Transcribing...")
	segments, err := p.engine.Transcribe(ctx, wavPath)
	if err != nil {
		return Result{}, stageError(StageTranscribing, "transcription failed", err)
	}

	emit(req.Progress, 50, "Aligning...")
	aligned, err := p.engine.Align(ctx, wavPath, segments)
	if err != nil {
		return Result{}, stageError(StageAligning, "alignment failed", err)
	}

	emit(req.Progress, 65, "Detecting speakers...")
	if strings.TrimSpace(p.hfToken) == "" {
		return Result{}, &PipelineError{
			Stage:   StageDiarizing,
			Message: "HF_TOKEN is not set; create one at https://huggingface.co/settings/tokens",
			Err:     ErrMissingToken,
		}
	}
	speakers, err := p.engine.Diarize(ctx, wavPath, p.hfToken)
	if err != nil {
		return Result{}, stageError(StageDiarizing, "speaker diarization failed", err)
	}

	emit(req.Progress, 85, "Merging segments...")
	lines := AssignSpeakers(aligned, speakers)

	emit(req.Progress, 95, "Building transcript...")
	if err := ctx.Err(); err != nil {
		return Result{}, stageError(StageAssembling, "job aborted", err)
	}

	return Result{
		Lines:         lines,
		Segments:      aligned,
		Speakers:      speakers,
		AudioDuration: duration,
	}, nil
}

// stageError wraps err with stage context, lifting command output if any.
func stageError(stage, message string, err error) *PipelineError {
	pipelineErr := &PipelineError{
		Stage:   stage,
		Message: message,
		Err:     err,
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		pipelineErr.CommandLog = cmdErr.Log
	}
	return pipelineErr
}

// emit forwards a checkpoint when a progress channel is configured.
func emit(ch chan<- Progress, percent int, message string) {
	if ch != nil {
		ch <- Progress{Percent: percent, Message: message}
	}
}

// buildFFmpegArgs builds preprocessing CLI args for mono 16k PCM WAV output.
func buildFFmpegArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

// lastLine returns the last non-blank line of command output.
func lastLine(out string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// NewPipelineForTests constructs a pipeline with injectable dependencies.
func NewPipelineForTests(
	ffmpegPath string,
	hfToken string,
	engine Engine,
	runner commandRunner,
	mkdirTemp func(dir, pattern string) (string, error),
	removeAll func(path string) error,
	stat func(name string) (os.FileInfo, error),
) *Pipeline {
	return &Pipeline{
		ffmpegPath: ffmpegPath,
		model:      "test-model",
		hfToken:    hfToken,
		engine:     engine,
		runner:     runner,
		probe:      audio.Duration,
		mkdirTemp:  mkdirTemp,
		removeAll:  removeAll,
		stat:       stat,
		logger:     slog.Default(),
	}
}
