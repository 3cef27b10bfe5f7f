package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"meeting-minutes/internal/api"
	"meeting-minutes/internal/diagnostics"
	"meeting-minutes/internal/domain"
	"meeting-minutes/internal/jobs"
	"meeting-minutes/internal/summarize"
	"meeting-minutes/internal/telemetry"
	"meeting-minutes/internal/transcribe"
)

const (
	shutdownTimeout = 15 * time.Second
	jobDrainTimeout = 30 * time.Second
)

// App wires configuration, jobs, pipeline, summarization and the HTTP API.
type App struct {
	Settings   domain.Settings
	Logger     *slog.Logger
	Jobs       *jobs.Store
	Events     *jobs.EventBus
	Runner     *jobs.Runner
	Janitor    *jobs.Janitor
	Summarizer *summarize.Service
	Telemetry  *telemetry.Sink

	checker    *diagnostics.Checker
	deviceType string
	homeDir    func() (string, error)
	getenv     func(string) string

	mu          sync.Mutex
	diagnostics domain.DiagnosticReport
}

// New builds the production application backed by WhisperX.
func New(settings domain.Settings, logger *slog.Logger) *App {
	return NewWithPipeline(settings, logger, transcribe.NewPipeline(settings, logger))
}

// NewWithPipeline builds the application around an existing pipeline.
func NewWithPipeline(settings domain.Settings, logger *slog.Logger, pipeline jobs.Pipeline) *App {
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		Settings:   settings,
		Logger:     logger,
		Jobs:       jobs.NewStore(),
		Events:     jobs.NewEventBus(1000),
		Summarizer: summarize.NewService(settings, logger),
		Telemetry:  telemetry.NewSink(settings, logger),
		checker:    diagnostics.NewChecker(),
		deviceType: transcribe.ResolveDevice(settings.WhisperDevice),
		homeDir:    os.UserHomeDir,
		getenv:     os.Getenv,
	}
	a.Runner = jobs.NewRunner(a.Jobs, a.Events, pipeline, jobs.RunnerOptions{
		Timeout:    settings.JobTimeout,
		OnFinished: a.reportJob,
		Logger:     logger,
	})
	a.Janitor = jobs.NewJanitor(a.Jobs, jobs.JanitorOptions{
		Interval:        settings.JanitorInterval,
		JobRetention:    settings.JobRetention,
		UploadRetention: settings.UploadRetention,
		UploadDir:       settings.UploadDir,
		Logger:          logger,
	})
	a.RefreshDiagnostics()
	return a
}

// Handler builds the HTTP API over the application's components.
func (a *App) Handler() http.Handler {
	return api.NewRouter(api.Deps{
		Settings:    a.Settings,
		Jobs:        a.Jobs,
		Runner:      a.Runner,
		Events:      a.Events,
		Summarizer:  a.Summarizer,
		Telemetry:   a.Telemetry,
		DeviceType:  a.deviceType,
		Diagnostics: a.RefreshDiagnostics,
		Models:      a.WhisperModels,
		Logger:      a.Logger,
	})
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.diagnostics
}

// RefreshDiagnostics reruns dependency checks and caches the report.
func (a *App) RefreshDiagnostics() domain.DiagnosticReport {
	report := a.checker.Run(a.Settings)

	a.mu.Lock()
	a.diagnostics = report
	a.mu.Unlock()
	return report
}

// Run serves HTTP on the configured address until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Settings.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.Settings.HTTPAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the API on ln, then drains the server, running jobs and
// pending telemetry once ctx is cancelled.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	for _, item := range a.GetDiagnostics().Items {
		if item.Status != domain.DiagnosticStatusPass {
			a.Logger.Warn("diagnostic check", "id", item.ID, "status", item.Status, "message", item.Message, "hint", item.Hint)
		}
	}

	server := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.Janitor.Start()
	defer a.Janitor.Stop(time.Second)

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening", "addr", ln.Addr().String(), "version", a.Settings.AppVersion)
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}

	a.waitForJobs(jobDrainTimeout)
	a.Telemetry.Wait()
	return nil
}

// waitForJobs blocks until running jobs finish or timeout elapses.
func (a *App) waitForJobs(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		a.Runner.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		a.Logger.Warn("jobs still running at shutdown", "timeout", timeout)
	}
}

// reportJob turns a finished job into a telemetry record.
func (a *App) reportJob(r jobs.Report) {
	collector := telemetry.NewCollector(a.Settings.AppVersion, a.deviceType)
	collector.SetWhisperConfig(a.Settings.WhisperModel, a.Settings.WhisperBatchSize)
	if r.Err != nil {
		collector.SetError(r.Err.Error())
	} else {
		collector.SetTranscription(r.Result.AudioDuration, r.Elapsed, r.Job.Transcript)
	}
	a.Telemetry.Send(collector.Event())
}
