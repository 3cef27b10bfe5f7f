package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"meeting-minutes/internal/domain"
	"meeting-minutes/internal/jobs"
	"meeting-minutes/internal/telemetry"
	"meeting-minutes/internal/transcribe"
)

// fakePipeline allows injecting custom run behavior per test.
type fakePipeline struct {
	run func(ctx context.Context, req transcribe.Request) (transcribe.Result, error)
}

// Run delegates to injected function.
func (p *fakePipeline) Run(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
	if p.run == nil {
		return transcribe.Result{Lines: []domain.TranscriptLine{}}, nil
	}
	return p.run(ctx, req)
}

func testSettings(t *testing.T) domain.Settings {
	t.Helper()
	root := t.TempDir()
	return domain.Settings{
		HTTPAddr:         "127.0.0.1:0",
		WhisperModel:     "large-v2",
		WhisperDevice:    "cpu",
		WhisperBatchSize: 16,
		UploadDir:        filepath.Join(root, "uploads"),
		TelemetryDir:     filepath.Join(root, "telemetry"),
		MaxUploadMB:      8,
		AppVersion:       "0.1.0",
		LLMBaseURL:       "http://127.0.0.1:1/v1",
		LLMModel:         "qwen3:8b",
	}
}

// TestUploadRunsJobToCompletion drives one job through the HTTP API.
func TestUploadRunsJobToCompletion(t *testing.T) {
	settings := testSettings(t)
	app := NewWithPipeline(settings, nil, &fakePipeline{run: func(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
		req.Progress <- transcribe.Progress{Percent: 25, Message: "Transcribing..."}
		req.Progress <- transcribe.Progress{Percent: 85, Message: "Merging segments..."}
		return transcribe.Result{
			Lines:         []domain.TranscriptLine{{Speaker: "SPEAKER_00", Text: "Hallo zusammen"}},
			AudioDuration: 3 * time.Second,
		}, nil
	}})
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	job := upload(t, srv.URL, "sitzung.wav", []byte("RIFF"))
	if job.Status != domain.JobStatusPending {
		t.Fatalf("submitted status = %s, want pending", job.Status)
	}

	app.Runner.Wait()
	got := getJob(t, srv.URL, job.ID)
	if got.Status != domain.JobStatusCompleted || got.Progress != 100 {
		t.Fatalf("job = %+v", got)
	}
	if len(got.Transcript) != 1 || got.Transcript[0].Speaker != "SPEAKER_00" {
		t.Fatalf("transcript = %+v", got.Transcript)
	}

	entries, err := os.ReadDir(settings.UploadDir)
	if err != nil {
		t.Fatalf("read upload dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("upload dir should be empty after completion, got %d entries", len(entries))
	}

	app.Telemetry.Wait()
	event := readTelemetryBackup(t, app)
	if !event.Success || event.TranscriptLineCount == nil || *event.TranscriptLineCount != 1 {
		t.Fatalf("telemetry = %+v", event)
	}
	if event.AudioDurationSeconds == nil || *event.AudioDurationSeconds != 3 {
		t.Fatalf("audio duration = %v", event.AudioDurationSeconds)
	}
}

// TestFailedJobPublishesEventsAndTelemetry checks the error path emissions.
func TestFailedJobPublishesEventsAndTelemetry(t *testing.T) {
	app := NewWithPipeline(testSettings(t), nil, &fakePipeline{run: func(ctx context.Context, req transcribe.Request) (transcribe.Result, error) {
		return transcribe.Result{}, &transcribe.PipelineError{
			Stage:   transcribe.StageDiarizing,
			Message: "HF_TOKEN is not set",
			Err:     transcribe.ErrMissingToken,
		}
	}})
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	job := upload(t, srv.URL, "sitzung.mp3", []byte("ID3"))
	app.Runner.Wait()

	got := getJob(t, srv.URL, job.ID)
	if got.Status != domain.JobStatusFailed || got.Error == "" {
		t.Fatalf("job = %+v", got)
	}

	events := app.Events.ForJob(job.ID, 0)
	assertEventTypeExists(t, events, jobs.EventTypeStatus)
	assertEventTypeExists(t, events, jobs.EventTypeError)

	app.Telemetry.Wait()
	event := readTelemetryBackup(t, app)
	if event.Success || event.Error == nil {
		t.Fatalf("telemetry = %+v", event)
	}
}

// TestServeShutsDownOnCancel verifies graceful shutdown.
func TestServeShutsDownOnCancel(t *testing.T) {
	app := NewWithPipeline(testSettings(t), nil, &fakePipeline{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/"
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not start: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !app.Janitor.Started() {
		t.Fatal("janitor should run while serving")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

// TestDiagnosticsAreCached checks startup diagnostics are available.
func TestDiagnosticsAreCached(t *testing.T) {
	app := NewWithPipeline(testSettings(t), nil, &fakePipeline{})
	report := app.GetDiagnostics()
	if len(report.Items) == 0 {
		t.Fatal("expected startup diagnostics")
	}
	found := false
	for _, item := range report.Items {
		if item.ID == "hf_token" {
			found = true
			if item.Status != domain.DiagnosticStatusFail {
				t.Fatalf("hf_token status = %s, want fail", item.Status)
			}
		}
	}
	if !found {
		t.Fatal("hf_token check missing")
	}
}

func upload(t *testing.T, baseURL, filename string, data []byte) domain.Job {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("audio", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	resp, err := http.Post(baseURL+"/api/transcribe", w.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("post upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload status = %d: %s", resp.StatusCode, raw)
	}

	var job domain.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	return job
}

func getJob(t *testing.T, baseURL, id string) domain.Job {
	t.Helper()
	resp, err := http.Get(baseURL + "/api/transcribe/" + id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get job status = %d", resp.StatusCode)
	}
	var job domain.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	return job
}

func readTelemetryBackup(t *testing.T, app *App) telemetry.Event {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(app.Settings.TelemetryDir, "telemetry_*.jsonl"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("telemetry backups = %v (err %v)", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	var event telemetry.Event
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&event); err != nil {
		t.Fatalf("decode backup: %v", err)
	}
	return event
}

// assertEventTypeExists verifies at least one event of given type exists.
func assertEventTypeExists(t *testing.T, events []jobs.Event, want jobs.EventType) {
	t.Helper()
	for _, event := range events {
		if event.Type == want {
			return
		}
	}
	t.Fatalf("event type %s not found", want)
}
