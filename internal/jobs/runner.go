package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"meeting-minutes/internal/domain"
	"meeting-minutes/internal/transcribe"
)

// Pipeline isolates the transcription pipeline behind an interface.
type Pipeline interface {
	Run(ctx context.Context, req transcribe.Request) (transcribe.Result, error)
}

// Report summarizes one finished job for telemetry.
type Report struct {
	Job     domain.Job
	Result  transcribe.Result
	Elapsed time.Duration
	Err     error
}

// RunnerOptions configures optional runner behavior.
type RunnerOptions struct {
	// Timeout bounds one pipeline run; zero disables it.
	Timeout time.Duration
	// OnFinished receives a report after a job reaches a terminal state.
	OnFinished func(Report)
	Logger     *slog.Logger
}

// Runner drives jobs through the pipeline, one goroutine per job. It is the
// only writer of the records of the jobs it runs.
type Runner struct {
	store      *Store
	events     *EventBus
	pipeline   Pipeline
	timeout    time.Duration
	onFinished func(Report)
	logger     *slog.Logger
	removeFile func(path string) error
	wg         sync.WaitGroup
}

// NewRunner creates a runner writing to store and events.
func NewRunner(store *Store, events *EventBus, pipeline Pipeline, opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:      store,
		events:     events,
		pipeline:   pipeline,
		timeout:    opts.Timeout,
		onFinished: opts.OnFinished,
		logger:     logger.With("component", "jobs.runner"),
		removeFile: os.Remove,
	}
}

// Submit registers a pending job for sourcePath and starts it in the
// background. It returns without waiting for any pipeline stage.
func (r *Runner) Submit(jobID, sourcePath string) (domain.Job, error) {
	job, err := r.store.Create(jobID, sourcePath)
	if err != nil {
		return domain.Job{}, err
	}
	r.publish(Event{JobID: jobID, Type: EventTypeStatus, Status: job.Status, Message: job.Message})
	r.logger.Info("job submitted", "job_id", jobID, "source", sourcePath)

	r.wg.Add(1)
	go r.run(jobID, sourcePath)
	return job, nil
}

// Wait blocks until every submitted job has reached a terminal state.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// run executes one job and records its outcome.
func (r *Runner) run(jobID, sourcePath string) {
	defer r.wg.Done()
	started := time.Now()

	ctx := context.Background()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	job, err := r.store.Update(jobID, func(job *domain.Job) error {
		job.Status = domain.JobStatusProcessing
		job.Progress = 10
		job.Message = "Preparing transcription..."
		return nil
	})
	if err != nil {
		r.logger.Error("start job", "job_id", jobID, "error", err)
		return
	}
	r.publish(Event{JobID: jobID, Type: EventTypeStatus, Status: job.Status, Progress: job.Progress, Message: job.Message})

	result, err := r.execute(ctx, jobID, sourcePath)
	if err != nil {
		job = r.fail(jobID, err)
	} else {
		job = r.complete(jobID, sourcePath, result)
	}

	if r.onFinished != nil {
		r.onFinished(Report{
			Job:     job,
			Result:  result,
			Elapsed: time.Since(started),
			Err:     err,
		})
	}
}

// execute runs the pipeline while a single consumer applies its progress
// events to the store. Panics are converted into errors.
func (r *Runner) execute(ctx context.Context, jobID, sourcePath string) (result transcribe.Result, err error) {
	progress := make(chan transcribe.Progress)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range progress {
			r.applyProgress(jobID, p)
		}
	}()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("pipeline panic", "job_id", jobID, "panic", rec, "stack", string(debug.Stack()))
			result = transcribe.Result{}
			err = fmt.Errorf("internal error: %v", rec)
		}
		close(progress)
		<-done
	}()

	return r.pipeline.Run(ctx, transcribe.Request{
		AudioPath: sourcePath,
		Progress:  progress,
	})
}

// applyProgress records one stage checkpoint.
func (r *Runner) applyProgress(jobID string, p transcribe.Progress) {
	job, err := r.store.Update(jobID, func(job *domain.Job) error {
		if p.Percent > job.Progress {
			job.Progress = p.Percent
		}
		job.Message = p.Message
		return nil
	})
	if err != nil {
		r.logger.Warn("apply progress", "job_id", jobID, "error", err)
		return
	}
	r.logger.Debug("job progress", "job_id", jobID, "progress", job.Progress, "message", job.Message)
	r.publish(Event{JobID: jobID, Type: EventTypeProgress, Status: job.Status, Progress: job.Progress, Message: job.Message})
}

// fail moves the job to failed, keeping its last progress.
func (r *Runner) fail(jobID string, cause error) domain.Job {
	detail := cause.Error()
	job, err := r.store.Update(jobID, func(job *domain.Job) error {
		job.Status = domain.JobStatusFailed
		job.Message = "Error: " + detail
		job.Error = detail
		return nil
	})
	if err != nil {
		r.logger.Error("record job failure", "job_id", jobID, "error", err)
		return job
	}

	r.logger.Warn("job failed", "job_id", jobID, "progress", job.Progress, "error", detail)
	r.publish(Event{JobID: jobID, Type: EventTypeError, Status: job.Status, Progress: job.Progress, Message: detail})

	var pipelineErr *transcribe.PipelineError
	if errors.As(cause, &pipelineErr) && pipelineErr.CommandLog.Command != "" {
		r.publish(Event{
			JobID:    jobID,
			Type:     EventTypeLog,
			Message:  "Failed command",
			Command:  pipelineErr.CommandLog.Command,
			Args:     pipelineErr.CommandLog.Args,
			ExitCode: pipelineErr.CommandLog.ExitCode,
			Stderr:   pipelineErr.CommandLog.Stderr,
		})
	}
	return job
}

// complete stores the transcript and releases the uploaded source file.
func (r *Runner) complete(jobID, sourcePath string, result transcribe.Result) domain.Job {
	job, err := r.store.Update(jobID, func(job *domain.Job) error {
		job.Status = domain.JobStatusCompleted
		job.Progress = 100
		job.Message = "Transcription completed"
		job.Transcript = result.Lines
		return nil
	})
	if err != nil {
		r.logger.Error("record job completion", "job_id", jobID, "error", err)
		return job
	}

	if err := r.removeFile(sourcePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		r.logger.Warn("remove uploaded audio", "job_id", jobID, "path", sourcePath, "error", err)
	}

	r.logger.Info("job completed", "job_id", jobID, "lines", len(job.Transcript))
	r.publish(Event{
		JobID:    jobID,
		Type:     EventTypeResult,
		Status:   job.Status,
		Progress: job.Progress,
		Message:  job.Message,
		Lines:    len(job.Transcript),
	})
	return job
}

// publish stores an event when an event bus is configured.
func (r *Runner) publish(event Event) {
	if r.events != nil {
		r.events.Publish(event)
	}
}
