package jobs

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"meeting-minutes/internal/domain"
)

// JanitorOptions configures retention for finished jobs and stale uploads.
type JanitorOptions struct {
	Interval        time.Duration
	JobRetention    time.Duration
	UploadRetention time.Duration
	// UploadDir is scanned for files no live job owns. Empty disables it.
	UploadDir string
	Logger    *slog.Logger
}

// Janitor periodically evicts old terminal jobs and deletes upload files
// left behind by failed or forgotten jobs.
type Janitor struct {
	started  uint32
	store    *Store
	opts     JanitorOptions
	logger   *slog.Logger
	now      func() time.Time
	removeFn func(path string) error
	stopCh   chan chan struct{}
}

// NewJanitor returns a stopped janitor for store.
func NewJanitor(store *Store, opts JanitorOptions) *Janitor {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		store:    store,
		opts:     opts,
		logger:   logger.With("component", "jobs.janitor"),
		now:      func() time.Time { return time.Now().UTC() },
		removeFn: os.Remove,
		stopCh:   make(chan chan struct{}, 1),
	}
}

// Started returns true iff the janitor is currently running.
func (j *Janitor) Started() bool {
	return atomic.LoadUint32(&j.started) != 0
}

// Start begins periodic sweeps if the janitor is not already running.
func (j *Janitor) Start() {
	if atomic.SwapUint32(&j.started, 1) == 1 {
		return
	}
	go func() {
		defer atomic.StoreUint32(&j.started, 0)
		ticker := time.NewTicker(j.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case ch := <-j.stopCh:
				ch <- struct{}{}
				return
			case <-ticker.C:
				j.Sweep()
			}
		}
	}()
}

// Stop signals the janitor to stop, waiting up to wait for it to exit.
func (j *Janitor) Stop(wait time.Duration) {
	if j.Started() {
		ch := make(chan struct{}, 1)
		j.stopCh <- ch
		select {
		case <-ch:
		case <-time.After(wait):
		}
	}
}

// Sweep runs one retention pass and returns the number of evicted jobs.
func (j *Janitor) Sweep() int {
	now := j.now()
	evicted := 0
	if j.opts.JobRetention > 0 {
		for _, job := range j.store.Sweep(now.Add(-j.opts.JobRetention)) {
			evicted++
			// Completed jobs already released their source.
			if job.Status == domain.JobStatusFailed {
				j.remove(job.SourcePath)
			}
		}
		if evicted > 0 {
			j.logger.Info("evicted finished jobs", "count", evicted)
		}
	}
	if j.opts.UploadRetention > 0 && j.opts.UploadDir != "" {
		j.sweepUploads(now.Add(-j.opts.UploadRetention))
	}
	return evicted
}

// sweepUploads deletes upload files older than cutoff that no unfinished
// job still needs.
func (j *Janitor) sweepUploads(cutoff time.Time) {
	inUse := make(map[string]struct{})
	for _, job := range j.store.List() {
		if !job.Status.IsTerminal() && job.SourcePath != "" {
			inUse[filepath.Clean(job.SourcePath)] = struct{}{}
		}
	}

	entries, err := os.ReadDir(j.opts.UploadDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			j.logger.Warn("scan upload dir", "dir", j.opts.UploadDir, "error", err)
		}
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Clean(filepath.Join(j.opts.UploadDir, entry.Name()))
		if _, ok := inUse[path]; ok {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		j.remove(path)
	}
}

func (j *Janitor) remove(path string) {
	if path == "" {
		return
	}
	if err := j.removeFn(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		j.logger.Warn("remove upload", "path", path, "error", err)
		return
	}
	j.logger.Debug("removed upload", "path", path)
}
