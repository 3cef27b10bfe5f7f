package jobs

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"meeting-minutes/internal/domain"
)

// ErrNotFound is returned for unknown job identifiers.
var ErrNotFound = fmt.Errorf("job %w", domain.ErrNotFound)

// ErrJobExists is returned when creating a job with a used identifier.
var ErrJobExists = errors.New("job already exists")

// ErrJobFinished is returned when updating a completed or failed job.
var ErrJobFinished = errors.New("job already finished")

// NewJobID returns a random job identifier.
func NewJobID() string {
	return uuid.NewString()
}

// Store is the concurrency-safe registry of job records. Every read returns a
// copy and every write replaces a record as a whole under one lock.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
	now  func() time.Time
}

// NewStore creates an empty job registry.
func NewStore() *Store {
	return &Store{
		jobs: make(map[string]domain.Job),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Create registers a pending job owning sourcePath.
func (s *Store) Create(jobID, sourcePath string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[jobID]; ok {
		return domain.Job{}, fmt.Errorf("%w: %s", ErrJobExists, jobID)
	}

	now := s.now()
	job := domain.Job{
		ID:         jobID,
		Status:     domain.JobStatusPending,
		Progress:   0,
		Message:    "Audio uploaded",
		SourcePath: sourcePath,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.jobs[jobID] = job
	return job.Clone(), nil
}

// Get returns a snapshot of one job.
func (s *Store) Get(jobID string) (domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	return job.Clone(), nil
}

// Update applies mutate to a copy of the job and commits it only if mutate
// succeeds and the resulting transition is allowed. Terminal jobs are
// rejected with ErrJobFinished and progress never moves backwards.
func (s *Store) Update(jobID string, mutate func(job *domain.Job) error) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[jobID]
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if current.Status.IsTerminal() {
		return current.Clone(), ErrJobFinished
	}

	next := current.Clone()
	if err := mutate(&next); err != nil {
		return current.Clone(), err
	}

	next.ID = current.ID
	next.SourcePath = current.SourcePath
	next.CreatedAt = current.CreatedAt
	if !isValidTransition(current.Status, next.Status) {
		return current.Clone(), fmt.Errorf("invalid transition: %s -> %s", current.Status, next.Status)
	}

	next.Progress = clampProgress(next.Progress, current.Progress)
	switch next.Status {
	case domain.JobStatusCompleted:
		next.Error = ""
		if next.Transcript == nil {
			next.Transcript = []domain.TranscriptLine{}
		}
	case domain.JobStatusFailed:
		next.Transcript = nil
	default:
		next.Transcript = nil
		next.Error = ""
	}
	next.UpdatedAt = s.now()

	s.jobs[jobID] = next
	return next.Clone(), nil
}

// Delete removes a job record regardless of status.
func (s *Store) Delete(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
}

// List returns snapshots of all jobs ordered by creation time.
func (s *Store) List() []domain.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Sweep evicts terminal jobs last updated before cutoff and returns them.
func (s *Store) Sweep(cutoff time.Time) []domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []domain.Job
	for id, job := range s.jobs {
		if job.Status.IsTerminal() && job.UpdatedAt.Before(cutoff) {
			evicted = append(evicted, job)
			delete(s.jobs, id)
		}
	}
	return evicted
}

// clampProgress keeps progress within [floor, 100].
func clampProgress(progress, floor int) int {
	if progress < floor {
		progress = floor
	}
	if progress > 100 {
		progress = 100
	}
	return progress
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to domain.JobStatus) bool {
	switch from {
	case domain.JobStatusPending:
		return to == domain.JobStatusPending || to == domain.JobStatusProcessing || to == domain.JobStatusFailed
	case domain.JobStatusProcessing:
		return to == domain.JobStatusProcessing || to == domain.JobStatusCompleted || to == domain.JobStatusFailed
	default:
		return false
	}
}
