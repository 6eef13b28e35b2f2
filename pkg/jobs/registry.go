package jobs

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/promptgate/promptgate/pkg/models"
)

// ErrNotFound is returned when a job ID is unknown to the registry.
var ErrNotFound = errors.New("job not found")

// ErrFinished is returned when completing a job that already reached a
// terminal state. Status transitions are monotonic; a finished job is never
// revisited.
var ErrFinished = errors.New("job already finished")

// Registry is a thread-safe mapping from job ID to job state, consulted by
// concurrent pollers while the worker mutates it. Job IDs are never reused.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*models.JobRecord
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*models.JobRecord)}
}

// Create registers a new single-prompt job. The job starts in Processing:
// admission always drives exactly one execution, so there is no externally
// visible queued phase.
func (r *Registry) Create() models.JobRecord {
	return r.create(0)
}

// CreateBatch registers a new batch job covering totalPrompts prompts.
func (r *Registry) CreateBatch(totalPrompts int) models.JobRecord {
	return r.create(totalPrompts)
}

func (r *Registry) create(totalPrompts int) models.JobRecord {
	rec := models.JobRecord{
		ID:           uuid.NewString(),
		Status:       models.StatusProcessing,
		StartedAt:    time.Now().UTC(),
		TotalPrompts: totalPrompts,
	}

	r.mu.Lock()
	r.jobs[rec.ID] = &rec
	r.mu.Unlock()

	return rec
}

// Complete records the terminal outcome of a single-prompt job. The final
// status is Completed or Failed depending on the result.
func (r *Registry) Complete(id string, result models.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status.Terminal() {
		return ErrFinished
	}

	if result.Success {
		j.Status = models.StatusCompleted
	} else {
		j.Status = models.StatusFailed
	}
	now := time.Now().UTC()
	j.CompletedAt = &now
	j.Result = &result
	return nil
}

// CompleteBatch records the per-prompt results of a batch job. A batch job
// completes even when individual prompts failed; callers inspect Results.
func (r *Registry) CompleteBatch(id string, results []models.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status.Terminal() {
		return ErrFinished
	}

	j.Status = models.StatusCompleted
	now := time.Now().UTC()
	j.CompletedAt = &now
	j.Results = results
	return nil
}

// Get returns a copy of the job record for the given ID.
func (r *Registry) Get(id string) (models.JobRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return models.JobRecord{}, ErrNotFound
	}
	return *j, nil
}

// List returns summaries of all jobs, newest first.
func (r *Registry) List() []models.JobSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	summaries := make([]models.JobSummary, 0, len(r.jobs))
	for _, j := range r.jobs {
		summaries = append(summaries, models.JobSummary{
			ID:          j.ID,
			Status:      j.Status,
			StartedAt:   j.StartedAt,
			CompletedAt: j.CompletedAt,
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartedAt.After(summaries[j].StartedAt)
	})
	return summaries
}
