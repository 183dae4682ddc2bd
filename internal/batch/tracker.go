package batch

import (
	"log/slog"
	"sync"
	"time"
)

// Tracker is a keyed store of batch progress snapshots with TTL eviction.
// Each job id is written only by its own batch run; pollers read
// concurrently. Snapshots of terminal jobs are evicted once, a fixed
// retention period after reaching the terminal status.
type Tracker struct {
	mu        sync.RWMutex
	jobs      map[string]*BatchJob
	timers    map[string]*time.Timer
	retention time.Duration
	logger    *slog.Logger
}

// NewTracker creates a Tracker that evicts terminal jobs after retention.
func NewTracker(retention time.Duration, logger *slog.Logger) *Tracker {
	return &Tracker{
		jobs:      make(map[string]*BatchJob),
		timers:    make(map[string]*time.Timer),
		retention: retention,
		logger:    logger,
	}
}

// Create registers a new job in processing state and returns its snapshot.
func (t *Tracker) Create(id string, total int) BatchJob {
	job := BatchJob{
		ID:        id,
		Total:     total,
		Status:    StatusProcessing,
		StartedAt: time.Now().UTC(),
		Results:   []QueryResult{},
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	stored := cloneJob(job)
	t.jobs[id] = &stored

	t.logger.Info("Batch job registered",
		slog.String("job_id", id),
		slog.Int("total", total),
	)

	return job
}

// Update replaces the stored snapshot for the job. When the snapshot is
// terminal, eviction is scheduled exactly once.
func (t *Tracker) Update(snapshot BatchJob) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.jobs[snapshot.ID]; !ok {
		// Already evicted; nothing left to update.
		return
	}

	stored := cloneJob(snapshot)
	t.jobs[snapshot.ID] = &stored

	if stored.Terminal() {
		if _, scheduled := t.timers[snapshot.ID]; !scheduled {
			id := snapshot.ID
			t.timers[id] = time.AfterFunc(t.retention, func() {
				t.evict(id)
			})
		}
	}
}

// Get returns the current snapshot for the job id.
func (t *Tracker) Get(id string) (BatchJob, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	job, ok := t.jobs[id]
	if !ok {
		return BatchJob{}, ErrJobNotFound
	}

	return cloneJob(*job), nil
}

// Close stops all pending eviction timers.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}

func (t *Tracker) evict(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.jobs, id)
	delete(t.timers, id)

	t.logger.Info("Batch job evicted",
		slog.String("job_id", id),
	)
}

// cloneJob deep-copies a snapshot so stored and returned values never
// share the results slice with the writer.
func cloneJob(job BatchJob) BatchJob {
	results := make([]QueryResult, len(job.Results))
	copy(results, job.Results)
	job.Results = results

	if job.FinishedAt != nil {
		finished := *job.FinishedAt
		job.FinishedAt = &finished
	}

	return job
}
