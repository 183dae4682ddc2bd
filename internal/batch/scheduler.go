package batch

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/applabs/tollquery/internal/browser"
)

// SessionManager owns the browser session lifecycle consumed by the
// scheduler.
type SessionManager interface {
	Acquire(ctx context.Context) (*browser.Session, error)
	Recycle(ctx context.Context, session *browser.Session) (*browser.Session, error)
	Release(session *browser.Session)
}

// Persister writes one successful lookup to the relational store, stamped
// with the chunk's execution marker. Failures are reported to the caller,
// who treats them as non-fatal.
type Persister interface {
	SaveConsulta(ctx context.Context, plate string, result *browser.LookupResult, marker time.Time) error
}

// EventPublisher publishes a batch-completion event to the message broker.
type EventPublisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Config holds batch scheduling configuration.
type Config struct {
	ChunkSize          int
	RecycleEveryChunks int
	ItemDelayMin       time.Duration
	ItemDelayMax       time.Duration
	ChunkDelayMin      time.Duration
	ChunkDelayMax      time.Duration
	SyncCap            int
	SyncDelayMin       time.Duration
	SyncDelayMax       time.Duration
	LookupEstimate     time.Duration
}

// Scheduler turns a submitted plate list into a sequence of isolated
// lookups over one exclusive browser session, reporting progress through
// the Tracker. One failing item never aborts its chunk; one failing chunk
// never aborts the batch.
type Scheduler struct {
	config   Config
	sessions SessionManager
	executor browser.Executor
	store    Persister
	tracker  *Tracker
	events   EventPublisher
	logger   *slog.Logger
}

// NewScheduler creates a Scheduler. store and events may be nil, in which
// case persistence and event publishing are skipped.
func NewScheduler(config Config, sessions SessionManager, executor browser.Executor, store Persister, tracker *Tracker, events EventPublisher, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		config:   config,
		sessions: sessions,
		executor: executor,
		store:    store,
		tracker:  tracker,
		events:   events,
		logger:   logger,
	}
}

// Submit registers a new batch job and launches its run in the background.
// The returned snapshot and duration estimate are handed to the caller
// immediately; processing continues decoupled from the submitting request.
func (s *Scheduler) Submit(plates []string) (BatchJob, time.Duration, error) {
	if len(plates) == 0 {
		return BatchJob{}, 0, ErrEmptyPlateList
	}

	id := uuid.New().String()
	job := s.tracker.Create(id, len(plates))

	go s.Run(context.Background(), id, plates)

	return job, s.EstimateDuration(len(plates)), nil
}

// Run processes the batch identified by jobID. Exported so small
// deployments can run batches inline under their own supervision.
func (s *Scheduler) Run(ctx context.Context, jobID string, plates []string) {
	job, err := s.tracker.Get(jobID)
	if err != nil {
		s.logger.Error("Batch run aborted, job unknown",
			slog.String("job_id", jobID),
		)
		return
	}

	var session *browser.Session

	defer func() {
		if session != nil {
			s.sessions.Release(session)
		}
		if r := recover(); r != nil {
			s.logger.Error("Batch run failed with unhandled fault",
				slog.String("job_id", jobID),
				slog.Any("panic", r),
			)
			if !job.Terminal() {
				s.finish(ctx, &job, StatusError)
			}
		}
	}()

	s.logger.Info("Batch run started",
		slog.String("job_id", jobID),
		slog.Int("total", len(plates)),
		slog.Int("chunk_size", s.config.ChunkSize),
	)

	chunks := chunkPlates(plates, s.config.ChunkSize)
	for i, chunk := range chunks {
		if i > 0 {
			s.sleepRandom(ctx, s.config.ChunkDelayMin, s.config.ChunkDelayMax)
		}
		session = s.processChunk(ctx, &job, session, i, chunk)
	}

	s.finish(ctx, &job, StatusCompleted)
}

// processChunk runs every item of one chunk against the session, stamping
// a single execution marker for the whole chunk. It returns the session to
// carry into the next chunk (nil when session setup failed). An unhandled
// fault inside the chunk marks the unresolved items failed and lets the
// next chunk proceed; the live session is still handed back so it is
// reused or released, never orphaned.
func (s *Scheduler) processChunk(ctx context.Context, job *BatchJob, session *browser.Session, index int, plates []string) (next *browser.Session) {
	resolved := 0

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Chunk failed with unhandled fault",
				slog.String("job_id", job.ID),
				slog.Int("chunk", index),
				slog.Any("panic", r),
			)
			s.failRemaining(job, plates[resolved:], "chunk aborted by internal fault")
			next = session
		}
	}()

	var err error
	if session == nil || (s.config.RecycleEveryChunks > 0 && index%s.config.RecycleEveryChunks == 0) {
		if session == nil {
			session, err = s.sessions.Acquire(ctx)
		} else {
			session, err = s.sessions.Recycle(ctx, session)
		}
		if err != nil {
			s.logger.Error("Session setup failed for chunk",
				slog.String("job_id", job.ID),
				slog.Int("chunk", index),
				slog.Any("error", err),
			)
			s.failRemaining(job, plates, "browser session unavailable")
			return nil
		}
	}

	// One marker for every record persisted from this chunk, stamped
	// before any item runs.
	marker := time.Now().UTC().Truncate(time.Second)

	for i, plate := range plates {
		result := s.lookupItem(ctx, job, session, plate, marker)

		resolved = i + 1
		job.Results = append(job.Results, result)
		job.Processed++
		s.tracker.Update(*job)

		s.sleepRandom(ctx, s.config.ItemDelayMin, s.config.ItemDelayMax)
	}

	return session
}

// lookupItem executes one lookup and, on success, hands the raw result to
// the persister. Persistence failure is counted and logged, never
// surfaced: the lookup outcome stands on its own.
func (s *Scheduler) lookupItem(ctx context.Context, job *BatchJob, session *browser.Session, plate string, marker time.Time) QueryResult {
	raw, err := s.executor.Lookup(ctx, session, plate)
	if err != nil {
		s.logger.Warn("Lookup failed",
			slog.String("job_id", job.ID),
			slog.String("plate", plate),
			slog.Any("error", err),
		)
		return QueryResult{Plate: plate, Error: err.Error()}
	}

	if !raw.Success {
		message := raw.Message
		if message == "" {
			message = "portal rejected the lookup"
		}
		return QueryResult{Plate: plate, Error: message}
	}

	if s.store != nil {
		if err := s.store.SaveConsulta(ctx, plate, raw, marker); err != nil {
			job.PersistFailures++
			s.logger.Error("Failed to persist consulta",
				slog.String("job_id", job.ID),
				slog.String("plate", plate),
				slog.Any("error", err),
			)
		}
	}

	return QueryResult{
		Plate:        plate,
		Success:      true,
		ChkDefaulter: raw.ChkDefaulter,
		TypeAccount:  raw.TypeAccount,
		Saldo:        raw.Balance(),
		Adeudado:     raw.Owed(),
	}
}

// RunSync processes a size-capped batch inline and returns the full result
// list. Oversized requests are rejected before any session is acquired.
func (s *Scheduler) RunSync(ctx context.Context, plates []string) ([]QueryResult, error) {
	if len(plates) == 0 {
		return nil, ErrEmptyPlateList
	}
	if len(plates) > s.config.SyncCap {
		return nil, ErrSyncBatchTooLarge
	}

	session, err := s.sessions.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.sessions.Release(session)

	marker := time.Now().UTC().Truncate(time.Second)
	scratch := BatchJob{ID: "sync", Total: len(plates)}

	results := make([]QueryResult, 0, len(plates))
	for i, plate := range plates {
		if i > 0 {
			s.sleepRandom(ctx, s.config.SyncDelayMin, s.config.SyncDelayMax)
		}
		results = append(results, s.lookupItem(ctx, &scratch, session, plate, marker))
	}

	return results, nil
}

// RunAccounts resolves Panapass account balances inline over one session,
// partitioning outcomes into resolved balances and failures. Account
// lookups are never persisted. The synchronous size cap applies and
// oversized requests are rejected before any session is acquired.
func (s *Scheduler) RunAccounts(ctx context.Context, accounts []string) (*AccountReport, error) {
	if len(accounts) == 0 {
		return nil, ErrEmptyAccountList
	}
	if len(accounts) > s.config.SyncCap {
		return nil, ErrSyncBatchTooLarge
	}

	session, err := s.sessions.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.sessions.Release(session)

	report := &AccountReport{
		Consultados: []AccountBalance{},
		Errores:     []AccountFailure{},
	}

	for i, account := range accounts {
		if i > 0 {
			s.sleepRandom(ctx, s.config.SyncDelayMin, s.config.SyncDelayMax)
		}

		raw, err := s.executor.LookupAccount(ctx, session, account)
		if err != nil {
			s.logger.Warn("Account lookup failed",
				slog.String("account", account),
				slog.Any("error", err),
			)
			report.Errores = append(report.Errores, AccountFailure{Account: account, Error: err.Error()})
			continue
		}

		if !raw.Success {
			message := raw.Message
			if message == "" {
				message = "portal rejected the lookup"
			}
			report.Errores = append(report.Errores, AccountFailure{Account: account, Error: message})
			continue
		}

		saldo, err := raw.Balance()
		if err != nil {
			report.Errores = append(report.Errores, AccountFailure{Account: account, Error: "portal returned an unreadable balance"})
			continue
		}

		report.Consultados = append(report.Consultados, AccountBalance{Account: account, Saldo: saldo})
	}

	return report, nil
}

// LookupOne performs a single lookup and returns the raw decoded result
// without touching the relational store.
func (s *Scheduler) LookupOne(ctx context.Context, plate string) (*browser.LookupResult, error) {
	session, err := s.sessions.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer s.sessions.Release(session)

	return s.executor.Lookup(ctx, session, plate)
}

// EstimateDuration approximates how long a batch of n items will take,
// from the configured delay midpoints and the per-lookup round trip.
func (s *Scheduler) EstimateDuration(n int) time.Duration {
	itemCost := (s.config.ItemDelayMin+s.config.ItemDelayMax)/2 + s.config.LookupEstimate

	chunks := 0
	if s.config.ChunkSize > 0 {
		chunks = (n + s.config.ChunkSize - 1) / s.config.ChunkSize
	}

	estimate := time.Duration(n) * itemCost
	if chunks > 1 {
		estimate += time.Duration(chunks-1) * (s.config.ChunkDelayMin + s.config.ChunkDelayMax) / 2
	}

	return estimate
}

// Tracker returns the progress store backing this scheduler.
func (s *Scheduler) Tracker() *Tracker {
	return s.tracker
}

// SyncCap returns the maximum size of a synchronous batch.
func (s *Scheduler) SyncCap() int {
	return s.config.SyncCap
}

func (s *Scheduler) finish(ctx context.Context, job *BatchJob, status string) {
	now := time.Now().UTC()
	job.Status = status
	job.FinishedAt = &now
	s.tracker.Update(*job)

	s.logger.Info("Batch run finished",
		slog.String("job_id", job.ID),
		slog.String("status", status),
		slog.Int("processed", job.Processed),
		slog.Int("persist_failures", job.PersistFailures),
	)

	s.publishCompletion(ctx, *job)
}

// publishCompletion emits a summary event for downstream reporting
// consumers. Best-effort, like persistence.
func (s *Scheduler) publishCompletion(ctx context.Context, job BatchJob) {
	if s.events == nil {
		return
	}

	successes := 0
	for _, r := range job.Results {
		if r.Success {
			successes++
		}
	}

	event := struct {
		JobID           string     `json:"job_id"`
		Total           int        `json:"total"`
		Processed       int        `json:"processed"`
		Successes       int        `json:"successes"`
		Status          string     `json:"status"`
		PersistFailures int        `json:"persist_failures"`
		StartedAt       time.Time  `json:"started_at"`
		FinishedAt      *time.Time `json:"finished_at"`
	}{
		JobID:           job.ID,
		Total:           job.Total,
		Processed:       job.Processed,
		Successes:       successes,
		Status:          job.Status,
		PersistFailures: job.PersistFailures,
		StartedAt:       job.StartedAt,
		FinishedAt:      job.FinishedAt,
	}

	body, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("Failed to encode batch event",
			slog.Any("error", err),
		)
		return
	}

	if err := s.events.PublishWithRetry(ctx, body, "application/json"); err != nil {
		s.logger.Error("Failed to publish batch event",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
	}
}

// failRemaining appends a generic failure for every plate not yet
// individually resolved and pushes the snapshot.
func (s *Scheduler) failRemaining(job *BatchJob, plates []string, message string) {
	for _, plate := range plates {
		job.Results = append(job.Results, QueryResult{Plate: plate, Error: message})
		job.Processed++
	}
	s.tracker.Update(*job)
}

// chunkPlates partitions plates into ordered chunks of at most size items,
// preserving input order. Only the last chunk may be shorter.
func chunkPlates(plates []string, size int) [][]string {
	if size <= 0 {
		size = len(plates)
	}
	if size == 0 {
		return nil
	}

	chunks := make([][]string, 0, (len(plates)+size-1)/size)
	for start := 0; start < len(plates); start += size {
		end := start + size
		if end > len(plates) {
			end = len(plates)
		}
		chunks = append(chunks, plates[start:end])
	}

	return chunks
}

func (s *Scheduler) sleepRandom(ctx context.Context, min, max time.Duration) {
	delay := min
	if max > min {
		delay = min + time.Duration(rand.Int63n(int64(max-min)))
	}
	if delay <= 0 {
		return
	}

	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}
