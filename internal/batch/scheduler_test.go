package batch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/applabs/tollquery/internal/browser"
)

type fakeSessionManager struct {
	mu          sync.Mutex
	acquires    int
	recycles    int
	releases    int
	failFirst   bool
	failAlways  bool
	firstFailed bool
}

func (f *fakeSessionManager) Acquire(ctx context.Context) (*browser.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires++
	if f.failAlways {
		return nil, errors.New("allocator refused")
	}
	if f.failFirst && !f.firstFailed {
		f.firstFailed = true
		return nil, errors.New("allocator refused")
	}
	return &browser.Session{}, nil
}

func (f *fakeSessionManager) Recycle(ctx context.Context, session *browser.Session) (*browser.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recycles++
	if f.failAlways {
		return nil, errors.New("allocator refused")
	}
	return &browser.Session{}, nil
}

func (f *fakeSessionManager) Release(session *browser.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
}

func (f *fakeSessionManager) counts() (acquires, recycles, releases int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquires, f.recycles, f.releases
}

type fakeExecutor struct {
	mu           sync.Mutex
	calls        []string
	rejectPlates map[string]string
	errPlates    map[string]bool
	panicPlates  map[string]bool

	accountCalls   []string
	accountSaldos  map[string]string
	errAccounts    map[string]bool
	rejectAccounts map[string]string
}

func (f *fakeExecutor) Lookup(ctx context.Context, session *browser.Session, plate string) (*browser.LookupResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, plate)
	f.mu.Unlock()

	if f.panicPlates[plate] {
		panic("page context lost")
	}
	if f.errPlates[plate] {
		return nil, errors.New("evaluate: net::ERR_CONNECTION_RESET")
	}
	if message, ok := f.rejectPlates[plate]; ok {
		return &browser.LookupResult{Plate: plate, Success: false, Message: message}, nil
	}
	return &browser.LookupResult{
		Plate:         plate,
		Success:       true,
		ChkDefaulter:  "N",
		TypeAccount:   "PREPAGO",
		BalanceAmount: 1550,
		TotalAmount:   325,
	}, nil
}

func (f *fakeExecutor) LookupAccount(ctx context.Context, session *browser.Session, account string) (*browser.AccountResult, error) {
	f.mu.Lock()
	f.accountCalls = append(f.accountCalls, account)
	f.mu.Unlock()

	if f.errAccounts[account] {
		return nil, errors.New("evaluate: net::ERR_CONNECTION_RESET")
	}
	if message, ok := f.rejectAccounts[account]; ok {
		return &browser.AccountResult{Account: account, Success: false, Message: message}, nil
	}

	saldo, ok := f.accountSaldos[account]
	if !ok {
		saldo = "15.50"
	}
	return &browser.AccountResult{Account: account, Success: true, Saldo: saldo}, nil
}

type savedConsulta struct {
	plate  string
	marker time.Time
}

type fakePersister struct {
	mu      sync.Mutex
	saved   []savedConsulta
	failAll bool
}

func (f *fakePersister) SaveConsulta(ctx context.Context, plate string, result *browser.LookupResult, marker time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll {
		return errors.New("pq: connection refused")
	}
	f.saved = append(f.saved, savedConsulta{plate: plate, marker: marker})
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	bodies [][]byte
}

func (f *fakePublisher) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, body)
	return nil
}

func testSchedulerConfig() Config {
	return Config{
		ChunkSize:          5,
		RecycleEveryChunks: 2,
		SyncCap:            5,
	}
}

func testPlates(n int) []string {
	plates := make([]string, 0, n)
	for i := 0; i < n; i++ {
		plates = append(plates, "P"+string(rune('A'+i)))
	}
	return plates
}

func TestChunkPlates(t *testing.T) {
	tests := []struct {
		name     string
		count    int
		size     int
		expected []int
	}{
		{name: "even split with remainder", count: 12, size: 5, expected: []int{5, 5, 2}},
		{name: "exact single chunk", count: 5, size: 5, expected: []int{5}},
		{name: "single item", count: 1, size: 5, expected: []int{1}},
		{name: "zero size takes whole list", count: 7, size: 0, expected: []int{7}},
		{name: "empty list", count: 0, size: 5, expected: []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plates := testPlates(tt.count)
			chunks := chunkPlates(plates, tt.size)

			require.Len(t, chunks, len(tt.expected))

			flattened := make([]string, 0, tt.count)
			for i, chunk := range chunks {
				assert.Len(t, chunk, tt.expected[i])
				flattened = append(flattened, chunk...)
			}
			assert.Equal(t, plates, flattened)
		})
	}
}

func TestRun_SingleItemFailureDoesNotAbortBatch(t *testing.T) {
	sessions := &fakeSessionManager{}
	executor := &fakeExecutor{errPlates: map[string]bool{"PG": true}}
	store := &fakePersister{}
	tracker := NewTracker(time.Minute, testLogger())
	defer tracker.Close()

	s := NewScheduler(testSchedulerConfig(), sessions, executor, store, tracker, nil, testLogger())

	plates := testPlates(12)
	tracker.Create("job-1", len(plates))
	s.Run(context.Background(), "job-1", plates)

	job, err := tracker.Get("job-1")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 12, job.Processed)
	assert.NotNil(t, job.FinishedAt)
	require.Len(t, job.Results, 12)

	successes := 0
	for i, result := range job.Results {
		// Results stay in submission order regardless of outcome.
		assert.Equal(t, plates[i], result.Plate)
		if result.Success {
			successes++
			assert.Equal(t, 15.50, result.Saldo)
			assert.Equal(t, 3.25, result.Adeudado)
		}
	}
	assert.Equal(t, 11, successes)
	assert.Equal(t, "evaluate: net::ERR_CONNECTION_RESET", job.Results[6].Error)

	// Only successful lookups reach the store.
	assert.Len(t, store.saved, 11)
}

func TestRun_SessionRecycleCadence(t *testing.T) {
	sessions := &fakeSessionManager{}
	executor := &fakeExecutor{}
	tracker := NewTracker(time.Minute, testLogger())
	defer tracker.Close()

	s := NewScheduler(testSchedulerConfig(), sessions, executor, nil, tracker, nil, testLogger())

	plates := testPlates(12)
	tracker.Create("job-2", len(plates))
	s.Run(context.Background(), "job-2", plates)

	// Three chunks: the first acquires, the third hits the recycle cadence.
	acquires, recycles, releases := sessions.counts()
	assert.Equal(t, 1, acquires)
	assert.Equal(t, 1, recycles)
	assert.Equal(t, 1, releases)
}

func TestRun_ChunkSharesOneMarker(t *testing.T) {
	sessions := &fakeSessionManager{}
	executor := &fakeExecutor{}
	store := &fakePersister{}
	tracker := NewTracker(time.Minute, testLogger())
	defer tracker.Close()

	s := NewScheduler(testSchedulerConfig(), sessions, executor, store, tracker, nil, testLogger())

	plates := testPlates(12)
	tracker.Create("job-3", len(plates))
	s.Run(context.Background(), "job-3", plates)

	require.Len(t, store.saved, 12)

	for _, bounds := range [][2]int{{0, 5}, {5, 10}, {10, 12}} {
		marker := store.saved[bounds[0]].marker
		for _, saved := range store.saved[bounds[0]:bounds[1]] {
			assert.Equal(t, marker, saved.marker)
		}
	}
}

func TestRun_PersistenceFailuresAreNonFatal(t *testing.T) {
	sessions := &fakeSessionManager{}
	executor := &fakeExecutor{}
	store := &fakePersister{failAll: true}
	tracker := NewTracker(time.Minute, testLogger())
	defer tracker.Close()

	s := NewScheduler(testSchedulerConfig(), sessions, executor, store, tracker, nil, testLogger())

	plates := testPlates(6)
	tracker.Create("job-4", len(plates))
	s.Run(context.Background(), "job-4", plates)

	job, err := tracker.Get("job-4")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 6, job.Processed)
	assert.Equal(t, 6, job.PersistFailures)
	for _, result := range job.Results {
		assert.True(t, result.Success)
		assert.Empty(t, result.Error)
	}
}

func TestRun_SessionFailureFailsOnlyItsChunk(t *testing.T) {
	sessions := &fakeSessionManager{failFirst: true}
	executor := &fakeExecutor{}
	tracker := NewTracker(time.Minute, testLogger())
	defer tracker.Close()

	s := NewScheduler(testSchedulerConfig(), sessions, executor, nil, tracker, nil, testLogger())

	plates := testPlates(12)
	tracker.Create("job-5", len(plates))
	s.Run(context.Background(), "job-5", plates)

	job, err := tracker.Get("job-5")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 12, job.Processed)
	require.Len(t, job.Results, 12)

	for _, result := range job.Results[:5] {
		assert.False(t, result.Success)
		assert.Equal(t, "browser session unavailable", result.Error)
	}
	for _, result := range job.Results[5:] {
		assert.True(t, result.Success)
	}

	// First chunk never ran a lookup.
	assert.Len(t, executor.calls, 7)
}

func TestRun_ChunkPanicFailsRemainderOfChunkOnly(t *testing.T) {
	sessions := &fakeSessionManager{}
	executor := &fakeExecutor{panicPlates: map[string]bool{"PB": true}}
	tracker := NewTracker(time.Minute, testLogger())
	defer tracker.Close()

	s := NewScheduler(testSchedulerConfig(), sessions, executor, nil, tracker, nil, testLogger())

	plates := testPlates(12)
	tracker.Create("job-6", len(plates))
	s.Run(context.Background(), "job-6", plates)

	job, err := tracker.Get("job-6")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 12, job.Processed)
	require.Len(t, job.Results, 12)

	assert.True(t, job.Results[0].Success)
	for _, result := range job.Results[1:5] {
		assert.False(t, result.Success)
		assert.Equal(t, "chunk aborted by internal fault", result.Error)
	}
	for _, result := range job.Results[5:] {
		assert.True(t, result.Success)
	}
}

func TestRun_ChunkPanicDoesNotLeakSession(t *testing.T) {
	sessions := &fakeSessionManager{}
	executor := &fakeExecutor{panicPlates: map[string]bool{"PB": true}}
	tracker := NewTracker(time.Minute, testLogger())
	defer tracker.Close()

	s := NewScheduler(testSchedulerConfig(), sessions, executor, nil, tracker, nil, testLogger())

	plates := testPlates(12)
	tracker.Create("job-10", len(plates))
	s.Run(context.Background(), "job-10", plates)

	job, err := tracker.Get("job-10")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)

	// The session survives the chunk fault: the second chunk reuses it
	// instead of acquiring a fresh one, and the run releases it at the end.
	acquires, recycles, releases := sessions.counts()
	assert.Equal(t, 1, acquires)
	assert.Equal(t, 1, recycles)
	assert.Equal(t, 1, releases)
	assert.Equal(t, acquires, releases)

	// Chunk one stops at the fault; chunks two and three run in full.
	assert.Len(t, executor.calls, 9)
}

func TestRun_AllSessionsFailYieldsCompletedBatchOfFailures(t *testing.T) {
	sessions := &fakeSessionManager{failAlways: true}
	executor := &fakeExecutor{}
	tracker := NewTracker(time.Minute, testLogger())
	defer tracker.Close()

	s := NewScheduler(testSchedulerConfig(), sessions, executor, nil, tracker, nil, testLogger())

	plates := testPlates(7)
	tracker.Create("job-7", len(plates))
	s.Run(context.Background(), "job-7", plates)

	job, err := tracker.Get("job-7")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, 7, job.Processed)
	for _, result := range job.Results {
		assert.False(t, result.Success)
	}
	assert.Empty(t, executor.calls)
}

func TestRun_RejectedLookupCarriesPortalMessage(t *testing.T) {
	sessions := &fakeSessionManager{}
	executor := &fakeExecutor{rejectPlates: map[string]string{
		"PA": "Placa no encontrada",
		"PB": "",
	}}
	tracker := NewTracker(time.Minute, testLogger())
	defer tracker.Close()

	s := NewScheduler(testSchedulerConfig(), sessions, executor, nil, tracker, nil, testLogger())

	plates := testPlates(2)
	tracker.Create("job-8", len(plates))
	s.Run(context.Background(), "job-8", plates)

	job, err := tracker.Get("job-8")
	require.NoError(t, err)

	require.Len(t, job.Results, 2)
	assert.Equal(t, "Placa no encontrada", job.Results[0].Error)
	assert.Equal(t, "portal rejected the lookup", job.Results[1].Error)
}

func TestRun_PublishesCompletionEvent(t *testing.T) {
	sessions := &fakeSessionManager{}
	executor := &fakeExecutor{errPlates: map[string]bool{"PC": true}}
	events := &fakePublisher{}
	tracker := NewTracker(time.Minute, testLogger())
	defer tracker.Close()

	s := NewScheduler(testSchedulerConfig(), sessions, executor, nil, tracker, events, testLogger())

	plates := testPlates(4)
	tracker.Create("job-9", len(plates))
	s.Run(context.Background(), "job-9", plates)

	require.Len(t, events.bodies, 1)

	var event struct {
		JobID     string `json:"job_id"`
		Total     int    `json:"total"`
		Processed int    `json:"processed"`
		Successes int    `json:"successes"`
		Status    string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(events.bodies[0], &event))
	assert.Equal(t, "job-9", event.JobID)
	assert.Equal(t, 4, event.Total)
	assert.Equal(t, 4, event.Processed)
	assert.Equal(t, 3, event.Successes)
	assert.Equal(t, StatusCompleted, event.Status)
}

func TestSubmit(t *testing.T) {
	sessions := &fakeSessionManager{}
	executor := &fakeExecutor{}
	tracker := NewTracker(time.Minute, testLogger())
	defer tracker.Close()

	s := NewScheduler(testSchedulerConfig(), sessions, executor, nil, tracker, nil, testLogger())

	_, _, err := s.Submit(nil)
	assert.ErrorIs(t, err, ErrEmptyPlateList)

	plates := testPlates(3)
	job, estimate, err := s.Submit(plates)
	require.NoError(t, err)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, StatusProcessing, job.Status)
	assert.Equal(t, 3, job.Total)
	assert.Equal(t, 0, job.Processed)
	assert.GreaterOrEqual(t, estimate, time.Duration(0))

	require.Eventually(t, func() bool {
		snapshot, err := tracker.Get(job.ID)
		return err == nil && snapshot.Status == StatusCompleted
	}, time.Second, 5*time.Millisecond)

	final, err := tracker.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, final.Processed)
	assert.Len(t, final.Results, 3)
}

func TestRunSync(t *testing.T) {
	sessions := &fakeSessionManager{}
	executor := &fakeExecutor{errPlates: map[string]bool{"PB": true}}
	store := &fakePersister{}
	tracker := NewTracker(time.Minute, testLogger())
	defer tracker.Close()

	s := NewScheduler(testSchedulerConfig(), sessions, executor, store, tracker, nil, testLogger())

	results, err := s.RunSync(context.Background(), testPlates(3))
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.True(t, results[2].Success)

	// Single session for the whole run, released at the end.
	acquires, _, releases := sessions.counts()
	assert.Equal(t, 1, acquires)
	assert.Equal(t, 1, releases)

	// One marker for the whole synchronous run.
	require.Len(t, store.saved, 2)
	assert.Equal(t, store.saved[0].marker, store.saved[1].marker)
}

func TestRunSync_RejectsOversizedListBeforeSessionSetup(t *testing.T) {
	sessions := &fakeSessionManager{}
	executor := &fakeExecutor{}
	tracker := NewTracker(time.Minute, testLogger())
	defer tracker.Close()

	s := NewScheduler(testSchedulerConfig(), sessions, executor, nil, tracker, nil, testLogger())

	_, err := s.RunSync(context.Background(), testPlates(6))
	assert.ErrorIs(t, err, ErrSyncBatchTooLarge)

	_, err = s.RunSync(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyPlateList)

	acquires, _, _ := sessions.counts()
	assert.Equal(t, 0, acquires)
}

func TestRunAccounts(t *testing.T) {
	sessions := &fakeSessionManager{}
	executor := &fakeExecutor{
		accountSaldos:  map[string]string{"10001": "42.75", "10004": "not-a-number"},
		rejectAccounts: map[string]string{"10002": "Cuenta no encontrada"},
		errAccounts:    map[string]bool{"10003": true},
	}
	tracker := NewTracker(time.Minute, testLogger())
	defer tracker.Close()

	s := NewScheduler(testSchedulerConfig(), sessions, executor, nil, tracker, nil, testLogger())

	report, err := s.RunAccounts(context.Background(), []string{"10001", "10002", "10003", "10004", "10005"})
	require.NoError(t, err)

	require.Len(t, report.Consultados, 2)
	assert.Equal(t, AccountBalance{Account: "10001", Saldo: 42.75}, report.Consultados[0])
	assert.Equal(t, AccountBalance{Account: "10005", Saldo: 15.50}, report.Consultados[1])

	require.Len(t, report.Errores, 3)
	assert.Equal(t, AccountFailure{Account: "10002", Error: "Cuenta no encontrada"}, report.Errores[0])
	assert.Equal(t, "evaluate: net::ERR_CONNECTION_RESET", report.Errores[1].Error)
	assert.Equal(t, AccountFailure{Account: "10004", Error: "portal returned an unreadable balance"}, report.Errores[2])

	// Single session for the whole run, released at the end.
	acquires, _, releases := sessions.counts()
	assert.Equal(t, 1, acquires)
	assert.Equal(t, 1, releases)
}

func TestRunAccounts_RejectsOversizedListBeforeSessionSetup(t *testing.T) {
	sessions := &fakeSessionManager{}
	executor := &fakeExecutor{}
	tracker := NewTracker(time.Minute, testLogger())
	defer tracker.Close()

	s := NewScheduler(testSchedulerConfig(), sessions, executor, nil, tracker, nil, testLogger())

	_, err := s.RunAccounts(context.Background(), []string{"1", "2", "3", "4", "5", "6"})
	assert.ErrorIs(t, err, ErrSyncBatchTooLarge)

	_, err = s.RunAccounts(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyAccountList)

	acquires, _, _ := sessions.counts()
	assert.Equal(t, 0, acquires)
	assert.Empty(t, executor.accountCalls)
}

func TestLookupOne(t *testing.T) {
	sessions := &fakeSessionManager{}
	executor := &fakeExecutor{}
	store := &fakePersister{}
	tracker := NewTracker(time.Minute, testLogger())
	defer tracker.Close()

	s := NewScheduler(testSchedulerConfig(), sessions, executor, store, tracker, nil, testLogger())

	result, err := s.LookupOne(context.Background(), "EI2430")
	require.NoError(t, err)

	assert.Equal(t, "EI2430", result.Plate)
	assert.True(t, result.Success)
	assert.Equal(t, int64(1550), result.BalanceAmount)

	// Direct lookups bypass the store.
	assert.Empty(t, store.saved)

	acquires, _, releases := sessions.counts()
	assert.Equal(t, 1, acquires)
	assert.Equal(t, 1, releases)
}

func TestEstimateDuration(t *testing.T) {
	config := Config{
		ChunkSize:      5,
		ItemDelayMin:   2 * time.Second,
		ItemDelayMax:   4 * time.Second,
		ChunkDelayMin:  10 * time.Second,
		ChunkDelayMax:  20 * time.Second,
		LookupEstimate: 5 * time.Second,
	}
	s := NewScheduler(config, &fakeSessionManager{}, &fakeExecutor{}, nil, NewTracker(time.Minute, testLogger()), nil, testLogger())

	// 12 items at 8s each plus 2 chunk gaps of 15s.
	assert.Equal(t, 126*time.Second, s.EstimateDuration(12))
	assert.Equal(t, 8*time.Second, s.EstimateDuration(1))
}

func TestQueryResultJSONOmitsEmptyError(t *testing.T) {
	body, err := json.Marshal(QueryResult{Plate: "EI2430", Success: true, Saldo: 15.5})
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(body), "error"))

	body, err = json.Marshal(QueryResult{Plate: "EI2430", Error: "boom"})
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `"error":"boom"`))
}
