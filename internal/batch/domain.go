package batch

import (
	"errors"
	"time"
)

// Batch job status constants
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

var (
	// ErrJobNotFound is returned when a job id is unknown or already evicted
	ErrJobNotFound = errors.New("batch job not found")

	// ErrEmptyPlateList is returned when a batch is submitted without plates
	ErrEmptyPlateList = errors.New("plate list is empty")

	// ErrSyncBatchTooLarge is returned when a synchronous batch exceeds the cap
	ErrSyncBatchTooLarge = errors.New("plate list exceeds synchronous batch cap")

	// ErrEmptyAccountList is returned when an account batch is submitted empty
	ErrEmptyAccountList = errors.New("account list is empty")
)

// QueryResult is the per-item outcome of one lookup. Money fields are in
// balboas, already converted from the portal's raw scaled units.
type QueryResult struct {
	Plate        string  `json:"plate"`
	Success      bool    `json:"success"`
	ChkDefaulter string  `json:"chk_defaulter,omitempty"`
	TypeAccount  string  `json:"type_account,omitempty"`
	Saldo        float64 `json:"saldo"`
	Adeudado     float64 `json:"adeudado"`
	Error        string  `json:"error,omitempty"`
}

// AccountBalance is one successfully resolved Panapass account balance,
// in balboas.
type AccountBalance struct {
	Account string  `json:"panapass"`
	Saldo   float64 `json:"saldo"`
}

// AccountFailure is one account the portal could not resolve.
type AccountFailure struct {
	Account string `json:"panapass"`
	Error   string `json:"error"`
}

// AccountReport partitions an account run's outcomes. Within each list,
// submission order is preserved.
type AccountReport struct {
	Consultados []AccountBalance `json:"consultados"`
	Errores     []AccountFailure `json:"errores"`
}

// BatchJob is the progress snapshot of one batch run, readable by pollers
// while the run proceeds. Results are ordered by submission order.
// Invariants: Processed <= Total, len(Results) == Processed, and status
// moves only processing -> completed or processing -> error.
type BatchJob struct {
	ID              string        `json:"id"`
	Total           int           `json:"total"`
	Processed       int           `json:"processed"`
	Status          string        `json:"status"`
	StartedAt       time.Time     `json:"started_at"`
	FinishedAt      *time.Time    `json:"finished_at,omitempty"`
	Results         []QueryResult `json:"results"`
	PersistFailures int           `json:"persist_failures"`
}

// Terminal reports whether the job has reached a final status.
func (j *BatchJob) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusError
}
