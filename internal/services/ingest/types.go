package ingest

import (
	"errors"
	"fmt"
	"time"

	"inventorybot/internal/inventory"
	"inventorybot/internal/spreadsheet"
)

// ErrConnectionLost aborts the remainder of a batch when the store stops answering
var ErrConnectionLost = errors.New("database connection lost")

// Run statuses, shared by the in-memory registry and the ingestion_runs table
const (
	StatusStarting  = "starting"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
	StatusRejected  = "rejected"
)

// OutcomeStatus is the result of writing one row
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailure OutcomeStatus = "failure"
)

// Outcome is the explicit per-row result collected by the batch loop
type Outcome struct {
	RowIndex int    // 1-based data row
	Key      string // site/id
	Status   OutcomeStatus
	Inserted bool // true when the update matched nothing and the row was inserted
	Err      error
}

func (o Outcome) Failed() bool { return o.Status == OutcomeFailure }

// LedgerLine renders the outcome as "row_index | key | error"
func (o Outcome) LedgerLine() string {
	detail := ""
	if o.Err != nil {
		detail = o.Err.Error()
	}
	return fmt.Sprintf("%d | %s | %s", o.RowIndex, o.Key, detail)
}

// Batch is one uploaded file ready to be written
type Batch struct {
	ConversationID int64
	Table          inventory.TableRef
	Region         string // fills the schema's region fields
	Leaf           string // fallback for the site column
	Rows           []spreadsheet.Row
}

// Result summarizes a batch. When Aborted is set, counts cover the rows processed before the abort.
type Result struct {
	RunID     string
	Table     string
	Total     int
	Processed int
	Succeeded int
	Failed    int
	Failures  []Outcome
	Aborted   bool
	Cause     error
	Elapsed   time.Duration
}

func (r *Result) record(o Outcome) {
	r.Processed++
	if o.Failed() {
		r.Failed++
		r.Failures = append(r.Failures, o)
		return
	}
	r.Succeeded++
}

// Observer receives every outcome in file order, after the row is written
type Observer interface {
	RowDone(o Outcome, processed, total int)
}

// Metrics receives batch and row counters; nil disables recording
type Metrics interface {
	RowWritten(category string, ok bool)
	BatchFinished(category, outcome string, elapsed time.Duration)
}

// RunProgress represents the live state of one ingestion run
type RunProgress struct {
	RunID          string    `json:"run_id"`
	ConversationID int64     `json:"conversation_id"`
	Category       string    `json:"category"`
	Table          string    `json:"table"`
	Status         string    `json:"status"`
	Total          int       `json:"total"`
	Processed      int       `json:"processed"`
	Succeeded      int       `json:"succeeded"`
	Failed         int       `json:"failed"`
	Messages       []string  `json:"messages"`
	Error          string    `json:"error,omitempty"`
	StartedAt      time.Time `json:"started_at"`
}
