package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"inventorybot/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Tracker keeps the progress of ingestion runs in memory and, when a database
// is given, mirrors it into the ingestion_runs table.
type Tracker struct {
	db  *gorm.DB
	log *logrus.Logger

	mu     sync.RWMutex
	runs   map[string]*RunProgress
	latest map[int64]string // conversation -> most recent run
}

// NewTracker creates a run tracker. db may be nil to keep history in memory only.
func NewTracker(db *gorm.DB, log *logrus.Logger) *Tracker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Tracker{
		db:     db,
		log:    log,
		runs:   make(map[string]*RunProgress),
		latest: make(map[int64]string),
	}
}

// Start registers a new run and returns its id. The previous run of the same
// conversation is dropped from memory.
func (t *Tracker) Start(conversationID int64, category, table string, total int) string {
	runID := uuid.New().String()
	progress := &RunProgress{
		RunID:          runID,
		ConversationID: conversationID,
		Category:       category,
		Table:          table,
		Status:         StatusStarting,
		Total:          total,
		Messages:       []string{fmt.Sprintf("Writing %d rows into %s", total, table)},
		StartedAt:      time.Now(),
	}

	t.mu.Lock()
	if prev, ok := t.latest[conversationID]; ok {
		delete(t.runs, prev)
	}
	t.runs[runID] = progress
	t.latest[conversationID] = runID
	t.mu.Unlock()

	if t.db != nil {
		run := &models.IngestionRun{
			ID:             runID,
			ConversationID: conversationID,
			Category:       category,
			TargetTable:    table,
			Status:         StatusStarting,
			Total:          total,
			Messages:       marshalMessages(progress.Messages),
		}
		if err := t.db.Create(run).Error; err != nil {
			t.log.WithError(err).WithField("run_id", runID).Warn("Failed to persist ingestion run")
		}
	}
	return runID
}

// Reject records a batch refused before any row was written
func (t *Tracker) Reject(conversationID int64, category, table, reason string) string {
	runID := t.Start(conversationID, category, table, 0)
	t.finish(runID, StatusRejected, nil, reason)
	return runID
}

// Advance updates counters in memory; the database copy is refreshed at checkpoints
func (t *Tracker) Advance(runID string, res *Result, persist bool) {
	t.mu.Lock()
	p, ok := t.runs[runID]
	if ok {
		p.Status = StatusRunning
		p.Processed = res.Processed
		p.Succeeded = res.Succeeded
		p.Failed = res.Failed
	}
	t.mu.Unlock()

	if ok && persist {
		t.updateProgress(runID, StatusRunning, res, fmt.Sprintf("Processed %d/%d", res.Processed, res.Total))
	}
}

// Complete marks a run finished, whether every row was attempted or the batch was aborted
func (t *Tracker) Complete(res *Result) {
	status := StatusCompleted
	errText := ""
	if res.Aborted {
		status = StatusAborted
		if res.Cause != nil {
			errText = res.Cause.Error()
		}
	}
	t.finish(res.RunID, status, res, errText)
}

func (t *Tracker) finish(runID, status string, res *Result, errText string) {
	message := "Rejected: " + errText
	if res != nil {
		message = fmt.Sprintf("Finished: %d succeeded, %d failed of %d", res.Succeeded, res.Failed, res.Total)
		if status == StatusAborted {
			message = fmt.Sprintf("Aborted after %d/%d rows: %s", res.Processed, res.Total, errText)
		}
	}

	t.mu.Lock()
	if p, ok := t.runs[runID]; ok {
		p.Error = errText
	}
	t.mu.Unlock()

	t.updateProgress(runID, status, res, message)

	if t.db == nil {
		return
	}
	now := time.Now()
	updates := map[string]any{"completed_at": &now, "error": errText}
	if res != nil {
		updates["ledger"] = ledgerText(res.Failures)
	}
	if err := t.db.Model(&models.IngestionRun{}).Where("id = ?", runID).Updates(updates).Error; err != nil {
		t.log.WithError(err).WithField("run_id", runID).Warn("Failed to close ingestion run")
	}
}

// updateProgress appends a message to the run and mirrors the counters to the database
func (t *Tracker) updateProgress(runID, status string, res *Result, message string) {
	t.mu.Lock()
	if p, ok := t.runs[runID]; ok {
		p.Status = status
		p.Messages = append(p.Messages, message)
		if res != nil {
			p.Processed = res.Processed
			p.Succeeded = res.Succeeded
			p.Failed = res.Failed
		}
	}
	t.mu.Unlock()

	if t.db != nil {
		var run models.IngestionRun
		if err := t.db.Where("id = ?", runID).First(&run).Error; err == nil {
			run.Status = status
			if res != nil {
				run.Processed = res.Processed
				run.Succeeded = res.Succeeded
				run.Failed = res.Failed
			}
			messages := unmarshalMessages(run.Messages)
			run.Messages = marshalMessages(append(messages, message))
			if err := t.db.Save(&run).Error; err != nil {
				t.log.WithError(err).WithField("run_id", runID).Warn("Failed to update ingestion run")
			}
		}
	}

	t.log.WithFields(logrus.Fields{"run_id": runID, "status": status}).Debug(message)
}

// Get returns a snapshot of a run, falling back to the database for runs no longer in memory
func (t *Tracker) Get(runID string) (*RunProgress, error) {
	t.mu.RLock()
	p, ok := t.runs[runID]
	var snapshot RunProgress
	if ok {
		snapshot = *p
		snapshot.Messages = append([]string(nil), p.Messages...)
	}
	t.mu.RUnlock()
	if ok {
		return &snapshot, nil
	}

	if t.db == nil {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	var run models.IngestionRun
	if err := t.db.Where("id = ?", runID).First(&run).Error; err != nil {
		return nil, fmt.Errorf("run not found: %w", err)
	}
	return fromModel(&run), nil
}

// Latest returns the most recent run of a conversation
func (t *Tracker) Latest(conversationID int64) (*RunProgress, error) {
	t.mu.RLock()
	runID, ok := t.latest[conversationID]
	t.mu.RUnlock()
	if ok {
		return t.Get(runID)
	}

	if t.db == nil {
		return nil, fmt.Errorf("no runs for conversation %d", conversationID)
	}
	var run models.IngestionRun
	err := t.db.Where("conversation_id = ?", conversationID).Order("created_at DESC").First(&run).Error
	if err != nil {
		return nil, fmt.Errorf("no runs for conversation %d: %w", conversationID, err)
	}
	return fromModel(&run), nil
}

// PruneHistory deletes persisted runs created before cutoff
func (t *Tracker) PruneHistory(cutoff time.Time) (int64, error) {
	if t.db == nil {
		return 0, nil
	}
	result := t.db.Where("created_at < ?", cutoff).Delete(&models.IngestionRun{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune ingestion runs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func fromModel(run *models.IngestionRun) *RunProgress {
	return &RunProgress{
		RunID:          run.ID,
		ConversationID: run.ConversationID,
		Category:       run.Category,
		Table:          run.TargetTable,
		Status:         run.Status,
		Total:          run.Total,
		Processed:      run.Processed,
		Succeeded:      run.Succeeded,
		Failed:         run.Failed,
		Messages:       unmarshalMessages(run.Messages),
		Error:          run.Error,
		StartedAt:      run.CreatedAt,
	}
}

func ledgerText(failures []Outcome) string {
	lines := make([]string, len(failures))
	for i, o := range failures {
		lines[i] = o.LedgerLine()
	}
	return strings.Join(lines, "\n")
}

func marshalMessages(messages []string) string {
	data, _ := json.Marshal(messages)
	return string(data)
}

func unmarshalMessages(messagesJSON string) []string {
	if messagesJSON == "" {
		return []string{}
	}
	var messages []string
	_ = json.Unmarshal([]byte(messagesJSON), &messages)
	return messages
}
