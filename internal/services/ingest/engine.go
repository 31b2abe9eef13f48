package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"inventorybot/internal/inventory"
	"inventorybot/internal/spreadsheet"
	"inventorybot/internal/storage"

	"github.com/sirupsen/logrus"
)

const pingTimeout = 5 * time.Second

// Engine writes normalized rows one at a time with update-then-insert.
// A failing row never stops the batch; only a lost connection does.
type Engine struct {
	store        storage.Store
	tracker      *Tracker
	metrics      Metrics
	log          *logrus.Logger
	persistEvery int
}

func NewEngine(store storage.Store, tracker *Tracker, metrics Metrics, log *logrus.Logger, persistEvery int) *Engine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if tracker == nil {
		tracker = NewTracker(nil, log)
	}
	if persistEvery <= 0 {
		persistEvery = 500
	}
	return &Engine{
		store:        store,
		tracker:      tracker,
		metrics:      metrics,
		log:          log,
		persistEvery: persistEvery,
	}
}

func (e *Engine) Tracker() *Tracker { return e.tracker }

// Run writes the batch in file order. It returns ErrConnectionLost (wrapped)
// together with a partial result when the store becomes unreachable.
func (e *Engine) Run(ctx context.Context, b Batch, obs Observer) (*Result, error) {
	if b.Table.IsZero() {
		return nil, inventory.ErrTableNotAllowed
	}
	schema, err := inventory.SchemaFor(b.Table.Category())
	if err != nil {
		return nil, err
	}

	started := time.Now()
	category := string(b.Table.Category())
	res := &Result{Table: b.Table.Name(), Total: len(b.Rows)}
	res.RunID = e.tracker.Start(b.ConversationID, category, res.Table, res.Total)

	log := e.log.WithFields(logrus.Fields{
		"run_id":          res.RunID,
		"conversation_id": b.ConversationID,
		"table":           res.Table,
	})
	log.WithField("rows", res.Total).Info("Ingestion started")

	for _, row := range b.Rows {
		if err := ctx.Err(); err != nil {
			return e.abort(res, category, started, log, fmt.Errorf("batch interrupted: %w", err))
		}

		o := e.writeRow(ctx, schema, b, row)
		res.record(o)
		if e.metrics != nil {
			e.metrics.RowWritten(category, !o.Failed())
		}
		if obs != nil {
			obs.RowDone(o, res.Processed, res.Total)
		}
		e.tracker.Advance(res.RunID, res, res.Processed%e.persistEvery == 0)

		if !o.Failed() {
			continue
		}
		log.WithFields(logrus.Fields{"row": o.RowIndex, "line": row.Line(), "key": o.Key}).
			WithError(o.Err).Warn("Row failed")

		if storage.IsConnectionError(o.Err) && !e.storeAlive(ctx) {
			return e.abort(res, category, started, log, fmt.Errorf("%w: %v", ErrConnectionLost, o.Err))
		}
	}

	res.Elapsed = time.Since(started)
	e.tracker.Complete(res)
	if e.metrics != nil {
		e.metrics.BatchFinished(category, StatusCompleted, res.Elapsed)
	}
	log.WithFields(logrus.Fields{
		"succeeded": res.Succeeded,
		"failed":    res.Failed,
		"elapsed":   res.Elapsed,
	}).Info("Ingestion finished")
	return res, nil
}

func (e *Engine) abort(res *Result, category string, started time.Time, log *logrus.Entry, cause error) (*Result, error) {
	res.Aborted = true
	res.Cause = cause
	res.Elapsed = time.Since(started)
	e.tracker.Complete(res)
	if e.metrics != nil {
		e.metrics.BatchFinished(category, StatusAborted, res.Elapsed)
	}
	log.WithError(cause).WithField("processed", res.Processed).Error("Ingestion aborted")
	return res, cause
}

// writeRow performs the two-statement upsert for one row and classifies the outcome
func (e *Engine) writeRow(ctx context.Context, schema inventory.Schema, b Batch, row spreadsheet.Row) Outcome {
	fields := rowFields(schema, b, row)

	site, _ := fields[schema.SiteField].(string)
	id, hasID := row.String(schema.IDField)
	key := storage.Key{SiteColumn: schema.SiteField, Site: site, IDColumn: schema.IDField, ID: id}
	o := Outcome{RowIndex: row.Index, Key: key.String(), Status: OutcomeFailure}

	switch {
	case !hasID:
		o.Err = fmt.Errorf("missing %s", schema.IDField)
		return o
	case len(row.Problems) > 0:
		o.Err = errors.New(strings.Join(row.Problems, "; "))
		return o
	}

	matched, err := e.store.Update(ctx, b.Table, key, fields)
	if err != nil {
		o.Err = err
		return o
	}
	if matched == 0 {
		if err := e.store.Insert(ctx, b.Table, fields); err != nil {
			o.Err = err
			return o
		}
		o.Inserted = true
	}
	o.Status = OutcomeSuccess
	return o
}

// storeAlive distinguishes a dead connection from a single failed statement
func (e *Engine) storeAlive(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pingTimeout)
	defer cancel()
	return e.store.Ping(pingCtx) == nil
}

// rowFields copies the normalized values and applies the session-derived columns
func rowFields(schema inventory.Schema, b Batch, row spreadsheet.Row) map[string]any {
	fields := make(map[string]any, len(schema.Fields))
	for _, name := range schema.FieldNames() {
		fields[name] = row.Values[name]
	}
	if b.Region != "" {
		for _, name := range schema.RegionFields {
			fields[name] = b.Region
		}
	}
	if fields[schema.SiteField] == nil && b.Leaf != "" {
		fields[schema.SiteField] = b.Leaf
	}
	return fields
}
