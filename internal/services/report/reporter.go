package report

import (
	"context"
	"fmt"
	"strings"

	"inventorybot/internal/config"
	"inventorybot/internal/services/ingest"

	"github.com/sirupsen/logrus"
)

// Summary is the final tally of a batch
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
}

// Reporter turns batch outcomes into checkpoints, a summary and a failure ledger.
// Delivery errors are logged and dropped; a Reporter never fails the batch.
type Reporter struct {
	ctx            context.Context
	presenter      Presenter
	log            *logrus.Entry
	conversationID int64
	interval       int
	ledgerName     string

	failures []ingest.Outcome
}

func New(ctx context.Context, presenter Presenter, log *logrus.Logger, conversationID int64, interval int) *Reporter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if interval < config.MinProgressInterval || interval > config.MaxProgressInterval {
		interval = config.MaxProgressInterval
	}
	return &Reporter{
		ctx:            ctx,
		presenter:      presenter,
		log:            log.WithField("conversation_id", conversationID),
		conversationID: conversationID,
		interval:       interval,
		ledgerName:     "failed_rows.txt",
	}
}

// Begin announces the batch and names the ledger after its category
func (r *Reporter) Begin(table string, total int) {
	r.failures = nil
	if name := strings.TrimPrefix(table, "data_"); name != table {
		if category, _, ok := strings.Cut(name, "_"); ok {
			r.ledgerName = "failed_" + category + ".txt"
		}
	}
	r.send(fmt.Sprintf("File received, writing %d rows into %s...", total, table))
}

// RowDone implements ingest.Observer
func (r *Reporter) RowDone(o ingest.Outcome, processed, total int) {
	if o.Failed() {
		r.failures = append(r.failures, o)
	}
	if processed%r.interval == 0 || processed == total {
		r.send(fmt.Sprintf("Progress: %d/%d", processed, total))
	}
}

// Finish sends the summary and, when any row failed, the ledger as a file
func (r *Reporter) Finish(res *ingest.Result) Summary {
	summary := Summary{Total: res.Total, Succeeded: res.Succeeded, Failed: res.Failed}

	var b strings.Builder
	if res.Aborted {
		fmt.Fprintf(&b, "Batch aborted after %d of %d rows.\n", res.Processed, res.Total)
		if res.Cause != nil {
			fmt.Fprintf(&b, "Error: %s\n", res.Cause)
		}
		b.WriteString("Please resubmit the file once the database is reachable.\n")
	}
	fmt.Fprintf(&b, "Summary:\n- Total rows: %d\n- Succeeded: %d\n- Failed: %d", summary.Total, summary.Succeeded, summary.Failed)
	r.send(b.String())

	failures := res.Failures
	if len(failures) == 0 {
		failures = r.failures
	}
	if len(failures) > 0 {
		r.attach(Ledger(failures))
	}
	return summary
}

// Ledger renders one "row_index | key | error" line per failure
func Ledger(failures []ingest.Outcome) []byte {
	var b strings.Builder
	for _, o := range failures {
		b.WriteString(o.LedgerLine())
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

func (r *Reporter) send(text string) {
	if err := r.presenter.PlainMessage(r.ctx, r.conversationID, text); err != nil {
		r.log.WithError(err).Warn("Failed to deliver progress message")
	}
}

func (r *Reporter) attach(data []byte) {
	if err := r.presenter.Attachment(r.ctx, r.conversationID, r.ledgerName, data); err != nil {
		r.log.WithError(err).WithField("file", r.ledgerName).Warn("Failed to deliver failure ledger")
	}
}
