package report

import (
	"context"
	"errors"
	"strings"
	"testing"

	"inventorybot/internal/services/ingest"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type attachment struct {
	name string
	data []byte
}

type fakePresenter struct {
	messages    []string
	attachments []attachment
	err         error
}

func (f *fakePresenter) Prompt(_ context.Context, _ int64, text string, _ []Option) error {
	f.messages = append(f.messages, text)
	return f.err
}

func (f *fakePresenter) PlainMessage(_ context.Context, _ int64, text string) error {
	f.messages = append(f.messages, text)
	return f.err
}

func (f *fakePresenter) Attachment(_ context.Context, _ int64, filename string, data []byte) error {
	f.attachments = append(f.attachments, attachment{name: filename, data: data})
	return f.err
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func success(i int) ingest.Outcome {
	return ingest.Outcome{RowIndex: i, Key: "KPO/A", Status: ingest.OutcomeSuccess}
}

func failure(i int, key, msg string) ingest.Outcome {
	return ingest.Outcome{RowIndex: i, Key: key, Status: ingest.OutcomeFailure, Err: errors.New(msg)}
}

func TestReporterCheckpoints(t *testing.T) {
	p := &fakePresenter{}
	r := New(context.Background(), p, quietLogger(), 1, 200)
	r.Begin("data_ftm_kpo", 450)

	for i := 1; i <= 450; i++ {
		r.RowDone(success(i), i, 450)
	}

	var checkpoints []string
	for _, m := range p.messages {
		if strings.HasPrefix(m, "Progress:") {
			checkpoints = append(checkpoints, m)
		}
	}
	assert.Equal(t, []string{"Progress: 200/450", "Progress: 400/450", "Progress: 450/450"}, checkpoints)
}

func TestReporterIntervalBounds(t *testing.T) {
	p := &fakePresenter{}
	r := New(context.Background(), p, quietLogger(), 1, 10)
	assert.Equal(t, 500, r.interval, "out-of-range interval falls back to the maximum")
}

func TestReporterFinish(t *testing.T) {
	t.Run("Should send the summary and a one-line-per-failure ledger", func(t *testing.T) {
		p := &fakePresenter{}
		r := New(context.Background(), p, quietLogger(), 1, 200)
		r.Begin("data_ftm_x", 3)

		res := &ingest.Result{
			Total: 3, Processed: 3, Succeeded: 2, Failed: 1,
			Failures: []ingest.Outcome{failure(2, "X/-", "missing nama_gpon")},
		}
		summary := r.Finish(res)

		assert.Equal(t, Summary{Total: 3, Succeeded: 2, Failed: 1}, summary)
		last := p.messages[len(p.messages)-1]
		assert.Contains(t, last, "Total rows: 3")
		assert.Contains(t, last, "Succeeded: 2")
		assert.Contains(t, last, "Failed: 1")

		require.Len(t, p.attachments, 1)
		assert.Equal(t, "failed_ftm.txt", p.attachments[0].name)
		assert.Equal(t, "2 | X/- | missing nama_gpon\n", string(p.attachments[0].data))
	})

	t.Run("Should not attach a ledger when nothing failed", func(t *testing.T) {
		p := &fakePresenter{}
		r := New(context.Background(), p, quietLogger(), 1, 200)
		r.Finish(&ingest.Result{Total: 1, Processed: 1, Succeeded: 1})
		assert.Empty(t, p.attachments)
	})

	t.Run("Should report partial counts when aborted", func(t *testing.T) {
		p := &fakePresenter{}
		r := New(context.Background(), p, quietLogger(), 1, 200)
		r.Finish(&ingest.Result{
			Total: 10, Processed: 4, Succeeded: 3, Failed: 1, Aborted: true,
			Cause:    ingest.ErrConnectionLost,
			Failures: []ingest.Outcome{failure(4, "KPO/D", "driver: bad connection")},
		})

		last := p.messages[len(p.messages)-1]
		assert.Contains(t, last, "aborted after 4 of 10 rows")
		assert.Contains(t, last, ingest.ErrConnectionLost.Error())
		require.Len(t, p.attachments, 1)
	})

	t.Run("Should swallow delivery errors", func(t *testing.T) {
		p := &fakePresenter{err: errors.New("chat not found")}
		r := New(context.Background(), p, quietLogger(), 1, 200)
		r.Begin("data_uplink_mlg", 1)
		r.RowDone(failure(1, "MLG/-", "missing gpon_hostname"), 1, 1)

		assert.NotPanics(t, func() {
			summary := r.Finish(&ingest.Result{Total: 1, Processed: 1, Failed: 1})
			assert.Equal(t, 1, summary.Failed)
		})
		require.Len(t, p.attachments, 1, "ledger falls back to the observed failures")
		assert.Equal(t, "failed_uplink.txt", p.attachments[0].name)
	})
}
