package lookup

import (
	"context"
	"fmt"
	"testing"

	"inventorybot/internal/inventory"
	"inventorybot/internal/services/report"
	"inventorybot/internal/session"
	"inventorybot/internal/storage"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakePresenter struct {
	prompts  [][]report.Option
	messages []string
}

func (f *fakePresenter) Prompt(_ context.Context, _ int64, _ string, options []report.Option) error {
	f.prompts = append(f.prompts, options)
	return nil
}

func (f *fakePresenter) PlainMessage(_ context.Context, _ int64, text string) error {
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakePresenter) Attachment(context.Context, int64, string, []byte) error { return nil }

func (f *fakePresenter) last() string { return f.messages[len(f.messages)-1] }

func setupService(t *testing.T) (*Service, *fakePresenter) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range []string{
		`CREATE TABLE data_ftm_kpo (sto TEXT, nama_gpon TEXT, ip TEXT)`,
		`CREATE TABLE data_ftm_gkw (sto TEXT, nama_gpon TEXT, ip TEXT)`,
		`CREATE TABLE data_uplink_mlg (sto TEXT, gpon_hostname TEXT)`,
		`CREATE TABLE ingestion_runs (id TEXT)`,
	} {
		require.NoError(t, db.Exec(stmt).Error)
	}
	for i := 1; i <= 25; i++ {
		require.NoError(t, db.Exec(`INSERT INTO data_ftm_kpo (sto, nama_gpon, ip) VALUES (?, ?, ?)`,
			"KPO", fmt.Sprintf("GPON-KPO-%02d", i), fmt.Sprintf("10.0.0.%d", i)).Error)
	}

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	presenter := &fakePresenter{}
	return NewService(storage.NewGormStore(db), presenter, log), presenter
}

func TestLookup(t *testing.T) {
	ctx := context.Background()

	t.Run("Should offer only loaded tables of the category", func(t *testing.T) {
		svc, p := setupService(t)
		c, err := svc.Start(ctx, 1, inventory.CategoryFTM)
		require.NoError(t, err)
		assert.False(t, c.Done)

		require.Len(t, p.prompts, 1)
		var labels []string
		for _, o := range p.prompts[0] {
			labels = append(labels, o.Label)
		}
		assert.Equal(t, []string{"GKW", "KPO"}, labels)
		assert.Equal(t, "sel|leaf|GKW", p.prompts[0][0].Value)
	})

	t.Run("Should search by identifier and cap results", func(t *testing.T) {
		svc, p := setupService(t)
		c, err := svc.Start(ctx, 1, inventory.CategoryFTM)
		require.NoError(t, err)

		require.NoError(t, svc.Handle(ctx, c, session.SelectionEvent{ConversationID: 1, Field: FieldLeaf, Value: "KPO"}))
		assert.Equal(t, "data_ftm_kpo", c.Table.Name())

		require.NoError(t, svc.Handle(ctx, c, session.TextEvent{ConversationID: 1, Text: "gpon-kpo"}))
		assert.True(t, c.Done)
		assert.Contains(t, p.last(), "FTM #20")
		assert.NotContains(t, p.last(), "FTM #21")
		assert.Contains(t, p.last(), "nama_gpon: GPON-KPO-01")
		assert.Contains(t, p.last(), "card: -")
	})

	t.Run("Should report no match", func(t *testing.T) {
		svc, p := setupService(t)
		c, err := svc.Start(ctx, 1, inventory.CategoryFTM)
		require.NoError(t, err)
		require.NoError(t, svc.Handle(ctx, c, session.SelectionEvent{ConversationID: 1, Field: FieldLeaf, Value: "GKW"}))
		require.NoError(t, svc.Handle(ctx, c, session.TextEvent{ConversationID: 1, Text: "nothing"}))
		assert.Equal(t, "No matching data found.", p.last())
	})

	t.Run("Should refuse tables that are not loaded", func(t *testing.T) {
		svc, _ := setupService(t)
		c, err := svc.Start(ctx, 1, inventory.CategoryFTM)
		require.NoError(t, err)

		err = svc.Handle(ctx, c, session.SelectionEvent{ConversationID: 1, Field: FieldLeaf, Value: "BTU"})
		assert.ErrorIs(t, err, inventory.ErrTableNotAllowed)
		assert.True(t, c.Table.IsZero())
	})

	t.Run("Should require a selection before text", func(t *testing.T) {
		svc, _ := setupService(t)
		c, err := svc.Start(ctx, 1, inventory.CategoryUplink)
		require.NoError(t, err)
		assert.Error(t, svc.Handle(ctx, c, session.TextEvent{ConversationID: 1, Text: "x"}))
		assert.False(t, c.Done)
	})

	t.Run("Should cancel", func(t *testing.T) {
		svc, _ := setupService(t)
		c, err := svc.Start(ctx, 1, inventory.CategoryUplink)
		require.NoError(t, err)
		require.NoError(t, svc.Handle(ctx, c, session.CancelEvent{ConversationID: 1}))
		assert.True(t, c.Done)
		assert.ErrorIs(t, svc.Handle(ctx, c, session.CancelEvent{ConversationID: 1}), session.ErrNoSession)
	})
}

func TestRender(t *testing.T) {
	schema, err := inventory.SchemaFor(inventory.CategoryUplink)
	require.NoError(t, err)

	out := Render(schema, []map[string]any{{"gpon_hostname": "GPON-1", "bw": []byte("10G"), "OTN-CROSS METRO": ""}})
	assert.Contains(t, out, "Metro #1")
	assert.Contains(t, out, "gpon_hostname: GPON-1")
	assert.Contains(t, out, "bw: 10G")
	assert.Contains(t, out, "OTN-CROSS METRO: -")
}
