package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"inventorybot/internal/api"
	"inventorybot/internal/bot"
	"inventorybot/internal/catalog"
	"inventorybot/internal/config"
	"inventorybot/internal/database"
	"inventorybot/internal/inventory"
	"inventorybot/internal/metrics"
	"inventorybot/internal/services/ingest"
	"inventorybot/internal/services/lookup"
	"inventorybot/internal/services/report"
	"inventorybot/internal/services/scheduler"
	"inventorybot/internal/session"
	"inventorybot/internal/spreadsheet"
	"inventorybot/internal/storage"
	"inventorybot/internal/transport/telegram"

	"github.com/gabriel-vasile/mimetype"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	pruneJobName    = "prune-run-history"
	downloadTimeout = 2 * time.Minute
	shutdownTimeout = 30 * time.Second
)

// App holds the process-wide components shared by every conversation
type App struct {
	cfg *config.Configuration
	log *logrus.Logger

	db               *gorm.DB
	catalog          *catalog.Catalog
	store            *storage.GormStore
	tracker          *ingest.Tracker
	metrics          *metrics.Collector
	engine           *ingest.Engine
	schedulerService *scheduler.Service
}

func NewApp(cfg *config.Configuration) *App {
	return &App{cfg: cfg, log: cfg.Logger()}
}

// startup connects the store and builds the shared services
func (a *App) startup() error {
	a.log.Info("Application starting up...")

	db, err := database.Open(a.cfg.Database, a.log)
	if err != nil {
		return err
	}
	a.db = db

	// run history is optional; without it the tracker is memory-only
	var historyDB *gorm.DB
	if a.cfg.RunHistory.Enabled {
		if err := database.AutoMigrate(db); err != nil {
			return fmt.Errorf("failed to migrate run history: %w", err)
		}
		historyDB = db
	}

	a.catalog, err = catalog.Load(a.cfg.CatalogPath)
	if err != nil {
		return err
	}

	a.store = storage.NewGormStore(db)
	a.tracker = ingest.NewTracker(historyDB, a.log)
	a.metrics = metrics.New()
	a.engine = ingest.NewEngine(a.store, a.tracker, a.metrics, a.log, a.cfg.ProgressInterval)

	a.log.WithField("regions", len(a.catalog.Regions())).Info("Startup complete")
	return nil
}

// shutdown stops background jobs and closes the pool
func (a *App) shutdown(ctx context.Context) {
	a.log.Info("Application shutting down...")

	if a.schedulerService != nil {
		a.schedulerService.Stop(ctx)
	}
	if err := database.Close(a.db); err != nil {
		a.log.WithError(err).Warn("Error closing database")
	}

	a.log.Info("Shutdown complete")
}

func (a *App) newMachine(presenter report.Presenter) *session.Machine {
	return session.NewMachine(a.catalog, a.engine, presenter, a.log, session.Options{
		ProgressInterval: a.cfg.ProgressInterval,
		MaxUploadBytes:   a.cfg.MaxUploadBytes,
	})
}

// startScheduler registers the retention job and starts the cron loop
func (a *App) startScheduler() error {
	if !a.cfg.RunHistory.Enabled {
		return nil
	}
	a.schedulerService = scheduler.NewService(a.db, a.tracker, a.log)
	_, err := a.schedulerService.UpsertJob(scheduler.UpsertJobRequest{
		Name:    pruneJobName,
		JobType: scheduler.JobTypePruneRuns,
		Cron:    a.cfg.RunHistory.PruneCron,
		Enabled: true,
		Payload: scheduler.PrunePayload{Retention: a.cfg.RunHistory.Retention.String()},
	})
	if err != nil {
		return fmt.Errorf("failed to register prune job: %w", err)
	}
	return a.schedulerService.Start()
}

// serve runs the Telegram bot until ctx is cancelled
func (a *App) serve(ctx context.Context, token string) error {
	botAPI, err := telegram.Connect(token, a.cfg.Telegram.Debug)
	if err != nil {
		return err
	}
	a.log.WithField("bot", botAPI.Self.UserName).Info("Authorized on Telegram")

	if err := a.startScheduler(); err != nil {
		a.log.WithError(err).Warn("Scheduler not started")
	}

	if addr := a.cfg.MetricsAddr; addr != "" {
		go func() {
			if err := a.metrics.Serve(ctx, addr, a.log); err != nil {
				a.log.WithError(err).Error("Metrics listener failed")
			}
		}()
	}

	presenter := telegram.NewPresenter(botAPI)
	dispatcher := bot.NewDispatcher(
		a.newMachine(presenter),
		lookup.NewService(a.store, presenter, a.log),
		a.tracker,
		presenter,
		a.log,
	)
	adapter := telegram.NewAdapter(botAPI, dispatcher, api.NewClient(downloadTimeout, a.cfg.MaxUploadBytes), a.log)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = a.cfg.Telegram.PollTimeout
	updates := botAPI.GetUpdatesChan(u)

	a.log.Info("Bot is running")
	adapter.Run(ctx, updates)
	botAPI.StopReceivingUpdates()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("Conversations still running at shutdown")
	}
	return nil
}

type ingestOptions struct {
	Kind    string
	Region  string
	Site    string
	SubSite string
	File    string
}

// ingestFile drives one ingestion session from the command line. Prompts and the
// summary go to out; the failure ledger is written next to the input file.
func (a *App) ingestFile(ctx context.Context, opts ingestOptions, out io.Writer) error {
	category, err := inventory.ParseCategory(opts.Kind)
	if err != nil {
		return err
	}
	payload, err := os.ReadFile(opts.File)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", opts.File, err)
	}

	const conversationID = 0
	machine := a.newMachine(&consolePresenter{out: out, dir: filepath.Dir(opts.File)})

	s, err := machine.Start(ctx, conversationID, category)
	if err != nil {
		return err
	}

	selections := []session.SelectionEvent{
		{ConversationID: conversationID, Field: session.FieldRegion, Value: opts.Region},
		{ConversationID: conversationID, Field: session.FieldSite, Value: opts.Site},
	}
	if opts.SubSite != "" {
		selections = append(selections, session.SelectionEvent{ConversationID: conversationID, Field: session.FieldSubSite, Value: opts.SubSite})
	}
	for _, ev := range selections {
		if err := machine.Handle(ctx, s, ev); err != nil {
			return err
		}
	}
	if _, ok := s.Phase.(session.AwaitingFile); !ok {
		return errors.New("selection incomplete: the site has sub-sites, pass --sub-site")
	}

	return machine.Handle(ctx, s, session.FileEvent{
		ConversationID: conversationID,
		Payload:        payload,
		Size:           int64(len(payload)),
		MimeType:       fileMimeType(opts.File, payload),
		FileName:       filepath.Base(opts.File),
	})
}

func fileMimeType(path string, payload []byte) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return spreadsheet.MIMETypeXLSX
	case ".xls":
		return spreadsheet.MIMETypeXLS
	default:
		return mimetype.Detect(payload).String()
	}
}
