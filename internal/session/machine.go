package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"inventorybot/internal/catalog"
	"inventorybot/internal/inventory"
	"inventorybot/internal/services/ingest"
	"inventorybot/internal/services/report"
	"inventorybot/internal/spreadsheet"

	"github.com/sirupsen/logrus"
)

// Runner writes a normalized batch; *ingest.Engine implements it
type Runner interface {
	Run(ctx context.Context, b ingest.Batch, obs ingest.Observer) (*ingest.Result, error)
	Tracker() *ingest.Tracker
}

type Options struct {
	ProgressInterval int
	MaxUploadBytes   int64
}

// Machine drives ingestion sessions through their phases. It holds no
// per-conversation state; callers own the *Session and serialize events for it.
type Machine struct {
	catalog   *catalog.Catalog
	runner    Runner
	presenter report.Presenter
	log       *logrus.Logger
	opts      Options
}

func NewMachine(cat *catalog.Catalog, runner Runner, presenter report.Presenter, log *logrus.Logger, opts Options) *Machine {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Machine{catalog: cat, runner: runner, presenter: presenter, log: log, opts: opts}
}

// Start creates a fresh session and prompts for the region
func (m *Machine) Start(ctx context.Context, conversationID int64, category inventory.Category) (*Session, error) {
	if _, err := inventory.SchemaFor(category); err != nil {
		return nil, err
	}
	s := &Session{ConversationID: conversationID, Category: category, Phase: SelectingRegion{}}
	m.prompt(ctx, s)
	return s, nil
}

// Handle applies one event. Events that do not fit the current phase leave it
// unchanged and re-prompt. The returned error is only for logging; the user has
// already been told what happened.
func (m *Machine) Handle(ctx context.Context, s *Session, ev Event) error {
	if s == nil {
		return ErrNoSession
	}
	if s.Done() {
		return ErrSessionDone
	}
	log := m.log.WithFields(logrus.Fields{"conversation_id": s.ConversationID, "phase": s.Phase.Name()})

	if _, ok := ev.(CancelEvent); ok {
		s.Phase = Done{Reason: "cancelled"}
		m.say(ctx, s, "Operation cancelled.")
		log.Info("Session cancelled")
		return nil
	}

	var err error
	switch phase := s.Phase.(type) {
	case SelectingRegion:
		err = m.onRegion(ctx, s, ev)
	case SelectingSite:
		err = m.onSite(ctx, s, phase, ev)
	case SelectingSubSite:
		err = m.onSubSite(ctx, s, phase, ev)
	case AwaitingFile:
		err = m.onFile(ctx, s, phase, ev)
	default:
		err = fmt.Errorf("unexpected phase %T", phase)
	}
	if err != nil {
		log.WithError(err).Debug("Event rejected")
	}
	return err
}

func (m *Machine) onRegion(ctx context.Context, s *Session, ev Event) error {
	value, err := m.selection(ctx, s, ev, FieldRegion)
	if err != nil {
		return err
	}
	if _, err := m.catalog.SitesFor(value); err != nil {
		m.say(ctx, s, fmt.Sprintf("Unknown region %s.", value))
		m.prompt(ctx, s)
		return err
	}
	s.Phase = SelectingSite{Region: value}
	m.prompt(ctx, s)
	return nil
}

func (m *Machine) onSite(ctx context.Context, s *Session, phase SelectingSite, ev Event) error {
	value, err := m.selection(ctx, s, ev, FieldSite)
	if err != nil {
		return err
	}
	if !m.catalog.SiteInRegion(phase.Region, value) {
		m.say(ctx, s, fmt.Sprintf("Site %s is not part of %s.", value, phase.Region))
		m.prompt(ctx, s)
		return fmt.Errorf("%w: %s in %s", catalog.ErrUnknownSite, value, phase.Region)
	}

	subSites, err := m.catalog.SubSitesFor(value)
	if err != nil {
		m.prompt(ctx, s)
		return err
	}
	if len(subSites) > 0 {
		s.Phase = SelectingSubSite{Region: phase.Region, Site: value}
		m.prompt(ctx, s)
		return nil
	}
	return m.awaitFile(ctx, s, phase.Region, value, "")
}

func (m *Machine) onSubSite(ctx context.Context, s *Session, phase SelectingSubSite, ev Event) error {
	value, err := m.selection(ctx, s, ev, FieldSubSite)
	if err != nil {
		return err
	}
	if !m.catalog.SubSiteInSite(phase.Site, value) {
		m.say(ctx, s, fmt.Sprintf("Sub-site %s is not part of %s.", value, phase.Site))
		m.prompt(ctx, s)
		return fmt.Errorf("%w: sub-site %s in %s", catalog.ErrUnknownSite, value, phase.Site)
	}
	return m.awaitFile(ctx, s, phase.Region, phase.Site, value)
}

// awaitFile resolves the table once, from the leaf selection
func (m *Machine) awaitFile(ctx context.Context, s *Session, region, site, subSite string) error {
	next := AwaitingFile{Region: region, Site: site, SubSite: subSite}
	table, err := inventory.ResolveTable(s.Category, next.Leaf())
	if err != nil {
		s.Phase = Done{Reason: "invalid selection"}
		m.say(ctx, s, fmt.Sprintf("Cannot use %s: %v", next.Leaf(), err))
		return err
	}
	next.Table = table
	s.Phase = next
	m.prompt(ctx, s)
	return nil
}

func (m *Machine) onFile(ctx context.Context, s *Session, phase AwaitingFile, ev Event) error {
	file, ok := ev.(FileEvent)
	if !ok {
		m.prompt(ctx, s)
		return fmt.Errorf("expected a file, got %T", ev)
	}

	rows, err := m.load(ctx, file, s.Category)
	if err != nil {
		m.runner.Tracker().Reject(s.ConversationID, string(s.Category), phase.Table.Name(), err.Error())
		m.say(ctx, s, rejectionText(err))
		m.prompt(ctx, s)
		return err
	}

	reporter := report.New(ctx, m.presenter, m.log, s.ConversationID, m.opts.ProgressInterval)
	reporter.Begin(phase.Table.Name(), len(rows))

	res, runErr := m.runner.Run(ctx, ingest.Batch{
		ConversationID: s.ConversationID,
		Table:          phase.Table,
		Region:         phase.Region,
		Leaf:           phase.Leaf(),
		Rows:           rows,
	}, reporter)

	s.Phase = Done{Reason: "processed"}
	if res == nil {
		m.say(ctx, s, fmt.Sprintf("Failed to process the file: %v", runErr))
		return runErr
	}
	reporter.Finish(res)
	return runErr
}

func (m *Machine) load(ctx context.Context, file FileEvent, category inventory.Category) ([]spreadsheet.Row, error) {
	limit := m.opts.MaxUploadBytes
	if limit > 0 && file.Size > limit {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", spreadsheet.ErrUnsupportedType, limit)
	}
	if err := spreadsheet.CheckDeclaredType(file.MimeType); err != nil {
		return nil, err
	}

	payload := file.Payload
	if payload == nil && file.Fetch != nil {
		var err error
		if payload, err = file.Fetch(ctx); err != nil {
			return nil, fmt.Errorf("download: %w", err)
		}
	}
	if limit > 0 && int64(len(payload)) > limit {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", spreadsheet.ErrUnsupportedType, limit)
	}
	if err := spreadsheet.CheckType(file.MimeType, payload); err != nil {
		return nil, err
	}
	schema, err := inventory.SchemaFor(category)
	if err != nil {
		return nil, err
	}
	return spreadsheet.Load(payload, schema)
}

// selection extracts the value of a selection event for field, re-prompting on anything else
func (m *Machine) selection(ctx context.Context, s *Session, ev Event, field string) (string, error) {
	sel, ok := ev.(SelectionEvent)
	if !ok || sel.Field != field {
		m.prompt(ctx, s)
		return "", fmt.Errorf("expected %s selection, got %T", field, ev)
	}
	return strings.ToUpper(strings.TrimSpace(sel.Value)), nil
}

// prompt (re)sends the menu or instruction for the current phase
func (m *Machine) prompt(ctx context.Context, s *Session) {
	label := s.Category.Label()
	var (
		text    string
		options []report.Option
	)

	switch phase := s.Phase.(type) {
	case SelectingRegion:
		text = fmt.Sprintf("Select the region for %s input:", label)
		options = menu(FieldRegion, m.catalog.Regions())
	case SelectingSite:
		sites, _ := m.catalog.SitesFor(phase.Region)
		text = fmt.Sprintf("Region %s selected. Select the site:", phase.Region)
		options = menu(FieldSite, sites)
	case SelectingSubSite:
		subs, _ := m.catalog.SubSitesFor(phase.Site)
		text = fmt.Sprintf("Sub-sites of %s, select one:", phase.Site)
		options = menu(FieldSubSite, subs)
	case AwaitingFile:
		m.say(ctx, s, fmt.Sprintf("%s selected. Send the %s spreadsheet (.xlsx).", phase.Leaf(), label))
		return
	default:
		return
	}

	if err := m.presenter.Prompt(ctx, s.ConversationID, text, options); err != nil {
		m.log.WithError(err).WithField("conversation_id", s.ConversationID).Warn("Failed to deliver prompt")
	}
}

func (m *Machine) say(ctx context.Context, s *Session, text string) {
	if err := m.presenter.PlainMessage(ctx, s.ConversationID, text); err != nil {
		m.log.WithError(err).WithField("conversation_id", s.ConversationID).Warn("Failed to deliver message")
	}
}

func menu(field string, codes []string) []report.Option {
	options := make([]report.Option, len(codes))
	for i, code := range codes {
		options[i] = report.Option{Label: code, Value: EncodeSelection(field, code)}
	}
	return options
}

func rejectionText(err error) string {
	var missing *spreadsheet.MissingColumnsError
	switch {
	case errors.As(err, &missing):
		return fmt.Sprintf("The file is missing required columns: %s. No rows were written.", strings.Join(missing.Columns, ", "))
	case errors.Is(err, spreadsheet.ErrUnsupportedType):
		return fmt.Sprintf("Please send an .xlsx spreadsheet (%v).", err)
	case errors.Is(err, spreadsheet.ErrNoHeader):
		return "The spreadsheet is empty; the first row must hold the column names."
	default:
		return fmt.Sprintf("Failed to read the file: %v", err)
	}
}
