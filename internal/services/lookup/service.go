package lookup

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"inventorybot/internal/inventory"
	"inventorybot/internal/services/report"
	"inventorybot/internal/session"
	"inventorybot/internal/storage"

	"github.com/sirupsen/logrus"
)

// FieldLeaf is the selection field of the table menu
const FieldLeaf = "leaf"

// DefaultLimit caps the rows returned by one search
const DefaultLimit = 20

// Conversation is a read-only lookup in progress
type Conversation struct {
	ConversationID int64
	Category       inventory.Category
	Table          inventory.TableRef // zero until a leaf is chosen
	Done           bool
}

// Service lists loaded tables for a category and searches them by primary identifier
type Service struct {
	store     storage.Store
	presenter report.Presenter
	log       *logrus.Logger
	limit     int
}

func NewService(store storage.Store, presenter report.Presenter, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{store: store, presenter: presenter, log: log, limit: DefaultLimit}
}

// Leaves returns the upper-case leaf codes that have a table for category
func (s *Service) Leaves(ctx context.Context, category inventory.Category) ([]string, error) {
	tables, err := s.store.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	var leaves []string
	for _, name := range tables {
		ref, ok := inventory.ParseTableName(name)
		if ok && ref.Category() == category {
			leaves = append(leaves, strings.ToUpper(ref.Leaf()))
		}
	}
	sort.Strings(leaves)
	return leaves, nil
}

// Start prompts for a loaded table. It returns a finished conversation when
// nothing has been loaded for the category yet.
func (s *Service) Start(ctx context.Context, conversationID int64, category inventory.Category) (*Conversation, error) {
	c := &Conversation{ConversationID: conversationID, Category: category}

	leaves, err := s.Leaves(ctx, category)
	if err != nil {
		c.Done = true
		s.say(ctx, c, fmt.Sprintf("Failed to list %s tables: %v", category.Label(), err))
		return c, err
	}
	if len(leaves) == 0 {
		c.Done = true
		s.say(ctx, c, fmt.Sprintf("No %s data has been loaded yet.", category.Label()))
		return c, nil
	}

	options := make([]report.Option, len(leaves))
	for i, leaf := range leaves {
		options[i] = report.Option{Label: leaf, Value: session.EncodeSelection(FieldLeaf, leaf)}
	}
	if err := s.presenter.Prompt(ctx, conversationID, fmt.Sprintf("Select the area to search %s data:", category.Label()), options); err != nil {
		s.log.WithError(err).WithField("conversation_id", conversationID).Warn("Failed to deliver prompt")
	}
	return c, nil
}

// Handle advances a lookup with one event
func (s *Service) Handle(ctx context.Context, c *Conversation, ev session.Event) error {
	if c == nil || c.Done {
		return session.ErrNoSession
	}
	schema, err := inventory.SchemaFor(c.Category)
	if err != nil {
		return err
	}

	switch e := ev.(type) {
	case session.CancelEvent:
		c.Done = true
		s.say(ctx, c, "Lookup cancelled.")
		return nil

	case session.SelectionEvent:
		if !c.Table.IsZero() || e.Field != FieldLeaf {
			s.say(ctx, c, "Please type the name to search.")
			return fmt.Errorf("unexpected selection %s", e.Field)
		}
		return s.choose(ctx, c, schema, e.Value)

	case session.TextEvent:
		if c.Table.IsZero() {
			s.say(ctx, c, "Please pick an area from the menu first.")
			return fmt.Errorf("text before table selection")
		}
		return s.search(ctx, c, schema, e.Text)

	default:
		s.say(ctx, c, "This conversation only accepts menu choices and text.")
		return fmt.Errorf("unexpected event %T", ev)
	}
}

func (s *Service) choose(ctx context.Context, c *Conversation, schema inventory.Schema, leaf string) error {
	table, err := inventory.ResolveTable(c.Category, leaf)
	if err != nil {
		s.say(ctx, c, fmt.Sprintf("Unknown area %s.", leaf))
		return err
	}

	tables, err := s.store.ListTables(ctx)
	if err != nil {
		c.Done = true
		s.say(ctx, c, fmt.Sprintf("Failed to list tables: %v", err))
		return err
	}
	if !contains(tables, table.Name()) {
		s.say(ctx, c, fmt.Sprintf("No %s data loaded for %s.", c.Category.Label(), strings.ToUpper(leaf)))
		return fmt.Errorf("%w: %s does not exist", inventory.ErrTableNotAllowed, table)
	}

	c.Table = table
	s.say(ctx, c, fmt.Sprintf("Area %s selected. Type the %s to search:", strings.ToUpper(table.Leaf()), schema.IDField))
	return nil
}

func (s *Service) search(ctx context.Context, c *Conversation, schema inventory.Schema, text string) error {
	c.Done = true
	rows, err := s.store.Search(ctx, c.Table, schema.IDField, text, s.limit)
	if err != nil {
		s.say(ctx, c, fmt.Sprintf("Search failed: %v", err))
		return err
	}
	s.log.WithFields(logrus.Fields{
		"conversation_id": c.ConversationID,
		"table":           c.Table.Name(),
		"results":         len(rows),
	}).Info("Lookup served")

	if len(rows) == 0 {
		s.say(ctx, c, "No matching data found.")
		return nil
	}
	s.say(ctx, c, Render(schema, rows))
	return nil
}

// Render formats rows as labelled blocks in schema order, "-" for nulls
func Render(schema inventory.Schema, rows []map[string]any) string {
	var b strings.Builder
	for i, row := range rows {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s #%d\n", schema.Category.Label(), i+1)
		for _, name := range schema.FieldNames() {
			fmt.Fprintf(&b, "%s: %s\n", name, display(row[name]))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func display(v any) string {
	switch x := v.(type) {
	case nil:
		return "-"
	case []byte:
		if len(x) == 0 {
			return "-"
		}
		return string(x)
	case string:
		if strings.TrimSpace(x) == "" {
			return "-"
		}
		return x
	default:
		return fmt.Sprint(x)
	}
}

func (s *Service) say(ctx context.Context, c *Conversation, text string) {
	if err := s.presenter.PlainMessage(ctx, c.ConversationID, text); err != nil {
		s.log.WithError(err).WithField("conversation_id", c.ConversationID).Warn("Failed to deliver message")
	}
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
