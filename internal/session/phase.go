package session

import (
	"errors"

	"inventorybot/internal/inventory"
)

var (
	ErrNoSession   = errors.New("no active session")
	ErrSessionDone = errors.New("session already finished")
)

// Phase is one step of the ingestion conversation. Each variant carries exactly
// the selections that are valid at that step.
type Phase interface {
	Name() string
}

type SelectingRegion struct{}

type SelectingSite struct {
	Region string
}

type SelectingSubSite struct {
	Region string
	Site   string
}

// AwaitingFile holds the table resolved from the leaf selection
type AwaitingFile struct {
	Region  string
	Site    string
	SubSite string // empty when the site has no sub-sites
	Table   inventory.TableRef
}

// Leaf is the most specific location chosen
func (p AwaitingFile) Leaf() string {
	if p.SubSite != "" {
		return p.SubSite
	}
	return p.Site
}

// Done is terminal; a finished session is never reused
type Done struct {
	Reason string
}

func (SelectingRegion) Name() string  { return "select_region" }
func (SelectingSite) Name() string    { return "select_site" }
func (SelectingSubSite) Name() string { return "select_sub_site" }
func (AwaitingFile) Name() string     { return "await_file" }
func (Done) Name() string             { return "terminal" }

// Session is the state of one ingestion conversation. Only the conversation's
// own worker mutates it.
type Session struct {
	ConversationID int64
	Category       inventory.Category
	Phase          Phase
}

func (s *Session) Done() bool {
	_, done := s.Phase.(Done)
	return done
}
