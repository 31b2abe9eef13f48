package session

import (
	"context"
	"fmt"
	"strings"
)

// Selection fields carried by menu callbacks
const (
	FieldRegion  = "region"
	FieldSite    = "site"
	FieldSubSite = "sub_site"
)

const selectionPrefix = "sel"

// Event is one inbound user action for a conversation
type Event interface {
	Conversation() int64
}

type SelectionEvent struct {
	ConversationID int64
	Field          string
	Value          string
}

// FileEvent carries an upload. When Payload is nil, Fetch is called on the
// conversation's own worker to download it.
type FileEvent struct {
	ConversationID int64
	Payload        []byte
	Fetch          func(ctx context.Context) ([]byte, error)
	Size           int64 // declared size, 0 when unknown
	MimeType       string
	FileName       string
}

type CancelEvent struct {
	ConversationID int64
}

// TextEvent is free text that is not a command
type TextEvent struct {
	ConversationID int64
	Text           string
}

func (e SelectionEvent) Conversation() int64 { return e.ConversationID }
func (e FileEvent) Conversation() int64      { return e.ConversationID }
func (e CancelEvent) Conversation() int64    { return e.ConversationID }
func (e TextEvent) Conversation() int64      { return e.ConversationID }

// EncodeSelection builds the opaque callback value "sel|<field>|<value>"
func EncodeSelection(field, value string) string {
	return selectionPrefix + "|" + field + "|" + value
}

// DecodeSelection parses a callback value produced by EncodeSelection
func DecodeSelection(conversationID int64, data string) (SelectionEvent, error) {
	parts := strings.SplitN(data, "|", 3)
	if len(parts) != 3 || parts[0] != selectionPrefix || parts[1] == "" || parts[2] == "" {
		return SelectionEvent{}, fmt.Errorf("malformed selection %q", data)
	}
	return SelectionEvent{ConversationID: conversationID, Field: parts[1], Value: parts[2]}, nil
}
