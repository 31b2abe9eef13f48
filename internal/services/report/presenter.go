package report

import "context"

// Option is one menu entry; Value is opaque to the user
type Option struct {
	Label string
	Value string
}

// Presenter delivers output to a conversation. The transport layer implements it.
type Presenter interface {
	Prompt(ctx context.Context, conversationID int64, text string, options []Option) error
	PlainMessage(ctx context.Context, conversationID int64, text string) error
	Attachment(ctx context.Context, conversationID int64, filename string, data []byte) error
}
