package telegram

import (
	"context"
	"strings"
	"unicode/utf8"

	"inventorybot/internal/services/report"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	maxMessageLen = 4096
	buttonsPerRow = 3
)

// API is the subset of *tgbotapi.BotAPI the bot uses
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Presenter renders menus as inline keyboards and ledgers as documents
type Presenter struct {
	api API
}

func NewPresenter(api API) *Presenter {
	return &Presenter{api: api}
}

var _ report.Presenter = (*Presenter)(nil)

func (p *Presenter) Prompt(_ context.Context, conversationID int64, text string, options []report.Option) error {
	msg := tgbotapi.NewMessage(conversationID, text)
	if len(options) > 0 {
		msg.ReplyMarkup = keyboard(options)
	}
	_, err := p.api.Send(msg)
	return err
}

func (p *Presenter) PlainMessage(_ context.Context, conversationID int64, text string) error {
	for _, chunk := range split(text, maxMessageLen) {
		if _, err := p.api.Send(tgbotapi.NewMessage(conversationID, chunk)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Presenter) Attachment(_ context.Context, conversationID int64, filename string, data []byte) error {
	doc := tgbotapi.NewDocument(conversationID, tgbotapi.FileBytes{Name: filename, Bytes: data})
	_, err := p.api.Send(doc)
	return err
}

func keyboard(options []report.Option) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for start := 0; start < len(options); start += buttonsPerRow {
		end := min(start+buttonsPerRow, len(options))
		row := make([]tgbotapi.InlineKeyboardButton, 0, end-start)
		for _, opt := range options[start:end] {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(opt.Label, opt.Value))
		}
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// runeCut returns the largest cut <= limit that does not split a rune
func runeCut(s string, limit int) int {
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		return limit
	}
	return cut
}

// split breaks text at line boundaries into chunks of at most limit bytes.
// A single line longer than limit is cut at the last rune boundary that fits.
func split(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var (
		chunks []string
		buf    strings.Builder
	)
	flush := func() {
		if buf.Len() > 0 {
			chunks = append(chunks, strings.TrimRight(buf.String(), "\n"))
			buf.Reset()
		}
	}
	for _, line := range strings.SplitAfter(text, "\n") {
		for len(line) > limit {
			flush()
			cut := runeCut(line, limit)
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		if buf.Len()+len(line) > limit {
			flush()
		}
		buf.WriteString(line)
	}
	flush()
	return chunks
}
