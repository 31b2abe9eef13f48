package telegram

import (
	"context"
	"fmt"

	"inventorybot/internal/bot"
	"inventorybot/internal/session"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// Dispatcher accepts translated events; *bot.Dispatcher implements it
type Dispatcher interface {
	Dispatch(ev session.Event) bool
}

// Downloader fetches a file by URL; *api.Client implements it
type Downloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// Adapter turns Telegram updates into conversation events
type Adapter struct {
	api        API
	dispatcher Dispatcher
	downloader Downloader
	log        *logrus.Logger
}

func NewAdapter(api API, dispatcher Dispatcher, downloader Downloader, log *logrus.Logger) *Adapter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Adapter{api: api, dispatcher: dispatcher, downloader: downloader, log: log}
}

// Connect authenticates against the Bot API
func Connect(token string, debug bool) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}
	api.Debug = debug
	return api, nil
}

// Run forwards updates until ctx is cancelled or the channel closes
func (a *Adapter) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			a.handle(update)
		}
	}
}

func (a *Adapter) handle(update tgbotapi.Update) {
	if cq := update.CallbackQuery; cq != nil {
		// stop the client spinner whatever the payload was
		if _, err := a.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
			a.log.WithError(err).Debug("Failed to answer callback")
		}
	}

	ev, ok := a.Translate(update)
	if !ok {
		return
	}
	if !a.dispatcher.Dispatch(ev) {
		a.log.WithField("conversation_id", ev.Conversation()).Warn("Event not accepted")
	}
}

// Translate maps one update to an event. Updates the bot does not act on
// (edits, channel posts, stickers) report false.
func (a *Adapter) Translate(update tgbotapi.Update) (session.Event, bool) {
	if cq := update.CallbackQuery; cq != nil {
		if cq.Message == nil {
			return nil, false
		}
		ev, err := session.DecodeSelection(cq.Message.Chat.ID, cq.Data)
		if err != nil {
			a.log.WithError(err).Debug("Ignoring callback")
			return nil, false
		}
		return ev, true
	}

	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return nil, false
	}
	chatID := msg.Chat.ID

	switch {
	case msg.IsCommand():
		return bot.CommandEvent{ConversationID: chatID, Name: msg.Command(), Args: msg.CommandArguments()}, true
	case msg.Document != nil:
		return a.fileEvent(chatID, msg.Document), true
	case msg.Text != "":
		return session.TextEvent{ConversationID: chatID, Text: msg.Text}, true
	default:
		return nil, false
	}
}

// fileEvent defers the download to the conversation worker
func (a *Adapter) fileEvent(chatID int64, doc *tgbotapi.Document) session.FileEvent {
	fileID := doc.FileID
	return session.FileEvent{
		ConversationID: chatID,
		Size:           int64(doc.FileSize),
		MimeType:       doc.MimeType,
		FileName:       doc.FileName,
		Fetch: func(ctx context.Context) ([]byte, error) {
			url, err := a.api.GetFileDirectURL(fileID)
			if err != nil {
				return nil, fmt.Errorf("resolve file: %w", err)
			}
			return a.downloader.Download(ctx, url)
		},
	}
}
