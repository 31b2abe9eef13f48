package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"inventorybot/internal/bot"
	"inventorybot/internal/services/report"
	"inventorybot/internal/session"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	urls     map[string]string
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetFileDirectURL(fileID string) (string, error) {
	url, ok := f.urls[fileID]
	if !ok {
		return "", errors.New("no such file")
	}
	return url, nil
}

type fakeDownloader struct{ body map[string][]byte }

func (d fakeDownloader) Download(_ context.Context, url string) ([]byte, error) {
	return d.body[url], nil
}

type collectingDispatcher struct{ events []session.Event }

func (c *collectingDispatcher) Dispatch(ev session.Event) bool {
	c.events = append(c.events, ev)
	return true
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func command(chatID int64, text string) tgbotapi.Update {
	name := strings.Fields(text)[0]
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}}
}

func TestTranslate(t *testing.T) {
	api := &fakeAPI{urls: map[string]string{"F1": "https://files/F1"}}
	adapter := NewAdapter(api, &collectingDispatcher{}, fakeDownloader{body: map[string][]byte{"https://files/F1": []byte("xlsx")}}, quietLogger())

	t.Run("Should map commands", func(t *testing.T) {
		ev, ok := adapter.Translate(command(7, "/inputftm now"))
		require.True(t, ok)
		assert.Equal(t, bot.CommandEvent{ConversationID: 7, Name: "inputftm", Args: "now"}, ev)
	})

	t.Run("Should decode menu callbacks", func(t *testing.T) {
		ev, ok := adapter.Translate(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
			ID:      "cb",
			Data:    session.EncodeSelection(session.FieldRegion, "R1"),
			Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 7}},
		}})
		require.True(t, ok)
		assert.Equal(t, session.SelectionEvent{ConversationID: 7, Field: session.FieldRegion, Value: "R1"}, ev)
	})

	t.Run("Should ignore foreign callback data", func(t *testing.T) {
		_, ok := adapter.Translate(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
			Data:    "something-else",
			Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 7}},
		}})
		assert.False(t, ok)
	})

	t.Run("Should defer document downloads", func(t *testing.T) {
		ev, ok := adapter.Translate(tgbotapi.Update{Message: &tgbotapi.Message{
			Chat: &tgbotapi.Chat{ID: 9},
			Document: &tgbotapi.Document{
				FileID:   "F1",
				FileName: "kpo.xlsx",
				MimeType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
				FileSize: 4,
			},
		}})
		require.True(t, ok)
		file, isFile := ev.(session.FileEvent)
		require.True(t, isFile)
		assert.Equal(t, int64(9), file.ConversationID)
		assert.Equal(t, "kpo.xlsx", file.FileName)
		assert.Equal(t, int64(4), file.Size)
		assert.Nil(t, file.Payload)

		body, err := file.Fetch(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "xlsx", string(body))
	})

	t.Run("Should map plain text", func(t *testing.T) {
		ev, ok := adapter.Translate(tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 3}, Text: "OLT-01"}})
		require.True(t, ok)
		assert.Equal(t, session.TextEvent{ConversationID: 3, Text: "OLT-01"}, ev)
	})

	t.Run("Should skip updates without a message", func(t *testing.T) {
		_, ok := adapter.Translate(tgbotapi.Update{})
		assert.False(t, ok)
	})
}

func TestRunAnswersCallbacks(t *testing.T) {
	api := &fakeAPI{}
	dispatcher := &collectingDispatcher{}
	adapter := NewAdapter(api, dispatcher, fakeDownloader{}, quietLogger())

	updates := make(chan tgbotapi.Update, 2)
	updates <- tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		Data:    session.EncodeSelection(session.FieldSite, "S1"),
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 5}},
	}}
	updates <- command(5, "/help")
	close(updates)

	adapter.Run(context.Background(), updates)

	require.Len(t, api.requests, 1)
	require.Len(t, dispatcher.events, 2)
	assert.IsType(t, session.SelectionEvent{}, dispatcher.events[0])
	assert.IsType(t, bot.CommandEvent{}, dispatcher.events[1])
}

func TestPresenter(t *testing.T) {
	ctx := context.Background()

	t.Run("Should lay out options three per row", func(t *testing.T) {
		api := &fakeAPI{}
		options := []report.Option{
			{Label: "A", Value: "v|a"}, {Label: "B", Value: "v|b"},
			{Label: "C", Value: "v|c"}, {Label: "D", Value: "v|d"},
		}
		require.NoError(t, NewPresenter(api).Prompt(ctx, 1, "Pick", options))

		require.Len(t, api.sent, 1)
		msg := api.sent[0].(tgbotapi.MessageConfig)
		assert.Equal(t, "Pick", msg.Text)
		markup := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
		require.Len(t, markup.InlineKeyboard, 2)
		assert.Len(t, markup.InlineKeyboard[0], 3)
		assert.Equal(t, "v|d", *markup.InlineKeyboard[1][0].CallbackData)
	})

	t.Run("Should split long messages on line boundaries", func(t *testing.T) {
		api := &fakeAPI{}
		line := strings.Repeat("x", 1000) + "\n"
		require.NoError(t, NewPresenter(api).PlainMessage(ctx, 1, strings.Repeat(line, 9)))

		require.Len(t, api.sent, 3)
		for _, c := range api.sent {
			assert.LessOrEqual(t, len(c.(tgbotapi.MessageConfig).Text), maxMessageLen)
		}
	})

	t.Run("Should send attachments as documents", func(t *testing.T) {
		api := &fakeAPI{}
		require.NoError(t, NewPresenter(api).Attachment(ctx, 1, "failed_ftm.txt", []byte("2 | X/- | missing")))

		require.Len(t, api.sent, 1)
		doc := api.sent[0].(tgbotapi.DocumentConfig)
		file := doc.File.(tgbotapi.FileBytes)
		assert.Equal(t, "failed_ftm.txt", file.Name)
	})
}

func TestSplit(t *testing.T) {
	assert.Equal(t, []string{"short"}, split("short", 10))
	assert.Equal(t, []string{"aaaa", "bbbb"}, split("aaaa\nbbbb", 6))
	assert.Equal(t, []string{"abcde", "fg"}, split("abcdefg", 5))

	t.Run("Should not cut a multi-byte rune", func(t *testing.T) {
		chunks := split("aé€é", 4)
		assert.Equal(t, []string{"aé", "€", "é"}, chunks)
		for _, c := range chunks {
			assert.True(t, utf8.ValidString(c), c)
		}
	})
}
