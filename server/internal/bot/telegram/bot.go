// Package telegram connects the command router to the Telegram Bot API using
// long polling.
package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/obot-platform/fleetdeck/server/internal/bot"
	"github.com/obot-platform/fleetdeck/server/internal/logger"
)

// MaxUploadSize bounds attachments fetched from Telegram.
const MaxUploadSize = 20 << 20

const pollTimeout = 60

// Handler processes one inbound event.
type Handler interface {
	Handle(ctx context.Context, in bot.Inbound) []bot.Reply
}

// Bot is a long-polling Telegram front end.
type Bot struct {
	api     *tgbotapi.BotAPI
	handler Handler
	log     *logger.Logger
	http    *http.Client

	wg sync.WaitGroup
}

// New authenticates with token and returns a Bot.
func New(token string, handler Handler, log *logger.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	return newBot(api, handler, log), nil
}

// NewWithEndpoint is New against a custom API endpoint, in the
// "https://host/bot%s/%s" form.
func NewWithEndpoint(token, endpoint string, client *http.Client, handler Handler, log *logger.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	b := newBot(api, handler, log)
	b.http = client
	return b, nil
}

func newBot(api *tgbotapi.BotAPI, handler Handler, log *logger.Logger) *Bot {
	return &Bot{
		api:     api,
		handler: handler,
		log:     log.Named("telegram"),
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// Username returns the bot account name.
func (b *Bot) Username() string {
	return b.api.Self.UserName
}

// Run polls for updates until ctx is canceled. Each update is handled on its
// own goroutine.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := b.api.GetUpdatesChan(u)

	b.log.Info("telegram bot polling", "username", b.Username())
	defer func() {
		b.api.StopReceivingUpdates()
		b.wg.Wait()
		b.log.Info("telegram bot stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.process(ctx, update)
			}()
		}
	}
}

func (b *Bot) process(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if p := recover(); p != nil {
			b.log.Error("update panic", "update", update.UpdateID, "panic", p)
		}
	}()

	in, ok, err := b.inbound(ctx, update)
	if err != nil {
		b.log.Warn("failed to read update", "update", update.UpdateID, "error", err)
		if in.ChatID != 0 {
			b.send(in.ChatID, bot.Reply{Text: "❌ No se pudo leer el archivo: " + err.Error()})
		}
		return
	}
	if !ok {
		return
	}

	if in.Callback == nil {
		if _, err := b.api.Request(tgbotapi.NewChatAction(in.ChatID, tgbotapi.ChatTyping)); err != nil {
			b.log.Debug("chat action failed", "error", err)
		}
	}

	replies := b.handler.Handle(ctx, in)

	if in.Callback != nil {
		answer := ""
		for _, r := range replies {
			if r.CallbackAnswer != "" {
				answer = r.CallbackAnswer
				break
			}
		}
		if _, err := b.api.Request(tgbotapi.NewCallback(in.Callback.ID, answer)); err != nil {
			b.log.Warn("answer callback failed", "error", err)
		}
	}

	for _, r := range replies {
		b.send(in.ChatID, r)
	}
}

// inbound converts an update. ok is false for updates the router ignores.
func (b *Bot) inbound(ctx context.Context, update tgbotapi.Update) (bot.Inbound, bool, error) {
	if cq := update.CallbackQuery; cq != nil {
		if cq.Message == nil || cq.Message.Chat == nil {
			return bot.Inbound{}, false, nil
		}
		return bot.Inbound{ChatID: cq.Message.Chat.ID, Callback: &bot.Callback{ID: cq.ID, Data: cq.Data}}, true, nil
	}

	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return bot.Inbound{}, false, nil
	}
	in := bot.Inbound{ChatID: msg.Chat.ID}

	switch {
	case msg.Document != nil:
		data, err := b.download(ctx, msg.Document.FileID, msg.Document.FileSize)
		if err != nil {
			return in, false, err
		}
		in.Upload = &bot.Upload{Name: msg.Document.FileName, Data: data}
	case len(msg.Photo) > 0:
		largest := msg.Photo[len(msg.Photo)-1]
		data, err := b.download(ctx, largest.FileID, largest.FileSize)
		if err != nil {
			return in, false, err
		}
		in.Upload = &bot.Upload{Data: data, IsPhoto: true}
	case msg.Text != "":
		in.Text = msg.Text
	default:
		return in, false, nil
	}
	return in, true, nil
}

func (b *Bot) download(ctx context.Context, fileID string, size int) ([]byte, error) {
	if size > MaxUploadSize {
		return nil, fmt.Errorf("file is larger than %d MB", MaxUploadSize>>20)
	}
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file download returned %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, MaxUploadSize+1))
}

func (b *Bot) send(chatID int64, r bot.Reply) {
	c := chattable(chatID, r)
	if c == nil {
		return
	}
	if _, err := b.api.Send(c); err != nil {
		b.log.Warn("send failed", "chat", chatID, "error", err)
	}
	if r.Document != nil && r.Document.Remove {
		if err := os.Remove(r.Document.Path); err != nil {
			b.log.Debug("remove sent document", "path", r.Document.Path, "error", err)
		}
	}
}

// chattable converts a reply into a Telegram request, or nil if it is empty.
func chattable(chatID int64, r bot.Reply) tgbotapi.Chattable {
	if r.Document != nil {
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(r.Document.Path))
		doc.Caption = r.Document.Caption
		return doc
	}
	if r.Text == "" {
		return nil
	}

	msg := tgbotapi.NewMessage(chatID, r.Text)
	if r.Markdown {
		msg.ParseMode = tgbotapi.ModeMarkdown
	}
	msg.DisableWebPagePreview = true
	switch {
	case len(r.Buttons) > 0:
		if kb, ok := inlineKeyboard(r.Buttons); ok {
			msg.ReplyMarkup = kb
		}
	case len(r.Keyboard) > 0:
		msg.ReplyMarkup = replyKeyboard(r.Keyboard)
	}
	return msg
}

func inlineKeyboard(rows [][]bot.Button) (tgbotapi.InlineKeyboardMarkup, bool) {
	var out [][]tgbotapi.InlineKeyboardButton
	for _, row := range rows {
		var btns []tgbotapi.InlineKeyboardButton
		for _, b := range row {
			switch {
			case b.URL != "":
				btns = append(btns, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
			case b.Data != "":
				btns = append(btns, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
			}
		}
		if len(btns) > 0 {
			out = append(out, tgbotapi.NewInlineKeyboardRow(btns...))
		}
	}
	if len(out) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return tgbotapi.NewInlineKeyboardMarkup(out...), true
}

func replyKeyboard(rows [][]string) tgbotapi.ReplyKeyboardMarkup {
	out := make([][]tgbotapi.KeyboardButton, 0, len(rows))
	for _, row := range rows {
		btns := make([]tgbotapi.KeyboardButton, 0, len(row))
		for _, label := range row {
			btns = append(btns, tgbotapi.NewKeyboardButton(label))
		}
		out = append(out, tgbotapi.NewKeyboardButtonRow(btns...))
	}
	kb := tgbotapi.NewReplyKeyboard(out...)
	kb.ResizeKeyboard = true
	return kb
}
