// Package alert forwards operator warnings, such as debits or records that
// could not be persisted after a successful generation.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type Alert struct {
	Title  string
	UserID string
	Detail string
}

func (a Alert) String() string {
	var b strings.Builder
	b.WriteString("⚠️ ")
	b.WriteString(a.Title)
	if a.UserID != "" {
		fmt.Fprintf(&b, "\nuser: %s", a.UserID)
	}
	if a.Detail != "" {
		b.WriteString("\n")
		b.WriteString(a.Detail)
	}
	return b.String()
}

type Notifier interface {
	Notify(ctx context.Context, a Alert)
}

// Nop drops alerts.
type Nop struct{}

func (Nop) Notify(context.Context, Alert) {}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts alerts to one operator chat.
type Telegram struct {
	api    sender
	chatID int64
	log    *slog.Logger
}

func NewTelegram(token string, chatID int64, log *slog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot api: %w", err)
	}
	return &Telegram{api: api, chatID: chatID, log: log}, nil
}

func (t *Telegram) Notify(_ context.Context, a Alert) {
	msg := tgbotapi.NewMessage(t.chatID, a.String())
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		t.log.Error("send alert", "title", a.Title, "err", err)
	}
}
