// Package telegram delivers alerts through the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"login-gate/internal/notify"
)

// sendTimeout bounds a single Bot API call. /notify sends to all recipients
// concurrently and the gate waits gate.DefaultTimeout (5s) for the answer, so
// a slow API must give up first or the gate fails open while the code is
// still being delivered.
const sendTimeout = 4 * time.Second

type Bot struct {
	api *tgbotapi.BotAPI
}

// New validates token against the API (getMe) before returning.
func New(token string) (*Bot, error) {
	return NewWithEndpoint(token, tgbotapi.APIEndpoint, &http.Client{Timeout: sendTimeout})
}

func NewWithEndpoint(token, endpoint string, client tgbotapi.HTTPClient) (*Bot, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("connect telegram bot: %w", err)
	}
	return &Bot{api: api}, nil
}

func (b *Bot) Username() string {
	return b.api.Self.UserName
}

func (b *Bot) Send(ctx context.Context, recipient int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(recipient, text)
	msg.ParseMode = notify.ParseMode
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram message to %d: %w", recipient, err)
	}
	return nil
}

// ParseRecipients reads a comma-separated list of chat ids.
func ParseRecipients(raw string) ([]int64, error) {
	recipients := make([]int64, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid recipient id %q: %w", part, err)
		}
		recipients = append(recipients, id)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients configured")
	}
	return recipients, nil
}
