// Package notify delivers operator notifications through the Telegram bot.
package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/starford/relister/internal/models"
)

// Notifier sends messages to a single recipient.
type Notifier interface {
	SendPhoto(ctx context.Context, recipient int64, photo models.Photo, caption string) error
	SendText(ctx context.Context, recipient int64, text string) error
}

// Discard drops every notification. Used when no bot token is configured.
type Discard struct{}

func (Discard) SendPhoto(context.Context, int64, models.Photo, string) error { return nil }
func (Discard) SendText(context.Context, int64, string) error { return nil }

// Sender is the subset of *tgbotapi.BotAPI used here.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram implements Notifier over the Bot API. Captions are HTML.
type Telegram struct {
	bot Sender
}

var _ Notifier = (*Telegram)(nil)

func NewTelegram(bot Sender) *Telegram {
	return &Telegram{bot: bot}
}

// SendPhoto uploads raw bytes when present, otherwise lets Telegram fetch the URL.
// A photo with neither falls back to a text message.
func (t *Telegram) SendPhoto(ctx context.Context, recipient int64, photo models.Photo, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var file tgbotapi.RequestFileData
	switch {
	case len(photo.Bytes) > 0:
		file = tgbotapi.FileBytes{Name: "listing.png", Bytes: photo.Bytes}
	case photo.URL != "":
		file = tgbotapi.FileURL(photo.URL)
	default:
		return t.SendText(ctx, recipient, caption)
	}
	msg := tgbotapi.NewPhoto(recipient, file)
	msg.Caption = caption
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("notify: photo to %d: %w", recipient, err)
	}
	return nil
}

func (t *Telegram) SendText(ctx context.Context, recipient int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(recipient, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("notify: text to %d: %w", recipient, err)
	}
	return nil
}

// Fanout delivers the same photo to every recipient. Per-recipient failures
// are logged and do not stop the remaining deliveries. It returns the number
// of successful sends.
func Fanout(ctx context.Context, n Notifier, recipients []int64, photo models.Photo, caption string, logger *slog.Logger) int {
	sent := 0
	for _, r := range recipients {
		if err := n.SendPhoto(ctx, r, photo, caption); err != nil {
			logger.Warn("notification failed", slog.Int64("recipient", r), slog.String("error", err.Error()))
			continue
		}
		sent++
	}
	return sent
}

// Broadcast delivers the same text to every recipient, with the same failure policy as Fanout.
func Broadcast(ctx context.Context, n Notifier, recipients []int64, text string, logger *slog.Logger) int {
	sent := 0
	for _, r := range recipients {
		if err := n.SendText(ctx, r, text); err != nil {
			logger.Warn("notification failed", slog.Int64("recipient", r), slog.String("error", err.Error()))
			continue
		}
		sent++
	}
	return sent
}

// Caption renders the standard listing notification.
func Caption(action, title, link string) string {
	return fmt.Sprintf("<b>%s</b>\n%s\n<a href=\"%s\">Open listing</a>",
		html.EscapeString(action), html.EscapeString(title), html.EscapeString(link))
}
