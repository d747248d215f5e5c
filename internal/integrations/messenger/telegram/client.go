package telegram

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/PickupRelay/internal/integrations/messenger"
	"github.com/BearBump/PickupRelay/internal/metrics"
	"github.com/BearBump/PickupRelay/internal/models"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

// Client implements messenger.Gateway on top of the Telegram Bot API.
type Client struct {
	api *tgbotapi.BotAPI
}

var _ messenger.Gateway = (*Client)(nil)

func New(token, apiEndpoint string) (*Client, error) {
	if apiEndpoint == "" {
		apiEndpoint = tgbotapi.APIEndpoint
	}
	api, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, apiEndpoint)
	if err != nil {
		return nil, errors.Wrap(err, "connect telegram")
	}
	return &Client{api: api}, nil
}

// NewWithHTTPClient is New with a custom transport (tests, proxies).
func NewWithHTTPClient(token, apiEndpoint string, httpc tgbotapi.HTTPClient) (*Client, error) {
	if apiEndpoint == "" {
		apiEndpoint = tgbotapi.APIEndpoint
	}
	api, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, httpc)
	if err != nil {
		return nil, errors.Wrap(err, "connect telegram")
	}
	return &Client{api: api}, nil
}

// Username is the bot's @handle as reported by getMe.
func (c *Client) Username() string {
	return c.api.Self.UserName
}

func (c *Client) SetDebug(debug bool) {
	c.api.Debug = debug
}

func (c *Client) Send(ctx context.Context, chatID int64, text string, button *models.LinkButton) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if button != nil {
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonURL(button.Text, button.URL),
			),
		)
	}

	sent, err := c.api.Send(msg)
	metrics.RecordMessengerCall("send", err == nil)
	if err != nil {
		return 0, errors.Wrapf(messenger.ErrDelivery, "chat %d: %s", chatID, err)
	}
	return sent.MessageID, nil
}

func (c *Client) Delete(ctx context.Context, chatID int64, messageID int) bool {
	if err := ctx.Err(); err != nil {
		slog.Warn("delete message skipped", "chat_id", chatID, "message_id", messageID, "error", err.Error())
		return false
	}
	_, err := c.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	metrics.RecordMessengerCall("delete", err == nil)
	if err != nil {
		slog.Warn("delete message", "chat_id", chatID, "message_id", messageID, "error", err.Error())
		return false
	}
	return true
}

type fetchResult struct {
	updates []tgbotapi.Update
	err     error
}

func (c *Client) FetchUpdates(ctx context.Context, offset int, timeout time.Duration) ([]models.Update, error) {
	cfg := tgbotapi.NewUpdate(offset)
	cfg.Timeout = int(timeout / time.Second)
	cfg.AllowedUpdates = []string{"message"}

	// GetUpdates takes no context; the buffered channel lets the call finish
	// and exit on its own if ctx is cancelled first.
	ch := make(chan fetchResult, 1)
	go func() {
		u, err := c.api.GetUpdates(cfg)
		ch <- fetchResult{updates: u, err: err}
	}()

	var res fetchResult
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	metrics.RecordMessengerCall("fetch", res.err == nil)
	if res.err != nil {
		return nil, errors.Wrapf(messenger.ErrTransport, "get updates: %s", res.err)
	}

	out := make([]models.Update, 0, len(res.updates))
	for _, u := range res.updates {
		out = append(out, convertUpdate(u))
	}
	return out, nil
}

func (c *Client) Reset(ctx context.Context, dropPending bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.api.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: dropPending})
	metrics.RecordMessengerCall("reset", err == nil)
	if err != nil {
		return errors.Wrapf(messenger.ErrTransport, "delete webhook: %s", err)
	}
	return nil
}

func convertUpdate(u tgbotapi.Update) models.Update {
	out := models.Update{ID: u.UpdateID}
	m := u.Message
	if m == nil || m.Chat == nil {
		return out
	}

	in := &models.InboundMessage{
		ID:      m.MessageID,
		ChatID:  m.Chat.ID,
		Private: m.Chat.IsPrivate(),
		Text:    m.Text,
	}
	if m.From != nil {
		in.From = models.Sender{ID: m.From.ID, FirstName: m.From.FirstName, Username: m.From.UserName}
	} else {
		in.From = models.Sender{ID: m.Chat.ID, FirstName: m.Chat.FirstName, Username: m.Chat.UserName}
	}
	out.Message = in
	return out
}
