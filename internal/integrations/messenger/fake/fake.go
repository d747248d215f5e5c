package fake

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BearBump/PickupRelay/internal/integrations/messenger"
	"github.com/BearBump/PickupRelay/internal/models"
	"github.com/pkg/errors"
)

// Gateway is an in-memory messenger. It keeps every sent and deleted message
// and serves a scripted update stream with real offset semantics. The bot
// falls back to it (dry-run) when no Telegram token is configured.
type Gateway struct {
	mu sync.Mutex

	nextMessageID int
	nextUpdateID  int

	sent    []SentMessage
	deleted []DeletedMessage
	updates []models.Update
	offsets []int
	resets  []bool

	failSend   map[int64]error
	failDelete bool
	failFetch  error

	pushed chan struct{}
}

type SentMessage struct {
	ChatID    int64
	MessageID int
	Text      string
	Button    *models.LinkButton
}

type DeletedMessage struct {
	ChatID    int64
	MessageID int
}

var _ messenger.Gateway = (*Gateway)(nil)

func New() *Gateway {
	return &Gateway{
		nextMessageID: 1000,
		nextUpdateID:  1,
		failSend:      map[int64]error{},
		pushed:        make(chan struct{}, 1),
	}
}

// Push appends updates to the stream. Updates with ID 0 get the next free id.
func (g *Gateway) Push(ups ...models.Update) {
	g.mu.Lock()
	for _, u := range ups {
		if u.ID == 0 {
			u.ID = g.nextUpdateID
		}
		if u.ID >= g.nextUpdateID {
			g.nextUpdateID = u.ID + 1
		}
		g.updates = append(g.updates, u)
	}
	g.mu.Unlock()

	select {
	case g.pushed <- struct{}{}:
	default:
	}
}

// Claim builds the private "/start <token>" message a deep link produces.
func Claim(userID int64, firstName, username, text string) models.Update {
	return models.Update{Message: &models.InboundMessage{
		ID:      int(userID%1000) + 1,
		ChatID:  userID,
		Private: true,
		Text:    text,
		From:    models.Sender{ID: userID, FirstName: firstName, Username: username},
	}}
}

// FailSend makes every Send to chatID fail with err (nil clears it).
func (g *Gateway) FailSend(chatID int64, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.failSend, chatID)
		return
	}
	g.failSend[chatID] = err
}

func (g *Gateway) FailDelete(fail bool) {
	g.mu.Lock()
	g.failDelete = fail
	g.mu.Unlock()
}

func (g *Gateway) FailFetch(err error) {
	g.mu.Lock()
	g.failFetch = err
	g.mu.Unlock()
}

func (g *Gateway) Send(ctx context.Context, chatID int64, text string, button *models.LinkButton) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err, ok := g.failSend[chatID]; ok {
		return 0, errors.Wrapf(messenger.ErrDelivery, "chat %d: %s", chatID, err)
	}
	g.nextMessageID++
	var b *models.LinkButton
	if button != nil {
		cp := *button
		b = &cp
	}
	g.sent = append(g.sent, SentMessage{ChatID: chatID, MessageID: g.nextMessageID, Text: text, Button: b})
	return g.nextMessageID, nil
}

func (g *Gateway) Delete(ctx context.Context, chatID int64, messageID int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failDelete {
		slog.Warn("fake delete failed", "chat_id", chatID, "message_id", messageID)
		return false
	}
	g.deleted = append(g.deleted, DeletedMessage{ChatID: chatID, MessageID: messageID})
	return true
}

// FetchUpdates drops everything below offset, then returns what is left or
// waits for a Push until timeout.
func (g *Gateway) FetchUpdates(ctx context.Context, offset int, timeout time.Duration) ([]models.Update, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		g.mu.Lock()
		g.offsets = append(g.offsets, offset)
		if g.failFetch != nil {
			err := g.failFetch
			g.mu.Unlock()
			return nil, errors.Wrap(messenger.ErrTransport, err.Error())
		}
		kept := g.updates[:0]
		for _, u := range g.updates {
			if u.ID >= offset {
				kept = append(kept, u)
			}
		}
		g.updates = kept
		if len(kept) > 0 {
			out := append([]models.Update(nil), kept...)
			g.mu.Unlock()
			return out, nil
		}
		g.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-g.pushed:
		}
	}
}

func (g *Gateway) Reset(ctx context.Context, dropPending bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resets = append(g.resets, dropPending)
	if dropPending {
		g.updates = nil
	}
	return nil
}

func (g *Gateway) Sent() []SentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]SentMessage(nil), g.sent...)
}

// SentTo returns messages sent to chatID, oldest first.
func (g *Gateway) SentTo(chatID int64) []SentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []SentMessage
	for _, m := range g.sent {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

func (g *Gateway) Deleted() []DeletedMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]DeletedMessage(nil), g.deleted...)
}

// WasDeleted reports whether messageID in chatID was deleted.
func (g *Gateway) WasDeleted(chatID int64, messageID int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, d := range g.deleted {
		if d.ChatID == chatID && d.MessageID == messageID {
			return true
		}
	}
	return false
}

// Offsets returns the offset of every fetch call so far.
func (g *Gateway) Offsets() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]int(nil), g.offsets...)
}

func (g *Gateway) Resets() []bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]bool(nil), g.resets...)
}
