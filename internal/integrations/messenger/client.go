package messenger

import (
	"context"
	"time"

	"github.com/BearBump/PickupRelay/internal/models"
	"github.com/pkg/errors"
)

var (
	// ErrTransport means the remote reported not-ok or the call did not reach it.
	ErrTransport = errors.New("messenger transport failure")
	// ErrDelivery means a message that had to be delivered was not.
	ErrDelivery = errors.New("message delivery failed")
)

// Gateway is the messaging transport: a group chat for broadcasts, private
// chats with volunteers and a long-poll update stream.
type Gateway interface {
	// Send posts text (HTML) to chatID and returns the new message id.
	// button may be nil. Failures wrap ErrDelivery.
	Send(ctx context.Context, chatID int64, text string, button *models.LinkButton) (int, error)
	// Delete is best-effort: failures are logged and reported as false.
	Delete(ctx context.Context, chatID int64, messageID int) bool
	// FetchUpdates returns updates with id >= offset, blocking server-side up
	// to timeout. Passing offset acknowledges everything below it.
	FetchUpdates(ctx context.Context, offset int, timeout time.Duration) ([]models.Update, error)
	// Reset clears the webhook and, with dropPending, the pending backlog.
	Reset(ctx context.Context, dropPending bool) error
}
