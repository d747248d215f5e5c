package notifier

import (
	"context"
	"log/slog"
	"time"

	"github.com/BearBump/PickupRelay/internal/integrations/messenger"
	"github.com/BearBump/PickupRelay/internal/models"
	"github.com/pkg/errors"
)

type Composer interface {
	ClaimantDetails(cl models.Claimant, req models.PickupRequest) string
	Confirmation(cl models.Claimant, req models.PickupRequest) string
	Denial(req models.PickupRequest) string
}

type Registry interface {
	Transition(id string, to models.PickupStatus) error
}

type Scheduler interface {
	ScheduleDelete(chatID int64, messageID int, after time.Duration)
}

// Notifier tells the claimant and the group how a request ended.
type Notifier struct {
	gw          messenger.Gateway
	compose     Composer
	reg         Registry
	sched       Scheduler
	groupChatID int64
	retention   time.Duration
}

func New(gw messenger.Gateway, compose Composer, reg Registry, sched Scheduler, groupChatID int64, retention time.Duration) *Notifier {
	if retention <= 0 {
		retention = 15 * time.Minute
	}
	return &Notifier{
		gw:          gw,
		compose:     compose,
		reg:         reg,
		sched:       sched,
		groupChatID: groupChatID,
		retention:   retention,
	}
}

// NotifyClaimant privately sends the contact details to the claimant and
// confirms the match in the group. Only the private message must succeed;
// its failure is returned wrapping messenger.ErrDelivery.
func (n *Notifier) NotifyClaimant(ctx context.Context, cl models.Claimant, req models.PickupRequest) error {
	if cl.TriggerMessageID != 0 {
		n.gw.Delete(ctx, cl.ChatID, cl.TriggerMessageID)
	}

	msgID, err := n.gw.Send(ctx, cl.ChatID, n.compose.ClaimantDetails(cl, req), nil)
	if err != nil {
		slog.Error("send contact details", "request_id", req.ID, "user_id", cl.UserID, "error", err.Error())
		if !errors.Is(err, messenger.ErrDelivery) {
			err = errors.Wrap(messenger.ErrDelivery, err.Error())
		}
		return errors.Wrapf(err, "notify claimant of %s", req.ID)
	}
	n.sched.ScheduleDelete(cl.ChatID, msgID, n.retention)

	if err := n.reg.Transition(req.ID, models.PickupStatusClaimed); err != nil {
		slog.Warn("mark request claimed", "request_id", req.ID, "error", err.Error())
	}

	if _, err := n.gw.Send(ctx, n.groupChatID, n.compose.Confirmation(cl, req), nil); err != nil {
		slog.Warn("post group confirmation", "request_id", req.ID, "error", err.Error())
	}
	slog.Info("claimant notified", "request_id", req.ID, "user_id", cl.UserID)
	return nil
}

// NotifyDenial marks the request expired and tells the group nobody came.
// It reports whether the group message went out.
func (n *Notifier) NotifyDenial(ctx context.Context, req models.PickupRequest) bool {
	if err := n.reg.Transition(req.ID, models.PickupStatusExpired); err != nil {
		slog.Warn("mark request expired", "request_id", req.ID, "error", err.Error())
	}
	if _, err := n.gw.Send(ctx, n.groupChatID, n.compose.Denial(req), nil); err != nil {
		slog.Warn("post group denial", "request_id", req.ID, "error", err.Error())
		return false
	}
	return true
}
