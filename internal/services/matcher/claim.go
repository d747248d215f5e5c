package matcher

import (
	"regexp"
	"strings"

	"github.com/BearBump/PickupRelay/internal/models"
	"github.com/pkg/errors"
)

var (
	// ErrNotClaim marks updates that are not a private /start command.
	ErrNotClaim = errors.New("not a claim command")
	// ErrMalformedClaim marks a /start command without a usable token.
	ErrMalformedClaim = errors.New("malformed claim command")
)

const startCommand = "/start"

var tokenRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ParseClaim extracts the claim a deep link produces: a private message
// "/start <token>" (or "/start@bot <token>").
func ParseClaim(msg *models.InboundMessage) (models.Claimant, error) {
	if msg == nil || !msg.Private {
		return models.Claimant{}, ErrNotClaim
	}
	parts := strings.Fields(msg.Text)
	if len(parts) == 0 {
		return models.Claimant{}, ErrNotClaim
	}
	cmd := parts[0]
	if cmd != startCommand && !strings.HasPrefix(cmd, startCommand+"@") {
		return models.Claimant{}, ErrNotClaim
	}
	if len(parts) != 2 || !tokenRe.MatchString(parts[1]) {
		return models.Claimant{}, errors.Wrapf(ErrMalformedClaim, "text %q", msg.Text)
	}

	userID := msg.From.ID
	if userID == 0 {
		userID = msg.ChatID
	}
	return models.Claimant{
		UserID:           userID,
		ChatID:           msg.ChatID,
		DisplayName:      msg.From.FirstName,
		Username:         msg.From.Username,
		TriggerMessageID: msg.ID,
		RequestID:        parts[1],
	}, nil
}
