package models

import (
	"strings"
	"time"
	"unicode"
)

type PickupStatus string

const (
	PickupStatusOpen    PickupStatus = "OPEN"
	PickupStatusClaimed PickupStatus = "CLAIMED"
	PickupStatusExpired PickupStatus = "EXPIRED"
)

func (s PickupStatus) IsValid() bool {
	switch s {
	case PickupStatusOpen, PickupStatusClaimed, PickupStatusExpired:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are allowed.
func (s PickupStatus) IsTerminal() bool {
	return s == PickupStatusClaimed || s == PickupStatusExpired
}

func (s PickupStatus) String() string {
	return string(s)
}

// PickupFields is what the requester filled in on the intake form.
type PickupFields struct {
	Location      string
	Date          string // display string, e.g. "Monday, 02 January"
	TimeWindow    string // display string, e.g. "14:00 - 16:00"
	Remarks       string
	ContactNumber string // raw input, see NormalizeContact
}

type PickupRequest struct {
	ID string

	// AnnouncementMessageID is the broadcast message in the group chat; 0 until sent.
	AnnouncementMessageID int

	Fields PickupFields
	Status PickupStatus

	CreatedAt time.Time
	// ExpiresAt is CreatedAt plus the wait window. The announcement shows it
	// and the matcher enforces it.
	ExpiresAt time.Time
}

// Window is the response window the request was created with.
func (r PickupRequest) Window() time.Duration {
	return r.ExpiresAt.Sub(r.CreatedAt)
}

// Claimant is a volunteer who answered a broadcast through the deep link.
type Claimant struct {
	UserID           int64
	ChatID           int64
	DisplayName      string
	Username         string
	TriggerMessageID int
	RequestID        string
}

// NormalizeContact strips separators so the number can be used in a tel: link.
func NormalizeContact(raw string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		switch r {
		case '-', '(', ')', '.', '/':
			return -1
		}
		return r
	}, raw)
}
