package messages

import (
	"time"
)

const (
	OutcomeMatched = "matched"
	OutcomeNoMatch = "no_match"
	OutcomeError   = "error"
)

// PickupOutcome is published once per finished workflow run. It never
// carries the requester's contact number.
type PickupOutcome struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`

	Location   string `json:"location,omitempty"`
	Date       string `json:"date,omitempty"`
	TimeWindow string `json:"time_window,omitempty"`

	ClaimantUserID *int64  `json:"claimant_user_id,omitempty"`
	ClaimantName   *string `json:"claimant_name,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at"`

	Error *string `json:"error,omitempty"`
}
