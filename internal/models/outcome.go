package models

import "time"

// Outcome is a finished pickup run as kept in the ledger.
type Outcome struct {
	RequestID  string `json:"requestId"`
	Status     string `json:"status"`
	Location   string `json:"location"`
	Date       string `json:"date"`
	TimeWindow string `json:"timeWindow"`

	ClaimantUserID *int64  `json:"claimantUserId,omitempty"`
	ClaimantName   *string `json:"claimantName,omitempty"`
	Error          *string `json:"error,omitempty"`

	CreatedAt  time.Time `json:"createdAt"`
	FinishedAt time.Time `json:"finishedAt"`
	RecordedAt time.Time `json:"recordedAt"`
}

// OutcomeSummary counts ledger rows per status.
type OutcomeSummary struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"byStatus"`
}
