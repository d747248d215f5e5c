package pgoutcome

import (
	"context"

	"github.com/BearBump/PickupRelay/internal/models"
	"github.com/pkg/errors"
)

// RecordOutcome stores o once. A redelivered event for the same request is
// a no-op; inserted reports whether a row was written.
func (s *Storage) RecordOutcome(ctx context.Context, o models.Outcome) (bool, error) {
	tag, err := s.db.Exec(ctx, `
INSERT INTO pickup_outcomes (
  request_id, status, location, pickup_date, time_window,
  claimant_user_id, claimant_name, error, created_at, finished_at, recorded_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, now())
ON CONFLICT (request_id) DO NOTHING
`, o.RequestID, o.Status, o.Location, o.Date, o.TimeWindow,
		o.ClaimantUserID, o.ClaimantName, o.Error, o.CreatedAt.UTC(), o.FinishedAt.UTC())
	if err != nil {
		return false, errors.Wrap(err, "insert outcome")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Storage) ListOutcomes(ctx context.Context, limit, offset int) ([]*models.Outcome, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT
  request_id, status, location, pickup_date, time_window,
  claimant_user_id, claimant_name, error,
  created_at, finished_at, recorded_at
FROM pickup_outcomes
ORDER BY finished_at DESC, request_id
LIMIT $1 OFFSET $2
`, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select outcomes")
	}
	defer rows.Close()

	out := make([]*models.Outcome, 0, limit)
	for rows.Next() {
		var o models.Outcome
		if err := rows.Scan(
			&o.RequestID, &o.Status, &o.Location, &o.Date, &o.TimeWindow,
			&o.ClaimantUserID, &o.ClaimantName, &o.Error,
			&o.CreatedAt, &o.FinishedAt, &o.RecordedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan outcome")
		}
		out = append(out, &o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) Summary(ctx context.Context) (models.OutcomeSummary, error) {
	rows, err := s.db.Query(ctx, `SELECT status, count(*) FROM pickup_outcomes GROUP BY status`)
	if err != nil {
		return models.OutcomeSummary{}, errors.Wrap(err, "select summary")
	}
	defer rows.Close()

	sum := models.OutcomeSummary{ByStatus: map[string]int64{}}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return models.OutcomeSummary{}, errors.Wrap(err, "scan summary")
		}
		sum.ByStatus[status] = n
		sum.Total += n
	}
	if rows.Err() != nil {
		return models.OutcomeSummary{}, errors.Wrap(rows.Err(), "rows")
	}
	return sum, nil
}
