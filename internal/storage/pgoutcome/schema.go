package pgoutcome

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS pickup_outcomes (
  request_id TEXT PRIMARY KEY,
  status TEXT NOT NULL,
  location TEXT NOT NULL DEFAULT '',
  pickup_date TEXT NOT NULL DEFAULT '',
  time_window TEXT NOT NULL DEFAULT '',
  claimant_user_id BIGINT NULL,
  claimant_name TEXT NULL,
  error TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  finished_at TIMESTAMPTZ NOT NULL,
  recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_pickup_outcomes_finished_at ON pickup_outcomes(finished_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_pickup_outcomes_status ON pickup_outcomes(status)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
