package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/BearBump/PickupRelay/internal/broker/messages"
	"github.com/BearBump/PickupRelay/internal/cache"
	"github.com/BearBump/PickupRelay/internal/metrics"
	"github.com/BearBump/PickupRelay/internal/models"
	"github.com/pkg/errors"
)

const summaryKey = "pickup:ledger:summary"

var ErrInvalidOutcome = errors.New("invalid pickup outcome")

type Repository interface {
	RecordOutcome(ctx context.Context, o models.Outcome) (bool, error)
	ListOutcomes(ctx context.Context, limit, offset int) ([]*models.Outcome, error)
	Summary(ctx context.Context) (models.OutcomeSummary, error)
}

// Service keeps the outcome ledger fed from the pickup.outcome topic.
type Service struct {
	repo       Repository
	cache      cache.BytesCache
	summaryTTL time.Duration
}

func New(repo Repository, c cache.BytesCache, summaryTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, summaryTTL: summaryTTL}
}

// ApplyOutcome validates and stores one event. Redelivered events are
// ignored by the repository.
func (s *Service) ApplyOutcome(ctx context.Context, msg messages.PickupOutcome) error {
	if msg.RequestID == "" {
		return errors.Wrap(ErrInvalidOutcome, "request_id is required")
	}
	switch msg.Status {
	case messages.OutcomeMatched, messages.OutcomeNoMatch, messages.OutcomeError:
	default:
		return errors.Wrapf(ErrInvalidOutcome, "unknown status %q", msg.Status)
	}
	if msg.FinishedAt.IsZero() {
		msg.FinishedAt = time.Now().UTC()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = msg.FinishedAt
	}

	_, err := s.repo.RecordOutcome(ctx, models.Outcome{
		RequestID:      msg.RequestID,
		Status:         msg.Status,
		Location:       msg.Location,
		Date:           msg.Date,
		TimeWindow:     msg.TimeWindow,
		ClaimantUserID: msg.ClaimantUserID,
		ClaimantName:   msg.ClaimantName,
		Error:          msg.Error,
		CreatedAt:      msg.CreatedAt,
		FinishedAt:     msg.FinishedAt,
	})
	metrics.RecordOutcomeStored(err == nil)
	return err
}

func (s *Service) ListOutcomes(ctx context.Context, limit, offset int) ([]*models.Outcome, error) {
	return s.repo.ListOutcomes(ctx, limit, offset)
}

// Summary is cached briefly; the cache is best-effort.
func (s *Service) Summary(ctx context.Context) (models.OutcomeSummary, error) {
	useCache := s.cache != nil && s.summaryTTL > 0
	if useCache {
		if b, ok, err := s.cache.Get(ctx, summaryKey); err == nil && ok {
			var sum models.OutcomeSummary
			if json.Unmarshal(b, &sum) == nil {
				return sum, nil
			}
		}
	}

	sum, err := s.repo.Summary(ctx)
	if err != nil {
		return models.OutcomeSummary{}, err
	}
	if useCache {
		b, _ := json.Marshal(sum)
		_ = s.cache.Set(ctx, summaryKey, b, s.summaryTTL)
	}
	return sum, nil
}
