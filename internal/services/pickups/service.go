package pickups

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/BearBump/PickupRelay/internal/broker/messages"
	"github.com/BearBump/PickupRelay/internal/integrations/messenger"
	"github.com/BearBump/PickupRelay/internal/metrics"
	"github.com/BearBump/PickupRelay/internal/models"
	"github.com/BearBump/PickupRelay/internal/services/matcher"
	"github.com/BearBump/PickupRelay/internal/services/registry"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
)

type Composer interface {
	Announcement(req models.PickupRequest) (string, models.LinkButton)
}

type Notifier interface {
	NotifyClaimant(ctx context.Context, cl models.Claimant, req models.PickupRequest) error
	NotifyDenial(ctx context.Context, req models.PickupRequest) bool
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Result describes one finished run.
type Result struct {
	RequestID string
	Matched   bool
	Claimant  *models.Claimant
}

// Service runs the pickup workflow: broadcast, wait for the first claim,
// clean up and notify.
type Service struct {
	reg     *registry.Registry
	matcher *matcher.Matcher
	gw      messenger.Gateway
	compose Composer
	notify  Notifier

	producer Producer
	topic    string

	groupChatID int64
	clock       clockwork.Clock

	publishAttempts int
	publishBackoff  time.Duration

	totalRuns    atomic.Int64
	totalMatched atomic.Int64
	totalNoMatch atomic.Int64
	totalErrors  atomic.Int64
	inFlight     atomic.Int64
}

func New(reg *registry.Registry, m *matcher.Matcher, gw messenger.Gateway, compose Composer, notify Notifier, groupChatID int64) *Service {
	return &Service{
		reg:             reg,
		matcher:         m,
		gw:              gw,
		compose:         compose,
		notify:          notify,
		groupChatID:     groupChatID,
		clock:           clockwork.NewRealClock(),
		publishAttempts: 3,
		publishBackoff:  150 * time.Millisecond,
	}
}

// WithOutcomes publishes a PickupOutcome for every run to topic.
func (s *Service) WithOutcomes(p Producer, topic string) *Service {
	s.producer = p
	s.topic = topic
	return s
}

func (s *Service) WithClock(c clockwork.Clock) *Service {
	if c != nil {
		s.clock = c
	}
	return s
}

func (s *Service) WithPublishRetry(attempts int, backoff time.Duration) *Service {
	if attempts > 0 {
		s.publishAttempts = attempts
	}
	if backoff > 0 {
		s.publishBackoff = backoff
	}
	return s
}

// Run executes the workflow once. It reports whether a volunteer took the
// request. Transport failures and a failed contact delivery are errors; an
// expired window is (false, nil).
func (s *Service) Run(ctx context.Context, fields models.PickupFields, wait time.Duration) (bool, error) {
	res, err := s.RunWithResult(ctx, fields, wait)
	return res.Matched, err
}

func (s *Service) RunWithResult(ctx context.Context, fields models.PickupFields, wait time.Duration) (Result, error) {
	s.totalRuns.Add(1)
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	req, err := s.reg.Create(fields, wait)
	if err != nil {
		s.totalErrors.Add(1)
		metrics.RecordRun(messages.OutcomeError)
		return Result{}, errors.Wrap(err, "create pickup request")
	}
	defer s.reg.Remove(req.ID)

	res := Result{RequestID: req.ID}
	log := slog.With("request_id", req.ID)

	w, err := s.matcher.Watch(req.ID)
	if err != nil {
		return res, s.fail(ctx, req, errors.Wrap(err, "watch claims"))
	}
	defer w.Close()

	text, button := s.compose.Announcement(req)
	msgID, err := s.gw.Send(ctx, s.groupChatID, text, &button)
	if err != nil {
		return res, s.fail(ctx, req, errors.Wrap(err, "broadcast pickup request"))
	}
	if err := s.reg.SetAnnouncement(req.ID, msgID); err != nil {
		log.Warn("record announcement", "error", err.Error())
	}
	log.Info("broadcast sent", "message_id", msgID, "expires_at", req.ExpiresAt.Format(time.RFC3339))

	cl, ok, waitErr := w.Wait(ctx, req.Window())

	// The broadcast goes away whatever happened, even when ctx is done.
	cleanup := context.WithoutCancel(ctx)
	if !s.gw.Delete(cleanup, s.groupChatID, msgID) {
		log.Warn("broadcast not deleted", "message_id", msgID)
	}

	if waitErr != nil {
		return res, s.fail(cleanup, req, errors.Wrap(waitErr, "await claim"))
	}

	if !ok {
		s.notify.NotifyDenial(cleanup, req)
		s.totalNoMatch.Add(1)
		metrics.RecordRun(messages.OutcomeNoMatch)
		s.publish(cleanup, s.outcome(req, messages.OutcomeNoMatch, nil, nil))
		log.Info("no claim in window", "window", req.Window().String())
		return res, nil
	}

	if err := s.notify.NotifyClaimant(cleanup, cl, req); err != nil {
		return res, s.fail(cleanup, req, err)
	}
	res.Matched = true
	res.Claimant = &cl
	s.totalMatched.Add(1)
	metrics.RecordRun(messages.OutcomeMatched)
	s.publish(cleanup, s.outcome(req, messages.OutcomeMatched, &cl, nil))
	log.Info("pickup matched", "user_id", cl.UserID)
	return res, nil
}

func (s *Service) fail(ctx context.Context, req models.PickupRequest, err error) error {
	s.totalErrors.Add(1)
	metrics.RecordRun(messages.OutcomeError)
	slog.Error("pickup workflow failed", "request_id", req.ID, "error", err.Error())
	s.publish(context.WithoutCancel(ctx), s.outcome(req, messages.OutcomeError, nil, err))
	return err
}

func (s *Service) outcome(req models.PickupRequest, status string, cl *models.Claimant, runErr error) messages.PickupOutcome {
	out := messages.PickupOutcome{
		RequestID:  req.ID,
		Status:     status,
		Location:   req.Fields.Location,
		Date:       req.Fields.Date,
		TimeWindow: req.Fields.TimeWindow,
		CreatedAt:  req.CreatedAt.UTC(),
		FinishedAt: s.clock.Now().UTC(),
	}
	if cl != nil {
		uid, name := cl.UserID, cl.DisplayName
		out.ClaimantUserID = &uid
		out.ClaimantName = &name
	}
	if runErr != nil {
		e := runErr.Error()
		out.Error = &e
	}
	return out
}

// publish is best-effort: it retries briefly and only logs the last error.
func (s *Service) publish(ctx context.Context, out messages.PickupOutcome) {
	if s.producer == nil {
		return
	}
	b, err := json.Marshal(out)
	if err != nil {
		slog.Error("marshal pickup outcome", "request_id", out.RequestID, "error", err.Error())
		return
	}

	var pubErr error
	for i := 0; i < s.publishAttempts; i++ {
		if pubErr = s.producer.Publish(ctx, s.topic, []byte(out.RequestID), b); pubErr == nil {
			return
		}
		if i+1 < s.publishAttempts {
			s.clock.Sleep(time.Duration(i+1) * s.publishBackoff)
		}
	}
	slog.Warn("publish pickup outcome", "request_id", out.RequestID, "error", pubErr.Error())
}

type Stats struct {
	TotalRuns    int64 `json:"totalRuns"`
	TotalMatched int64 `json:"totalMatched"`
	TotalNoMatch int64 `json:"totalNoMatch"`
	TotalErrors  int64 `json:"totalErrors"`
	InFlight     int64 `json:"inFlight"`
	OpenRequests int   `json:"openRequests"`
}

func (s *Service) Stats() Stats {
	return Stats{
		TotalRuns:    s.totalRuns.Load(),
		TotalMatched: s.totalMatched.Load(),
		TotalNoMatch: s.totalNoMatch.Load(),
		TotalErrors:  s.totalErrors.Load(),
		InFlight:     s.inFlight.Load(),
		OpenRequests: s.reg.Len(),
	}
}
