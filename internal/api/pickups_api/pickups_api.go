package pickups_api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BearBump/PickupRelay/internal/broker/messages"
	"github.com/BearBump/PickupRelay/internal/cache"
	"github.com/BearBump/PickupRelay/internal/metrics"
	"github.com/BearBump/PickupRelay/internal/models"
	"github.com/BearBump/PickupRelay/internal/services/intake"
	"github.com/BearBump/PickupRelay/internal/services/pickups"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
)

const (
	StatusPending = "pending"

	maxBody = 16 << 10
)

type Runner interface {
	RunWithResult(ctx context.Context, fields models.PickupFields, wait time.Duration) (pickups.Result, error)
}

type Validator interface {
	Validate(p intake.Payload, now time.Time) (models.PickupFields, time.Duration, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Submission is what the front-end polls for. It never holds the contact
// number.
type Submission struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	RequestID   string    `json:"requestId,omitempty"`
	Location    string    `json:"location,omitempty"`
	Date        string    `json:"date"`
	TimeWindow  string    `json:"timeWindow"`
	WaitMinutes int       `json:"waitMinutes"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// API accepts pickup submissions and runs each workflow in the background.
type API struct {
	runner   Runner
	validate Validator
	store    cache.BytesCache
	rl       RateLimiter
	clock    clockwork.Clock
	loc      *time.Location

	limitPerHour int64
	ttl          time.Duration

	baseCtx context.Context

	// mu orders wg.Add against Shutdown.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func New(runner Runner, validate Validator, store cache.BytesCache, rl RateLimiter, loc *time.Location) *API {
	if loc == nil {
		loc = time.Local
	}
	return &API{
		runner:       runner,
		validate:     validate,
		store:        store,
		rl:           rl,
		clock:        clockwork.NewRealClock(),
		loc:          loc,
		limitPerHour: 5,
		ttl:          24 * time.Hour,
		baseCtx:      context.Background(),
	}
}

func (a *API) WithLimits(limitPerHour int, ttl time.Duration) *API {
	if limitPerHour > 0 {
		a.limitPerHour = int64(limitPerHour)
	}
	if ttl > 0 {
		a.ttl = ttl
	}
	return a
}

// WithBaseContext sets the context background workflows run under. It
// should outlive single HTTP requests.
func (a *API) WithBaseContext(ctx context.Context) *API {
	if ctx != nil {
		a.baseCtx = ctx
	}
	return a
}

func (a *API) WithClock(c clockwork.Clock) *API {
	if c != nil {
		a.clock = c
	}
	return a
}

func (a *API) Routes(r chi.Router) {
	r.Post("/pickups", a.createPickup)
	r.Get("/pickups/{id}", a.getPickup)
	r.Get("/time-windows", a.timeWindows)
}

// Wait blocks until every background workflow has finished.
func (a *API) Wait() {
	a.wg.Wait()
}

// Shutdown rejects new submissions with 503 and waits for the running ones.
func (a *API) Shutdown() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.wg.Wait()
}

// begin reserves a background slot; false once Shutdown has started.
func (a *API) begin() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	a.wg.Add(1)
	return true
}

func (a *API) createPickup(w http.ResponseWriter, r *http.Request) {
	var p intake.Payload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		metrics.RecordIntake("invalid")
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	now := a.clock.Now()
	fields, wait, err := a.validate.Validate(p, now)
	if err != nil {
		metrics.RecordIntake("invalid")
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if a.rl != nil {
		key := "rl:intake:" + models.NormalizeContact(fields.ContactNumber)
		allowed, _, err := a.rl.Allow(r.Context(), key, a.limitPerHour, time.Hour)
		switch {
		case err != nil:
			slog.Warn("intake rate limit unavailable", "error", err.Error())
		case !allowed:
			metrics.RecordIntake("throttled")
			writeError(w, http.StatusTooManyRequests, "too many submissions for this contact, try again later")
			return
		}
	}

	if !a.begin() {
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}

	sub := Submission{
		ID:          uuid.NewString(),
		Status:      StatusPending,
		Location:    fields.Location,
		Date:        fields.Date,
		TimeWindow:  fields.TimeWindow,
		WaitMinutes: int(wait / time.Minute),
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
	if err := a.save(r.Context(), sub); err != nil {
		a.wg.Done()
		slog.Error("store submission", "submission_id", sub.ID, "error", err.Error())
		writeError(w, http.StatusServiceUnavailable, "submission store unavailable")
		return
	}

	metrics.RecordIntake("accepted")
	go func() {
		defer a.wg.Done()
		a.run(sub, fields, wait)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"id": sub.ID, "status": sub.Status})
}

func (a *API) run(sub Submission, fields models.PickupFields, wait time.Duration) {
	res, err := a.runner.RunWithResult(a.baseCtx, fields, wait)

	sub.RequestID = res.RequestID
	sub.UpdatedAt = a.clock.Now().UTC()
	switch {
	case err != nil:
		sub.Status = messages.OutcomeError
		sub.Error = "the request could not be delivered, please try again"
	case res.Matched:
		sub.Status = messages.OutcomeMatched
	default:
		sub.Status = messages.OutcomeNoMatch
	}

	if err := a.save(context.WithoutCancel(a.baseCtx), sub); err != nil {
		slog.Error("store submission result", "submission_id", sub.ID, "status", sub.Status, "error", err.Error())
	}
}

func (a *API) getPickup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusNotFound, "submission not found")
		return
	}
	b, ok, err := a.store.Get(r.Context(), submissionKey(id))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "submission store unavailable")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "submission not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

func (a *API) timeWindows(w http.ResponseWriter, r *http.Request) {
	day := r.URL.Query().Get("day")
	if day == "" {
		day = "today"
	}
	if day != "today" && day != "other" {
		writeError(w, http.StatusBadRequest, `day must be "today" or "other"`)
		return
	}
	now := a.clock.Now().In(a.loc)
	writeJSON(w, http.StatusOK, map[string]any{
		"day":     day,
		"windows": intake.TimeWindows(now, day == "today"),
	})
}

func (a *API) save(ctx context.Context, sub Submission) error {
	b, err := json.Marshal(sub)
	if err != nil {
		return errors.Wrap(err, "marshal submission")
	}
	return a.store.Set(ctx, submissionKey(sub.ID), b, a.ttl)
}

func submissionKey(id string) string {
	return "pickup:submission:" + id
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
