package matcher

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/PickupRelay/internal/integrations/messenger"
	"github.com/BearBump/PickupRelay/internal/metrics"
	"github.com/BearBump/PickupRelay/internal/models"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
)

var ErrDuplicateWatch = errors.New("request is already watched")

// Matcher is the single consumer of the update stream. It owns the cursor
// and routes each claim to the watch registered for its request id.
type Matcher struct {
	gw    messenger.Gateway
	clock clockwork.Clock

	pollTimeout time.Duration
	pollPause   time.Duration

	// fetchMu serializes fetch + cursor advance.
	fetchMu sync.Mutex
	cursor  atomic.Int64

	// mu guards watches. A claim is handed over and its watch removed
	// under the same lock, so at most one claim per request gets through.
	mu      sync.Mutex
	watches map[string]*Watch
	wake    chan struct{}

	startedAt        time.Time
	lastFetchOKNano  atomic.Int64
	lastFetchErrNano atomic.Int64
	totalUpdates     atomic.Int64
	totalMatched     atomic.Int64
	totalIgnored     atomic.Int64
	totalErrors      atomic.Int64
	lastErrorMu      sync.Mutex
	lastError        string
}

func New(gw messenger.Gateway, clock clockwork.Clock) *Matcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Matcher{
		gw:          gw,
		clock:       clock,
		pollTimeout: 10 * time.Second,
		pollPause:   2 * time.Second,
		watches:     make(map[string]*Watch),
		wake:        make(chan struct{}, 1),
		startedAt:   clock.Now().UTC(),
	}
}

func (m *Matcher) WithSettings(pollTimeout, pollPause time.Duration) *Matcher {
	if pollTimeout > 0 {
		m.pollTimeout = pollTimeout
	}
	if pollPause > 0 {
		m.pollPause = pollPause
	}
	return m
}

// Watch registers interest in claims for requestID. Register before the
// broadcast goes out so an early claim is not missed.
func (m *Matcher) Watch(requestID string) (*Watch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.watches[requestID]; ok {
		return nil, errors.Wrapf(ErrDuplicateWatch, "id %q", requestID)
	}
	w := &Watch{
		m:        m,
		id:       requestID,
		ch:       make(chan models.Claimant, 1),
		openedAt: m.clock.Now(),
	}
	m.watches[requestID] = w

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return w, nil
}

// AwaitClaim registers a watch and waits on it.
func (m *Matcher) AwaitClaim(ctx context.Context, requestID string, timeout time.Duration) (models.Claimant, bool, error) {
	w, err := m.Watch(requestID)
	if err != nil {
		return models.Claimant{}, false, err
	}
	defer w.Close()
	return w.Wait(ctx, timeout)
}

// Cursor is the next update id the stream will be asked for.
func (m *Matcher) Cursor() int {
	return int(m.cursor.Load())
}

func (m *Matcher) openWatches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watches)
}

// Run consumes the stream while at least one watch is open.
func (m *Matcher) Run(ctx context.Context) error {
	for {
		if m.openWatches() == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-m.wake:
				continue
			}
		}

		matched, err := m.RunOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil || matched == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-m.clock.After(m.pollPause):
			}
		}
	}
}

// RunOnce fetches one batch, advances the cursor past every update in it
// and dispatches claims. It returns the number of claims handed to watches.
func (m *Matcher) RunOnce(ctx context.Context) (int, error) {
	m.fetchMu.Lock()
	defer m.fetchMu.Unlock()

	ups, err := m.gw.FetchUpdates(ctx, m.Cursor(), m.pollTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		m.totalErrors.Add(1)
		m.lastFetchErrNano.Store(m.clock.Now().UnixNano())
		m.setLastError(err)
		slog.Error("fetch updates", "cursor", m.Cursor(), "error", err.Error())
		return 0, err
	}
	m.lastFetchOKNano.Store(m.clock.Now().UnixNano())
	m.totalUpdates.Add(int64(len(ups)))
	metrics.RecordUpdates(len(ups))

	matched := 0
	for _, u := range ups {
		if next := int64(u.ID) + 1; next > m.cursor.Load() {
			m.cursor.Store(next)
		}
		if m.dispatch(u) {
			matched++
		}
	}
	return matched, nil
}

func (m *Matcher) dispatch(u models.Update) bool {
	if u.Message == nil {
		m.totalIgnored.Add(1)
		return false
	}
	c, err := ParseClaim(u.Message)
	switch {
	case errors.Is(err, ErrNotClaim):
		m.totalIgnored.Add(1)
		return false
	case err != nil:
		m.totalIgnored.Add(1)
		metrics.RecordClaim("malformed")
		slog.Warn("ignore malformed claim", "update_id", u.ID, "chat_id", u.Message.ChatID)
		return false
	}

	m.mu.Lock()
	w, ok := m.watches[c.RequestID]
	if ok {
		delete(m.watches, c.RequestID)
		w.ch <- c
	}
	m.mu.Unlock()

	if !ok {
		m.totalIgnored.Add(1)
		metrics.RecordClaim("unknown")
		slog.Info("ignore claim for unknown or closed request", "request_id", c.RequestID, "user_id", c.UserID)
		return false
	}
	m.totalMatched.Add(1)
	metrics.RecordClaim("matched")
	slog.Info("claim matched", "request_id", c.RequestID, "user_id", c.UserID)
	return true
}

func (m *Matcher) setLastError(err error) {
	m.lastErrorMu.Lock()
	m.lastError = err.Error()
	m.lastErrorMu.Unlock()
}

type Stats struct {
	StartedAt    time.Time  `json:"startedAt"`
	LastFetchAt  *time.Time `json:"lastFetchAt,omitempty"`
	Cursor       int        `json:"cursor"`
	OpenWatches  int        `json:"openWatches"`
	TotalUpdates int64      `json:"totalUpdates"`
	TotalMatched int64      `json:"totalMatched"`
	TotalIgnored int64      `json:"totalIgnored"`
	TotalErrors  int64      `json:"totalErrors"`
	LastError    string     `json:"lastError,omitempty"`
}

func (m *Matcher) Stats() Stats {
	st := Stats{
		StartedAt:    m.startedAt,
		Cursor:       m.Cursor(),
		OpenWatches:  m.openWatches(),
		TotalUpdates: m.totalUpdates.Load(),
		TotalMatched: m.totalMatched.Load(),
		TotalIgnored: m.totalIgnored.Load(),
		TotalErrors:  m.totalErrors.Load(),
	}
	if n := m.lastFetchOKNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastFetchAt = &t
	}
	m.lastErrorMu.Lock()
	st.LastError = m.lastError
	m.lastErrorMu.Unlock()
	return st
}

// Watch is one request's subscription to the claim stream.
type Watch struct {
	m        *Matcher
	id       string
	ch       chan models.Claimant
	openedAt time.Time
}

func (w *Watch) RequestID() string {
	return w.id
}

// Close unregisters the watch. Safe to call more than once.
func (w *Watch) Close() {
	w.m.mu.Lock()
	if cur, ok := w.m.watches[w.id]; ok && cur == w {
		delete(w.m.watches, w.id)
	}
	w.m.mu.Unlock()
}

// Wait blocks until the first claim, the timeout or ctx cancellation.
// ok is false when the window closed without a claim. If fetches failed
// and none succeeded since the watch opened, the timeout is reported as a
// wrapped messenger.ErrTransport instead.
func (w *Watch) Wait(ctx context.Context, timeout time.Duration) (models.Claimant, bool, error) {
	timer := w.m.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c := <-w.ch:
		return c, true, nil
	case <-ctx.Done():
		w.Close()
		return models.Claimant{}, false, ctx.Err()
	case <-timer.Chan():
	}

	// After Close no claim can arrive; pick up one that raced the timer.
	w.Close()
	select {
	case c := <-w.ch:
		return c, true, nil
	default:
	}

	opened := w.openedAt.UnixNano()
	if w.m.lastFetchErrNano.Load() >= opened && w.m.lastFetchOKNano.Load() < opened {
		w.m.lastErrorMu.Lock()
		last := w.m.lastError
		w.m.lastErrorMu.Unlock()
		return models.Claimant{}, false, errors.Wrapf(messenger.ErrTransport,
			"no successful fetch in %s window (last error: %s)", timeout, last)
	}
	return models.Claimant{}, false, nil
}
