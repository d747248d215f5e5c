package registry

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/PickupRelay/internal/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
)

var (
	ErrNotFound          = errors.New("pickup request not found")
	ErrInvalidTransition = errors.New("invalid pickup status transition")
	ErrWindow            = errors.New("wait window must be positive")
)

const idAttempts = 8

// Registry is the in-memory table of active pickup requests.
type Registry struct {
	mu    sync.RWMutex
	items map[string]*models.PickupRequest

	clock clockwork.Clock
	newID func() string
}

func New(clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{
		items: make(map[string]*models.PickupRequest),
		clock: clock,
		newID: NewID,
	}
}

// WithIDGenerator replaces the id source (tests).
func (r *Registry) WithIDGenerator(gen func() string) *Registry {
	if gen != nil {
		r.newID = gen
	}
	return r
}

// NewID returns a 12-char hex token: short enough for a deep-link start
// parameter, 48 random bits.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Create registers a new OPEN request expiring after window.
func (r *Registry) Create(fields models.PickupFields, window time.Duration) (models.PickupRequest, error) {
	if window <= 0 {
		return models.PickupRequest{}, ErrWindow
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < idAttempts; i++ {
		id := r.newID()
		if _, taken := r.items[id]; taken || id == "" {
			continue
		}
		now := r.clock.Now()
		req := &models.PickupRequest{
			ID:        id,
			Fields:    fields,
			Status:    models.PickupStatusOpen,
			CreatedAt: now,
			ExpiresAt: now.Add(window),
		}
		r.items[id] = req
		return *req, nil
	}
	return models.PickupRequest{}, errors.Errorf("no free request id after %d attempts", idAttempts)
}

func (r *Registry) Get(id string) (models.PickupRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.items[id]
	if !ok {
		return models.PickupRequest{}, errors.Wrapf(ErrNotFound, "id %q", id)
	}
	return *req, nil
}

// SetAnnouncement records the broadcast message id. It is set once.
func (r *Registry) SetAnnouncement(id string, messageID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.items[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "id %q", id)
	}
	if req.AnnouncementMessageID != 0 {
		return errors.Errorf("announcement of %q already set", id)
	}
	req.AnnouncementMessageID = messageID
	return nil
}

// Transition moves an OPEN request to a terminal status.
func (r *Registry) Transition(id string, to models.PickupStatus) error {
	if !to.IsTerminal() {
		return errors.Wrapf(ErrInvalidTransition, "target %s", to)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.items[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "id %q", id)
	}
	if req.Status != models.PickupStatusOpen {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", req.Status, to)
	}
	req.Status = to
	return nil
}

// Remove retires a request. Unknown ids are a logged no-op.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	_, ok := r.items[id]
	delete(r.items, id)
	r.mu.Unlock()

	if !ok {
		slog.Warn("remove unknown pickup request", "request_id", id)
	}
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Snapshot copies all active requests, contact numbers blanked.
func (r *Registry) Snapshot() []models.PickupRequest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.PickupRequest, 0, len(r.items))
	for _, req := range r.items {
		cp := *req
		cp.Fields.ContactNumber = ""
		out = append(out, cp)
	}
	return out
}
