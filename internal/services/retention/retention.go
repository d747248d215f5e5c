package retention

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/PickupRelay/internal/metrics"
	"github.com/jonboulle/clockwork"
)

// Deleter is the part of the messenger the scheduler needs.
type Deleter interface {
	Delete(ctx context.Context, chatID int64, messageID int) bool
}

type key struct {
	chatID    int64
	messageID int
}

// Scheduler deletes messages after a delay, detached from the caller.
// Failures are logged and counted, never returned.
type Scheduler struct {
	del   Deleter
	clock clockwork.Clock

	mu      sync.Mutex
	pending map[key]clockwork.Timer
	wg      sync.WaitGroup

	deleted atomic.Int64
	failed  atomic.Int64
}

func New(del Deleter, clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		del:     del,
		clock:   clock,
		pending: make(map[key]clockwork.Timer),
	}
}

// ScheduleDelete arranges for the message to be deleted once after has
// elapsed. Scheduling the same message twice keeps the first timer.
func (s *Scheduler) ScheduleDelete(chatID int64, messageID int, after time.Duration) {
	k := key{chatID: chatID, messageID: messageID}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[k]; ok {
		return
	}
	s.wg.Add(1)
	s.pending[k] = s.clock.AfterFunc(after, func() {
		defer s.wg.Done()
		if !s.take(k) {
			return
		}
		s.delete(context.Background(), k)
	})
	slog.Debug("message deletion scheduled", "chat_id", chatID, "message_id", messageID, "after", after.String())
}

// take removes k from pending; false if Flush got there first.
func (s *Scheduler) take(k key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[k]; !ok {
		return false
	}
	delete(s.pending, k)
	return true
}

func (s *Scheduler) delete(ctx context.Context, k key) {
	if s.del.Delete(ctx, k.chatID, k.messageID) {
		s.deleted.Add(1)
		metrics.RecordRetention("deleted")
		slog.Info("retained message deleted", "chat_id", k.chatID, "message_id", k.messageID)
		return
	}
	s.failed.Add(1)
	metrics.RecordRetention("failed")
	slog.Warn("retained message not deleted", "chat_id", k.chatID, "message_id", k.messageID)
}

// Pending is the number of deletions not yet attempted.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Flush deletes every pending message now and waits for timers already
// firing. Used on shutdown so contact details do not outlive the process
// longer than necessary.
func (s *Scheduler) Flush(ctx context.Context) {
	s.mu.Lock()
	keys := make([]key, 0, len(s.pending))
	for k, t := range s.pending {
		if t.Stop() {
			s.wg.Done()
		}
		keys = append(keys, k)
	}
	s.pending = make(map[key]clockwork.Timer)
	s.mu.Unlock()

	for _, k := range keys {
		s.delete(ctx, k)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

type Stats struct {
	Pending int   `json:"pending"`
	Deleted int64 `json:"deleted"`
	Failed  int64 `json:"failed"`
}

func (s *Scheduler) Stats() Stats {
	return Stats{Pending: s.Pending(), Deleted: s.deleted.Load(), Failed: s.failed.Load()}
}
