package pickups

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/PickupRelay/internal/broker/messages"
	"github.com/BearBump/PickupRelay/internal/integrations/messenger"
	"github.com/BearBump/PickupRelay/internal/integrations/messenger/fake"
	"github.com/BearBump/PickupRelay/internal/models"
	"github.com/BearBump/PickupRelay/internal/services/composer"
	"github.com/BearBump/PickupRelay/internal/services/matcher"
	"github.com/BearBump/PickupRelay/internal/services/notifier"
	"github.com/BearBump/PickupRelay/internal/services/registry"
	"github.com/BearBump/PickupRelay/internal/services/retention"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const groupID = int64(-1001)

type fakeProducer struct {
	mu    sync.Mutex
	calls int
	err   error
	out   []messages.PickupOutcome
	raw   [][]byte
	keys  []string
	topic string
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.topic = topic
	if p.err != nil {
		return p.err
	}
	var o messages.PickupOutcome
	if err := json.Unmarshal(value, &o); err != nil {
		return err
	}
	p.out = append(p.out, o)
	p.raw = append(p.raw, value)
	p.keys = append(p.keys, string(key))
	return nil
}

func (p *fakeProducer) outcomes() []messages.PickupOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]messages.PickupOutcome(nil), p.out...)
}

type env struct {
	gw    *fake.Gateway
	reg   *registry.Registry
	fc    *clockwork.FakeClock
	sched *retention.Scheduler
	prod  *fakeProducer
	svc   *Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gw := fake.New()
	reg := registry.New(nil)
	m := matcher.New(gw, nil).WithSettings(20*time.Millisecond, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	fc := clockwork.NewFakeClock()
	sched := retention.New(gw, fc)
	comp := composer.New("pickup_bot", time.UTC, 15*time.Minute)
	n := notifier.New(gw, comp, reg, sched, groupID, 15*time.Minute)
	prod := &fakeProducer{}
	svc := New(reg, m, gw, comp, n, groupID).
		WithOutcomes(prod, "pickup.outcome").
		WithPublishRetry(2, time.Millisecond)

	return &env{gw: gw, reg: reg, fc: fc, sched: sched, prod: prod, svc: svc}
}

func fields(location string) models.PickupFields {
	return models.PickupFields{
		Location:      location,
		Date:          "Thursday, 15 October",
		TimeWindow:    "14:00 - 16:00",
		ContactNumber: "+358 40 1234567",
	}
}

// waitBroadcast returns the request id carried by the broadcast for location.
func waitBroadcast(t *testing.T, gw *fake.Gateway, location string) (string, int) {
	t.Helper()
	var id string
	var msgID int
	require.Eventually(t, func() bool {
		for _, m := range gw.SentTo(groupID) {
			if m.Button != nil && strings.Contains(m.Text, location) {
				id = m.Button.URL[strings.Index(m.Button.URL, "start=")+len("start="):]
				msgID = m.MessageID
				return true
			}
		}
		return false
	}, 2*time.Second, 2*time.Millisecond)
	return id, msgID
}

func claimLater(t *testing.T, gw *fake.Gateway, location string, userID int64, name, username string, delay time.Duration) {
	go func() {
		id, _ := waitBroadcast(t, gw, location)
		time.Sleep(delay)
		gw.Push(fake.Claim(userID, name, username, "/start "+id))
	}()
}

func TestRun_Matched(t *testing.T) {
	e := newEnv(t)
	claimLater(t, e.gw, "A-Block", 42, "Anna", "anna", 30*time.Millisecond)

	ok, err := e.svc.Run(context.Background(), fields("A-Block"), 2*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, broadcastID := waitBroadcast(t, e.gw, "A-Block")
	require.True(t, e.gw.WasDeleted(groupID, broadcastID))
	require.Zero(t, e.reg.Len())

	private := e.gw.SentTo(42)
	require.Len(t, private, 1)
	require.Contains(t, private[0].Text, `href="tel:+358401234567"`)

	group := e.gw.SentTo(groupID)
	require.Len(t, group, 2)
	require.Contains(t, group[1].Text, "<b>Anna</b> (@anna) is signing in")

	// Contact message lives exactly for the retention window.
	require.Equal(t, 1, e.sched.Pending())
	e.fc.Advance(15*time.Minute - time.Second)
	require.False(t, e.gw.WasDeleted(42, private[0].MessageID))
	e.fc.Advance(time.Second)
	require.Eventually(t, func() bool { return e.gw.WasDeleted(42, private[0].MessageID) }, time.Second, time.Millisecond)

	outs := e.prod.outcomes()
	require.Len(t, outs, 1)
	require.Equal(t, messages.OutcomeMatched, outs[0].Status)
	require.Equal(t, int64(42), *outs[0].ClaimantUserID)
	require.Equal(t, "pickup.outcome", e.prod.topic)
	require.Equal(t, outs[0].RequestID, e.prod.keys[0])
	require.NotContains(t, string(e.prod.raw[0]), "1234567")
	require.Equal(t, int64(1), e.svc.Stats().TotalMatched)
}

func TestRun_NoClaimPostsDenial(t *testing.T) {
	e := newEnv(t)

	ok, err := e.svc.Run(context.Background(), fields("B-Block"), 100*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)

	_, broadcastID := waitBroadcast(t, e.gw, "B-Block")
	require.True(t, e.gw.WasDeleted(groupID, broadcastID))
	require.Zero(t, e.reg.Len())

	group := e.gw.SentTo(groupID)
	require.Len(t, group, 2)
	require.Contains(t, group[1].Text, "no one has time")

	outs := e.prod.outcomes()
	require.Len(t, outs, 1)
	require.Equal(t, messages.OutcomeNoMatch, outs[0].Status)
	require.Nil(t, outs[0].ClaimantUserID)
}

func TestRun_LateClaimIsIgnored(t *testing.T) {
	e := newEnv(t)

	ok, err := e.svc.Run(context.Background(), fields("C-Block"), 60*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)

	id, _ := waitBroadcast(t, e.gw, "C-Block")
	e.gw.Push(fake.Claim(7, "Late", "", "/start "+id))
	time.Sleep(100 * time.Millisecond)
	require.Empty(t, e.gw.SentTo(7))
}

func TestRun_RetentionFailureDoesNotChangeResult(t *testing.T) {
	e := newEnv(t)
	e.gw.FailDelete(true)
	claimLater(t, e.gw, "D-Block", 42, "Anna", "", 10*time.Millisecond)

	ok, err := e.svc.Run(context.Background(), fields("D-Block"), 2*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	e.fc.Advance(15 * time.Minute)
	require.Eventually(t, func() bool { return e.sched.Stats().Failed == 1 }, time.Second, time.Millisecond)
}

func TestRun_BroadcastFailure(t *testing.T) {
	e := newEnv(t)
	e.gw.FailSend(groupID, errors.New("chat not found"))

	ok, err := e.svc.Run(context.Background(), fields("E-Block"), time.Second)
	require.False(t, ok)
	require.True(t, errors.Is(err, messenger.ErrDelivery))
	require.Zero(t, e.reg.Len())

	outs := e.prod.outcomes()
	require.Len(t, outs, 1)
	require.Equal(t, messages.OutcomeError, outs[0].Status)
	require.NotNil(t, outs[0].Error)
}

func TestRun_ContactDeliveryFailure(t *testing.T) {
	e := newEnv(t)
	e.gw.FailSend(42, errors.New("bot was blocked by the user"))
	claimLater(t, e.gw, "F-Block", 42, "Anna", "", 0)

	ok, err := e.svc.Run(context.Background(), fields("F-Block"), 2*time.Second)
	require.False(t, ok)
	require.True(t, errors.Is(err, messenger.ErrDelivery))

	_, broadcastID := waitBroadcast(t, e.gw, "F-Block")
	require.True(t, e.gw.WasDeleted(groupID, broadcastID))
}

func TestRun_DeadTransport(t *testing.T) {
	e := newEnv(t)
	e.gw.FailFetch(errors.New("connection refused"))

	ok, err := e.svc.Run(context.Background(), fields("G-Block"), 80*time.Millisecond)
	require.False(t, ok)
	require.True(t, errors.Is(err, messenger.ErrTransport))

	_, broadcastID := waitBroadcast(t, e.gw, "G-Block")
	require.True(t, e.gw.WasDeleted(groupID, broadcastID))
	require.Equal(t, int64(1), e.svc.Stats().TotalErrors)
}

func TestRun_ConcurrentRequestsDoNotCrossTalk(t *testing.T) {
	e := newEnv(t)

	a := fields("North Hall")
	a.ContactNumber = "+358 40 1111111"
	b := fields("South Hall")
	b.ContactNumber = "+358 40 2222222"

	claimLater(t, e.gw, "South Hall", 2, "Bo", "", 0)
	claimLater(t, e.gw, "North Hall", 1, "Anna", "", 40*time.Millisecond)

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i, f := range []models.PickupFields{a, b} {
		wg.Add(1)
		go func(i int, f models.PickupFields) {
			defer wg.Done()
			ok, err := e.svc.Run(context.Background(), f, 2*time.Second)
			require.NoError(t, err)
			results[i] = ok
		}(i, f)
	}
	wg.Wait()

	require.Equal(t, []bool{true, true}, results)
	require.Contains(t, e.gw.SentTo(1)[0].Text, "+358401111111")
	require.Contains(t, e.gw.SentTo(2)[0].Text, "+358402222222")
	require.Zero(t, e.reg.Len())
}

func TestRun_PublishFailureIsBestEffort(t *testing.T) {
	e := newEnv(t)
	e.prod.err = errors.New("kafka down")

	ok, err := e.svc.Run(context.Background(), fields("H-Block"), 50*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 2, e.prod.calls)
}

func TestRun_InvalidWindow(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Run(context.Background(), fields("I-Block"), 0)
	require.True(t, errors.Is(err, registry.ErrWindow))
	require.Empty(t, e.gw.Sent())
}
