package fake

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/PickupRelay/internal/integrations/messenger"
	"github.com/BearBump/PickupRelay/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestGateway_SendDelete(t *testing.T) {
	g := New()
	ctx := context.Background()

	id, err := g.Send(ctx, -1, "hello", &models.LinkButton{Text: "b", URL: "u"})
	require.NoError(t, err)
	require.True(t, g.Delete(ctx, -1, id))
	require.True(t, g.WasDeleted(-1, id))
	require.Len(t, g.SentTo(-1), 1)

	g.FailSend(5, errors.New("blocked"))
	_, err = g.Send(ctx, 5, "x", nil)
	require.True(t, errors.Is(err, messenger.ErrDelivery))
	require.Contains(t, err.Error(), "blocked")

	g.FailDelete(true)
	require.False(t, g.Delete(ctx, -1, id))
}

func TestGateway_FetchUpdates_OffsetAcknowledges(t *testing.T) {
	g := New()
	ctx := context.Background()
	g.Push(Claim(1, "A", "", "/start x"), Claim(2, "B", "", "/start y"))

	ups, err := g.FetchUpdates(ctx, 0, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, ups, 2)
	require.Equal(t, 1, ups[0].ID)
	require.Equal(t, 2, ups[1].ID)

	ups, err = g.FetchUpdates(ctx, 2, time.Millisecond)
	require.NoError(t, err)
	require.Len(t, ups, 1)
	require.Equal(t, 2, ups[0].ID)

	ups, err = g.FetchUpdates(ctx, 3, 5*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, ups)
	require.Equal(t, []int{0, 2, 3}, g.Offsets()[:3])
}

func TestGateway_FetchUpdates_WakesOnPush(t *testing.T) {
	g := New()
	go func() {
		time.Sleep(10 * time.Millisecond)
		g.Push(Claim(1, "A", "", "/start x"))
	}()

	ups, err := g.FetchUpdates(context.Background(), 0, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, ups, 1)
}

func TestGateway_Reset_DropsBacklog(t *testing.T) {
	g := New()
	g.Push(Claim(1, "A", "", "/start x"))
	require.NoError(t, g.Reset(context.Background(), true))

	ups, err := g.FetchUpdates(context.Background(), 0, time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, ups)
	require.Equal(t, []bool{true}, g.Resets())
}

func TestGateway_FetchUpdates_FailureIsTransport(t *testing.T) {
	g := New()
	g.FailFetch(errors.New("connection reset"))

	_, err := g.FetchUpdates(context.Background(), 0, time.Second)
	require.True(t, errors.Is(err, messenger.ErrTransport))
	require.Contains(t, err.Error(), "connection reset")
}
