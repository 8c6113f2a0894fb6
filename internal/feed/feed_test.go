package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/raffle-settlement/internal/model"
)

func newTestFeed(t *testing.T) (*RedisFeed, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisFeed(rdb, ""), rdb
}

func recv(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case b, ok := <-ch:
		require.True(t, ok, "channel closed")
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func TestSoldEventPayload(t *testing.T) {
	b, err := json.Marshal(SoldEvent{Number: 42})
	require.NoError(t, err)
	assert.JSONEq(t, `{"number":"042"}`, string(b))
}

func TestNewRedisFeedDefaultsChannel(t *testing.T) {
	f := NewRedisFeed(nil, "")
	assert.Equal(t, DefaultChannel, f.channel)
	assert.NoError(t, f.PublishSold(context.Background(), 1, nil))
}

func TestPublishSoldEmitsOneMessagePerNumber(t *testing.T) {
	f, rdb := newTestFeed(t)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, "tickets:sold")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	msgs := sub.Channel()

	require.NoError(t, f.PublishSold(ctx, 9, []model.TicketNumber{17, 42}))

	for _, want := range []string{`{"number":"017"}`, `{"number":"042"}`} {
		select {
		case m := <-msgs:
			assert.Equal(t, "tickets:sold", m.Channel)
			assert.JSONEq(t, want, m.Payload)
		case <-time.After(2 * time.Second):
			t.Fatalf("missing %s", want)
		}
	}
}

func TestSubscribeRelaysAndClosesOnCancel(t *testing.T) {
	f, _ := newTestFeed(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, closeFn, err := f.Subscribe(ctx)
	require.NoError(t, err)
	defer closeFn()

	require.NoError(t, f.PublishSold(ctx, 1, []model.TicketNumber{5}))
	assert.JSONEq(t, `{"number":"005"}`, string(recv(t, out)))

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-out:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubscribeDropsForSlowReader(t *testing.T) {
	f, rdb := newTestFeed(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out, closeFn, err := f.Subscribe(ctx)
	require.NoError(t, err)
	defer closeFn()

	const published = 200
	for i := 0; i < published; i++ {
		require.NoError(t, rdb.Publish(ctx, DefaultChannel, fmt.Sprintf(`{"number":"%03d"}`, i)).Err())
	}
	require.Eventually(t, func() bool { return len(out) == cap(out) }, 2*time.Second, 10*time.Millisecond)
	// let the relay work through the rest of the backlog
	time.Sleep(100 * time.Millisecond)

	cancel()
	got := 0
	for range out {
		got++
	}
	assert.Equal(t, cap(out), got)
	assert.Less(t, got, published)
}
