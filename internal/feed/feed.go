// Package feed broadcasts sold ticket numbers over Redis Pub/Sub.  The
// feed is advisory: boards use it to gray out numbers early, settlement
// never reads it.
package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/iliyamo/raffle-settlement/internal/model"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Pub/Sub channel sold numbers are published on.
const DefaultChannel = "tickets:sold"

// SoldEvent is one message on the channel.
type SoldEvent struct {
	Number model.TicketNumber `json:"number"`
}

// RedisFeed publishes and relays sold numbers.
type RedisFeed struct {
	rdb     *redis.Client
	channel string
}

func NewRedisFeed(rdb *redis.Client, channel string) *RedisFeed {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisFeed{rdb: rdb, channel: channel}
}

// PublishSold emits one event per number in a single pipeline.
func (f *RedisFeed) PublishSold(ctx context.Context, saleID uint64, nums []model.TicketNumber) error {
	if len(nums) == 0 {
		return nil
	}
	pipe := f.rdb.Pipeline()
	for _, n := range nums {
		b, err := json.Marshal(SoldEvent{Number: n})
		if err != nil {
			return err
		}
		pipe.Publish(ctx, f.channel, b)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("feed publish sale %d: %w", saleID, err)
	}
	return nil
}

// Subscribe returns the raw payloads published on the channel until ctx
// is done or the returned close func is called.
func (f *RedisFeed) Subscribe(ctx context.Context) (<-chan []byte, func() error, error) {
	sub := f.rdb.Subscribe(ctx, f.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("feed subscribe: %w", err)
	}
	out := make(chan []byte, 64)
	msgs := sub.Channel()
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- []byte(m.Payload):
				default:
					// slow reader; the board is advisory so drop
				}
			}
		}
	}()
	return out, sub.Close, nil
}
