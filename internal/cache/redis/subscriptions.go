package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/papertrader/internal/domain"
)

const (
	// SubscribeChannel announces new subscriptions to the tick service.
	SubscribeChannel = "ticks:subscribe"

	feedLTP = "ltp"
	feedOI  = "oi"
)

type subscribeRequest struct {
	Feed       string `json:"feed"`
	Instrument string `json:"instrument"`
}

// TickSubscriber implements domain.TickSubscriber. The desired feeds are a
// pair of sets the tick service reconciles on start; each newly added member
// is also announced on SubscribeChannel.
type TickSubscriber struct {
	rdb *redis.Client
}

// NewTickSubscriber creates a TickSubscriber backed by the given Client.
func NewTickSubscriber(c *Client) *TickSubscriber {
	return &TickSubscriber{rdb: c.Underlying()}
}

// EnsurePriceFeed subscribes inst to last-traded-price ticks.
func (t *TickSubscriber) EnsurePriceFeed(ctx context.Context, inst domain.Instrument) error {
	return t.ensure(ctx, feedLTP, inst)
}

// EnsureOIFeed subscribes inst to open-interest ticks.
func (t *TickSubscriber) EnsureOIFeed(ctx context.Context, inst domain.Instrument) error {
	return t.ensure(ctx, feedOI, inst)
}

func (t *TickSubscriber) ensure(ctx context.Context, feed string, inst domain.Instrument) error {
	added, err := t.rdb.SAdd(ctx, "ticks:subscriptions:"+feed, inst.Key()).Result()
	if err != nil {
		return fmt.Errorf("redis: subscribe %s %s: %w", feed, inst.Key(), err)
	}
	if added == 0 {
		return nil
	}

	msg, err := json.Marshal(subscribeRequest{Feed: feed, Instrument: inst.Key()})
	if err != nil {
		return fmt.Errorf("redis: subscribe %s %s: %w", feed, inst.Key(), err)
	}
	if err := t.rdb.Publish(ctx, SubscribeChannel, msg).Err(); err != nil {
		return fmt.Errorf("redis: announce %s %s: %w", feed, inst.Key(), err)
	}
	return nil
}

var _ domain.TickSubscriber = (*TickSubscriber)(nil)
