package push

import (
	"context"
	"encoding/json"
	"fmt"

	"escrow_trade_service/pkg/logger"
	"escrow_trade_service/pkg/metrics"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Publisher fan-out a frame to a channel
type Publisher interface {
	Publish(ctx context.Context, channel string, resp Response) error
}

// RedisPubSub definition redis pub/sub
type RedisPubSub struct {
	client *redis.Client
}

// NewRedisPubSub create RedisPubSub
func NewRedisPubSub(client *redis.Client) *RedisPubSub {
	return &RedisPubSub{client: client}
}

// Publish 將 resp 序列化後, 發布到指定 channel
func (r *RedisPubSub) Publish(ctx context.Context, channel string, resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", resp.Action, err)
	}
	if err := r.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", resp.Action, channel, err)
	}
	metrics.PushEvents.WithLabelValues(string(resp.Action)).Inc()
	return nil
}

// PublishUsers publish resp to every user channel, errors are logged
func PublishUsers(ctx context.Context, p Publisher, users []string, resp Response) {
	for _, u := range users {
		if err := p.Publish(ctx, UserChannel(u), resp); err != nil {
			logger.Log.Warn("push publish failed", zap.String("user", u), zap.String("action", string(resp.Action)), zap.Error(err))
		}
	}
}

// Subscription live redis subscription, channels can be joined and left
type Subscription struct {
	sub *redis.PubSub
}

// Subscribe 訂閱 channels, 收到的原始 frame 交給 handler, ctx 結束時關閉
func (r *RedisPubSub) Subscribe(ctx context.Context, handler func(frame []byte), channels ...string) (*Subscription, error) {
	sub := r.client.Subscribe(ctx, channels...)
	// 等待訂閱確認, 避免遺漏第一則
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %v: %w", channels, err)
	}

	go func() {
		ch := sub.Channel()
		for {
			select {
			case m, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(m.Payload))
			case <-ctx.Done():
				logger.Log.Debug("sub close", zap.Strings("channels", channels))
				sub.Close()
				return
			}
		}
	}()
	return &Subscription{sub: sub}, nil
}

// Join add a channel to the subscription
func (s *Subscription) Join(ctx context.Context, channel string) error {
	return s.sub.Subscribe(ctx, channel)
}

// Leave remove a channel from the subscription
func (s *Subscription) Leave(ctx context.Context, channel string) error {
	return s.sub.Unsubscribe(ctx, channel)
}

// Close stop receiving
func (s *Subscription) Close() error {
	return s.sub.Close()
}
