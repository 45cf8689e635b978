// Package eventbus provides a Redis Streams consumer-group bus for fanning durable
// transaction transitions out to interested subscribers, adapted directly from the
// teacher's RedisEventBus (worker/internal/eventbus/redis_eventbus.go): same consumer
// group + XReadGroup + no-ack-on-failure-leaves-in-PEL pattern, renamed to this
// domain's topics (transaction lifecycle events instead of payment-failure events).
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const consumerGroup = "momopay-orchestrator"

type RedisBus struct {
	client      *redis.Client
	logger      *zap.Logger
	subscribers map[string][]*redisSubscription
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type redisSubscription struct {
	id      string
	topic   string
	handler EventHandler
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewRedisBus(addr, password string, db int, logger *zap.Logger) (*RedisBus, error) {
	ctx, cancel := context.WithCancel(context.Background())
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	if err := client.Ping(ctx).Err(); err != nil {
		cancel()
		return nil, fmt.Errorf("eventbus: connect to redis: %w", err)
	}

	return &RedisBus{
		client:      client,
		logger:      logger,
		subscribers: make(map[string][]*redisSubscription),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

func (r *RedisBus) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("eventbus: marshal event: %w", err)
	}
	return r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: topic,
		Values: map[string]interface{}{"payload": data},
	}).Err()
}

func (r *RedisBus) Subscribe(ctx context.Context, topic string, handler EventHandler) (Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &redisSubscription{id: uuid.New().String(), topic: topic, handler: handler, ctx: subCtx, cancel: cancel}

	r.mu.Lock()
	r.subscribers[topic] = append(r.subscribers[topic], sub)
	r.mu.Unlock()

	go r.consumeStream(sub)

	return sub, nil
}

func (r *RedisBus) consumeStream(sub *redisSubscription) {
	consumerName := "orchestrator-" + sub.id

	_ = r.client.XGroupCreateMkStream(sub.ctx, sub.topic, consumerGroup, "0").Err()

	r.logger.Info("started stream consumer", zap.String("topic", sub.topic), zap.String("group", consumerGroup))

	for {
		select {
		case <-sub.ctx.Done():
			return
		default:
			streams, err := r.client.XReadGroup(sub.ctx, &redis.XReadGroupArgs{
				Group:    consumerGroup,
				Consumer: consumerName,
				Streams:  []string{sub.topic, ">"},
				Count:    10,
				Block:    2 * time.Second,
			}).Result()

			if err != nil {
				if err != redis.Nil {
					r.logger.Error("failed to read stream", zap.Error(err))
				}
				time.Sleep(100 * time.Millisecond)
				continue
			}

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					if err := r.handleMessage(sub, msg); err != nil {
						r.logger.Error("failed to process message", zap.String("msg_id", msg.ID), zap.Error(err))
						// Not acked; stays in the Pending Entries List for recovery.
					} else {
						r.client.XAck(sub.ctx, sub.topic, consumerGroup, msg.ID)
					}
				}
			}
		}
	}
}

func (r *RedisBus) handleMessage(sub *redisSubscription, msg redis.XMessage) error {
	payloadStr, ok := msg.Values["payload"].(string)
	if !ok {
		return fmt.Errorf("eventbus: invalid payload format")
	}

	var event map[string]any
	if err := json.Unmarshal([]byte(payloadStr), &event); err != nil {
		event = map[string]any{"data": payloadStr}
	}
	event["_msg_id"] = msg.ID

	return sub.handler(sub.ctx, event)
}

func (r *RedisBus) Close() error {
	r.cancel()
	return r.client.Close()
}

func (s *redisSubscription) ID() string        { return s.id }
func (s *redisSubscription) Topic() string      { return s.topic }
func (s *redisSubscription) Unsubscribe() error { s.cancel(); return nil }
