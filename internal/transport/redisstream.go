// redisstream.go implements the Redis Streams Router for deployments
// where an upstream ingestion service has already normalized exchange
// events onto a stream. Grounded on forgequant-context8-mcp/analytics's
// consumer.Consumer (XREADGROUP/XACK, at-least-once delivery).
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"coreengine/pkg/types"
)

// StreamConfig configures the Redis Streams consumer.
type StreamConfig struct {
	RedisURL      string
	StreamKey     string
	ConsumerGroup string
	ConsumerName  string
	BlockTime     time.Duration
	BatchSize     int64
}

// wireEnvelope is the normalized event shape the upstream ingestion
// service writes onto the stream: exactly one of Diff/Trade is set.
type wireEnvelope struct {
	Symbol string      `json:"symbol"`
	Kind   string      `json:"kind"` // "diff" or "trade"
	Diff   *types.Diff `json:"diff,omitempty"`
	Trade  *types.Trade `json:"trade,omitempty"`
}

// StreamConsumer is a Router backed by a Redis Streams consumer group.
type StreamConsumer struct {
	client *redis.Client
	cfg    StreamConfig

	diffCh  chan types.Diff
	tradeCh chan types.Trade

	logger *slog.Logger
}

// NewStreamConsumer connects to Redis and ensures the consumer group
// exists, creating the stream if necessary.
func NewStreamConsumer(cfg StreamConfig, logger *slog.Logger) (*StreamConsumer, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("transport: invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("transport: redis ping failed: %w", err)
	}

	err = client.XGroupCreateMkStream(ctx, cfg.StreamKey, cfg.ConsumerGroup, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return nil, fmt.Errorf("transport: create consumer group: %w", err)
	}

	if cfg.BlockTime == 0 {
		cfg.BlockTime = 5 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 50
	}

	return &StreamConsumer{
		client:  client,
		cfg:     cfg,
		diffCh:  make(chan types.Diff, diffBufferSize),
		tradeCh: make(chan types.Trade, tradeBufferSize),
		logger:  logger.With("component", "stream_consumer", "stream_key", cfg.StreamKey),
	}, nil
}

// DiffEvents implements Router.
func (c *StreamConsumer) DiffEvents() <-chan types.Diff { return c.diffCh }

// TradeEvents implements Router.
func (c *StreamConsumer) TradeEvents() <-chan types.Trade { return c.tradeCh }

// Subscribe is a no-op for the stream consumer: the upstream ingestion
// service already decides which symbols are published, so there is
// nothing local to subscribe.
func (c *StreamConsumer) Subscribe(symbols []string) error { return nil }

// Close implements Router.
func (c *StreamConsumer) Close() error { return c.client.Close() }

// Run consumes the stream with XREADGROUP, dispatching each message to
// the diff or trade channel and XACKing on successful dispatch. Blocks
// until ctx is cancelled.
func (c *StreamConsumer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.ConsumerGroup,
			Consumer: c.cfg.ConsumerName,
			Streams:  []string{c.cfg.StreamKey, ">"},
			Count:    c.cfg.BatchSize,
			Block:    c.cfg.BlockTime,
			NoAck:    false,
		}).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("xreadgroup failed", "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				if err := c.processMessage(msg); err != nil {
					c.logger.Error("message processing failed", "stream_id", msg.ID, "error", err)
					continue
				}
				if err := c.client.XAck(ctx, c.cfg.StreamKey, c.cfg.ConsumerGroup, msg.ID).Err(); err != nil {
					c.logger.Error("xack failed", "stream_id", msg.ID, "error", err)
				}
			}
		}
	}
}

func (c *StreamConsumer) processMessage(msg redis.XMessage) error {
	raw, ok := msg.Values["data"]
	if !ok {
		return fmt.Errorf("message missing 'data' field")
	}
	body, ok := raw.(string)
	if !ok {
		return fmt.Errorf("data field is not a string")
	}

	var env wireEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return fmt.Errorf("json unmarshal: %w", err)
	}

	switch env.Kind {
	case "diff":
		if env.Diff == nil {
			return fmt.Errorf("kind=diff with no diff payload")
		}
		select {
		case c.diffCh <- *env.Diff:
		default:
			c.logger.Warn("diff channel full, dropping event", "symbol", env.Symbol)
		}
	case "trade":
		if env.Trade == nil {
			return fmt.Errorf("kind=trade with no trade payload")
		}
		select {
		case c.tradeCh <- *env.Trade:
		default:
			c.logger.Warn("trade channel full, dropping event", "symbol", env.Symbol)
		}
	default:
		return fmt.Errorf("unknown kind %q", env.Kind)
	}
	return nil
}
