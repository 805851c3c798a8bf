package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/adred-codev/mdingest/internal/event"
)

// EventHandler processes one decoded event from the log.
type EventHandler func(ev *event.NormalizedEvent)

// ConsumerConfig configures an EventConsumer.
type ConsumerConfig struct {
	Brokers       []string
	ConsumerGroup string
	Topics        []string
}

// EventConsumer is the compute-side read path over the `events` topic:
// "a separate worker reads events, feeds StateManager" (§2). Grounded on
// the teacher's franz-go PollFetches consume loop
// (ws/internal/shared/kafka/consumer.go), stripped of the ws-server-specific
// rate-limit/CPU-brake layers that belong to connection fan-out, not
// compute.
type EventConsumer struct {
	client *kgo.Client
	logger zerolog.Logger
}

// NewEventConsumer constructs an EventConsumer in a consumer group, reading
// from the latest offset on first start.
func NewEventConsumer(cfg ConsumerConfig, logger zerolog.Logger) (*EventConsumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if cfg.ConsumerGroup == "" {
		return nil, fmt.Errorf("consumer group is required")
	}
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("at least one topic is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()),
		kgo.FetchMaxWait(500*time.Millisecond),
		kgo.FetchMinBytes(1),
		kgo.FetchMaxBytes(10*1024*1024),
		kgo.SessionTimeout(30*time.Second),
		kgo.RebalanceTimeout(60*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer client: %w", err)
	}
	return &EventConsumer{client: client, logger: logger}, nil
}

// Run polls for records until ctx is cancelled, decoding each as a
// NormalizedEvent and invoking handle. Decode failures are logged and
// skipped rather than fatal.
func (c *EventConsumer) Run(ctx context.Context, handle EventHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return
		}
		for _, err := range fetches.Errors() {
			c.logger.Error().Err(err.Err).Str("topic", err.Topic).Int32("partition", err.Partition).Msg("fetch error")
		}

		fetches.EachRecord(func(r *kgo.Record) {
			var ev event.NormalizedEvent
			if err := json.Unmarshal(r.Value, &ev); err != nil {
				c.logger.Error().Err(err).Str("topic", r.Topic).Msg("decode event record failed")
				return
			}
			handle(&ev)
		})
	}
}

// Close releases the underlying client.
func (c *EventConsumer) Close() {
	c.client.Close()
}
