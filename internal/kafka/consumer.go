package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/step-groups/internal/config"
	"github.com/step-groups/internal/domain"
)

const handleTimeout = 5 * time.Second

// EventHandler receives group events read from Kafka
type EventHandler interface {
	HandleGroupEvent(ctx context.Context, event domain.GroupEvent) error
}

// Consumer reads group events and hands them to an EventHandler. It is its
// own sarama.ConsumerGroupHandler.
type Consumer struct {
	topic   string
	group   sarama.ConsumerGroup
	handler EventHandler
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	setup  chan struct{}
	once   sync.Once
}

// NewConsumer creates a consumer in its own consumer group, suffixed with
// instanceID, so that every server instance sees every event and can push it
// to its local websocket subscribers.
func NewConsumer(cfg *config.KafkaConfig, instanceID string, handler EventHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	// Pushes are live notifications; a fresh instance skips the backlog
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	groupID := cfg.GroupID + "-" + instanceID
	group, err := sarama.NewConsumerGroup(cfg.Brokers, groupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}

	return &Consumer{
		topic:   cfg.Topic,
		group:   group,
		handler: handler,
		logger:  logger.With("topic", cfg.Topic, "consumer_group", groupID),
		setup:   make(chan struct{}),
	}, nil
}

// Start joins the consumer group and returns once the first session is set
// up. Sessions are re-joined after rebalances until Stop.
func (c *Consumer) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		for ctx.Err() == nil {
			err := c.group.Consume(ctx, []string{c.topic}, c)
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			if err != nil {
				c.logger.Error("consume session ended", "error", err)
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.Error("consumer group error", "error", err)
		}
	}()

	select {
	case <-c.setup:
		c.logger.Info("Kafka consumer ready")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop leaves the consumer group and waits for the session to end
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	if c.cancel != nil {
		c.cancel()
	}
	err := c.group.Close()
	c.wg.Wait()
	return err
}

// Setup is called at the beginning of a new session
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	c.once.Do(func() { close(c.setup) })
	return nil
}

// Cleanup is called at the end of a session
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim forwards every message of one partition claim
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			c.process(session.Context(), msg)
			session.MarkMessage(msg, "")
		}
	}
}

// process hands one message to the handler. Malformed messages and handler
// failures are logged and skipped; events are notifications, not commands.
func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) {
	event, err := DecodeEvent(message.Value)
	if err != nil {
		c.logger.Warn("failed to decode group event",
			"error", err,
			"offset", message.Offset,
			"partition", message.Partition,
		)
		return
	}

	hctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	if err := c.handler.HandleGroupEvent(hctx, event); err != nil {
		c.logger.Error("failed to handle group event",
			"type", event.Type,
			"group_id", event.GroupID,
			"error", err,
		)
		return
	}
	c.logger.Debug("handled group event", "type", event.Type, "group_id", event.GroupID)
}

// DecodeEvent parses and checks a group event message
func DecodeEvent(data []byte) (domain.GroupEvent, error) {
	var event domain.GroupEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return domain.GroupEvent{}, fmt.Errorf("unmarshaling event: %w", err)
	}
	if event.Type == "" || event.GroupID == "" {
		return domain.GroupEvent{}, errors.New("event missing type or group_id")
	}
	return event, nil
}
