// Package labresults consumes lab test results from Kafka and feeds them into
// the status machine.
package labresults

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/StatusPipe/internal/logfields"
	"github.com/BTreeMap/StatusPipe/internal/models"
	"github.com/BTreeMap/StatusPipe/internal/status"
	"github.com/BTreeMap/StatusPipe/internal/store"
	"github.com/jonboulle/clockwork"
	"github.com/segmentio/kafka-go"
)

const (
	dedupSource  = "kafka"
	maxRetryWait = time.Minute
)

// errMalformed marks a message that can never be applied.
var errMalformed = errors.New("malformed lab result")

// Config selects the topic and consumer group.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Receiver applies a lab result.
type Receiver interface {
	Received(ctx context.Context, result models.TestResult) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads results one at a time and commits each offset only after
// the result has been applied. Redelivered messages are recognized through the
// dedup repo and committed without being applied again.
type Consumer struct {
	reader    messageReader
	receiver  Receiver
	dedup     store.DedupRepo
	clock     clockwork.Clock
	retryBase time.Duration
}

func NewConsumer(cfg Config, receiver Receiver, dedup store.DedupRepo) (*Consumer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka brokers, topic and group id are required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 1e6,
	})
	return newConsumer(reader, receiver, dedup, clockwork.NewRealClock()), nil
}

func newConsumer(reader messageReader, receiver Receiver, dedup store.DedupRepo, clock clockwork.Clock) *Consumer {
	return &Consumer{reader: reader, receiver: receiver, dedup: dedup, clock: clock, retryBase: time.Second}
}

// Run consumes until ctx is done. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("Consumer.Run: consuming lab results")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to fetch lab result: %w", err)
		}

		if err := c.processWithRetry(ctx, msg); err != nil {
			// Only cancellation ends the retry loop.
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to commit offset %d: %w", msg.Offset, err)
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) processWithRetry(ctx context.Context, msg kafka.Message) error {
	for attempt := 0; ; attempt++ {
		err := c.process(ctx, msg)
		if err == nil {
			return nil
		}
		if errors.Is(err, errMalformed) {
			slog.Warn("Consumer.process: skipping malformed message", logfields.Topic(msg.Topic), logfields.Offset(msg.Offset), logfields.Error(err))
			return nil
		}

		wait := c.retryBase << attempt
		if wait > maxRetryWait || wait <= 0 {
			wait = maxRetryWait
		}
		slog.Error("Consumer.process: failed, retrying", logfields.Topic(msg.Topic), logfields.Offset(msg.Offset), "attempt", attempt, "wait", wait, logfields.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(wait):
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	id := messageID(msg)

	done, err := c.dedup.IsProcessed(ctx, id)
	if err != nil {
		return fmt.Errorf("dedup lookup failed: %w", err)
	}
	if done {
		slog.Debug("Consumer.process: already applied", logfields.MessageID(id))
		return nil
	}

	result, err := decode(msg.Value)
	if err != nil {
		return err
	}

	// A message recorded but never marked was interrupted between Received
	// and MarkProcessed. It is applied again: Received converges on the same
	// state for a repeated result and notifications are replaced by id.
	recorded, err := c.dedup.RecordInbound(ctx, id, dedupSource)
	if err != nil {
		return fmt.Errorf("dedup record failed: %w", err)
	}
	if !recorded {
		slog.Warn("Consumer.process: reapplying interrupted message", logfields.MessageID(id))
	}

	if err := c.receiver.Received(ctx, result); err != nil {
		if !errors.Is(err, status.ErrSideEffect) {
			return err
		}
		// The transition was saved; only a notification or mailbox call failed.
		slog.Warn("Consumer.process: result applied with side effect failure", logfields.MessageID(id), logfields.Error(err))
	}

	if err := c.dedup.MarkProcessed(ctx, id); err != nil {
		return fmt.Errorf("dedup mark failed: %w", err)
	}
	slog.Info("Consumer.process: lab result applied", logfields.MessageID(id), "result", string(result.Result))
	return nil
}

func messageID(msg kafka.Message) string {
	return fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
}

func decode(value []byte) (models.TestResult, error) {
	var raw struct {
		Result             string    `json:"result"`
		TestTimestamp      time.Time `json:"test_timestamp"`
		Type               string    `json:"type"`
		AcknowledgementURL string    `json:"acknowledgement_url"`
	}
	if err := json.Unmarshal(value, &raw); err != nil {
		return models.TestResult{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	kind, err := models.ParseTestResultKind(raw.Result)
	if err != nil {
		return models.TestResult{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if raw.TestTimestamp.IsZero() {
		return models.TestResult{}, fmt.Errorf("%w: test_timestamp is required", errMalformed)
	}
	return models.TestResult{
		Result:             kind,
		TestTimestamp:      raw.TestTimestamp,
		Type:               raw.Type,
		AcknowledgementURL: raw.AcknowledgementURL,
	}, nil
}
