package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

// Batch is one fetched group of connector messages
type Batch struct {
	Records []models.Record
	// Rejected holds messages that could not be decoded or failed validation
	Rejected []models.DeadLetter
}

// BatchHandler processes a batch. The batch is committed only when it returns nil.
type BatchHandler func(ctx context.Context, batch Batch) error

// ConsumerConfig holds Kafka consumer configuration
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	// BatchSize caps the messages per batch
	BatchSize int
	// BatchWait is how long to wait for more messages after the first one of a batch
	BatchWait time.Duration
	// MaxRetryWait caps the backoff between handler retries
	MaxRetryWait time.Duration
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads connector records in batches. Offsets are committed after the handler
// succeeds, so a crash re-delivers the uncommitted batch.
type Consumer struct {
	reader  messageReader
	config  ConsumerConfig
	logger  ectologger.Logger
	handler BatchHandler
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg ConsumerConfig, logger ectologger.Logger, handler BatchHandler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    10e3, // 10KB
		MaxBytes:    10e6, // 10MB
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})
	return newConsumer(reader, cfg, logger, handler)
}

func newConsumer(reader messageReader, cfg ConsumerConfig, logger ectologger.Logger, handler BatchHandler) *Consumer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.BatchWait <= 0 {
		cfg.BatchWait = 2 * time.Second
	}
	if cfg.MaxRetryWait <= 0 {
		cfg.MaxRetryWait = 30 * time.Second
	}
	return &Consumer{
		reader:  reader,
		config:  cfg,
		logger:  logger,
		handler: handler,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// Start begins consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.consumeLoop(ctx)

	c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":      c.config.Topic,
		"batch_size": c.config.BatchSize,
	}).Info("Kafka consumer started")
	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.reader.Close()
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		msgs, err := c.fetchBatch(ctx)
		if len(msgs) > 0 {
			if !c.processBatch(ctx, msgs) {
				return
			}
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				c.logger.WithContext(ctx).Info("Consumer loop stopping")
				return
			}
			c.logger.WithContext(ctx).WithError(err).Error("Failed to fetch message")
		}
	}
}

// fetchBatch blocks for the first message, then collects more until the batch is full or
// BatchWait has passed
func (c *Consumer) fetchBatch(ctx context.Context) ([]kafka.Message, error) {
	first, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	msgs := []kafka.Message{first}

	waitCtx, cancel := context.WithTimeout(ctx, c.config.BatchWait)
	defer cancel()
	for len(msgs) < c.config.BatchSize {
		msg, err := c.reader.FetchMessage(waitCtx)
		if err != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				// the wait elapsed, not the consumer
				return msgs, nil
			}
			return msgs, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// processBatch decodes and handles msgs, retrying the handler until it succeeds. It
// returns false when the consumer is stopping.
func (c *Consumer) processBatch(ctx context.Context, msgs []kafka.Message) bool {
	ctx = tracing.ExtractTraceParent(ctx, header(msgs[0], "traceparent"))
	ctx, span := tracing.StartSpan(ctx, "kafka.Consumer.processBatch")
	defer span.End()

	last := msgs[len(msgs)-1]
	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":      last.Topic,
		"partition":  last.Partition,
		"offset":     last.Offset,
		"batch_size": len(msgs),
	})

	batch := c.decode(msgs)

	wait := time.Second
	for attempt := 1; ; attempt++ {
		err := c.handler(ctx, batch)
		if err == nil {
			break
		}
		log.WithError(err).WithField("attempt", attempt).Errorf("Failed to process batch, retrying in %s", wait)
		if err := c.sleep(ctx, wait); err != nil {
			return false
		}
		wait = min(wait*2, c.config.MaxRetryWait)
	}

	if err := c.reader.CommitMessages(ctx, msgs...); err != nil {
		log.WithError(err).Error("Failed to commit batch")
	}
	return true
}

func (c *Consumer) decode(msgs []kafka.Message) Batch {
	batch := Batch{Records: make([]models.Record, 0, len(msgs))}
	for _, msg := range msgs {
		seenAt := msg.Time
		if seenAt.IsZero() {
			seenAt = c.now()
		}
		rec, err := DecodeRecord(msg.Value, seenAt)
		if err != nil {
			var invalid *models.InvalidRecordError
			reason := err.Error()
			if errors.As(err, &invalid) {
				reason = invalid.Reason
			}
			batch.Rejected = append(batch.Rejected, models.DeadLetter{
				Record: models.Record{ExternalRef: string(msg.Key)},
				Reason: reason,
			})
			continue
		}
		batch.Records = append(batch.Records, rec)
	}
	return batch
}

// Health returns the consumer health status
func (c *Consumer) Health() bool {
	return c.reader != nil
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
