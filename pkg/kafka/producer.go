package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/thistle/pkg/metrics"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes canonical records and profile matches
type Producer struct {
	writer         messageWriter
	logger         ectologger.Logger
	canonicalTopic string
	matchTopic     string
	now            func() time.Time
}

// ProducerConfig holds Kafka producer configuration
type ProducerConfig struct {
	Brokers        []string
	CanonicalTopic string
	MatchTopic     string
	BatchSize      int
	BatchTimeout   time.Duration
	RequiredAcks   int
	Compression    string
}

// NewProducer creates a new Kafka producer
func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return newProducer(writer, cfg, logger)
}

func newProducer(writer messageWriter, cfg ProducerConfig, logger ectologger.Logger) *Producer {
	return &Producer{
		writer:         writer,
		logger:         logger,
		canonicalTopic: cfg.CanonicalTopic,
		matchTopic:     cfg.MatchTopic,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// PublishCanonical publishes one record.canonical event per record, keyed by record id
func (p *Producer) PublishCanonical(ctx context.Context, records []models.Record) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishCanonical")
	defer span.End()

	if len(records) == 0 {
		return nil
	}

	now := p.now()
	messages := make([]kafka.Message, len(records))
	for i, rec := range records {
		msg, err := p.message(ctx, p.canonicalTopic, rec.ID, EventTypeCanonical, CanonicalEvent{
			EventType: EventTypeCanonical,
			RecordID:  rec.ID,
			Record:    rec,
			Timestamp: now,
		})
		if err != nil {
			return err
		}
		messages[i] = msg
	}

	return p.write(ctx, p.canonicalTopic, messages)
}

// PublishMatches publishes the ranked matches of one profile, keyed by subscriber so a
// subscriber's alerts stay ordered
func (p *Producer) PublishMatches(ctx context.Context, profile models.Profile, matches []models.RankedMatch) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishMatches")
	defer span.End()

	if len(matches) == 0 {
		return nil
	}

	now := p.now()
	messages := make([]kafka.Message, len(matches))
	for i, m := range matches {
		msg, err := p.message(ctx, p.matchTopic, profile.SubscriberID, EventTypeMatch, MatchEvent{
			EventType:    EventTypeMatch,
			ProfileID:    profile.ID,
			SubscriberID: profile.SubscriberID,
			RecordID:     m.Record.ID,
			Score:        m.Score,
			Breakdown:    m.Breakdown,
			Record:       m.Record,
			Timestamp:    now,
		})
		if err != nil {
			return err
		}
		messages[i] = msg
	}

	return p.write(ctx, p.matchTopic, messages)
}

func (p *Producer) message(ctx context.Context, topic, key, eventType string, event any) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}

	headers := []kafka.Header{
		{Key: "event_type", Value: []byte(eventType)},
		{Key: "schema_version", Value: []byte(schemaVersion)},
	}
	if tp := tracing.GetTraceParent(ctx); tp != "" {
		headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(tp)})
	}

	return kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   data,
		Headers: headers,
	}, nil
}

func (p *Producer) write(ctx context.Context, topic string, messages []kafka.Message) error {
	log := p.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":      topic,
		"batch_size": len(messages),
	})

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		metrics.RecordKafkaPublish(topic, "error", len(messages))
		log.WithError(err).Error("Failed to publish events batch")
		return err
	}

	metrics.RecordKafkaPublish(topic, "success", len(messages))
	log.Debug("Published events batch")
	return nil
}
