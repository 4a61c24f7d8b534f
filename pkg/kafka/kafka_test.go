package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/thistle/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

var seen = time.Date(2026, time.March, 20, 8, 0, 0, 0, time.UTC)

func TestDecodeRecord(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantTitle  string
		wantBuyer  *string
		wantReason string
	}{
		{
			name:      "plain text",
			payload:   `{"external_ref":"r-1","source":"ted","title":"Road works","buyer":"City of Berlin","country":"de","category_codes":["45233141"]}`,
			wantTitle: "Road works",
			wantBuyer: strPtr("City of Berlin"),
		},
		{
			name:      "locale maps prefer the country language",
			payload:   `{"external_ref":"r-2","source":"ted","title":{"en":"Road works","de":"Straßenbau"},"buyer":{"de":"Stadt Berlin"},"country":"DE"}`,
			wantTitle: "Straßenbau",
			wantBuyer: strPtr("Stadt Berlin"),
		},
		{
			name:       "malformed json",
			payload:    `{"external_ref":`,
			wantReason: "malformed payload",
		},
		{
			name:       "blank title",
			payload:    `{"external_ref":"r-3","source":"ted","title":"  ","country":"DE"}`,
			wantReason: "title is blank",
		},
		{
			name:       "missing external ref",
			payload:    `{"source":"ted","title":"Road works","country":"DE"}`,
			wantReason: "external_ref is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := DecodeRecord([]byte(tt.payload), seen)
			if tt.wantReason != "" {
				var invalid *models.InvalidRecordError
				require.ErrorAs(t, err, &invalid)
				assert.Contains(t, invalid.Reason, tt.wantReason)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantTitle, rec.Title)
			assert.Equal(t, tt.wantBuyer, rec.SecondaryText)
			assert.Equal(t, "DE", rec.Country)
			assert.Equal(t, seen, rec.SeenAt)
		})
	}
}

func TestDecodeRecordKeepsPayloadSeenAt(t *testing.T) {
	rec, err := DecodeRecord([]byte(`{"external_ref":"r-1","source":"ted","title":"Road works","country":"PL","seen_at":"2026-03-01T10:00:00+01:00"}`), seen)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC), rec.SeenAt)
}

// fakeReader serves queued messages, then blocks until the context ends
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func recordMessage(offset int64, ref string) kafka.Message {
	return kafka.Message{
		Offset: offset,
		Key:    []byte(ref),
		Time:   seen,
		Value:  []byte(`{"external_ref":"` + ref + `","source":"ted","title":"Road works ` + ref + `","country":"DE"}`),
	}
}

func TestConsumerBatchesAndCommitsAfterHandler(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{
		recordMessage(1, "a"),
		recordMessage(2, "b"),
		{Offset: 3, Key: []byte("broken"), Value: []byte("not json")},
		recordMessage(4, "c"),
	}}

	batches := make(chan Batch, 4)
	c := newConsumer(reader, ConsumerConfig{BatchSize: 3, BatchWait: 20 * time.Millisecond}, testLogger(),
		func(_ context.Context, b Batch) error {
			batches <- b
			return nil
		})

	require.NoError(t, c.Start(context.Background()))

	first := <-batches
	assert.Len(t, first.Records, 2)
	require.Len(t, first.Rejected, 1)
	assert.Equal(t, "broken", first.Rejected[0].Record.ExternalRef)
	assert.Contains(t, first.Rejected[0].Reason, "malformed payload")

	second := <-batches
	require.Len(t, second.Records, 1)
	assert.Equal(t, "c", second.Records[0].ExternalRef)

	assert.Eventually(t, func() bool { return len(reader.commits()) == 4 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop())
	assert.Equal(t, []int64{1, 2, 3, 4}, reader.commits())
}

func TestConsumerRetriesFailedBatchBeforeCommitting(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{recordMessage(7, "a")}}

	var mu sync.Mutex
	calls := 0
	c := newConsumer(reader, ConsumerConfig{BatchSize: 1}, testLogger(), func(_ context.Context, _ Batch) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 3 {
			return errors.New("store unavailable")
		}
		return nil
	})
	var waits []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		assert.Empty(t, reader.commits())
		waits = append(waits, d)
		return nil
	}

	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, func() bool { return len(reader.commits()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Stop())

	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, waits)
}

func TestConsumerStopDuringRetryLeavesBatchUncommitted(t *testing.T) {
	reader := &fakeReader{queue: []kafka.Message{recordMessage(1, "a")}}
	attempted := make(chan struct{}, 1)
	c := newConsumer(reader, ConsumerConfig{BatchSize: 1}, testLogger(), func(_ context.Context, _ Batch) error {
		select {
		case attempted <- struct{}{}:
		default:
		}
		return errors.New("down")
	})

	require.NoError(t, c.Start(context.Background()))
	<-attempted
	require.NoError(t, c.Stop())
	assert.Empty(t, reader.commits())
}

type fakeWriter struct {
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestProducerPublishCanonical(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, ProducerConfig{CanonicalTopic: "records.canonical", MatchTopic: "alerts"}, testLogger())

	require.NoError(t, p.PublishCanonical(context.Background(), nil))
	assert.Empty(t, w.messages)

	recs := []models.Record{{ID: "rec-1", Title: "Road works"}, {ID: "rec-2", Title: "Bridge"}}
	require.NoError(t, p.PublishCanonical(context.Background(), recs))
	require.Len(t, w.messages, 2)

	msg := w.messages[0]
	assert.Equal(t, "records.canonical", msg.Topic)
	assert.Equal(t, "rec-1", string(msg.Key))
	assert.Equal(t, EventTypeCanonical, header(msg, "event_type"))
	assert.Equal(t, "1.0", header(msg, "schema_version"))

	var event CanonicalEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.Equal(t, "rec-1", event.RecordID)
	assert.Equal(t, "Road works", event.Record.Title)
}

func TestProducerPublishMatches(t *testing.T) {
	w := &fakeWriter{}
	p := newProducer(w, ProducerConfig{CanonicalTopic: "records.canonical", MatchTopic: "alerts"}, testLogger())

	profile := models.Profile{ID: "p-1", SubscriberID: "sub-9"}
	matches := []models.RankedMatch{{Record: models.Record{ID: "rec-1"}, Score: 81.5, Breakdown: models.ScoreBreakdown{Geography: 1}}}
	require.NoError(t, p.PublishMatches(context.Background(), profile, matches))
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "alerts", msg.Topic)
	assert.Equal(t, "sub-9", string(msg.Key))

	var event MatchEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.Equal(t, MatchEvent{
		EventType:    EventTypeMatch,
		ProfileID:    "p-1",
		SubscriberID: "sub-9",
		RecordID:     "rec-1",
		Score:        81.5,
		Breakdown:    models.ScoreBreakdown{Geography: 1},
		Record:       event.Record,
		Timestamp:    event.Timestamp,
	}, event)

	w.err = errors.New("broker down")
	assert.Error(t, p.PublishMatches(context.Background(), profile, matches))
}

func strPtr(s string) *string { return &s }
