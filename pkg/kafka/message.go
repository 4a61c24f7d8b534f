package kafka

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/schema"
)

// RecordPayload is a normalized record as produced by the source connectors. Text fields
// come either as plain strings or as locale maps.
type RecordPayload struct {
	ExternalRef   string               `json:"external_ref"`
	Source        string               `json:"source"`
	Title         models.LocalizedText `json:"title"`
	Buyer         models.LocalizedText `json:"buyer"`
	CategoryCodes []string             `json:"category_codes"`
	Country       string               `json:"country"`
	Value         *float64             `json:"value"`
	Currency      *string              `json:"currency"`
	ContactEmail  *string              `json:"contact_email"`
	PublishedAt   *time.Time           `json:"published_at"`
	DeadlineAt    *time.Time           `json:"deadline_at"`
	SeenAt        *time.Time           `json:"seen_at"`
}

// ToRecord resolves the payload into a Record. Localized text prefers the language of the
// record's country. seenAt is used when the payload carries no seen_at.
func (p RecordPayload) ToRecord(seenAt time.Time) models.Record {
	locale := strings.ToLower(strings.TrimSpace(p.Country))

	rec := models.Record{
		ExternalRef:   strings.TrimSpace(p.ExternalRef),
		Source:        strings.TrimSpace(p.Source),
		Title:         p.Title.Resolve(locale),
		SecondaryText: p.Buyer.Ptr(locale),
		CategoryCodes: p.CategoryCodes,
		Country:       strings.ToUpper(strings.TrimSpace(p.Country)),
		NumericValue:  p.Value,
		Currency:      p.Currency,
		ContactEmail:  p.ContactEmail,
		DeadlineAt:    p.DeadlineAt,
		SeenAt:        seenAt.UTC(),
	}
	if p.PublishedAt != nil {
		rec.PublishedAt = p.PublishedAt.UTC()
	}
	if p.SeenAt != nil {
		rec.SeenAt = p.SeenAt.UTC()
	}
	return rec
}

// DecodeRecord parses and validates a connector message. Malformed or invalid payloads
// return a *models.InvalidRecordError.
func DecodeRecord(data []byte, seenAt time.Time) (models.Record, error) {
	var payload RecordPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return models.Record{}, &models.InvalidRecordError{Reason: "malformed payload: " + err.Error()}
	}

	rec := payload.ToRecord(seenAt)
	if err := schema.ValidateRecord(rec); err != nil {
		return models.Record{}, err
	}
	return rec, nil
}

// CanonicalEvent announces a canonical record
type CanonicalEvent struct {
	EventType string        `json:"event_type"`
	RecordID  string        `json:"record_id"`
	Record    models.Record `json:"record"`
	Timestamp time.Time     `json:"timestamp"`
}

// MatchEvent delivers one ranked match to a subscriber's notifier
type MatchEvent struct {
	EventType    string                `json:"event_type"`
	ProfileID    string                `json:"profile_id"`
	SubscriberID string                `json:"subscriber_id"`
	RecordID     string                `json:"record_id"`
	Score        float64               `json:"score"`
	Breakdown    models.ScoreBreakdown `json:"breakdown"`
	Record       models.Record         `json:"record"`
	Timestamp    time.Time             `json:"timestamp"`
}

const (
	EventTypeCanonical = "record.canonical"
	EventTypeMatch     = "profile.match"
	schemaVersion      = "1.0"
)
