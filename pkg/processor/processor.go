// Package processor runs the batch pipelines: ingestion de-duplication, profile alerting and
// outreach eligibility.
package processor

import (
	"context"
	"time"

	"github.com/Ramsey-B/thistle/pkg/models"
)

// RecordStore persists records. Create assigns the id and is idempotent on (source, external_ref).
type RecordStore interface {
	Create(ctx context.Context, rec *models.Record) (models.InsertOutcome, error)
	Get(ctx context.Context, id string) (models.Record, bool, error)
	SetCanonicalOf(ctx context.Context, id, canonicalID string) (bool, error)
	ListCanonicalSince(ctx context.Context, countries []string, since time.Time, limit int) ([]models.Record, error)
}

// FingerprintIndex is the persistent exact-duplicate index
type FingerprintIndex interface {
	InsertIfAbsent(ctx context.Context, fingerprint, recordID string) (models.InsertOutcome, error)
	Repoint(ctx context.Context, fingerprints []string, recordID string) error
}

// GroupStore keeps the duplicate group audit trail
type GroupStore interface {
	Create(ctx context.Context, group *models.DuplicateGroup) error
}

// GroupWriter mirrors duplicate groups into a secondary store such as the graph
type GroupWriter interface {
	WriteGroup(ctx context.Context, group models.DuplicateGroup) error
}

// CanonicalPublisher announces the canonical records of a batch
type CanonicalPublisher interface {
	PublishCanonical(ctx context.Context, records []models.Record) error
}

// ProfileStore reads subscriber profiles. An empty subscriberID lists all profiles.
type ProfileStore interface {
	List(ctx context.Context, subscriberID string) ([]models.Profile, error)
}

// DeliveryLedger remembers which (profile, record) pairs were already delivered
type DeliveryLedger interface {
	MarkIfAbsent(ctx context.Context, profileID, recordID string, score float64) (bool, error)
	Unmark(ctx context.Context, profileID, recordID string) error
}

// MatchSink receives the ranked matches of a profile
type MatchSink interface {
	PublishMatches(ctx context.Context, profile models.Profile, matches []models.RankedMatch) error
}

// Transactor runs fn inside a transaction carried by ctx
type Transactor func(ctx context.Context, fn func(ctx context.Context) error) error

func noTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
