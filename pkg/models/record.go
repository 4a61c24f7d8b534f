package models

import (
	"time"
)

// Record is a single procurement notice, contact or company row as seen by the engine
type Record struct {
	ID            string     `json:"id" db:"id"`
	ExternalRef   string     `json:"external_ref" db:"external_ref" validate:"required,max=256"`
	Source        string     `json:"source" db:"source" validate:"required,max=64"`
	Title         string     `json:"title" db:"title" validate:"required"`
	SecondaryText *string    `json:"secondary_text,omitempty" db:"secondary_text"`
	CategoryCodes []string   `json:"category_codes,omitempty" db:"-"`
	Country       string     `json:"country" db:"country" validate:"omitempty,len=2,alpha"`
	NumericValue  *float64   `json:"numeric_value,omitempty" db:"numeric_value" validate:"omitempty,gte=0"`
	Currency      *string    `json:"currency,omitempty" db:"currency" validate:"omitempty,len=3"`
	ContactEmail  *string    `json:"contact_email,omitempty" db:"contact_email" validate:"omitempty,email"`
	PublishedAt   time.Time  `json:"published_at" db:"published_at"`
	DeadlineAt    *time.Time `json:"deadline_at,omitempty" db:"deadline_at"`
	SeenAt        time.Time  `json:"seen_at" db:"seen_at"`
	Fingerprint   string     `json:"fingerprint,omitempty" db:"fingerprint"`
	CanonicalOf   *string    `json:"canonical_of,omitempty" db:"canonical_of"`
}

// IsCanonical reports whether the record represents its duplicate group
func (r Record) IsCanonical() bool {
	return r.CanonicalOf == nil
}

// Recency is the timestamp used for recency comparisons: published_at, falling back to seen_at
func (r Record) Recency() time.Time {
	if !r.PublishedAt.IsZero() {
		return r.PublishedAt
	}
	return r.SeenAt
}

// Clone returns a deep copy so callers can set fields without touching the source record
func (r Record) Clone() Record {
	out := r
	if r.SecondaryText != nil {
		v := *r.SecondaryText
		out.SecondaryText = &v
	}
	if r.CategoryCodes != nil {
		out.CategoryCodes = append([]string(nil), r.CategoryCodes...)
	}
	if r.NumericValue != nil {
		v := *r.NumericValue
		out.NumericValue = &v
	}
	if r.Currency != nil {
		v := *r.Currency
		out.Currency = &v
	}
	if r.ContactEmail != nil {
		v := *r.ContactEmail
		out.ContactEmail = &v
	}
	if r.DeadlineAt != nil {
		v := *r.DeadlineAt
		out.DeadlineAt = &v
	}
	if r.CanonicalOf != nil {
		v := *r.CanonicalOf
		out.CanonicalOf = &v
	}
	return out
}

// DuplicateGroup is a set of records judged to describe the same real-world entity
type DuplicateGroup struct {
	ID          string    `json:"id" db:"id"`
	MemberIDs   []string  `json:"member_ids" db:"-"`
	CanonicalID string    `json:"canonical_id" db:"canonical_id"`
	MergeCount  int       `json:"merge_count" db:"merge_count"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// InsertOutcome is the result of an insert-if-absent against a persistent index.
// Existing is true when the key was already present; RecordID is then the stored owner.
type InsertOutcome struct {
	RecordID string
	Existing bool
}

// DeadLetter is a record rejected during ingestion together with the reason
type DeadLetter struct {
	Record Record `json:"record"`
	Reason string `json:"reason"`
}

// BatchResult summarizes one ingestion batch
type BatchResult struct {
	Processed       int          `json:"processed"`
	ExactDuplicates int          `json:"exact_duplicates"`
	Replayed        int          `json:"replayed"`
	Grouped         int          `json:"grouped"`
	Groups          int          `json:"groups"`
	Merges          int          `json:"merges"`
	Canonical       []Record     `json:"canonical"`
	Rejected        []DeadLetter `json:"rejected,omitempty"`
}
