package merging

import (
	"time"
	"unicode/utf8"

	"github.com/Ramsey-B/thistle/pkg/models"
)

const (
	// MaxCategoryDepth is the number of category codes that earns full category credit
	MaxCategoryDepth = 5
	// MaxSecondaryLength is the secondary text length, in runes, that earns full length credit
	MaxSecondaryLength = 500
)

// Completeness scores how much usable information a record carries relative to the other
// members of its group. Each populated optional field is worth 1; category depth, secondary
// text length and relative recency are each worth up to 1.
func Completeness(r models.Record, oldest, newest time.Time) float64 {
	score := 0.0

	if r.SecondaryText != nil && *r.SecondaryText != "" {
		score++
	}
	if r.NumericValue != nil {
		score++
	}
	if r.Currency != nil && *r.Currency != "" {
		score++
	}
	if !r.PublishedAt.IsZero() {
		score++
	}
	if r.DeadlineAt != nil {
		score++
	}
	if r.ContactEmail != nil && *r.ContactEmail != "" {
		score++
	}

	score += float64(min(len(r.CategoryCodes), MaxCategoryDepth)) / MaxCategoryDepth

	if r.SecondaryText != nil {
		score += float64(min(utf8.RuneCountInString(*r.SecondaryText), MaxSecondaryLength)) / MaxSecondaryLength
	}

	return score + relativeRecency(r.Recency(), oldest, newest)
}

// relativeRecency places t on [0,1] between the oldest and newest timestamps of a group
func relativeRecency(t, oldest, newest time.Time) float64 {
	if t.IsZero() || !newest.After(oldest) {
		return 0
	}
	span := newest.Sub(oldest)
	return float64(t.Sub(oldest)) / float64(span)
}

// recencyBounds returns the oldest and newest non-zero recency timestamps of the records
func recencyBounds(records []models.Record) (oldest, newest time.Time) {
	for _, r := range records {
		t := r.Recency()
		if t.IsZero() {
			continue
		}
		if oldest.IsZero() || t.Before(oldest) {
			oldest = t
		}
		if newest.IsZero() || t.After(newest) {
			newest = t
		}
	}
	return oldest, newest
}
