package criteria

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

// Filter selects the records that satisfy a profile
type Filter struct {
	logger ectologger.Logger
	now    func() time.Time
}

// NewFilter creates a filter. A nil clock means time.Now.
func NewFilter(logger ectologger.Logger, now func() time.Time) *Filter {
	if now == nil {
		now = time.Now
	}
	return &Filter{logger: logger, now: now}
}

// Filter applies the profile predicates in order (recency, keywords, categories, countries,
// value range) and then removes fingerprint duplicates from the surviving records
func (f *Filter) Filter(ctx context.Context, records []models.Record, profile models.Profile) []models.Record {
	ctx, span := tracing.StartSpan(ctx, "criteria.Filter.Filter")
	defer span.End()

	log := f.logger.WithContext(ctx).WithFields(map[string]any{
		"profile_id": profile.ID,
		"records":    len(records),
	})

	minValue, maxValue := profile.MinValue, profile.MaxValue
	if minValue != nil && maxValue != nil && *minValue > *maxValue {
		log.WithError(&models.ProfileError{Field: "min_value", Reason: "greater than max_value"}).
			Warn("Ignoring inverted value range")
		minValue, maxValue = nil, nil
	}

	now := f.now()
	window := profile.RecencyWindow()

	matched := make([]models.Record, 0, len(records))
	for _, r := range records {
		if !MatchesRecency(r, window, now) ||
			!MatchesKeywords(r, profile.Keywords) ||
			!MatchesCategories(r, profile.Categories) ||
			!MatchesCountries(r, profile.Countries) ||
			!MatchesValueRange(r, minValue, maxValue) {
			continue
		}
		matched = append(matched, r)
	}

	out := DedupeByFingerprint(matched)
	log.WithFields(map[string]any{
		"matched":  len(matched),
		"returned": len(out),
	}).Debug("Filtered records for profile")
	return out
}
