// Package criteria evaluates subscriber profiles against records.
// Every predicate treats an empty profile field as "no constraint".
package criteria

import (
	"strings"
	"time"

	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/normalizers"
)

// MatchesRecency reports whether the record was published (or, lacking a publish date, seen)
// within window of now. A zero window, or a record without any timestamp, always matches.
func MatchesRecency(r models.Record, window time.Duration, now time.Time) bool {
	if window <= 0 {
		return true
	}
	ts := r.Recency()
	if ts.IsZero() {
		return true
	}
	return !ts.Before(now.Add(-window))
}

// MatchesKeywords reports whether any keyword occurs in the record's title or secondary text.
// Matching is case and accent insensitive. Blank keywords are ignored.
func MatchesKeywords(r models.Record, keywords []string) bool {
	needles := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if n := searchable(k); n != "" {
			needles = append(needles, n)
		}
	}
	if len(needles) == 0 {
		return true
	}

	haystack := searchable(r.Title)
	if r.SecondaryText != nil {
		haystack += "\n" + searchable(*r.SecondaryText)
	}
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func searchable(s string) string {
	return normalizers.CollapseWhitespace(normalizers.Fold(strings.ToLower(s)))
}

// MatchesCategories reports whether the record shares at least one category code with the profile
func MatchesCategories(r models.Record, categories []string) bool {
	wanted := normalizers.NormalizeCodes(categories)
	if len(wanted) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(wanted))
	for _, c := range wanted {
		set[c] = struct{}{}
	}
	for _, c := range normalizers.NormalizeCodes(r.CategoryCodes) {
		if _, ok := set[c]; ok {
			return true
		}
	}
	return false
}

// MatchesCountries reports whether the record's country is one of countries, ignoring case
func MatchesCountries(r models.Record, countries []string) bool {
	country := normalizers.NormalizeCountry(r.Country)
	constrained := false
	for _, c := range countries {
		c = normalizers.NormalizeCountry(c)
		if c == "" {
			continue
		}
		constrained = true
		if c == country {
			return true
		}
	}
	return !constrained
}

// MatchesValueRange reports whether the record's value lies within [min, max]. A record
// without a value is never excluded, and an inverted range is treated as unconstrained.
func MatchesValueRange(r models.Record, minValue, maxValue *float64) bool {
	if r.NumericValue == nil {
		return true
	}
	if minValue != nil && maxValue != nil && *minValue > *maxValue {
		return true
	}
	v := *r.NumericValue
	if minValue != nil && v < *minValue {
		return false
	}
	if maxValue != nil && v > *maxValue {
		return false
	}
	return true
}

// DedupeByFingerprint keeps one record per fingerprint: the canonical member when one is
// present, otherwise the first in input order. Records without a fingerprint are always kept.
func DedupeByFingerprint(records []models.Record) []models.Record {
	chosen := make(map[string]int, len(records))
	for i, r := range records {
		if r.Fingerprint == "" {
			continue
		}
		prev, seen := chosen[r.Fingerprint]
		if !seen || (r.IsCanonical() && !records[prev].IsCanonical()) {
			chosen[r.Fingerprint] = i
		}
	}

	out := make([]models.Record, 0, len(records))
	for i, r := range records {
		if r.Fingerprint != "" && chosen[r.Fingerprint] != i {
			continue
		}
		out = append(out, r)
	}
	return out
}
