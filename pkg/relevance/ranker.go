// Package relevance ranks records for a subscriber profile
package relevance

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/thistle/pkg/matching"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/normalizers"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

const (
	// OutsidePreferredCountry is the geography score of a record outside the profile's countries
	OutsidePreferredCountry = 0.4
	// FarDeadlineFloor is the deadline score of deadlines past the far horizon
	FarDeadlineFloor = 0.2
	// Neutral is used when the record carries no information for a sub-score
	Neutral = 0.5
	// MaxScore is the score of a perfect match
	MaxScore = 100.0
)

// RankerConfig tunes the relevance sub-scores
type RankerConfig struct {
	// Now is the reference time for deadline urgency; nil means time.Now
	Now func() time.Time
	// Deadlines between SweetSpotMin and SweetSpotMax from now score 1
	SweetSpotMin time.Duration
	SweetSpotMax time.Duration
	// FarHorizon is where the deadline score reaches FarDeadlineFloor
	FarHorizon time.Duration
	// AverageBidders is the typical number of bidders per tender by country
	AverageBidders map[string]float64
	// DefaultBidders is used for countries missing from AverageBidders
	DefaultBidders float64
}

func DefaultRankerConfig() RankerConfig {
	return RankerConfig{
		Now:            time.Now,
		SweetSpotMin:   14 * 24 * time.Hour,
		SweetSpotMax:   28 * 24 * time.Hour,
		FarHorizon:     90 * 24 * time.Hour,
		AverageBidders: map[string]float64{},
		DefaultBidders: 5,
	}
}

// Ranker scores and orders records for a profile. It holds no mutable state.
type Ranker struct {
	config RankerConfig
	logger ectologger.Logger
}

func NewRanker(config RankerConfig, logger ectologger.Logger) *Ranker {
	defaults := DefaultRankerConfig()
	if config.Now == nil {
		config.Now = defaults.Now
	}
	if config.SweetSpotMin <= 0 {
		config.SweetSpotMin = defaults.SweetSpotMin
	}
	if config.SweetSpotMax < config.SweetSpotMin {
		config.SweetSpotMax = max(defaults.SweetSpotMax, config.SweetSpotMin)
	}
	if config.FarHorizon <= config.SweetSpotMax {
		config.FarHorizon = max(defaults.FarHorizon, 2*config.SweetSpotMax)
	}
	if config.DefaultBidders <= 0 {
		config.DefaultBidders = defaults.DefaultBidders
	}
	bidders := make(map[string]float64, len(config.AverageBidders))
	for country, n := range config.AverageBidders {
		bidders[normalizers.NormalizeCountry(country)] = n
	}
	config.AverageBidders = bidders

	return &Ranker{config: config, logger: logger}
}

// Rank scores every record against the profile and returns them best first. Ties are
// ordered by published_at desc, then id asc.
func (r *Ranker) Rank(ctx context.Context, records []models.Record, profile models.Profile) []models.RankedMatch {
	ctx, span := tracing.StartSpan(ctx, "relevance.Ranker.Rank")
	defer span.End()

	now := r.config.Now()
	weights := profile.Weights.Normalized()

	out := make([]models.RankedMatch, len(records))
	for i, rec := range records {
		breakdown := r.Breakdown(rec, profile, now)
		out[i] = models.RankedMatch{
			Record:    rec,
			Score:     Combine(breakdown, weights),
			Breakdown: breakdown,
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Record.PublishedAt.Equal(b.Record.PublishedAt) {
			return a.Record.PublishedAt.After(b.Record.PublishedAt)
		}
		return a.Record.ID < b.Record.ID
	})

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"profile_id": profile.ID,
		"ranked":     len(out),
	}).Debug("Ranked records for profile")
	return out
}

// Breakdown computes the sub-scores of a single record
func (r *Ranker) Breakdown(rec models.Record, profile models.Profile, now time.Time) models.ScoreBreakdown {
	return models.ScoreBreakdown{
		ValueFit:    ValueFit(rec.NumericValue, profile),
		Geography:   Geography(rec.Country, profile.Countries),
		CategoryFit: CategoryFit(rec.CategoryCodes, profile.Categories),
		Competition: r.Competition(rec.Country),
		Deadline:    r.Deadline(rec.DeadlineAt, now),
	}
}

// Combine weights the sub-scores and scales the result to [0, MaxScore]
func Combine(b models.ScoreBreakdown, w models.RankingWeights) float64 {
	w = w.Normalized()
	total := w.ValueFit*b.ValueFit +
		w.Geography*b.Geography +
		w.CategoryFit*b.CategoryFit +
		w.Competition*b.Competition +
		w.Deadline*b.Deadline
	return clamp(total, 0, 1) * MaxScore
}

// ValueFit is 1 inside the profile's value band and decays linearly to 0 at twice the upper
// edge and at half the lower edge. Profiles without a usable band score 1; records without a
// value score Neutral.
func ValueFit(value *float64, profile models.Profile) float64 {
	if !profile.HasValueBand() {
		return 1
	}
	if value == nil {
		return Neutral
	}
	v := *value
	if lo := profile.MinValue; lo != nil && v < *lo {
		if *lo <= 0 {
			return 0
		}
		floor := *lo / 2
		return clamp((v-floor)/(*lo-floor), 0, 1)
	}
	if hi := profile.MaxValue; hi != nil && v > *hi {
		if *hi <= 0 {
			return 0
		}
		over := (v - *hi) / *hi
		return clamp(1-over, 0, 1)
	}
	return 1
}

// Geography is 1 when the country is preferred (or nothing is preferred), else OutsidePreferredCountry
func Geography(country string, preferred []string) float64 {
	if MatchesAny(country, preferred) {
		return 1
	}
	return OutsidePreferredCountry
}

// MatchesAny reports whether country is in preferred, ignoring case; an empty list matches
func MatchesAny(country string, preferred []string) bool {
	country = normalizers.NormalizeCountry(country)
	constrained := false
	for _, p := range preferred {
		p = normalizers.NormalizeCountry(p)
		if p == "" {
			continue
		}
		constrained = true
		if p == country {
			return true
		}
	}
	return !constrained
}

// CategoryFit is the Jaccard similarity of the record's codes and the profile's categories.
// A profile without categories scores Neutral.
func CategoryFit(codes, categories []string) float64 {
	wanted := normalizers.NormalizeCodes(categories)
	if len(wanted) == 0 {
		return Neutral
	}
	return matching.Jaccard(normalizers.NormalizeCodes(codes), wanted)
}

// Competition estimates the chance of winning as the inverse of the average bidder count
func (r *Ranker) Competition(country string) float64 {
	bidders, ok := r.config.AverageBidders[normalizers.NormalizeCountry(country)]
	if !ok || bidders <= 0 {
		bidders = r.config.DefaultBidders
	}
	return 1 / math.Max(1, bidders)
}

// Deadline scores urgency: 0 once passed, rising linearly to 1 at SweetSpotMin, 1 through
// SweetSpotMax, then falling to FarDeadlineFloor at FarHorizon and staying there. A missing
// deadline scores Neutral.
func (r *Ranker) Deadline(deadline *time.Time, now time.Time) float64 {
	if deadline == nil || deadline.IsZero() {
		return Neutral
	}
	left := deadline.Sub(now)
	cfg := r.config
	switch {
	case left < 0:
		return 0
	case left < cfg.SweetSpotMin:
		return float64(left) / float64(cfg.SweetSpotMin)
	case left <= cfg.SweetSpotMax:
		return 1
	case left < cfg.FarHorizon:
		progress := float64(left-cfg.SweetSpotMax) / float64(cfg.FarHorizon-cfg.SweetSpotMax)
		return 1 - progress*(1-FarDeadlineFloor)
	default:
		return FarDeadlineFloor
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
