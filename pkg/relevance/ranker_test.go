package relevance

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/thistle/pkg/models"
)

func ptr[T any](v T) *T { return &v }

var now = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

func newTestRanker(bidders map[string]float64) *Ranker {
	return NewRanker(RankerConfig{
		Now:            func() time.Time { return now },
		AverageBidders: bidders,
	}, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
}

func TestValueFit(t *testing.T) {
	band := models.Profile{MinValue: ptr(100.0), MaxValue: ptr(1000.0)}
	tests := []struct {
		name    string
		value   *float64
		profile models.Profile
		want    float64
	}{
		{"no band", ptr(5.0), models.Profile{}, 1},
		{"inverted band counts as none", ptr(5.0), models.Profile{MinValue: ptr(10.0), MaxValue: ptr(1.0)}, 1},
		{"missing value", nil, band, Neutral},
		{"inside", ptr(500.0), band, 1},
		{"upper edge", ptr(1000.0), band, 1},
		{"halfway to twice max", ptr(1500.0), band, 0.5},
		{"twice max", ptr(2000.0), band, 0},
		{"beyond twice max", ptr(5000.0), band, 0},
		{"halfway to half min", ptr(75.0), band, 0.5},
		{"half min", ptr(50.0), band, 0},
		{"only max", ptr(1500.0), models.Profile{MaxValue: ptr(1000.0)}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ValueFit(tt.value, tt.profile), 1e-9)
		})
	}
}

func TestGeographyAndCategoryFit(t *testing.T) {
	assert.Equal(t, 1.0, Geography("de", []string{"DE"}))
	assert.Equal(t, OutsidePreferredCountry, Geography("FR", []string{"DE"}))
	assert.Equal(t, 1.0, Geography("FR", nil))

	assert.Equal(t, Neutral, CategoryFit([]string{"72000000"}, nil))
	assert.InDelta(t, 1.0/3.0, CategoryFit([]string{"72000000-5", "48000000"}, []string{"72000000", "45000000"}), 1e-9)
	assert.Equal(t, 0.0, CategoryFit(nil, []string{"72000000"}))
}

func TestCompetition(t *testing.T) {
	r := newTestRanker(map[string]float64{"de": 4, "MT": 0.5})
	assert.Equal(t, 0.25, r.Competition("DE"))
	assert.Equal(t, 1.0, r.Competition("MT"))
	assert.Equal(t, 0.2, r.Competition("FR"))
}

func TestDeadline(t *testing.T) {
	r := newTestRanker(nil)
	tests := []struct {
		name string
		in   time.Duration
		want float64
	}{
		{"passed", -time.Hour, 0},
		{"today", 0, 0},
		{"one week", 7 * day, 0.5},
		{"sweet spot start", 14 * day, 1},
		{"sweet spot end", 28 * day, 1},
		{"halfway to horizon", 59 * day, 0.6},
		{"horizon", 90 * day, FarDeadlineFloor},
		{"beyond horizon", 200 * day, FarDeadlineFloor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deadline := now.Add(tt.in)
			assert.InDelta(t, tt.want, r.Deadline(&deadline, now), 1e-9)
		})
	}
	assert.Equal(t, Neutral, r.Deadline(nil, now))
}

func TestRankOrdersByScoreThenPublishedThenID(t *testing.T) {
	r := newTestRanker(nil)
	profile := models.Profile{
		ID:         "p1",
		Countries:  []string{"DE"},
		Categories: []string{"72000000"},
		MinValue:   ptr(100000.0),
		MaxValue:   ptr(1000000.0),
	}
	deadline := now.Add(20 * day)
	records := []models.Record{
		{ID: "weak", Country: "FR", CategoryCodes: []string{"45000000"}, NumericValue: ptr(5000000.0)},
		{ID: "b", Country: "DE", CategoryCodes: []string{"72000000"}, NumericValue: ptr(500000.0), DeadlineAt: &deadline, PublishedAt: now.Add(-day)},
		{ID: "a", Country: "DE", CategoryCodes: []string{"72000000"}, NumericValue: ptr(500000.0), DeadlineAt: &deadline, PublishedAt: now.Add(-day)},
		{ID: "newer", Country: "DE", CategoryCodes: []string{"72000000"}, NumericValue: ptr(500000.0), DeadlineAt: &deadline, PublishedAt: now},
	}

	ranked := r.Rank(context.Background(), records, profile)
	require.Len(t, ranked, 4)

	order := make([]string, len(ranked))
	for i, m := range ranked {
		order[i] = m.Record.ID
		assert.GreaterOrEqual(t, m.Score, 0.0)
		assert.LessOrEqual(t, m.Score, MaxScore)
	}
	assert.Equal(t, []string{"newer", "a", "b", "weak"}, order)

	// value, geography, category and deadline are perfect; competition is 1/5
	assert.InDelta(t, (0.25+0.15+0.30+0.10*0.2+0.20)*100, ranked[0].Score, 1e-9)
	assert.Equal(t, ranked[0].Score, ranked[1].Score)
}

func TestRankIsReproducible(t *testing.T) {
	r := newTestRanker(map[string]float64{"DE": 3})
	records := []models.Record{
		{ID: "x", Country: "DE", NumericValue: ptr(10.0)},
		{ID: "y", Country: "PL"},
	}
	profile := models.Profile{Weights: models.RankingWeights{ValueFit: 2, Geography: 2}}

	first := r.Rank(context.Background(), records, profile)
	second := r.Rank(context.Background(), records, profile)
	assert.Equal(t, first, second)
}

func TestCombineNormalizesWeights(t *testing.T) {
	b := models.ScoreBreakdown{ValueFit: 1, Geography: 0}
	assert.InDelta(t, 50.0, Combine(b, models.RankingWeights{ValueFit: 1, Geography: 1}), 1e-9)
	assert.InDelta(t, 25.0, Combine(b, models.RankingWeights{}), 1e-9)
}
