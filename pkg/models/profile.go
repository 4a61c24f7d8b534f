package models

import (
	"time"
)

// Profile is a subscriber's search criteria and ranking preferences.
// Any empty criterion means "no constraint".
type Profile struct {
	ID           string         `json:"id" db:"id"`
	SubscriberID string         `json:"subscriber_id" db:"subscriber_id" validate:"required"`
	Name         string         `json:"name" db:"name" validate:"required,max=200"`
	Keywords     []string       `json:"keywords,omitempty" validate:"omitempty,dive,required"`
	Categories   []string       `json:"categories,omitempty" validate:"omitempty,dive,required"`
	Countries    []string       `json:"countries,omitempty" validate:"omitempty,dive,len=2,alpha"`
	MinValue     *float64       `json:"min_value,omitempty" validate:"omitempty,gte=0"`
	MaxValue     *float64       `json:"max_value,omitempty" validate:"omitempty,gte=0"`
	RecencyDays  int            `json:"recency_days,omitempty" validate:"gte=0"`
	Weights      RankingWeights `json:"weights"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// RecencyWindow returns the recency window, zero meaning unconstrained
func (p Profile) RecencyWindow() time.Duration {
	return time.Duration(p.RecencyDays) * 24 * time.Hour
}

// HasValueBand reports whether the value range is set and not inverted
func (p Profile) HasValueBand() bool {
	if p.MinValue == nil && p.MaxValue == nil {
		return false
	}
	if p.MinValue != nil && p.MaxValue != nil && *p.MinValue > *p.MaxValue {
		return false
	}
	return true
}

// RankingWeights are the relative weights of the relevance sub-scores
type RankingWeights struct {
	ValueFit    float64 `json:"value_fit" validate:"gte=0,lte=1"`
	Geography   float64 `json:"geography" validate:"gte=0,lte=1"`
	CategoryFit float64 `json:"category_fit" validate:"gte=0,lte=1"`
	Competition float64 `json:"competition" validate:"gte=0,lte=1"`
	Deadline    float64 `json:"deadline" validate:"gte=0,lte=1"`
}

// DefaultRankingWeights are used when a profile does not set any weight
func DefaultRankingWeights() RankingWeights {
	return RankingWeights{
		ValueFit:    0.25,
		Geography:   0.15,
		CategoryFit: 0.30,
		Competition: 0.10,
		Deadline:    0.20,
	}
}

// Sum returns the total of all weights
func (w RankingWeights) Sum() float64 {
	return w.ValueFit + w.Geography + w.CategoryFit + w.Competition + w.Deadline
}

// Normalized returns weights that sum to 1; all-zero weights resolve to the defaults
func (w RankingWeights) Normalized() RankingWeights {
	sum := w.Sum()
	if sum <= 0 {
		return DefaultRankingWeights()
	}
	return RankingWeights{
		ValueFit:    w.ValueFit / sum,
		Geography:   w.Geography / sum,
		CategoryFit: w.CategoryFit / sum,
		Competition: w.Competition / sum,
		Deadline:    w.Deadline / sum,
	}
}

// ScoreBreakdown holds the relevance sub-scores behind a ranked match, each in [0,1]
type ScoreBreakdown struct {
	ValueFit    float64 `json:"value_fit"`
	Geography   float64 `json:"geography"`
	CategoryFit float64 `json:"category_fit"`
	Competition float64 `json:"competition"`
	Deadline    float64 `json:"deadline"`
}

// RankedMatch is a record that passed a profile's filter, with its relevance score in [0,100]
type RankedMatch struct {
	Record    Record         `json:"record"`
	Score     float64        `json:"score"`
	Breakdown ScoreBreakdown `json:"breakdown"`
}

// AlertResult summarizes an alert run for one profile
type AlertResult struct {
	ProfileID string `json:"profile_id"`
	Matched   int    `json:"matched"`
	Delivered int    `json:"delivered"`
	Skipped   int    `json:"skipped"`
}
