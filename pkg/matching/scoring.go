package matching

import (
	"math"

	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/normalizers"
)

const (
	// NeutralScore is used when a sub-score has no evidence either way
	NeutralScore = 0.5
	// ValueRatioCap is the magnitude ratio beyond which two values are considered unrelated
	ValueRatioCap = 10.0
	// cappedValueScore is the ceiling of the value term when the ratio exceeds ValueRatioCap
	cappedValueScore = 0.1
)

// Weights are the relative weights of the similarity sub-scores
type Weights struct {
	Text     float64 `json:"text"`
	Category float64 `json:"category"`
	Value    float64 `json:"value"`
}

// DefaultWeights are used for procurement notices
func DefaultWeights() Weights {
	return Weights{Text: 0.4, Category: 0.3, Value: 0.3}
}

// OutreachWeights drop the numeric term, which contacts and companies do not carry
func OutreachWeights() Weights {
	return Weights{Text: 0.5, Category: 0.5, Value: 0}
}

func (w Weights) sum() float64 {
	return w.Text + w.Category + w.Value
}

// ScoreBreakdown explains a similarity score
type ScoreBreakdown struct {
	Text            float64 `json:"text"`
	Category        float64 `json:"category"`
	Value           float64 `json:"value"`
	Total           float64 `json:"total"`
	CategoryOverlap bool    `json:"category_overlap"`
	ValueComparable bool    `json:"value_comparable"`
}

// Scorer computes a symmetric similarity in [0,1] between two records
type Scorer struct {
	weights Weights
}

// NewScorer creates a Scorer. Weights that sum to zero fall back to DefaultWeights.
func NewScorer(weights Weights) *Scorer {
	if weights.sum() <= 0 || weights.Text < 0 || weights.Category < 0 || weights.Value < 0 {
		weights = DefaultWeights()
	}
	return &Scorer{weights: weights}
}

// Weights returns the weights in use
func (s *Scorer) Weights() Weights {
	return s.weights
}

// Score returns the weighted similarity of a and b
func (s *Scorer) Score(a, b models.Record) float64 {
	return s.Explain(a, b).Total
}

// Explain returns the similarity of a and b together with its sub-scores
func (s *Scorer) Explain(a, b models.Record) ScoreBreakdown {
	return s.compare(newFeatures(a), newFeatures(b))
}

// features is the pre-normalized form of a record used for pairwise comparison
type features struct {
	id     string
	tokens map[string]struct{}
	codes  map[string]struct{}
	value  *float64
}

func newFeatures(r models.Record) features {
	texts := []string{r.Title}
	if r.SecondaryText != nil {
		texts = append(texts, *r.SecondaryText)
	}

	codes := make(map[string]struct{}, len(r.CategoryCodes))
	for _, c := range normalizers.NormalizeCodes(r.CategoryCodes) {
		codes[c] = struct{}{}
	}

	return features{
		id:     r.ID,
		tokens: normalizers.TokenSet(texts...),
		codes:  codes,
		value:  r.NumericValue,
	}
}

func (s *Scorer) compare(a, b features) ScoreBreakdown {
	if s.identical(a, b) {
		return ScoreBreakdown{Text: 1, Category: 1, Value: 1, Total: 1, CategoryOverlap: true, ValueComparable: true}
	}

	var out ScoreBreakdown
	out.Text = jaccard(a.tokens, b.tokens)

	if len(a.codes) == 0 && len(b.codes) == 0 {
		out.Category = NeutralScore
	} else {
		out.Category = jaccard(a.codes, b.codes)
		out.CategoryOverlap = out.Category > 0
	}

	out.Value, out.ValueComparable = valueScore(a.value, b.value)

	// no positive evidence on any term
	if out.Text == 0 && !out.CategoryOverlap && !out.ValueComparable {
		return out
	}

	w := s.weights
	out.Total = (w.Text*out.Text + w.Category*out.Category + w.Value*out.Value) / w.sum()
	out.Total = math.Max(0, math.Min(1, out.Total))
	return out
}

// identical reports whether two feature sets describe the same record, by id or by equal
// tokens, codes and value. Empty sets compare equal.
func (s *Scorer) identical(a, b features) bool {
	if a.id != "" && a.id == b.id {
		return true
	}
	if !sameSet(a.tokens, b.tokens) || !sameSet(a.codes, b.codes) {
		return false
	}
	switch {
	case a.value == nil && b.value == nil:
		return true
	case a.value != nil && b.value != nil:
		return *a.value == *b.value
	default:
		return false
	}
}

// valueScore compares two optional magnitudes. The bool reports whether both were present
// and within ValueRatioCap of each other.
func valueScore(a, b *float64) (float64, bool) {
	if a == nil || b == nil {
		return NeutralScore, false
	}
	va, vb := math.Abs(*a), math.Abs(*b)
	hi, lo := math.Max(va, vb), math.Min(va, vb)
	if hi == 0 {
		return 1, true
	}

	score := 1 - math.Min(1, (hi-lo)/hi)
	if lo == 0 || hi/lo > ValueRatioCap {
		return math.Min(score, cappedValueScore), false
	}
	return score, true
}

// jaccard returns |a∩b| / |a∪b|, 0 when both are empty
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	intersection := 0
	for k := range small {
		if _, ok := large[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// Jaccard is the set similarity of two string slices, 0 when both are empty
func Jaccard(a, b []string) float64 {
	return jaccard(toSet(a), toSet(b))
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func sameSet(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
