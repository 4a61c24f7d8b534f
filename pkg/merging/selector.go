// Package merging picks the canonical record of a duplicate group
package merging

import (
	"context"
	"errors"
	"sort"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

// ErrEmptyGroup is returned when a selection is requested for a group without members
var ErrEmptyGroup = errors.New("duplicate group has no members")

// Candidate is a group member with its completeness score
type Candidate struct {
	RecordID     string  `json:"record_id"`
	Completeness float64 `json:"completeness"`
	Pinned       bool    `json:"pinned"`
}

// Selection is the outcome of canonical selection for one group
type Selection struct {
	Canonical models.Record
	// Members are copies of the group in input order. Every member except the canonical
	// has CanonicalOf set.
	Members []models.Record
	// Ranking lists the members from most to least preferred
	Ranking []Candidate

	canonicalIndex int
}

// CanonicalIndex is the position of the canonical within Members
func (s *Selection) CanonicalIndex() int {
	return s.canonicalIndex
}

// Duplicates returns the members that lost the selection
func (s *Selection) Duplicates() []models.Record {
	out := make([]models.Record, 0, len(s.Members)-1)
	for i, m := range s.Members {
		if i != s.canonicalIndex {
			out = append(out, m)
		}
	}
	return out
}

// Selector chooses canonical records
type Selector struct {
	logger ectologger.Logger
}

func NewSelector(logger ectologger.Logger) *Selector {
	return &Selector{logger: logger}
}

type ranked struct {
	index        int
	record       models.Record
	completeness float64
	recency      int64
	pinned       bool
}

// Select picks the canonical member of a group. Members whose id is listed in pinned were
// published as canonical by an earlier batch and are preferred over everything else, so a
// published canonical id does not change. The input records are never modified.
func (s *Selector) Select(ctx context.Context, members []models.Record, pinned ...string) (*Selection, error) {
	_, span := tracing.StartSpan(ctx, "merging.Selector.Select")
	defer span.End()

	if len(members) == 0 {
		return nil, ErrEmptyGroup
	}

	pinnedSet := make(map[string]struct{}, len(pinned))
	for _, id := range pinned {
		if id != "" {
			pinnedSet[id] = struct{}{}
		}
	}

	oldest, newest := recencyBounds(members)
	candidates := make([]ranked, len(members))
	for i, m := range members {
		_, isPinned := pinnedSet[m.ID]
		candidates[i] = ranked{
			index:        i,
			record:       m,
			completeness: Completeness(m, oldest, newest),
			recency:      recencyKey(m),
			pinned:       isPinned && m.ID != "",
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return less(candidates[i], candidates[j])
	})

	winner := candidates[0]
	canonical := winner.record.Clone()

	selection := &Selection{
		Canonical: canonical,
		Members:   make([]models.Record, len(members)),
		Ranking:   make([]Candidate, len(candidates)),

		canonicalIndex: winner.index,
	}
	for i, c := range candidates {
		selection.Ranking[i] = Candidate{
			RecordID:     c.record.ID,
			Completeness: c.completeness,
			Pinned:       c.pinned,
		}
	}
	for i, m := range members {
		if i == winner.index {
			selection.Members[i] = canonical.Clone()
			continue
		}
		member := m.Clone()
		if member.CanonicalOf == nil {
			id := canonical.ID
			member.CanonicalOf = &id
		}
		selection.Members[i] = member
	}

	if len(members) > 1 {
		s.logger.WithContext(ctx).WithFields(map[string]any{
			"canonical_id": canonical.ID,
			"completeness": winner.completeness,
			"pinned":       winner.pinned,
			"group_size":   len(members),
		}).Debug("Selected canonical record")
	}

	return selection, nil
}

// less orders candidates: pinned first, then completeness desc, recency desc,
// external_ref asc, source asc, id asc
func less(a, b ranked) bool {
	if a.pinned != b.pinned {
		return a.pinned
	}
	if a.completeness != b.completeness {
		return a.completeness > b.completeness
	}
	if a.recency != b.recency {
		return a.recency > b.recency
	}
	if a.record.ExternalRef != b.record.ExternalRef {
		return a.record.ExternalRef < b.record.ExternalRef
	}
	if a.record.Source != b.record.Source {
		return a.record.Source < b.record.Source
	}
	return a.record.ID < b.record.ID
}

func recencyKey(r models.Record) int64 {
	t := r.Recency()
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
