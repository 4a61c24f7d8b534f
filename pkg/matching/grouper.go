package matching

import (
	"context"
	"sort"

	"github.com/Gobusters/ectologger"
	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/thistle/pkg/fingerprint"
	"github.com/Ramsey-B/thistle/pkg/metrics"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/normalizers"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

// Policy decides how threshold links turn into groups
type Policy string

const (
	// PolicyTransitive groups connected components: A~B and B~C put A, B and C together
	PolicyTransitive Policy = "transitive"
	// PolicyComplete only admits a record into a group it is linked to in full
	PolicyComplete Policy = "complete"
)

// GrouperConfig configures duplicate grouping
type GrouperConfig struct {
	Threshold    float64
	PrefixLength int
	Policy       Policy
	Workers      int
	Weights      Weights
}

// DefaultGrouperConfig returns the default notice grouping configuration
func DefaultGrouperConfig() GrouperConfig {
	return GrouperConfig{
		Threshold:    0.8,
		PrefixLength: 2,
		Policy:       PolicyTransitive,
		Workers:      4,
		Weights:      DefaultWeights(),
	}
}

// Group is a set of records judged to be the same entity, in input order
type Group struct {
	Members []models.Record
	Indexes []int
}

// GroupResult is the outcome of grouping a batch
type GroupResult struct {
	Groups      []Group
	Merges      int
	Comparisons int
}

// Duplicates returns only the groups with more than one member
func (r *GroupResult) Duplicates() []Group {
	out := make([]Group, 0)
	for _, g := range r.Groups {
		if len(g.Members) > 1 {
			out = append(out, g)
		}
	}
	return out
}

// Grouper partitions a batch of records into duplicate groups
type Grouper struct {
	config GrouperConfig
	scorer *Scorer
	logger ectologger.Logger
}

// NewGrouper creates a new Grouper
func NewGrouper(config GrouperConfig, logger ectologger.Logger) *Grouper {
	defaults := DefaultGrouperConfig()
	if config.Threshold <= 0 || config.Threshold > 1 {
		config.Threshold = defaults.Threshold
	}
	if config.PrefixLength <= 0 {
		config.PrefixLength = defaults.PrefixLength
	}
	if config.Policy == "" {
		config.Policy = defaults.Policy
	}
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	return &Grouper{
		config: config,
		scorer: NewScorer(config.Weights),
		logger: logger,
	}
}

// Config returns the effective configuration
func (g *Grouper) Config() GrouperConfig {
	return g.config
}

type bucketKey struct {
	country string
	prefix  string
}

// edge links two record indexes, i < j
type edge struct {
	i, j int
}

// comparison task: all pairs within left, or every left x right pair when right is set
type task struct {
	left  []int
	right []int
}

// Group partitions records into duplicate groups. Records are only compared within their
// (country, category prefix) bucket; records without codes are also compared with every
// record of their country. Singletons are returned as groups of one.
func (g *Grouper) Group(ctx context.Context, records []models.Record) *GroupResult {
	ctx, span := tracing.StartSpan(ctx, "matching.Grouper.Group")
	defer span.End()

	result := &GroupResult{Groups: make([]Group, 0)}
	if len(records) == 0 {
		return result
	}

	feats := make([]features, len(records))
	for i, r := range records {
		feats[i] = newFeatures(r)
	}

	tasks := g.plan(records)
	edges, comparisons := g.scoreTasks(tasks, feats)
	result.Comparisons = comparisons

	var components [][]int
	switch g.config.Policy {
	case PolicyComplete:
		components = g.completeLink(records, edges)
	default:
		components, result.Merges = g.transitive(len(records), edges)
	}

	for _, members := range components {
		group := Group{Indexes: members, Members: make([]models.Record, len(members))}
		for k, idx := range members {
			group.Members[k] = records[idx]
		}
		if len(members) > 1 {
			metrics.GroupingGroupsTotal.Inc()
		}
		result.Groups = append(result.Groups, group)
	}
	metrics.GroupingComparisons.Add(float64(comparisons))

	g.logger.WithContext(ctx).WithFields(map[string]any{
		"records":     len(records),
		"buckets":     len(tasks),
		"comparisons": comparisons,
		"links":       len(edges),
		"groups":      len(result.Groups),
		"merges":      result.Merges,
		"policy":      string(g.config.Policy),
	}).Debug("Grouped batch")

	return result
}

// plan builds comparison tasks in a deterministic order
func (g *Grouper) plan(records []models.Record) []task {
	buckets := make(map[bucketKey][]int)
	var keys []bucketKey
	coded := make(map[string][]int)
	var countries []string

	for i, r := range records {
		key := bucketKey{
			country: normalizers.NormalizeCountry(r.Country),
			prefix:  g.bucketPrefix(r.CategoryCodes),
		}
		if _, ok := buckets[key]; !ok {
			keys = append(keys, key)
		}
		buckets[key] = append(buckets[key], i)

		if key.prefix != "" {
			if _, ok := coded[key.country]; !ok {
				countries = append(countries, key.country)
			}
			coded[key.country] = append(coded[key.country], i)
		}
	}

	tasks := make([]task, 0, len(keys)+len(countries))
	for _, key := range keys {
		members := buckets[key]
		if len(members) > 1 {
			tasks = append(tasks, task{left: members})
		}
	}
	for _, key := range keys {
		if key.prefix != "" {
			continue
		}
		if others := coded[key.country]; len(others) > 0 {
			tasks = append(tasks, task{left: buckets[key], right: others})
		}
	}
	return tasks
}

// bucketPrefix is the leading PrefixLength characters of the most specific code
func (g *Grouper) bucketPrefix(codes []string) string {
	top := fingerprint.MostSpecificCodes(codes, 1)
	if len(top) == 0 {
		return ""
	}
	code := top[0]
	if len(code) > g.config.PrefixLength {
		code = code[:g.config.PrefixLength]
	}
	return code
}

// scoreTasks runs tasks on a bounded worker pool. Each task owns its result slot, and the
// merged edge list is sorted so the outcome does not depend on scheduling.
func (g *Grouper) scoreTasks(tasks []task, feats []features) ([]edge, int) {
	results := make([][]edge, len(tasks))
	counts := make([]int, len(tasks))

	var eg errgroup.Group
	eg.SetLimit(g.config.Workers)
	for ti, t := range tasks {
		eg.Go(func() error {
			results[ti], counts[ti] = g.scoreTask(t, feats)
			return nil
		})
	}
	_ = eg.Wait()

	var edges []edge
	comparisons := 0
	for ti := range results {
		edges = append(edges, results[ti]...)
		comparisons += counts[ti]
	}
	sort.Slice(edges, func(a, b int) bool {
		if edges[a].i != edges[b].i {
			return edges[a].i < edges[b].i
		}
		return edges[a].j < edges[b].j
	})
	return edges, comparisons
}

func (g *Grouper) scoreTask(t task, feats []features) ([]edge, int) {
	var edges []edge
	comparisons := 0
	link := func(a, b int) {
		comparisons++
		if g.scorer.compare(feats[a], feats[b]).Total >= g.config.Threshold {
			if a > b {
				a, b = b, a
			}
			edges = append(edges, edge{i: a, j: b})
		}
	}

	if t.right == nil {
		for x := 0; x < len(t.left); x++ {
			for y := x + 1; y < len(t.left); y++ {
				link(t.left[x], t.left[y])
			}
		}
		return edges, comparisons
	}
	for _, a := range t.left {
		for _, b := range t.right {
			link(a, b)
		}
	}
	return edges, comparisons
}

// transitive returns connected components ordered by their first member
func (g *Grouper) transitive(n int, edges []edge) ([][]int, int) {
	uf := newUnionFind(n)
	merges := 0
	for _, e := range edges {
		if _, forced, size := uf.union(e.i, e.j); forced {
			merges++
			metrics.RecordMerge(size)
		}
	}

	byRoot := make(map[int]int)
	var components [][]int
	for i := 0; i < n; i++ {
		root := uf.find(i)
		pos, ok := byRoot[root]
		if !ok {
			pos = len(components)
			byRoot[root] = pos
			components = append(components, nil)
		}
		components[pos] = append(components[pos], i)
	}
	return components, merges
}

// completeLink visits records in a stable identity order, so the result does not depend
// on input order. A record joins the earliest group it is linked to in full.
func (g *Grouper) completeLink(records []models.Record, edges []edge) [][]int {
	n := len(records)
	linked := make(map[edge]bool, len(edges))
	neighbors := make([][]int, n)
	for _, e := range edges {
		linked[e] = true
		neighbors[e.i] = append(neighbors[e.i], e.j)
		neighbors[e.j] = append(neighbors[e.j], e.i)
	}
	isLinked := func(a, b int) bool {
		if a > b {
			a, b = b, a
		}
		return linked[edge{i: a, j: b}]
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := records[order[a]], records[order[b]]
		if ra.Source != rb.Source {
			return ra.Source < rb.Source
		}
		if ra.ExternalRef != rb.ExternalRef {
			return ra.ExternalRef < rb.ExternalRef
		}
		return ra.ID < rb.ID
	})

	groupOf := make([]int, n)
	for i := range groupOf {
		groupOf[i] = -1
	}
	var groups [][]int

	for _, idx := range order {
		candidates := make([]int, 0)
		seen := make(map[int]bool)
		for _, nb := range neighbors[idx] {
			if gid := groupOf[nb]; gid >= 0 && !seen[gid] {
				seen[gid] = true
				candidates = append(candidates, gid)
			}
		}
		sort.Ints(candidates)

		joined := false
		for _, gid := range candidates {
			full := true
			for _, member := range groups[gid] {
				if !isLinked(idx, member) {
					full = false
					break
				}
			}
			if full {
				groups[gid] = append(groups[gid], idx)
				groupOf[idx] = gid
				joined = true
				break
			}
		}
		if !joined {
			groupOf[idx] = len(groups)
			groups = append(groups, []int{idx})
		}
	}

	for _, members := range groups {
		sort.Ints(members)
	}
	sort.Slice(groups, func(a, b int) bool { return groups[a][0] < groups[b][0] })
	return groups
}
