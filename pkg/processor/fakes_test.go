package processor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/thistle/pkg/models"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func ptr[T any](v T) *T { return &v }

type memRecords struct {
	mu         sync.Mutex
	seq        int
	byID       map[string]models.Record
	byRef      map[string]string
	failCreate map[string]error
}

func newMemRecords() *memRecords {
	return &memRecords{
		byID:       make(map[string]models.Record),
		byRef:      make(map[string]string),
		failCreate: make(map[string]error),
	}
}

func (m *memRecords) Create(_ context.Context, rec *models.Record) (models.InsertOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failCreate[rec.ExternalRef]; err != nil {
		return models.InsertOutcome{}, err
	}
	key := rec.Source + "|" + rec.ExternalRef
	if id, ok := m.byRef[key]; ok {
		rec.ID = id
		return models.InsertOutcome{RecordID: id, Existing: true}, nil
	}
	m.seq++
	rec.ID = fmt.Sprintf("rec-%d", m.seq)
	m.byID[rec.ID] = rec.Clone()
	m.byRef[key] = rec.ID
	return models.InsertOutcome{RecordID: rec.ID}, nil
}

func (m *memRecords) Get(_ context.Context, id string) (models.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	return rec.Clone(), ok, nil
}

func (m *memRecords) SetCanonicalOf(_ context.Context, id, canonicalID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok || rec.CanonicalOf != nil || id == canonicalID {
		return false, nil
	}
	rec.CanonicalOf = &canonicalID
	m.byID[id] = rec
	return true, nil
}

func (m *memRecords) ListCanonicalSince(_ context.Context, countries []string, since time.Time, _ int) ([]models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := make(map[string]bool)
	for _, c := range countries {
		allowed[c] = true
	}
	out := make([]models.Record, 0)
	for _, rec := range m.byID {
		if !rec.IsCanonical() || rec.Recency().Before(since) {
			continue
		}
		if len(allowed) > 0 && !allowed[rec.Country] {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRecords) byExternalRef(ref string) models.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.byID {
		if rec.ExternalRef == ref {
			return rec.Clone()
		}
	}
	return models.Record{}
}

type memIndex struct {
	mu     sync.Mutex
	owners map[string]string
}

func newMemIndex() *memIndex {
	return &memIndex{owners: make(map[string]string)}
}

func (m *memIndex) InsertIfAbsent(_ context.Context, fingerprint, recordID string) (models.InsertOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, ok := m.owners[fingerprint]; ok {
		return models.InsertOutcome{RecordID: owner, Existing: true}, nil
	}
	m.owners[fingerprint] = recordID
	return models.InsertOutcome{RecordID: recordID}, nil
}

func (m *memIndex) Repoint(_ context.Context, fingerprints []string, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, fp := range fingerprints {
		m.owners[fp] = recordID
	}
	return nil
}

type memGroups struct {
	groups []models.DuplicateGroup
	err    error
}

func (m *memGroups) Create(_ context.Context, group *models.DuplicateGroup) error {
	if m.err != nil {
		return m.err
	}
	group.ID = fmt.Sprintf("group-%d", len(m.groups)+1)
	m.groups = append(m.groups, *group)
	return nil
}

type recordingGraph struct {
	groups []models.DuplicateGroup
}

func (g *recordingGraph) WriteGroup(_ context.Context, group models.DuplicateGroup) error {
	g.groups = append(g.groups, group)
	return nil
}

type recordingPublisher struct {
	batches [][]models.Record
	err     error
}

func (p *recordingPublisher) PublishCanonical(_ context.Context, records []models.Record) error {
	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, records)
	return nil
}

type memProfiles struct {
	profiles []models.Profile
}

func (m *memProfiles) List(_ context.Context, _ string) ([]models.Profile, error) {
	return m.profiles, nil
}

type memLedger struct {
	mu        sync.Mutex
	delivered map[string]float64
}

func newMemLedger() *memLedger {
	return &memLedger{delivered: make(map[string]float64)}
}

func (m *memLedger) MarkIfAbsent(_ context.Context, profileID, recordID string, score float64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := profileID + "|" + recordID
	if _, ok := m.delivered[key]; ok {
		return false, nil
	}
	m.delivered[key] = score
	return true, nil
}

func (m *memLedger) Unmark(_ context.Context, profileID, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.delivered, profileID+"|"+recordID)
	return nil
}

type recordingSink struct {
	deliveries map[string][]models.RankedMatch
	err        error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{deliveries: make(map[string][]models.RankedMatch)}
}

func (s *recordingSink) PublishMatches(_ context.Context, profile models.Profile, matches []models.RankedMatch) error {
	if s.err != nil {
		return s.err
	}
	s.deliveries[profile.ID] = append(s.deliveries[profile.ID], matches...)
	return nil
}
