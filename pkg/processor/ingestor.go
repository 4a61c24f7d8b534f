package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/thistle/pkg/fingerprint"
	"github.com/Ramsey-B/thistle/pkg/matching"
	"github.com/Ramsey-B/thistle/pkg/merging"
	"github.com/Ramsey-B/thistle/pkg/metrics"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/schema"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

// Ingest outcomes, used as metric labels
const (
	OutcomeCanonical      = "canonical"
	OutcomeDuplicate      = "duplicate"
	OutcomeExactDuplicate = "exact_duplicate"
	OutcomeReplayed       = "replayed"
	OutcomeRejected       = "rejected"
	OutcomeFailed         = "failed"
)

// IngestorConfig tunes the ingestion pipeline
type IngestorConfig struct {
	// MaxCategoryCodes is the number of most specific codes hashed into a fingerprint
	MaxCategoryCodes int
	// Lookback pulls canonical records newer than now-Lookback into grouping so new
	// records collapse into groups formed by earlier batches. Zero disables it.
	Lookback      time.Duration
	LookbackLimit int
	Now           func() time.Time
}

// IngestorOption configures optional collaborators
type IngestorOption func(*Ingestor)

// WithGroupWriter mirrors every persisted duplicate group into w
func WithGroupWriter(w GroupWriter) IngestorOption {
	return func(i *Ingestor) { i.graph = w }
}

// WithCanonicalPublisher publishes the canonical records of each batch
func WithCanonicalPublisher(p CanonicalPublisher) IngestorOption {
	return func(i *Ingestor) { i.publisher = p }
}

// WithTransactor persists each duplicate group inside a transaction
func WithTransactor(tx Transactor) IngestorOption {
	return func(i *Ingestor) { i.tx = tx }
}

// Ingestor turns a batch of connector records into canonical records
type Ingestor struct {
	config    IngestorConfig
	records   RecordStore
	index     FingerprintIndex
	groups    GroupStore
	grouper   *matching.Grouper
	selector  *merging.Selector
	graph     GroupWriter
	publisher CanonicalPublisher
	tx        Transactor
	logger    ectologger.Logger
}

func NewIngestor(
	config IngestorConfig,
	records RecordStore,
	index FingerprintIndex,
	groups GroupStore,
	grouper *matching.Grouper,
	selector *merging.Selector,
	logger ectologger.Logger,
	opts ...IngestorOption,
) *Ingestor {
	if config.MaxCategoryCodes <= 0 {
		config.MaxCategoryCodes = fingerprint.DefaultMaxCodes
	}
	if config.LookbackLimit <= 0 {
		config.LookbackLimit = 1000
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	i := &Ingestor{
		config:   config,
		records:  records,
		index:    index,
		groups:   groups,
		grouper:  grouper,
		selector: selector,
		tx:       noTransaction,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

type admissionKind int

const (
	// admitNew is a record seen for the first time that owns its fingerprint
	admitNew admissionKind = iota
	// admitPinned is a stored canonical record seen again
	admitPinned
	// admitResolved is a stored record already marked as a duplicate
	admitResolved
	// admitExact is a record whose fingerprint belongs to another record
	admitExact
)

type admission struct {
	record models.Record
	kind   admissionKind
	owner  string
}

// Ingest fingerprints, stores and de-duplicates a batch. Records are processed in input
// order. A record that fails validation or storage is reported in Rejected and never stops
// the rest of the batch. Running the same batch again is safe: stored records are detected
// and keep their canonical.
func (i *Ingestor) Ingest(ctx context.Context, batch []models.Record) (*models.BatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "processor.Ingestor.Ingest")
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.BatchDuration.Observe(time.Since(start).Seconds())
	}()

	log := i.logger.WithContext(ctx).WithFields(map[string]any{
		"method":     "Ingest",
		"batch_size": len(batch),
	})

	result := &models.BatchResult{Canonical: make([]models.Record, 0)}
	var (
		candidates []models.Record
		exact      []admission
		batchIDs   = make(map[string]struct{})
		pinned     = make(map[string]struct{})
	)

	for _, rec := range batch {
		result.Processed++

		adm, err := i.admit(ctx, rec)
		if err != nil {
			i.reject(ctx, result, rec, err)
			continue
		}

		if _, seen := batchIDs[adm.record.ID]; seen {
			// the same source record twice in one batch
			result.Replayed++
			metrics.RecordIngestOutcome(OutcomeReplayed)
			continue
		}
		batchIDs[adm.record.ID] = struct{}{}

		switch adm.kind {
		case admitResolved:
			result.Replayed++
			metrics.RecordIngestOutcome(OutcomeReplayed)
		case admitExact:
			exact = append(exact, adm)
		case admitPinned:
			result.Replayed++
			metrics.RecordIngestOutcome(OutcomeReplayed)
			pinned[adm.record.ID] = struct{}{}
			candidates = append(candidates, adm.record)
		default:
			candidates = append(candidates, adm.record)
		}
	}

	members := append([]models.Record(nil), candidates...)
	for _, rec := range i.lookback(ctx, candidates) {
		if _, ok := batchIDs[rec.ID]; ok {
			continue
		}
		pinned[rec.ID] = struct{}{}
		members = append(members, rec)
	}

	canonicalOf := make(map[string]string)
	grouped := i.grouper.Group(ctx, members)
	result.Merges = grouped.Merges

	for _, g := range grouped.Groups {
		if !touches(g.Members, batchIDs) {
			continue
		}

		if len(g.Members) == 1 {
			only := g.Members[0]
			canonicalOf[only.ID] = only.ID
			result.Canonical = append(result.Canonical, only)
			if _, replay := pinned[only.ID]; !replay {
				metrics.RecordIngestOutcome(OutcomeCanonical)
			}
			continue
		}

		selection, err := i.selector.Select(ctx, g.Members, pinnedIn(g.Members, pinned)...)
		if err != nil {
			log.WithError(err).Error("Failed to select canonical record")
			continue
		}

		if err := i.persistGroup(ctx, selection); err != nil {
			for _, m := range g.Members {
				if _, ok := batchIDs[m.ID]; ok {
					i.reject(ctx, result, m, err)
				}
			}
			continue
		}

		result.Groups++
		result.Canonical = append(result.Canonical, selection.Canonical)
		for _, m := range selection.Members {
			canonicalOf[m.ID] = selection.Canonical.ID
		}
		for _, d := range selection.Duplicates() {
			if _, ok := batchIDs[d.ID]; ok {
				result.Grouped++
				metrics.RecordIngestOutcome(OutcomeDuplicate)
			}
		}
		if _, ok := pinned[selection.Canonical.ID]; !ok {
			metrics.RecordIngestOutcome(OutcomeCanonical)
		}
	}

	for _, adm := range exact {
		if err := i.resolveExact(ctx, adm, canonicalOf); err != nil {
			i.reject(ctx, result, adm.record, err)
			continue
		}
		result.ExactDuplicates++
		metrics.RecordIngestOutcome(OutcomeExactDuplicate)
	}

	log.WithFields(map[string]any{
		"processed":        result.Processed,
		"canonical":        len(result.Canonical),
		"exact_duplicates": result.ExactDuplicates,
		"replayed":         result.Replayed,
		"grouped":          result.Grouped,
		"groups":           result.Groups,
		"merges":           result.Merges,
		"rejected":         len(result.Rejected),
	}).Info("Ingested batch")

	if i.publisher != nil && len(result.Canonical) > 0 {
		if err := i.publisher.PublishCanonical(ctx, result.Canonical); err != nil {
			log.WithError(err).Error("Failed to publish canonical records")
			return result, fmt.Errorf("failed to publish canonical records: %w", err)
		}
	}

	return result, nil
}

// admit validates, fingerprints and stores one record, then claims its fingerprint
func (i *Ingestor) admit(ctx context.Context, in models.Record) (admission, error) {
	if err := schema.ValidateRecord(in); err != nil {
		return admission{}, err
	}

	fp, err := fingerprint.GenerateWithMaxCodes(in, i.config.MaxCategoryCodes)
	if err != nil {
		return admission{}, err
	}

	rec := in.Clone()
	rec.Fingerprint = fp
	rec.CanonicalOf = nil

	created, err := i.records.Create(ctx, &rec)
	if err != nil {
		return admission{}, err
	}

	replay := created.Existing
	if replay {
		stored, found, err := i.records.Get(ctx, created.RecordID)
		if err != nil {
			return admission{}, err
		}
		if !found {
			return admission{}, fmt.Errorf("record %s vanished after create", created.RecordID)
		}
		rec = stored
		if !rec.IsCanonical() {
			return admission{record: rec, kind: admitResolved}, nil
		}
	}

	claim, err := i.index.InsertIfAbsent(ctx, rec.Fingerprint, rec.ID)
	if err != nil {
		return admission{}, err
	}
	if claim.Existing && claim.RecordID != rec.ID {
		return admission{record: rec, kind: admitExact, owner: claim.RecordID}, nil
	}
	if replay {
		return admission{record: rec, kind: admitPinned}, nil
	}
	return admission{record: rec, kind: admitNew}, nil
}

// lookback loads recent canonical records of the candidates' countries
func (i *Ingestor) lookback(ctx context.Context, candidates []models.Record) []models.Record {
	if i.config.Lookback <= 0 || len(candidates) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	countries := make([]string, 0)
	for _, c := range candidates {
		if _, ok := seen[c.Country]; ok {
			continue
		}
		seen[c.Country] = struct{}{}
		countries = append(countries, c.Country)
	}

	since := i.config.Now().Add(-i.config.Lookback)
	recent, err := i.records.ListCanonicalSince(ctx, countries, since, i.config.LookbackLimit)
	if err != nil {
		// grouping within the batch still works without history
		i.logger.WithContext(ctx).WithError(err).Warn("Failed to load canonical lookback, grouping batch only")
		return nil
	}
	return recent
}

// persistGroup marks the duplicates of a selection and hands their fingerprints to the canonical
func (i *Ingestor) persistGroup(ctx context.Context, selection *merging.Selection) error {
	canonicalID := selection.Canonical.ID
	duplicates := selection.Duplicates()

	group := models.DuplicateGroup{
		CanonicalID: canonicalID,
		MemberIDs:   make([]string, len(selection.Members)),
		MergeCount:  len(duplicates),
	}
	for k, m := range selection.Members {
		group.MemberIDs[k] = m.ID
	}

	err := i.tx(ctx, func(ctx context.Context) error {
		fingerprints := make([]string, 0, len(duplicates))
		for _, d := range duplicates {
			if _, err := i.records.SetCanonicalOf(ctx, d.ID, canonicalID); err != nil {
				return err
			}
			if d.Fingerprint != "" {
				fingerprints = append(fingerprints, d.Fingerprint)
			}
		}
		if err := i.index.Repoint(ctx, fingerprints, canonicalID); err != nil {
			return err
		}
		return i.groups.Create(ctx, &group)
	})
	if err != nil {
		i.logger.WithContext(ctx).WithError(err).WithField("canonical_id", canonicalID).Error("Failed to persist duplicate group")
		return err
	}

	if i.graph != nil {
		if err := i.graph.WriteGroup(ctx, group); err != nil {
			// the SQL audit trail is authoritative
			i.logger.WithContext(ctx).WithError(err).WithField("group_id", group.ID).Warn("Failed to write duplicate group to graph")
		}
	}
	return nil
}

// resolveExact points an exact duplicate at the final canonical of its fingerprint owner
func (i *Ingestor) resolveExact(ctx context.Context, adm admission, canonicalOf map[string]string) error {
	target := adm.owner
	if c, ok := canonicalOf[target]; ok {
		target = c
	} else {
		owner, found, err := i.records.Get(ctx, target)
		if err != nil {
			return err
		}
		if found && owner.CanonicalOf != nil {
			target = *owner.CanonicalOf
		}
	}

	if target == adm.record.ID {
		return nil
	}
	_, err := i.records.SetCanonicalOf(ctx, adm.record.ID, target)
	return err
}

func (i *Ingestor) reject(ctx context.Context, result *models.BatchResult, rec models.Record, err error) {
	outcome := OutcomeFailed
	reason := "store failure: " + err.Error()

	var invalid *models.InvalidRecordError
	if errors.As(err, &invalid) {
		outcome = OutcomeRejected
		reason = invalid.Reason
	}

	i.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
		"source":       rec.Source,
		"external_ref": rec.ExternalRef,
		"outcome":      outcome,
	}).Warn("Record routed to dead letter")

	metrics.RecordIngestOutcome(outcome)
	result.Rejected = append(result.Rejected, models.DeadLetter{Record: rec, Reason: reason})
}

func touches(members []models.Record, ids map[string]struct{}) bool {
	for _, m := range members {
		if _, ok := ids[m.ID]; ok {
			return true
		}
	}
	return false
}

func pinnedIn(members []models.Record, pinned map[string]struct{}) []string {
	out := make([]string, 0)
	for _, m := range members {
		if _, ok := pinned[m.ID]; ok {
			out = append(out, m.ID)
		}
	}
	return out
}
