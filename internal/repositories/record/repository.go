package record

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/thistle/pkg/database"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

const table = "records"

var columns = []string{
	"id", "external_ref", "source", "title", "secondary_text", "category_codes", "country",
	"numeric_value", "currency", "contact_email", "published_at", "deadline_at", "seen_at",
	"fingerprint", "canonical_of",
}

type row struct {
	ID            string                   `db:"id"`
	ExternalRef   string                   `db:"external_ref"`
	Source        string                   `db:"source"`
	Title         string                   `db:"title"`
	SecondaryText *string                  `db:"secondary_text"`
	CategoryCodes database.JSONB[[]string] `db:"category_codes"`
	Country       string                   `db:"country"`
	NumericValue  *float64                 `db:"numeric_value"`
	Currency      *string                  `db:"currency"`
	ContactEmail  *string                  `db:"contact_email"`
	PublishedAt   *time.Time               `db:"published_at"`
	DeadlineAt    *time.Time               `db:"deadline_at"`
	SeenAt        time.Time                `db:"seen_at"`
	Fingerprint   string                   `db:"fingerprint"`
	CanonicalOf   *string                  `db:"canonical_of"`
}

func (r row) toModel() models.Record {
	rec := models.Record{
		ID:            r.ID,
		ExternalRef:   r.ExternalRef,
		Source:        r.Source,
		Title:         r.Title,
		SecondaryText: r.SecondaryText,
		CategoryCodes: r.CategoryCodes.GetValue(),
		Country:       r.Country,
		NumericValue:  r.NumericValue,
		Currency:      r.Currency,
		ContactEmail:  r.ContactEmail,
		DeadlineAt:    r.DeadlineAt,
		SeenAt:        r.SeenAt.UTC(),
		Fingerprint:   r.Fingerprint,
		CanonicalOf:   r.CanonicalOf,
	}
	if r.PublishedAt != nil {
		rec.PublishedAt = r.PublishedAt.UTC()
	}
	return rec
}

func values(rec models.Record) []any {
	var published *time.Time
	if !rec.PublishedAt.IsZero() {
		t := rec.PublishedAt.UTC()
		published = &t
	}
	codes := rec.CategoryCodes
	if codes == nil {
		codes = []string{}
	}
	return []any{
		rec.ID, rec.ExternalRef, rec.Source, rec.Title, rec.SecondaryText, database.NewJSONB(codes), rec.Country,
		rec.NumericValue, rec.Currency, rec.ContactEmail, published, rec.DeadlineAt, rec.SeenAt.UTC(),
		rec.Fingerprint, rec.CanonicalOf,
	}
}

// Repository stores ingested records
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create stores rec, assigning an id when it has none. A record with the same source and
// external_ref is not stored twice: the outcome is then Existing with the stored id.
func (r *Repository) Create(ctx context.Context, rec *models.Record) (models.InsertOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.Create")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":       "Create",
		"source":       rec.Source,
		"external_ref": rec.ExternalRef,
	})

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.SeenAt.IsZero() {
		rec.SeenAt = time.Now().UTC()
	}

	ib := database.NewInsertBuilder(r.db.Flavor())
	ib.InsertInto(table).Cols(columns...).Values(values(*rec)...)
	ib.OnConflictDoNothing("source", "external_ref")

	query, args := ib.Build()
	res, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		log.WithError(err).Error("Failed to create record")
		return models.InsertOutcome{}, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create record")
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.WithField("record_id", rec.ID).Debug("Created record")
		return models.InsertOutcome{RecordID: rec.ID}, nil
	}

	sb := database.NewSelectBuilder(r.db.Flavor())
	sb.Select("id").From(table).Where(
		sb.Equal("source", rec.Source),
		sb.Equal("external_ref", rec.ExternalRef),
	)
	query, args = sb.Build()

	var existing string
	if err := r.db.Executor(ctx).GetContext(ctx, &existing, query, args...); err != nil {
		log.WithError(err).Error("Failed to load existing record")
		return models.InsertOutcome{}, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create record")
	}

	log.WithField("record_id", existing).Debug("Record already stored")
	rec.ID = existing
	return models.InsertOutcome{RecordID: existing, Existing: true}, nil
}

// Get loads a record by id
func (r *Repository) Get(ctx context.Context, id string) (models.Record, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.Get")
	defer span.End()

	sb := database.NewSelectBuilder(r.db.Flavor())
	sb.Select(columns...).From(table).Where(sb.Equal("id", id))
	query, args := sb.Build()

	var out row
	if err := r.db.Executor(ctx).GetContext(ctx, &out, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Record{}, false, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithField("record_id", id).Error("Failed to get record")
		return models.Record{}, false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get record")
	}
	return out.toModel(), true, nil
}

// SetCanonicalOf marks id as a duplicate of canonicalID. A record is only ever marked once;
// the return value reports whether this call marked it.
func (r *Repository) SetCanonicalOf(ctx context.Context, id, canonicalID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.SetCanonicalOf")
	defer span.End()

	if id == canonicalID {
		return false, nil
	}

	ub := database.NewUpdateBuilder(r.db.Flavor())
	ub.Update(table).
		Set(ub.Assign("canonical_of", canonicalID)).
		Where(ub.Equal("id", id), ub.IsNull("canonical_of"))
	query, args := ub.Build()

	res, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"record_id":    id,
			"canonical_id": canonicalID,
		}).Error("Failed to set canonical_of")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to set canonical record")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to set canonical record")
	}
	return n > 0, nil
}

// ListCanonicalSince returns canonical records of the given countries whose publish date (or
// seen date) is at or after since, newest first. No countries means every country.
func (r *Repository) ListCanonicalSince(ctx context.Context, countries []string, since time.Time, limit int) ([]models.Record, error) {
	ctx, span := tracing.StartSpan(ctx, "record.Repository.ListCanonicalSince")
	defer span.End()

	sb := database.NewSelectBuilder(r.db.Flavor())
	sb.Select(columns...).From(table).Where(
		sb.IsNull("canonical_of"),
		sb.GreaterEqualThan("COALESCE(published_at, seen_at)", since.UTC()),
	)
	if len(countries) > 0 {
		sb.Where(sb.In("country", toAny(countries)...))
	}
	sb.OrderBy("COALESCE(published_at, seen_at) DESC", "id ASC")
	if limit > 0 {
		sb.Limit(limit)
	}
	query, args := sb.Build()

	var rows []row
	if err := r.db.Executor(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list canonical records")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list canonical records")
	}

	out := make([]models.Record, len(rows))
	for i, rw := range rows {
		out[i] = rw.toModel()
	}
	return out, nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
