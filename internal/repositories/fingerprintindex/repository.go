package fingerprintindex

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/thistle/pkg/database"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

const table = "fingerprint_index"

// Repository maps fingerprints to the record that owns them. The unique fingerprint key makes
// InsertIfAbsent safe across concurrent batch runs.
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

// InsertIfAbsent claims fingerprint for recordID. When the fingerprint is already owned the
// outcome is Existing with the owner's id; that is the normal "already known" path.
func (r *Repository) InsertIfAbsent(ctx context.Context, fingerprint, recordID string) (models.InsertOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "fingerprintindex.Repository.InsertIfAbsent")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":      "InsertIfAbsent",
		"fingerprint": fingerprint,
		"record_id":   recordID,
	})

	now := time.Now().UTC()
	ib := database.NewInsertBuilder(r.db.Flavor())
	ib.InsertInto(table).
		Cols("fingerprint", "record_id", "created_at", "updated_at").
		Values(fingerprint, recordID, now, now)
	ib.OnConflictDoNothing("fingerprint")

	query, args := ib.Build()
	res, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		log.WithError(err).Error("Failed to insert fingerprint")
		return models.InsertOutcome{}, httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert fingerprint")
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		log.WithError(err).Error("Failed to read affected rows")
		return models.InsertOutcome{}, httperror.NewHTTPError(http.StatusInternalServerError, "failed to insert fingerprint")
	}
	if inserted > 0 {
		log.Debug("Indexed new fingerprint")
		return models.InsertOutcome{RecordID: recordID}, nil
	}

	owner, found, err := r.Lookup(ctx, fingerprint)
	if err != nil {
		return models.InsertOutcome{}, err
	}
	if !found {
		// the owner row was removed between the insert and the lookup
		log.Warn("Fingerprint owner vanished after conflict")
		return models.InsertOutcome{}, httperror.NewHTTPError(http.StatusConflict, "fingerprint owner vanished")
	}

	log.WithField("owner_id", owner).Debug("Fingerprint already indexed")
	return models.InsertOutcome{RecordID: owner, Existing: true}, nil
}

// Lookup returns the record owning fingerprint
func (r *Repository) Lookup(ctx context.Context, fingerprint string) (string, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "fingerprintindex.Repository.Lookup")
	defer span.End()

	sb := database.NewSelectBuilder(r.db.Flavor())
	sb.Select("record_id").From(table).Where(sb.Equal("fingerprint", fingerprint))

	query, args := sb.Build()
	var recordID string
	if err := r.db.Executor(ctx).GetContext(ctx, &recordID, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to look up fingerprint")
		return "", false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to look up fingerprint")
	}
	return recordID, true, nil
}

// Repoint hands the given fingerprints to recordID, typically the canonical of their group
func (r *Repository) Repoint(ctx context.Context, fingerprints []string, recordID string) error {
	ctx, span := tracing.StartSpan(ctx, "fingerprintindex.Repository.Repoint")
	defer span.End()

	if len(fingerprints) == 0 {
		return nil
	}

	ub := database.NewUpdateBuilder(r.db.Flavor())
	ub.Update(table).
		Set(ub.Assign("record_id", recordID), ub.Assign("updated_at", time.Now().UTC())).
		Where(ub.In("fingerprint", toAny(fingerprints)...))

	query, args := ub.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("record_id", recordID).Error("Failed to repoint fingerprints")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to repoint fingerprints")
	}
	return nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
