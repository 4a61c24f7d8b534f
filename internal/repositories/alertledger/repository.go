package alertledger

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/thistle/pkg/database"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

const table = "alert_deliveries"

// Repository records which records were already alerted to which profile, so a re-run of the
// alert job never delivers the same match twice
type Repository struct {
	db     database.DB
	logger ectologger.Logger
	now    func() time.Time
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// MarkIfAbsent records a delivery and reports whether it is new
func (r *Repository) MarkIfAbsent(ctx context.Context, profileID, recordID string, score float64) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "alertledger.Repository.MarkIfAbsent")
	defer span.End()

	ib := database.NewInsertBuilder(r.db.Flavor())
	ib.InsertInto(table).
		Cols("profile_id", "record_id", "score", "delivered_at").
		Values(profileID, recordID, score, r.now().UTC())
	ib.OnConflictDoNothing("profile_id", "record_id")

	query, args := ib.Build()
	res, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"profile_id": profileID,
			"record_id":  recordID,
		}).Error("Failed to mark alert delivery")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark alert delivery")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to mark alert delivery")
	}
	return n > 0, nil
}

// Unmark forgets a delivery so the record can be alerted again, used when the sink failed
func (r *Repository) Unmark(ctx context.Context, profileID, recordID string) error {
	ctx, span := tracing.StartSpan(ctx, "alertledger.Repository.Unmark")
	defer span.End()

	db := database.NewDeleteBuilder(r.db.Flavor())
	db.DeleteFrom(table).Where(db.Equal("profile_id", profileID), db.Equal("record_id", recordID))

	query, args := db.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("profile_id", profileID).Error("Failed to unmark alert delivery")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to unmark alert delivery")
	}
	return nil
}
