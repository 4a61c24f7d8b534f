package duplicategroup

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/thistle/pkg/database"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

const table = "duplicate_groups"

type row struct {
	ID          string                   `db:"id"`
	CanonicalID string                   `db:"canonical_id"`
	MemberIDs   database.JSONB[[]string] `db:"member_ids"`
	MergeCount  int                      `db:"merge_count"`
	CreatedAt   time.Time                `db:"created_at"`
}

// Repository keeps an audit trail of the duplicate groups each batch formed
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

// Create stores group, filling in its id and creation time when unset
func (r *Repository) Create(ctx context.Context, group *models.DuplicateGroup) error {
	ctx, span := tracing.StartSpan(ctx, "duplicategroup.Repository.Create")
	defer span.End()

	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}

	ib := database.NewInsertBuilder(r.db.Flavor())
	ib.InsertInto(table).
		Cols("id", "canonical_id", "member_ids", "merge_count", "created_at").
		Values(group.ID, group.CanonicalID, database.NewJSONB(group.MemberIDs), group.MergeCount, group.CreatedAt)

	query, args := ib.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"group_id":     group.ID,
			"canonical_id": group.CanonicalID,
		}).Error("Failed to create duplicate group")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create duplicate group")
	}
	return nil
}

// ListByCanonical returns the groups a record was chosen canonical for, oldest first
func (r *Repository) ListByCanonical(ctx context.Context, canonicalID string) ([]models.DuplicateGroup, error) {
	ctx, span := tracing.StartSpan(ctx, "duplicategroup.Repository.ListByCanonical")
	defer span.End()

	sb := database.NewSelectBuilder(r.db.Flavor())
	sb.Select("id", "canonical_id", "member_ids", "merge_count", "created_at").
		From(table).
		Where(sb.Equal("canonical_id", canonicalID)).
		OrderBy("created_at ASC", "id ASC")

	query, args := sb.Build()
	var rows []row
	if err := r.db.Executor(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("canonical_id", canonicalID).Error("Failed to list duplicate groups")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list duplicate groups")
	}

	out := make([]models.DuplicateGroup, len(rows))
	for i, rw := range rows {
		out[i] = models.DuplicateGroup{
			ID:          rw.ID,
			CanonicalID: rw.CanonicalID,
			MemberIDs:   rw.MemberIDs.GetValue(),
			MergeCount:  rw.MergeCount,
			CreatedAt:   rw.CreatedAt.UTC(),
		}
	}
	return out, nil
}
