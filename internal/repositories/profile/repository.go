package profile

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
	"github.com/Ramsey-B/thistle/pkg/schema"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

const table = "profiles"

var columns = []string{"id", "subscriber_id", "name", "criteria", "created_at", "updated_at"}

// criteria is the JSON document stored alongside the profile's identity columns
type criteria struct {
	Keywords    []string              `json:"keywords,omitempty"`
	Categories  []string              `json:"categories,omitempty"`
	Countries   []string              `json:"countries,omitempty"`
	MinValue    *float64              `json:"min_value,omitempty"`
	MaxValue    *float64              `json:"max_value,omitempty"`
	RecencyDays int                   `json:"recency_days,omitempty"`
	Weights     models.RankingWeights `json:"weights"`
}

type row struct {
	ID           string                   `db:"id"`
	SubscriberID string                   `db:"subscriber_id"`
	Name         string                   `db:"name"`
	Criteria     database.JSONB[criteria] `db:"criteria"`
	CreatedAt    time.Time                `db:"created_at"`
	UpdatedAt    time.Time                `db:"updated_at"`
}

func (r row) toModel() models.Profile {
	c := r.Criteria.GetValue()
	return models.Profile{
		ID:           r.ID,
		SubscriberID: r.SubscriberID,
		Name:         r.Name,
		Keywords:     c.Keywords,
		Categories:   c.Categories,
		Countries:    c.Countries,
		MinValue:     c.MinValue,
		MaxValue:     c.MaxValue,
		RecencyDays:  c.RecencyDays,
		Weights:      c.Weights,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
}

// Repository stores subscriber profiles
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

// Save validates and upserts p. Misconfigured profiles are rejected here rather than at
// filter time, with a *models.ProfileError naming the field.
func (r *Repository) Save(ctx context.Context, p *models.Profile) error {
	ctx, span := tracing.StartSpan(ctx, "profile.Repository.Save")
	defer span.End()

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"method":        "Save",
		"subscriber_id": p.SubscriberID,
	})

	if err := schema.ValidateProfile(*p); err != nil {
		log.WithError(err).Warn("Rejected misconfigured profile")
		return err
	}

	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	doc := criteria{
		Keywords:    p.Keywords,
		Categories:  p.Categories,
		Countries:   p.Countries,
		MinValue:    p.MinValue,
		MaxValue:    p.MaxValue,
		RecencyDays: p.RecencyDays,
		Weights:     p.Weights,
	}

	ib := database.NewInsertBuilder(r.db.Flavor())
	ib.InsertInto(table).
		Cols(columns...).
		Values(p.ID, p.SubscriberID, p.Name, database.NewJSONB(doc), p.CreatedAt, p.UpdatedAt)
	ib.OnConflictUpdate([]string{"id"}, "subscriber_id", "name", "criteria", "updated_at")

	query, args := ib.Build()
	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, args...); err != nil {
		log.WithError(err).Error("Failed to save profile")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to save profile")
	}

	log.WithField("profile_id", p.ID).Info("Saved profile")
	return nil
}

// Get loads a profile by id
func (r *Repository) Get(ctx context.Context, id string) (models.Profile, bool, error) {
	ctx, span := tracing.StartSpan(ctx, "profile.Repository.Get")
	defer span.End()

	sb := database.NewSelectBuilder(r.db.Flavor())
	sb.Select(columns...).From(table).Where(sb.Equal("id", id))
	query, args := sb.Build()

	var out row
	if err := r.db.Executor(ctx).GetContext(ctx, &out, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Profile{}, false, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithField("profile_id", id).Error("Failed to get profile")
		return models.Profile{}, false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get profile")
	}
	return out.toModel(), true, nil
}

// List returns profiles ordered by id. An empty subscriberID lists every subscriber's profiles.
func (r *Repository) List(ctx context.Context, subscriberID string) ([]models.Profile, error) {
	ctx, span := tracing.StartSpan(ctx, "profile.Repository.List")
	defer span.End()

	sb := database.NewSelectBuilder(r.db.Flavor())
	sb.Select(columns...).From(table)
	if subscriberID != "" {
		sb.Where(sb.Equal("subscriber_id", subscriberID))
	}
	sb.OrderBy("id ASC")
	query, args := sb.Build()

	var rows []row
	if err := r.db.Executor(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list profiles")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list profiles")
	}

	out := make([]models.Profile, len(rows))
	for i, rw := range rows {
		out[i] = rw.toModel()
	}
	return out, nil
}

// Delete removes a profile, reporting whether it existed
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "profile.Repository.Delete")
	defer span.End()

	db := database.NewDeleteBuilder(r.db.Flavor())
	db.DeleteFrom(table).Where(db.Equal("id", id))
	query, args := db.Build()

	res, err := r.db.Executor(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("profile_id", id).Error("Failed to delete profile")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete profile")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete profile")
	}
	return n > 0, nil
}
