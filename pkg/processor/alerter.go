package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/thistle/pkg/criteria"
	"github.com/Ramsey-B/thistle/pkg/metrics"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/relevance"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

// Alerter matches canonical records against every stored profile and delivers each match to
// a profile at most once
type Alerter struct {
	profiles ProfileStore
	filter   *criteria.Filter
	ranker   *relevance.Ranker
	ledger   DeliveryLedger
	sink     MatchSink
	logger   ectologger.Logger
}

func NewAlerter(
	profiles ProfileStore,
	filter *criteria.Filter,
	ranker *relevance.Ranker,
	ledger DeliveryLedger,
	sink MatchSink,
	logger ectologger.Logger,
) *Alerter {
	return &Alerter{
		profiles: profiles,
		filter:   filter,
		ranker:   ranker,
		ledger:   ledger,
		sink:     sink,
		logger:   logger,
	}
}

// Run alerts every profile about the canonical records among records. A failing profile does
// not stop the others; the returned results hold one entry per profile in store order and the
// error joins the profile failures, so the caller can retry the batch.
func (a *Alerter) Run(ctx context.Context, records []models.Record) ([]models.AlertResult, error) {
	ctx, span := tracing.StartSpan(ctx, "processor.Alerter.Run")
	defer span.End()

	profiles, err := a.profiles.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}

	canonical := make([]models.Record, 0, len(records))
	for _, r := range records {
		if r.IsCanonical() {
			canonical = append(canonical, r)
		}
	}

	results := make([]models.AlertResult, 0, len(profiles))
	var failed []error
	for _, profile := range profiles {
		res, err := a.RunProfile(ctx, profile, canonical)
		if err != nil {
			a.logger.WithContext(ctx).WithError(err).WithField("profile_id", profile.ID).Error("Failed to alert profile")
			failed = append(failed, fmt.Errorf("profile %s: %w", profile.ID, err))
		}
		results = append(results, res)
	}
	return results, errors.Join(failed...)
}

// RunProfile filters and ranks records for one profile and delivers the matches that were
// not delivered before. When the sink fails the matches are released so a later run retries them.
func (a *Alerter) RunProfile(ctx context.Context, profile models.Profile, records []models.Record) (models.AlertResult, error) {
	ctx, span := tracing.StartSpan(ctx, "processor.Alerter.RunProfile")
	defer span.End()

	log := a.logger.WithContext(ctx).WithFields(map[string]any{
		"profile_id":    profile.ID,
		"subscriber_id": profile.SubscriberID,
	})

	result := models.AlertResult{ProfileID: profile.ID}
	ranked := a.ranker.Rank(ctx, a.filter.Filter(ctx, records, profile), profile)
	result.Matched = len(ranked)

	fresh := make([]models.RankedMatch, 0, len(ranked))
	for _, m := range ranked {
		marked, err := a.ledger.MarkIfAbsent(ctx, profile.ID, m.Record.ID, m.Score)
		if err != nil {
			a.release(ctx, profile.ID, fresh)
			metrics.AlertsDelivered.WithLabelValues("failed").Add(float64(len(fresh)))
			return result, fmt.Errorf("failed to mark delivery: %w", err)
		}
		if !marked {
			result.Skipped++
			continue
		}
		fresh = append(fresh, m)
	}
	metrics.AlertsDelivered.WithLabelValues("skipped").Add(float64(result.Skipped))

	if len(fresh) == 0 {
		log.WithField("matched", result.Matched).Debug("No new matches")
		return result, nil
	}

	if err := a.sink.PublishMatches(ctx, profile, fresh); err != nil {
		a.release(ctx, profile.ID, fresh)
		metrics.AlertsDelivered.WithLabelValues("failed").Add(float64(len(fresh)))
		return result, fmt.Errorf("failed to deliver matches: %w", err)
	}

	result.Delivered = len(fresh)
	metrics.AlertsDelivered.WithLabelValues("delivered").Add(float64(len(fresh)))
	log.WithFields(map[string]any{
		"matched":   result.Matched,
		"delivered": result.Delivered,
		"skipped":   result.Skipped,
	}).Info("Delivered matches")
	return result, nil
}

func (a *Alerter) release(ctx context.Context, profileID string, matches []models.RankedMatch) {
	for _, m := range matches {
		if err := a.ledger.Unmark(ctx, profileID, m.Record.ID); err != nil {
			a.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"profile_id": profileID,
				"record_id":  m.Record.ID,
			}).Error("Failed to release undelivered match")
		}
	}
}
