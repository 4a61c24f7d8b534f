package processor

import (
	"context"

	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/ratelimit"
)

// RateLimitedSink admits deliveries through one limiter per subscriber before passing them on
type RateLimitedSink struct {
	next     MatchSink
	limiters *ratelimit.Registry
}

func NewRateLimitedSink(next MatchSink, limiters *ratelimit.Registry) *RateLimitedSink {
	return &RateLimitedSink{next: next, limiters: limiters}
}

// PublishMatches blocks until the subscriber's limiter admits the delivery
func (s *RateLimitedSink) PublishMatches(ctx context.Context, profile models.Profile, matches []models.RankedMatch) error {
	if err := s.limiters.For(profile.SubscriberID).Wait(ctx); err != nil {
		return err
	}
	return s.next.PublishMatches(ctx, profile, matches)
}
