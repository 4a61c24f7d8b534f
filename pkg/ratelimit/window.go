// Package ratelimit throttles calls made against external APIs, one limiter per credential
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/Ramsey-B/thistle/pkg/metrics"
)

// Limiter blocks until a call may proceed
type Limiter interface {
	Wait(ctx context.Context) error
}

// Clock abstracts time for the limiter
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SlidingWindow admits at most limit calls in any window-long interval. Blocked callers are
// admitted oldest first.
type SlidingWindow struct {
	name   string
	limit  int
	window time.Duration
	clock  Clock

	mu    sync.Mutex
	calls []time.Time
	queue []chan struct{}
}

type Option func(*SlidingWindow)

// WithClock replaces the wall clock
func WithClock(c Clock) Option {
	return func(s *SlidingWindow) { s.clock = c }
}

// NewSlidingWindow creates a limiter; name labels its wait-time metric. A limit below 1 is
// treated as 1.
func NewSlidingWindow(name string, limit int, window time.Duration, opts ...Option) *SlidingWindow {
	s := &SlidingWindow{
		name:   name,
		limit:  max(limit, 1),
		window: window,
		clock:  realClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// prune drops calls that have left the window. Caller holds mu.
func (s *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.calls) && !s.calls[i].After(cutoff) {
		i++
	}
	s.calls = s.calls[i:]
}

// Allow records a call and reports true if the window has room and nobody is waiting
func (s *SlidingWindow) Allow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) > 0 {
		return false
	}
	now := s.clock.Now()
	s.prune(now)
	if len(s.calls) >= s.limit {
		return false
	}
	s.calls = append(s.calls, now)
	return true
}

// Wait blocks until the call fits in the window, then records it. It returns the context
// error if ctx ends first; the call is then not recorded.
func (s *SlidingWindow) Wait(ctx context.Context) error {
	start := s.clock.Now()
	defer func() {
		metrics.RateLimitWaitTime.WithLabelValues(s.name).Observe(s.clock.Now().Sub(start).Seconds())
	}()

	ticket := make(chan struct{})
	s.mu.Lock()
	s.queue = append(s.queue, ticket)
	s.mu.Unlock()

	for {
		s.mu.Lock()
		if s.queue[0] != ticket {
			s.mu.Unlock()
			select {
			case <-ctx.Done():
				s.leave(ticket)
				return ctx.Err()
			case <-ticket:
			}
			continue
		}

		now := s.clock.Now()
		s.prune(now)
		if len(s.calls) < s.limit {
			s.calls = append(s.calls, now)
			s.leaveLocked(ticket)
			s.mu.Unlock()
			return nil
		}
		delay := s.calls[0].Add(s.window).Sub(now)
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			s.leave(ticket)
			return ctx.Err()
		case <-s.clock.After(delay):
		}
	}
}

func (s *SlidingWindow) leave(ticket chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leaveLocked(ticket)
}

// leaveLocked removes ticket from the queue and wakes the next waiter if the head changed
func (s *SlidingWindow) leaveLocked(ticket chan struct{}) {
	for i, t := range s.queue {
		if t != ticket {
			continue
		}
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		if i == 0 && len(s.queue) > 0 {
			close(s.queue[0])
		}
		return
	}
}

// Waiting returns the number of blocked callers
func (s *SlidingWindow) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// ticketQueue lets one caller at a time through, in arrival order
type ticketQueue struct {
	mu    sync.Mutex
	queue []chan struct{}
}

// enter blocks until the caller heads the queue. The returned ticket must be passed to leave.
func (q *ticketQueue) enter(ctx context.Context) (chan struct{}, error) {
	ticket := make(chan struct{})
	q.mu.Lock()
	q.queue = append(q.queue, ticket)
	head := q.queue[0] == ticket
	q.mu.Unlock()

	if head {
		return ticket, nil
	}
	select {
	case <-ctx.Done():
		q.leave(ticket)
		return nil, ctx.Err()
	case <-ticket:
		return ticket, nil
	}
}

func (q *ticketQueue) leave(ticket chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, t := range q.queue {
		if t != ticket {
			continue
		}
		q.queue = append(q.queue[:i], q.queue[i+1:]...)
		if i == 0 && len(q.queue) > 0 {
			close(q.queue[0])
		}
		return
	}
}

func (q *ticketQueue) waiting() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}
