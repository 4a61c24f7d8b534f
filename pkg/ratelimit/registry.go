package ratelimit

import (
	"sync"
	"time"
)

// Factory builds the limiter for one credential
type Factory func(credential string) Limiter

// LocalFactory returns in-process sliding windows of limit calls per window
func LocalFactory(limit int, window time.Duration, opts ...Option) Factory {
	return func(credential string) Limiter {
		return NewSlidingWindow(credential, limit, window, opts...)
	}
}

// Registry hands out one limiter per external credential
type Registry struct {
	factory Factory

	mu       sync.Mutex
	limiters map[string]Limiter
}

func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory:  factory,
		limiters: make(map[string]Limiter),
	}
}

// For returns the limiter of credential, creating it on first use
func (r *Registry) For(credential string) Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[credential]; ok {
		return l
	}
	l := r.factory(credential)
	r.limiters[credential] = l
	return l
}
