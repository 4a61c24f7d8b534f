// Package suppression answers whether a contact may be approached. A contact is suppressed when
// any of its normalized keys (email, domain, company) is on the list.
package suppression

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/thistle/pkg/metrics"
	"github.com/Ramsey-B/thistle/pkg/models"
	"github.com/Ramsey-B/thistle/pkg/normalizers"
	"github.com/Ramsey-B/thistle/pkg/tracing"
)

const (
	EmailPrefix   = "email:"
	DomainPrefix  = "domain:"
	CompanyPrefix = "company:"
)

// ErrEmptyKey is returned when an entry to suppress has no usable key
var ErrEmptyKey = errors.New("suppression key is empty")

// Store persists suppression entries by key
type Store interface {
	Put(ctx context.Context, entry models.SuppressionEntry) error
	Lookup(ctx context.Context, keys ...string) ([]models.SuppressionEntry, error)
	Remove(ctx context.Context, key string) error
}

// Result is the outcome of a suppression check
type Result struct {
	Suppressed bool   `json:"suppressed"`
	Reason     string `json:"reason,omitempty"`
	Key        string `json:"key,omitempty"`
}

type Service struct {
	store  Store
	logger ectologger.Logger
	now    func() time.Time
}

func NewService(store Store, logger ectologger.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

// keyKinds maps each key prefix to the normalizer of its value, most specific first
var keyKinds = []struct {
	prefix     string
	normalizer string
}{
	{EmailPrefix, normalizers.Email},
	{DomainPrefix, normalizers.Domain},
	{CompanyPrefix, normalizers.Company},
}

// Keys returns the normalized lookup keys of a contact, most specific first. The domain comes
// from the explicit domain, else from the email address.
func Keys(contact models.Contact) []string {
	domain := contact.Domain
	if normalizers.Apply(domain, normalizers.Domain) == "" {
		domain = normalizers.EmailDomain(contact.Email)
	}
	raw := map[string]string{
		EmailPrefix:   contact.Email,
		DomainPrefix:  domain,
		CompanyPrefix: contact.Company,
	}

	var keys []string
	for _, kind := range keyKinds {
		if value := normalizers.Apply(raw[kind.prefix], kind.normalizer); value != "" {
			keys = append(keys, kind.prefix+value)
		}
	}
	return keys
}

// Check reports whether any key of the contact is actively suppressed. The most specific
// matching key is reported.
func (s *Service) Check(ctx context.Context, contact models.Contact) (Result, error) {
	ctx, span := tracing.StartSpan(ctx, "suppression.Service.Check")
	defer span.End()

	keys := Keys(contact)
	if len(keys) == 0 {
		metrics.SuppressionChecks.WithLabelValues("no_keys").Inc()
		return Result{}, nil
	}

	entries, err := s.store.Lookup(ctx, keys...)
	if err != nil {
		metrics.SuppressionChecks.WithLabelValues("error").Inc()
		s.logger.WithContext(ctx).WithError(err).Error("Failed to look up suppression entries")
		return Result{}, fmt.Errorf("failed to check suppression list: %w", err)
	}

	now := s.now()
	active := make(map[string]models.SuppressionEntry, len(entries))
	for _, e := range entries {
		if e.Active(now) {
			active[e.Key] = e
		}
	}
	for _, key := range keys {
		if e, ok := active[key]; ok {
			metrics.SuppressionChecks.WithLabelValues("suppressed").Inc()
			return Result{Suppressed: true, Reason: e.Reason, Key: key}, nil
		}
	}

	metrics.SuppressionChecks.WithLabelValues("clear").Inc()
	return Result{}, nil
}

// Suppress adds an entry. Keys without a known prefix are treated as email addresses.
func (s *Service) Suppress(ctx context.Context, entry models.SuppressionEntry) error {
	ctx, span := tracing.StartSpan(ctx, "suppression.Service.Suppress")
	defer span.End()

	key, err := NormalizeKey(entry.Key)
	if err != nil {
		return err
	}
	entry.Key = key

	if err := s.store.Put(ctx, entry); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("key", key).Error("Failed to store suppression entry")
		return fmt.Errorf("failed to suppress %s: %w", key, err)
	}
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"key":    key,
		"reason": entry.Reason,
	}).Info("Suppressed contact key")
	return nil
}

// Unsuppress removes an entry
func (s *Service) Unsuppress(ctx context.Context, key string) error {
	key, err := NormalizeKey(key)
	if err != nil {
		return err
	}
	return s.store.Remove(ctx, key)
}

// NormalizeKey canonicalizes a prefixed suppression key
func NormalizeKey(key string) (string, error) {
	kind := keyKinds[0]
	rest := key
	for _, k := range keyKinds {
		if r, ok := strings.CutPrefix(key, k.prefix); ok {
			kind, rest = k, r
			break
		}
	}

	value := normalizers.Apply(rest, kind.normalizer)
	if value == "" {
		return "", ErrEmptyKey
	}
	return kind.prefix + value, nil
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]models.SuppressionEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]models.SuppressionEntry)}
}

func (m *MemoryStore) Put(_ context.Context, entry models.SuppressionEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.Key] = entry
	return nil
}

func (m *MemoryStore) Lookup(_ context.Context, keys ...string) ([]models.SuppressionEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.SuppressionEntry
	for _, k := range keys {
		if e, ok := m.entries[k]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}
