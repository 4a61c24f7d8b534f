package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ramsey-B/thistle/pkg/models"
)

// SuppressionStore keeps suppression entries as JSON strings. Entries with an expiry are
// written with a matching TTL so Redis drops them on its own.
type SuppressionStore struct {
	client    *Client
	keyPrefix string
	now       func() time.Time
}

func NewSuppressionStore(client *Client, keyPrefix string) *SuppressionStore {
	if keyPrefix == "" {
		keyPrefix = "suppression:"
	}
	return &SuppressionStore{
		client:    client,
		keyPrefix: keyPrefix,
		now:       time.Now,
	}
}

func (s *SuppressionStore) Put(ctx context.Context, entry models.SuppressionEntry) error {
	var ttl time.Duration
	if entry.ExpiresAt != nil {
		ttl = entry.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return s.client.Del(ctx, s.keyPrefix+entry.Key)
		}
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode suppression entry %s: %w", entry.Key, err)
	}
	return s.client.Set(ctx, s.keyPrefix+entry.Key, payload, ttl)
}

// Lookup returns the stored entries for the given keys, skipping keys that are not suppressed
func (s *SuppressionStore) Lookup(ctx context.Context, keys ...string) ([]models.SuppressionEntry, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.keyPrefix + k
	}

	values, err := s.client.MGet(ctx, prefixed...)
	if err != nil {
		return nil, err
	}

	entries := make([]models.SuppressionEntry, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var entry models.SuppressionEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			s.client.logger.WithContext(ctx).WithError(err).Warnf("Skipping unreadable suppression entry %s", keys[i])
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *SuppressionStore) Remove(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.keyPrefix+key)
}
