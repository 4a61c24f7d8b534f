package suppression

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/thistle/pkg/models"
)

func newTestService(store Store) *Service {
	return NewService(store, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
}

func TestKeys(t *testing.T) {
	tests := []struct {
		name    string
		contact models.Contact
		want    []string
	}{
		{"empty", models.Contact{}, nil},
		{
			name:    "email implies domain",
			contact: models.Contact{Email: " Jane.Doe@Example.COM "},
			want:    []string{"email:jane.doe@example.com", "domain:example.com"},
		},
		{
			name:    "explicit domain and company",
			contact: models.Contact{Email: "x@mail.de", Domain: "https://www.acme.de/about", Company: "ACME Software GmbH"},
			want:    []string{"email:x@mail.de", "domain:acme.de", "company:acme software"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Keys(tt.contact))
		})
	}
}

func TestCheck(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(NewMemoryStore())

	require.NoError(t, svc.Suppress(ctx, models.SuppressionEntry{Key: "domain:WWW.Acme.de", Reason: "opted out"}))
	require.NoError(t, svc.Suppress(ctx, models.SuppressionEntry{Key: "Boss@Other.pl", Reason: "complaint"}))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, svc.Suppress(ctx, models.SuppressionEntry{Key: "company:Globex Sp. z o.o.", Reason: "expired", ExpiresAt: &past}))

	tests := []struct {
		name    string
		contact models.Contact
		want    Result
	}{
		{"domain match via email", models.Contact{Email: "sales@acme.de"}, Result{Suppressed: true, Reason: "opted out", Key: "domain:acme.de"}},
		{"email match", models.Contact{Email: "boss@other.pl"}, Result{Suppressed: true, Reason: "complaint", Key: "email:boss@other.pl"}},
		{"expired entry does not suppress", models.Contact{Company: "Globex"}, Result{}},
		{"unknown contact", models.Contact{Email: "new@lead.io", Company: "Lead"}, Result{}},
		{"no keys", models.Contact{}, Result{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.Check(ctx, tt.contact)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	require.NoError(t, svc.Unsuppress(ctx, "email:boss@other.pl"))
	got, err := svc.Check(ctx, models.Contact{Email: "boss@other.pl"})
	require.NoError(t, err)
	assert.False(t, got.Suppressed)
}

func TestSuppressRejectsEmptyKeys(t *testing.T) {
	svc := newTestService(NewMemoryStore())
	assert.ErrorIs(t, svc.Suppress(context.Background(), models.SuppressionEntry{Key: "domain:  "}), ErrEmptyKey)
	assert.ErrorIs(t, svc.Suppress(context.Background(), models.SuppressionEntry{Key: ""}), ErrEmptyKey)
}

type failingStore struct{ MemoryStore }

func (*failingStore) Lookup(context.Context, ...string) ([]models.SuppressionEntry, error) {
	return nil, errors.New("store down")
}

func TestCheckSurfacesStoreErrors(t *testing.T) {
	svc := newTestService(&failingStore{})
	_, err := svc.Check(context.Background(), models.Contact{Email: "a@b.de"})
	assert.ErrorContains(t, err, "store down")
}
