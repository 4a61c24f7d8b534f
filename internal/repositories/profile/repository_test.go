package profile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/thistle/internal/repositories/repotest"
	"github.com/Ramsey-B/thistle/pkg/models"
)

func ptr[T any](v T) *T { return &v }

func TestSaveGetList(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(repotest.NewDB(t), repotest.Logger())

	p := &models.Profile{
		SubscriberID: "sub-1",
		Name:         "Road works DE",
		Keywords:     []string{"road", "bridge"},
		Categories:   []string{"45233141"},
		Countries:    []string{"DE"},
		MinValue:     ptr(50000.0),
		MaxValue:     ptr(500000.0),
		RecencyDays:  14,
		Weights:      models.RankingWeights{ValueFit: 0.5, CategoryFit: 0.5},
	}
	require.NoError(t, repo.Save(ctx, p))
	require.NotEmpty(t, p.ID)

	got, found, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, p.Keywords, got.Keywords)
	assert.Equal(t, p.Countries, got.Countries)
	assert.Equal(t, 500000.0, *got.MaxValue)
	assert.Equal(t, 14, got.RecencyDays)
	assert.Equal(t, p.Weights, got.Weights)

	p.Name = "Road works DE and PL"
	p.Countries = []string{"DE", "PL"}
	require.NoError(t, repo.Save(ctx, p))

	other := &models.Profile{SubscriberID: "sub-2", Name: "Everything"}
	require.NoError(t, repo.Save(ctx, other))

	mine, err := repo.List(ctx, "sub-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "Road works DE and PL", mine[0].Name)
	assert.Equal(t, []string{"DE", "PL"}, mine[0].Countries)

	all, err := repo.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSaveRejectsMisconfiguredProfile(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(repotest.NewDB(t), repotest.Logger())

	p := &models.Profile{SubscriberID: "sub-1", Name: "Broken", MinValue: ptr(10.0), MaxValue: ptr(1.0)}
	err := repo.Save(ctx, p)
	require.ErrorIs(t, err, models.ErrProfileMisconfigured)

	all, err := repo.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(repotest.NewDB(t), repotest.Logger())

	p := &models.Profile{SubscriberID: "sub-1", Name: "Temp"}
	require.NoError(t, repo.Save(ctx, p))

	deleted, err := repo.Delete(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.Delete(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	_, found, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, found)
}
