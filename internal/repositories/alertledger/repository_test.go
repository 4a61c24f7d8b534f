package alertledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/thistle/internal/repositories/repotest"
)

func TestMarkIfAbsent(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(repotest.NewDB(t), repotest.Logger())

	fresh, err := repo.MarkIfAbsent(ctx, "p1", "r1", 87.5)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = repo.MarkIfAbsent(ctx, "p1", "r1", 90)
	require.NoError(t, err)
	assert.False(t, fresh)

	fresh, err = repo.MarkIfAbsent(ctx, "p2", "r1", 40)
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestUnmarkAllowsRedelivery(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(repotest.NewDB(t), repotest.Logger())

	_, err := repo.MarkIfAbsent(ctx, "p1", "r1", 50)
	require.NoError(t, err)
	require.NoError(t, repo.Unmark(ctx, "p1", "r1"))

	fresh, err := repo.MarkIfAbsent(ctx, "p1", "r1", 50)
	require.NoError(t, err)
	assert.True(t, fresh)
}
