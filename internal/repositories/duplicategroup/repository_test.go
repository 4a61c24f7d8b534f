package duplicategroup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/thistle/internal/repositories/repotest"
	"github.com/Ramsey-B/thistle/pkg/models"
)

func TestCreateAndListByCanonical(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(repotest.NewDB(t), repotest.Logger())

	first := &models.DuplicateGroup{
		CanonicalID: "r2",
		MemberIDs:   []string{"r1", "r2", "r3"},
		MergeCount:  1,
		CreatedAt:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	second := &models.DuplicateGroup{
		CanonicalID: "r2",
		MemberIDs:   []string{"r2", "r4"},
		CreatedAt:   time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	}
	other := &models.DuplicateGroup{CanonicalID: "r9", MemberIDs: []string{"r9", "r8"}}

	for _, g := range []*models.DuplicateGroup{second, first, other} {
		require.NoError(t, repo.Create(ctx, g))
		assert.NotEmpty(t, g.ID)
	}

	groups, err := repo.ListByCanonical(ctx, "r2")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, first.ID, groups[0].ID)
	assert.Equal(t, []string{"r1", "r2", "r3"}, groups[0].MemberIDs)
	assert.Equal(t, 1, groups[0].MergeCount)
	assert.Equal(t, second.ID, groups[1].ID)

	groups, err = repo.ListByCanonical(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, groups)
}
