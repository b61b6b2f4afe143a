package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "assessgate/pkg/platform/audit"
)

func TestInMemoryStore_ListRecentNewestFirst(t *testing.T) {
	store := NewInMemoryStore(3)
	ctx := context.Background()

	for _, id := range []string{"e1", "e2", "e3", "e4"} {
		require.NoError(t, store.Append(ctx, audit.Event{ID: id}))
	}

	events, err := store.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "e4", events[0].ID)
	assert.Equal(t, "e2", events[2].ID)

	events, err = store.ListRecent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "e4", events[0].ID)
	assert.Equal(t, 3, store.Len())
}
