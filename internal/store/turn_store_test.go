package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurnStoreAppendAndList(t *testing.T) {
	d := openTestDB(t)
	sessions := NewSessionStore(d)
	turns := NewTurnStore(d)
	ctx := context.Background()

	id := uuid.NewString()
	_, err := sessions.Create(ctx, id)
	require.NoError(t, err)

	_, err = turns.Append(ctx, id, "user", "where was the chair?")
	require.NoError(t, err)
	turn, err := turns.Append(ctx, id, "assistant", "Right ahead of you.")
	require.NoError(t, err)
	assert.Equal(t, "assistant", turn.Role)

	list, err := turns.ListBySessionID(ctx, id)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "user", list[0].Role)
	assert.Equal(t, "where was the chair?", list[0].Content)
	assert.Equal(t, "assistant", list[1].Role)
}
