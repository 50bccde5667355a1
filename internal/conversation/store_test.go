package conversation

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbchat/backend/internal/storage/models"
	"github.com/kbchat/backend/internal/storage/sqlite"
	"github.com/kbchat/backend/pkg/apperrors"
)

func newTestStore(t *testing.T) (*Store, *sqlite.Client) {
	t.Helper()
	client, err := sqlite.NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, client.InitSchema())
	t.Cleanup(func() { client.Close() })
	return NewStore(client), client
}

func TestCreateValidation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "", "alice")
	assert.True(t, apperrors.IsValidation(err))

	_, err = store.Create(ctx, "title", "")
	assert.True(t, apperrors.IsValidation(err))
}

func TestCreateAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "Billing questions", "alice")
	require.NoError(t, err)
	require.NotEmpty(t, conv.ID)

	got, err := store.Get(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Billing questions", got.Title)
	assert.Equal(t, "alice", got.Owner)
	assert.False(t, got.Archived)
}

func TestGetMissingIsNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Get(context.Background(), "nope")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestAddMessageValidation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	conv, err := store.Create(ctx, "t", "alice")
	require.NoError(t, err)

	_, err = store.AddMessage(ctx, conv.ID, "system", "hi", nil)
	assert.True(t, apperrors.IsValidation(err))

	_, err = store.AddMessage(ctx, conv.ID, models.RoleUser, "", nil)
	assert.True(t, apperrors.IsValidation(err))

	_, err = store.AddMessage(ctx, "nope", models.RoleUser, "hi", nil)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestContextBoundedByMaxTurns(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	conv, err := store.Create(ctx, "t", "alice")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = store.AddMessage(ctx, conv.ID, models.RoleUser, "question", nil)
		require.NoError(t, err)
		_, err = store.AddMessage(ctx, conv.ID, models.RoleAssistant, "answer", nil)
		require.NoError(t, err)
	}

	// max_turns=1 yields exactly the last user/assistant pair.
	turns, err := store.Context(ctx, conv.ID, 1)
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, models.RoleUser, turns[0].Role)
	assert.Equal(t, models.RoleAssistant, turns[1].Role)
}

func TestContextMissingConversation(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Context(context.Background(), "nope", 5)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestStartTurnAppendsAndReturnsPriorContext(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	conv, err := store.Create(ctx, "t", "alice")
	require.NoError(t, err)

	_, err = store.AddMessage(ctx, conv.ID, models.RoleUser, "first", nil)
	require.NoError(t, err)
	_, err = store.AddMessage(ctx, conv.ID, models.RoleAssistant, "first answer", nil)
	require.NoError(t, err)

	turns, err := store.StartTurn(ctx, conv.ID, "second", 5)
	require.NoError(t, err)

	// The context excludes the question just appended.
	require.Len(t, turns, 2)
	assert.Equal(t, "first", turns[0].Content)
	assert.Equal(t, "first answer", turns[1].Content)

	count, err := db.CountMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestStartTurnMissingConversation(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.StartTurn(context.Background(), "nope", "question", 5)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestHistoryPagination(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	conv, err := store.Create(ctx, "t", "alice")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err = store.AddMessage(ctx, conv.ID, models.RoleUser, "msg", nil)
		require.NoError(t, err)
	}

	_, messages, total, err := store.History(ctx, conv.ID, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, messages, 2)
}

func TestUpdateArchivesConversation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	conv, err := store.Create(ctx, "t", "alice")
	require.NoError(t, err)

	archived := true
	updated, err := store.Update(ctx, conv.ID, nil, &archived)
	require.NoError(t, err)
	assert.True(t, updated.Archived)
	assert.Equal(t, "t", updated.Title)

	empty := ""
	_, err = store.Update(ctx, conv.ID, &empty, nil)
	assert.True(t, apperrors.IsValidation(err))

	_, err = store.Update(ctx, "nope", nil, &archived)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestDeleteRemovesTranscript(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	conv, err := store.Create(ctx, "t", "alice")
	require.NoError(t, err)

	_, err = store.AddMessage(ctx, conv.ID, models.RoleAssistant, "answer", []string{"doc-1"})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, conv.ID))

	count, err := db.CountMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	err = store.Delete(ctx, conv.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCleanupExpiredValidation(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.CleanupExpired(context.Background(), -1)
	assert.True(t, apperrors.IsValidation(err))
}

func TestCleanupExpiredKeepsFreshConversations(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	conv, err := store.Create(ctx, "fresh", "alice")
	require.NoError(t, err)

	removed, err := store.CleanupExpired(ctx, 30)
	require.NoError(t, err)
	assert.Zero(t, removed)

	_, err = store.Get(ctx, conv.ID)
	require.NoError(t, err)
}
