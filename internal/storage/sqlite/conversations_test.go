package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbchat/backend/internal/storage/models"
)

func insertTestConversation(t *testing.T, client *Client, id string) *models.Conversation {
	t.Helper()
	now := time.Now()
	conv := &models.Conversation{
		ID:        id,
		Title:     "Test conversation",
		Owner:     "alice",
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, client.InsertConversation(context.Background(), conv))
	return conv
}

func insertTestMessage(t *testing.T, client *Client, convID, msgID, role, content string) {
	t.Helper()
	ok, err := client.InsertMessage(context.Background(), &models.Message{
		ID:             msgID,
		ConversationID: convID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now(),
	})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestGetConversationMissing(t *testing.T) {
	client := openTestDB(t)

	conv, err := client.GetConversation(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, conv)
}

func TestInsertMessageUnknownConversation(t *testing.T) {
	client := openTestDB(t)

	ok, err := client.InsertMessage(context.Background(), &models.Message{
		ID:             "m1",
		ConversationID: "nope",
		Role:           models.RoleUser,
		Content:        "hello",
		CreatedAt:      time.Now(),
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMessageOrderSurvivesSameSecond(t *testing.T) {
	client := openTestDB(t)
	ctx := context.Background()
	insertTestConversation(t, client, "c1")

	// All inserts land within the same second; seq must keep the order.
	now := time.Now()
	for i := 0; i < 6; i++ {
		ok, err := client.InsertMessage(ctx, &models.Message{
			ID:             fmt.Sprintf("m%d", i),
			ConversationID: "c1",
			Role:           models.RoleUser,
			Content:        fmt.Sprintf("message %d", i),
			CreatedAt:      now,
		})
		require.NoError(t, err)
		require.True(t, ok)
	}

	messages, total, err := client.GetMessages(ctx, "c1", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	require.Len(t, messages, 6)
	for i, msg := range messages {
		assert.Equal(t, fmt.Sprintf("message %d", i), msg.Content)
	}
}

func TestStartTurnReturnsBoundedChronologicalContext(t *testing.T) {
	client := openTestDB(t)
	ctx := context.Background()
	insertTestConversation(t, client, "c1")

	insertTestMessage(t, client, "c1", "m1", models.RoleUser, "first question")
	insertTestMessage(t, client, "c1", "m2", models.RoleAssistant, "first answer")
	insertTestMessage(t, client, "c1", "m3", models.RoleUser, "second question")
	insertTestMessage(t, client, "c1", "m4", models.RoleAssistant, "second answer")

	// max_turns=1 keeps only the last user/assistant pair.
	recent, ok, err := client.StartTurn(ctx, &models.Message{
		ID:             "m5",
		ConversationID: "c1",
		Role:           models.RoleUser,
		Content:        "third question",
		CreatedAt:      time.Now(),
	}, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, recent, 2)
	assert.Equal(t, "second question", recent[0].Content)
	assert.Equal(t, "second answer", recent[1].Content)

	// The user message itself was appended.
	count, err := client.CountMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestStartTurnUnknownConversation(t *testing.T) {
	client := openTestDB(t)

	_, ok, err := client.StartTurn(context.Background(), &models.Message{
		ID:             "m1",
		ConversationID: "nope",
		Role:           models.RoleUser,
		Content:        "hello",
		CreatedAt:      time.Now(),
	}, 5)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteConversationCascades(t *testing.T) {
	client := openTestDB(t)
	ctx := context.Background()
	insertTestConversation(t, client, "c1")

	ok, err := client.InsertMessage(ctx, &models.Message{
		ID:             "m1",
		ConversationID: "c1",
		Role:           models.RoleAssistant,
		Content:        "answer",
		SourceRefs:     []string{"doc-1"},
		CreatedAt:      time.Now(),
	})
	require.NoError(t, err)
	require.True(t, ok)

	deleted, err := client.DeleteConversation(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, deleted)

	count, err := client.CountMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDeleteConversationMissing(t *testing.T) {
	client := openTestDB(t)

	deleted, err := client.DeleteConversation(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestDeleteConversationsBeforeKeepsCutoffBoundary(t *testing.T) {
	client := openTestDB(t)
	ctx := context.Background()
	cutoff := time.Now().Truncate(time.Second)

	stale := &models.Conversation{
		ID: "old", Title: "old", Owner: "alice",
		CreatedAt: cutoff.Add(-time.Hour), UpdatedAt: cutoff.Add(-time.Hour),
	}
	boundary := &models.Conversation{
		ID: "boundary", Title: "boundary", Owner: "alice",
		CreatedAt: cutoff, UpdatedAt: cutoff,
	}
	fresh := &models.Conversation{
		ID: "fresh", Title: "fresh", Owner: "alice",
		CreatedAt: cutoff.Add(time.Hour), UpdatedAt: cutoff.Add(time.Hour),
	}
	for _, conv := range []*models.Conversation{stale, boundary, fresh} {
		require.NoError(t, client.InsertConversation(ctx, conv))
	}

	removed, err := client.DeleteConversationsBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// A conversation touched exactly at the cutoff survives.
	conv, err := client.GetConversation(ctx, "boundary")
	require.NoError(t, err)
	assert.NotNil(t, conv)

	conv, err = client.GetConversation(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, conv)
}

func TestListConversationsFiltersArchived(t *testing.T) {
	client := openTestDB(t)
	ctx := context.Background()

	insertTestConversation(t, client, "active")
	archived := insertTestConversation(t, client, "archived")
	archivedFlag := true
	_, err := client.UpdateConversation(ctx, archived.ID, nil, &archivedFlag, time.Now())
	require.NoError(t, err)

	conversations, total, err := client.ListConversations(ctx, "alice", false, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, conversations, 1)
	assert.Equal(t, "active", conversations[0].ID)

	_, total, err = client.ListConversations(ctx, "alice", true, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestUpdateConversation(t *testing.T) {
	client := openTestDB(t)
	ctx := context.Background()
	insertTestConversation(t, client, "c1")

	title := "Renamed"
	conv, err := client.UpdateConversation(ctx, "c1", &title, nil, time.Now())
	require.NoError(t, err)
	require.NotNil(t, conv)
	assert.Equal(t, "Renamed", conv.Title)
	assert.False(t, conv.Archived)

	missing, err := client.UpdateConversation(ctx, "nope", &title, nil, time.Now())
	require.NoError(t, err)
	assert.Nil(t, missing)
}
