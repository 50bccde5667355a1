package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbchat/backend/internal/storage/models"
)

func insertEvent(t *testing.T, client *Client, kind string) int64 {
	t.Helper()
	id, err := client.InsertFeedbackEvent(context.Background(), &models.FeedbackEvent{
		Question:            "what is the refund policy",
		QuestionFingerprint: "fp-refund",
		OriginalAnswer:      "30 days",
		Kind:                kind,
		CreatedAt:           time.Now(),
	})
	require.NoError(t, err)
	return id
}

func TestInsertFeedbackEventAssignsMonotonicIDs(t *testing.T) {
	client := openTestDB(t)

	first := insertEvent(t, client, models.FeedbackPositive)
	second := insertEvent(t, client, models.FeedbackNegative)
	third := insertEvent(t, client, models.FeedbackCorrected)

	assert.Greater(t, second, first)
	assert.Greater(t, third, second)
}

func TestUpsertImprovedAnswerConfidenceSequence(t *testing.T) {
	client := openTestDB(t)
	ctx := context.Background()
	now := time.Now()

	// 0.5 on first correction, +0.2 per corroboration, capped at 1.0.
	expected := []float64{0.5, 0.7, 0.9, 1.0, 1.0}
	for i, want := range expected {
		err := client.UpsertImprovedAnswer(ctx, "fp-1", "q", "answer v"+string(rune('a'+i)), now)
		require.NoError(t, err)

		improved, err := client.GetImprovedAnswer(ctx, "fp-1")
		require.NoError(t, err)
		require.NotNil(t, improved)
		assert.InDelta(t, want, improved.Confidence, 1e-9)
		assert.Equal(t, i+1, improved.CorroborationCount)

		// The stored value must not sit a rounding error below the
		// decision boundary, or a >= threshold check misses the flip.
		if i >= 2 {
			assert.GreaterOrEqual(t, improved.Confidence, 0.9)
		}
	}
}

func TestInsertCorrectionEventAtomic(t *testing.T) {
	client := openTestDB(t)
	ctx := context.Background()

	id, err := client.InsertCorrectionEvent(ctx, &models.FeedbackEvent{
		Question:            "what is the refund policy",
		QuestionFingerprint: "fp-refund",
		OriginalAnswer:      "30 days",
		Kind:                models.FeedbackCorrected,
		CorrectedAnswer:     "60 days",
		CreatedAt:           time.Now(),
	})
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	improved, err := client.GetImprovedAnswer(ctx, "fp-refund")
	require.NoError(t, err)
	require.NotNil(t, improved)
	assert.Equal(t, "60 days", improved.Answer)

	// When the upsert fails, the event append rolls back with it.
	_, err = client.db.ExecContext(ctx, "DROP TABLE improved_answers")
	require.NoError(t, err)

	_, err = client.InsertCorrectionEvent(ctx, &models.FeedbackEvent{
		Question:            "how are exchanges handled",
		QuestionFingerprint: "fp-exchange",
		OriginalAnswer:      "in store",
		Kind:                models.FeedbackCorrected,
		CorrectedAnswer:     "by mail",
		CreatedAt:           time.Now(),
	})
	require.Error(t, err)

	events, err := client.GetFeedbackEvents(ctx, "fp-exchange")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestUpsertImprovedAnswerReplacesAnswerText(t *testing.T) {
	client := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, client.UpsertImprovedAnswer(ctx, "fp-2", "q", "old answer", time.Now()))
	require.NoError(t, client.UpsertImprovedAnswer(ctx, "fp-2", "q", "new answer", time.Now()))

	improved, err := client.GetImprovedAnswer(ctx, "fp-2")
	require.NoError(t, err)
	assert.Equal(t, "new answer", improved.Answer)
}

func TestGetImprovedAnswerMissing(t *testing.T) {
	client := openTestDB(t)

	improved, err := client.GetImprovedAnswer(context.Background(), "no-such-fp")
	require.NoError(t, err)
	assert.Nil(t, improved)
}

func TestGetFeedbackEventsNewestFirst(t *testing.T) {
	client := openTestDB(t)
	ctx := context.Background()

	// Same created_at second; the id must break the tie.
	now := time.Now()
	for _, kind := range []string{models.FeedbackPositive, models.FeedbackNegative, models.FeedbackCorrected} {
		_, err := client.InsertFeedbackEvent(ctx, &models.FeedbackEvent{
			Question:            "q",
			QuestionFingerprint: "fp-order",
			OriginalAnswer:      "a",
			Kind:                kind,
			CreatedAt:           now,
		})
		require.NoError(t, err)
	}

	events, err := client.GetFeedbackEvents(ctx, "fp-order")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, models.FeedbackCorrected, events[0].Kind)
	assert.Equal(t, models.FeedbackNegative, events[1].Kind)
	assert.Equal(t, models.FeedbackPositive, events[2].Kind)
}

func TestGetFeedbackEventsRoundTripsSourceRefs(t *testing.T) {
	client := openTestDB(t)
	ctx := context.Background()

	_, err := client.InsertFeedbackEvent(ctx, &models.FeedbackEvent{
		Question:            "q",
		QuestionFingerprint: "fp-refs",
		OriginalAnswer:      "a",
		Kind:                models.FeedbackCorrected,
		CorrectedAnswer:     "better",
		SourceRefs:          []string{"doc-1", "doc-2"},
		CreatedAt:           time.Now(),
	})
	require.NoError(t, err)

	events, err := client.GetFeedbackEvents(ctx, "fp-refs")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"doc-1", "doc-2"}, events[0].SourceRefs)
	assert.Equal(t, "better", events[0].CorrectedAnswer)
}

func TestGetFeedbackStats(t *testing.T) {
	client := openTestDB(t)
	ctx := context.Background()

	insertEvent(t, client, models.FeedbackPositive)
	insertEvent(t, client, models.FeedbackPositive)
	insertEvent(t, client, models.FeedbackPositive)
	insertEvent(t, client, models.FeedbackNegative)
	require.NoError(t, client.UpsertImprovedAnswer(ctx, "fp-refund", "q", "a", time.Now()))

	stats, err := client.GetFeedbackStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 3, stats.Positive)
	assert.Equal(t, 1, stats.Negative)
	assert.Equal(t, 0, stats.Corrected)
	assert.Equal(t, 1, stats.ImprovedAnswers)
	assert.InDelta(t, 0.75, stats.PositiveRate, 1e-9)
}

func TestGetFeedbackStatsEmpty(t *testing.T) {
	client := openTestDB(t)

	stats, err := client.GetFeedbackStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
	assert.Zero(t, stats.PositiveRate)
}
