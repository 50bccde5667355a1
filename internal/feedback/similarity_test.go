package feedback

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJaccard(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want float64
	}{
		{"identical", "how do refunds work", "how do refunds work", 1.0},
		{"reordered tokens", "什么 是 人工智能", "人工智能 是 什么", 1.0},
		{"case insensitive", "How Do Refunds Work", "how do refunds work", 1.0},
		{"disjoint", "alpha beta", "gamma delta", 0.0},
		{"partial overlap", "a b c", "b c d", 0.5},
		{"repeated tokens collapse", "go go go", "go", 1.0},
		{"both empty", "", "", 0.0},
		{"one empty", "a b", "", 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Jaccard(tt.a, tt.b), 1e-9)
		})
	}
}

func TestJaccardSymmetric(t *testing.T) {
	a := "how do I reset my password"
	b := "reset password how"
	assert.Equal(t, Jaccard(a, b), Jaccard(b, a))
}

func TestFindSimilarFiltersAndSorts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	correct(t, store, "how do refunds work", "refunds take 30 days")
	correct(t, store, "how do refunds work exactly", "refunds take 30 days")
	correct(t, store, "unrelated question entirely", "something else")

	matches, err := store.FindSimilar(ctx, "how do refunds work", 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	// Exact match first, superset second.
	assert.Equal(t, "how do refunds work", matches[0].Question)
	assert.InDelta(t, 1.0, matches[0].Similarity, 1e-9)
	assert.Equal(t, "how do refunds work exactly", matches[1].Question)
	assert.InDelta(t, 0.8, matches[1].Similarity, 1e-9)
	assert.Equal(t, "refunds take 30 days", matches[0].ImprovedAnswer)
}

func TestFindSimilarThresholdExcludes(t *testing.T) {
	store := newTestStore(t)

	correct(t, store, "alpha beta gamma", "answer")

	matches, err := store.FindSimilar(context.Background(), "alpha delta epsilon", 0.5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestFindSimilarEmptyStore(t *testing.T) {
	store := newTestStore(t)

	matches, err := store.FindSimilar(context.Background(), "anything", 0.1)
	require.NoError(t, err)
	assert.Empty(t, matches)
}
