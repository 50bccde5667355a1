package engine

import (
	"context"
	"crypto/md5"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kbchat/backend/internal/cache/redis"
	"github.com/kbchat/backend/internal/llm"
	"github.com/kbchat/backend/internal/metrics"
	"github.com/kbchat/backend/internal/vector/milvus"
	"github.com/kbchat/backend/pkg/apperrors"
	"github.com/kbchat/backend/pkg/logger"
)

// RAG implements Engine over an embedding model, a Milvus fragment index
// and a chat model: embed the question, fetch the nearest fragments, then
// generate an answer grounded in them.
type RAG struct {
	llmClient *llm.Client
	vectorDB  *milvus.Client
	cache     *redis.Client
	topK      int
}

func NewRAG(llmClient *llm.Client, vectorDB *milvus.Client, cache *redis.Client, topK int) *RAG {
	if topK <= 0 {
		topK = 4
	}
	return &RAG{
		llmClient: llmClient,
		vectorDB:  vectorDB,
		cache:     cache,
		topK:      topK,
	}
}

func (r *RAG) Ask(ctx context.Context, question, dialogueContext string) (*Answer, error) {
	fragments, err := r.retrieve(ctx, question, r.topK)
	if err != nil {
		return nil, err
	}

	answer, err := r.llmClient.GenerateAnswer(ctx, question, formatFragments(fragments), dialogueContext)
	if err != nil {
		return nil, apperrors.Upstream("generate answer", err)
	}

	logger.Info("Engine answered question",
		zap.String("question", question),
		zap.Int("fragments", len(fragments)),
	)

	return &Answer{Text: answer, Sources: fragments}, nil
}

func (r *RAG) Search(ctx context.Context, query string, k int) ([]SourceDocument, error) {
	if k <= 0 {
		k = r.topK
	}
	return r.retrieve(ctx, query, k)
}

func (r *RAG) retrieve(ctx context.Context, query string, k int) ([]SourceDocument, error) {
	embedding, err := r.embed(ctx, query)
	if err != nil {
		return nil, apperrors.Upstream("embed query", err)
	}

	results, err := r.vectorDB.Search(ctx, embedding, k)
	if err != nil {
		return nil, apperrors.Upstream("vector search", err)
	}
	metrics.VectorResultsCount.Observe(float64(len(results)))

	fragments := make([]SourceDocument, 0, len(results))
	for _, result := range results {
		fragments = append(fragments, SourceDocument{
			Content:   result.Content,
			SourceRef: result.SourceRef,
			Score:     float64(result.Score),
			Metadata: map[string]string{
				"fragment_id": result.FragmentID,
			},
		})
	}

	return fragments, nil
}

func (r *RAG) embed(ctx context.Context, text string) ([]float32, error) {
	textHash := fmt.Sprintf("%x", md5.Sum([]byte(text)))

	if r.cache != nil {
		cached, hit, err := r.cache.GetEmbedding(ctx, textHash)
		if err != nil {
			logger.Warn("Embedding cache read failed", zap.Error(err))
		}
		if hit {
			metrics.CacheHits.WithLabelValues("embedding").Inc()
			return cached, nil
		}
		metrics.CacheMisses.WithLabelValues("embedding").Inc()
	}

	embedding, err := r.llmClient.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.SetEmbedding(ctx, textHash, embedding, 24*time.Hour); err != nil {
			logger.Warn("Embedding cache write failed", zap.Error(err))
		}
	}

	return embedding, nil
}

func formatFragments(fragments []SourceDocument) string {
	if len(fragments) == 0 {
		return "No relevant fragments found."
	}

	var builder strings.Builder
	for i, fragment := range fragments {
		builder.WriteString(fmt.Sprintf("[%s] %s\n\n", fragment.SourceRef, fragment.Content))
		if i >= 9 {
			break
		}
	}
	return builder.String()
}
