package chat

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kbchat/backend/internal/cache/redis"
	"github.com/kbchat/backend/internal/conversation"
	"github.com/kbchat/backend/internal/engine"
	"github.com/kbchat/backend/internal/feedback"
	"github.com/kbchat/backend/internal/metrics"
	"github.com/kbchat/backend/internal/storage/models"
	"github.com/kbchat/backend/pkg/apperrors"
	"github.com/kbchat/backend/pkg/logger"
)

// Service resolves answers for single-shot and conversation-scoped chat
// turns. It is stateless across requests: all state lives in the stores,
// and thresholds are fixed at construction and threaded through each call.
type Service struct {
	engine        engine.Engine
	feedback      *feedback.Store
	conversations *conversation.Store
	cache         *redis.Client

	confidenceThreshold float64
	similarityThreshold float64
	maxHistoryTurns     int
	answerTTL           time.Duration
}

type Options struct {
	ConfidenceThreshold float64
	SimilarityThreshold float64
	MaxHistoryTurns     int
	AnswerTTL           time.Duration
}

// maxSimilarQuestions caps how many paraphrase suggestions a response
// carries.
const maxSimilarQuestions = 3

func NewService(eng engine.Engine, fb *feedback.Store, conv *conversation.Store, cache *redis.Client, opts Options) *Service {
	if opts.MaxHistoryTurns <= 0 {
		opts.MaxHistoryTurns = 10
	}
	return &Service{
		engine:              eng,
		feedback:            fb,
		conversations:       conv,
		cache:               cache,
		confidenceThreshold: opts.ConfidenceThreshold,
		similarityThreshold: opts.SimilarityThreshold,
		maxHistoryTurns:     opts.MaxHistoryTurns,
		answerTTL:           opts.AnswerTTL,
	}
}

// FeedbackMetadata reports how feedback shaped the final answer, plus
// corrections on similar questions surfaced as suggestions.
type FeedbackMetadata struct {
	IsImproved         bool                       `json:"is_improved"`
	Confidence         float64                    `json:"confidence"`
	CorroborationCount int                        `json:"corroboration_count"`
	UpdatedAt          *time.Time                 `json:"updated_at,omitempty"`
	SimilarQuestions   []feedback.SimilarQuestion `json:"similar_questions"`
}

// Response is the composite result of one resolved turn. Conversation is
// nil for single-shot chat.
type Response struct {
	Question        string                  `json:"question"`
	OriginalAnswer  string                  `json:"original_answer"`
	FinalAnswer     string                  `json:"final_answer"`
	SourceDocuments []engine.SourceDocument `json:"source_documents"`
	Feedback        *FeedbackMetadata       `json:"feedback,omitempty"`
	Conversation    *ConversationRef        `json:"conversation,omitempty"`
}

type ConversationRef struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
}

type Request struct {
	Question        string
	UseFeedback     bool
	ConversationID  string
	MaxHistoryTurns int
}

// Chat resolves one turn. When ConversationID is set, the turn is recorded
// into the conversation transcript; an engine or storage failure aborts the
// turn and no assistant message is written.
func (s *Service) Chat(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	resp, err := s.chat(ctx, req)

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ChatDuration.WithLabelValues(chatKind(req)).Observe(time.Since(start).Seconds())
	metrics.ChatTotal.WithLabelValues(status).Inc()

	return resp, err
}

func chatKind(req Request) string {
	if req.ConversationID != "" {
		return "conversation"
	}
	return "single"
}

func (s *Service) chat(ctx context.Context, req Request) (*Response, error) {
	if req.Question == "" {
		return nil, apperrors.Validation("question is required")
	}

	if req.ConversationID != "" {
		return s.chatConversation(ctx, req)
	}

	if req.UseFeedback && s.cache != nil {
		var cached Response
		hit, err := s.cache.GetAnswer(ctx, feedback.Fingerprint(req.Question), &cached)
		if err != nil {
			logger.Warn("Answer cache read failed", zap.Error(err))
		}
		if hit {
			metrics.CacheHits.WithLabelValues("answer").Inc()
			return &cached, nil
		}
		metrics.CacheMisses.WithLabelValues("answer").Inc()
	}

	answer, err := s.engine.Ask(ctx, req.Question, "")
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Question:        req.Question,
		OriginalAnswer:  answer.Text,
		FinalAnswer:     answer.Text,
		SourceDocuments: answer.Sources,
	}

	if req.UseFeedback {
		if err := s.applyFeedback(ctx, resp); err != nil {
			return nil, err
		}

		if err := s.cache.SetAnswer(ctx, feedback.Fingerprint(req.Question), resp, s.answerTTL); err != nil {
			logger.Warn("Answer cache write failed", zap.Error(err))
		}
	}

	return resp, nil
}

func (s *Service) chatConversation(ctx context.Context, req Request) (*Response, error) {
	maxTurns := req.MaxHistoryTurns
	if maxTurns <= 0 {
		maxTurns = s.maxHistoryTurns
	}

	// Single transaction: read context, append the question as a user
	// message.
	turns, err := s.conversations.StartTurn(ctx, req.ConversationID, req.Question, maxTurns)
	if err != nil {
		return nil, err
	}

	answer, err := s.engine.Ask(ctx, req.Question, formatDialogue(turns))
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Question:        req.Question,
		OriginalAnswer:  answer.Text,
		FinalAnswer:     answer.Text,
		SourceDocuments: answer.Sources,
	}

	if req.UseFeedback {
		if err := s.applyFeedback(ctx, resp); err != nil {
			return nil, err
		}
	}

	sourceRefs := make([]string, 0, len(resp.SourceDocuments))
	for _, doc := range resp.SourceDocuments {
		sourceRefs = append(sourceRefs, doc.SourceRef)
	}

	assistantMsg, err := s.conversations.AddMessage(ctx, req.ConversationID, models.RoleAssistant, resp.FinalAnswer, sourceRefs)
	if err != nil {
		return nil, err
	}

	resp.Conversation = &ConversationRef{
		ID:        req.ConversationID,
		MessageID: assistantMsg.ID,
	}

	return resp, nil
}

// applyFeedback swaps in a confidently corrected answer and attaches
// corrections for similar questions as suggestions.
func (s *Service) applyFeedback(ctx context.Context, resp *Response) error {
	finalAnswer, meta, err := s.feedback.Resolve(ctx, resp.Question, resp.OriginalAnswer, s.confidenceThreshold)
	if err != nil {
		return err
	}

	resp.FinalAnswer = finalAnswer
	resp.Feedback = &FeedbackMetadata{
		IsImproved:         meta.IsImproved,
		Confidence:         meta.Confidence,
		CorroborationCount: meta.CorroborationCount,
		SimilarQuestions:   []feedback.SimilarQuestion{},
	}
	if meta.IsImproved {
		updatedAt := meta.UpdatedAt
		resp.Feedback.UpdatedAt = &updatedAt
		metrics.ImprovedAnswerServed.Inc()
		metrics.AnswerConfidence.Observe(meta.Confidence)
	}

	similar, err := s.feedback.FindSimilar(ctx, resp.Question, s.similarityThreshold)
	if err != nil {
		return err
	}
	if len(similar) > maxSimilarQuestions {
		similar = similar[:maxSimilarQuestions]
	}
	resp.Feedback.SimilarQuestions = similar
	metrics.SimilarMatches.Observe(float64(len(similar)))

	return nil
}

func formatDialogue(turns []conversation.Turn) string {
	if len(turns) == 0 {
		return ""
	}

	var builder strings.Builder
	for _, turn := range turns {
		builder.WriteString(turn.Role)
		builder.WriteString(": ")
		builder.WriteString(turn.Content)
		builder.WriteString("\n")
	}
	return builder.String()
}

// SubmitFeedback records a feedback event. A correction invalidates the
// cached answer for that question so the next chat re-resolves.
func (s *Service) SubmitFeedback(ctx context.Context, req feedback.RecordRequest) (int64, error) {
	eventID, err := s.feedback.Record(ctx, req)
	if err != nil {
		return 0, err
	}

	metrics.FeedbackTotal.WithLabelValues(req.Kind).Inc()

	if req.Kind == models.FeedbackCorrected {
		if err := s.cache.InvalidateAnswer(ctx, feedback.Fingerprint(req.Question)); err != nil {
			logger.Warn("Answer cache invalidation failed", zap.Error(err))
		}
	}

	return eventID, nil
}

func (s *Service) FeedbackHistory(ctx context.Context, question string) ([]models.FeedbackEvent, error) {
	return s.feedback.History(ctx, question)
}

func (s *Service) Stats(ctx context.Context) (*models.FeedbackStats, error) {
	return s.feedback.Stats(ctx)
}

// SearchDocuments runs a ranked fragment search through the engine.
func (s *Service) SearchDocuments(ctx context.Context, query string, k int) ([]engine.SourceDocument, error) {
	if query == "" {
		return nil, apperrors.Validation("query is required")
	}
	return s.engine.Search(ctx, query, k)
}
