package conversation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kbchat/backend/internal/storage/models"
	"github.com/kbchat/backend/internal/storage/sqlite"
	"github.com/kbchat/backend/pkg/apperrors"
	"github.com/kbchat/backend/pkg/logger"
)

// Store manages conversations and their transcripts. Messages live and die
// with their conversation; there is no independent message lifecycle.
type Store struct {
	db *sqlite.Client
}

func NewStore(db *sqlite.Client) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, title, owner string) (*models.Conversation, error) {
	if title == "" {
		return nil, apperrors.Validation("title is required")
	}
	if owner == "" {
		return nil, apperrors.Validation("owner is required")
	}

	now := time.Now()
	conv := &models.Conversation{
		ID:        uuid.New().String(),
		Title:     title,
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.db.InsertConversation(ctx, conv); err != nil {
		return nil, apperrors.Storage("create conversation", err)
	}

	logger.Info("Conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("owner", owner),
	)

	return conv, nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Conversation, error) {
	conv, err := s.db.GetConversation(ctx, id)
	if err != nil {
		return nil, apperrors.Storage("get conversation", err)
	}
	if conv == nil {
		return nil, apperrors.NotFound("conversation", id)
	}
	return conv, nil
}

// AddMessage appends a message to the transcript and touches the parent's
// updated_at, atomically.
func (s *Store) AddMessage(ctx context.Context, conversationID, role, content string, sourceRefs []string) (*models.Message, error) {
	if role != models.RoleUser && role != models.RoleAssistant {
		return nil, apperrors.Validation("unrecognized role: %q", role)
	}
	if content == "" {
		return nil, apperrors.Validation("content is required")
	}

	msg := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		SourceRefs:     sourceRefs,
		CreatedAt:      time.Now(),
	}

	ok, err := s.db.InsertMessage(ctx, msg)
	if err != nil {
		return nil, apperrors.Storage("add message", err)
	}
	if !ok {
		return nil, apperrors.NotFound("conversation", conversationID)
	}

	return msg, nil
}

// Turn is one round of dialogue context: the role/content pairs to replay
// before the new question.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Context returns at most maxTurns user/assistant pairs, most recent first
// in selection but chronological in the returned order.
func (s *Store) Context(ctx context.Context, conversationID string, maxTurns int) ([]Turn, error) {
	if _, err := s.Get(ctx, conversationID); err != nil {
		return nil, err
	}

	messages, err := s.db.GetRecentMessages(ctx, conversationID, maxTurns)
	if err != nil {
		return nil, apperrors.Storage("conversation context", err)
	}

	return toTurns(messages), nil
}

// StartTurn atomically reads the dialogue context and appends the question
// as a user message; used by the chat orchestrator so concurrent turns on
// one conversation keep causal order.
func (s *Store) StartTurn(ctx context.Context, conversationID, question string, maxTurns int) ([]Turn, error) {
	msg := &models.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           models.RoleUser,
		Content:        question,
		CreatedAt:      time.Now(),
	}

	recent, ok, err := s.db.StartTurn(ctx, msg, maxTurns)
	if err != nil {
		return nil, apperrors.Storage("start turn", err)
	}
	if !ok {
		return nil, apperrors.NotFound("conversation", conversationID)
	}

	return toTurns(recent), nil
}

func toTurns(messages []models.Message) []Turn {
	turns := make([]Turn, 0, len(messages))
	for _, msg := range messages {
		turns = append(turns, Turn{Role: msg.Role, Content: msg.Content})
	}
	return turns
}

// History returns the conversation plus a chronological page of its
// messages and the total message count.
func (s *Store) History(ctx context.Context, conversationID string, limit, offset int) (*models.Conversation, []models.Message, int, error) {
	conv, err := s.Get(ctx, conversationID)
	if err != nil {
		return nil, nil, 0, err
	}

	messages, total, err := s.db.GetMessages(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, nil, 0, apperrors.Storage("conversation history", err)
	}

	return conv, messages, total, nil
}

func (s *Store) List(ctx context.Context, owner string, includeArchived bool, limit, offset int) ([]models.Conversation, int, error) {
	if owner == "" {
		return nil, 0, apperrors.Validation("owner is required")
	}

	conversations, total, err := s.db.ListConversations(ctx, owner, includeArchived, limit, offset)
	if err != nil {
		return nil, 0, apperrors.Storage("list conversations", err)
	}
	return conversations, total, nil
}

func (s *Store) Update(ctx context.Context, id string, title *string, archived *bool) (*models.Conversation, error) {
	if title != nil && *title == "" {
		return nil, apperrors.Validation("title cannot be empty")
	}

	conv, err := s.db.UpdateConversation(ctx, id, title, archived, time.Now())
	if err != nil {
		return nil, apperrors.Storage("update conversation", err)
	}
	if conv == nil {
		return nil, apperrors.NotFound("conversation", id)
	}
	return conv, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	deleted, err := s.db.DeleteConversation(ctx, id)
	if err != nil {
		return apperrors.Storage("delete conversation", err)
	}
	if !deleted {
		return apperrors.NotFound("conversation", id)
	}

	logger.Info("Conversation deleted", zap.String("conversation_id", id))
	return nil
}

// CleanupExpired deletes conversations idle for longer than ttlDays.
// Conversations touched at exactly the cutoff are kept (strictly-older-than
// rule), and since the delete re-checks updated_at, a conversation that
// received a message after the cutoff was computed is never removed.
func (s *Store) CleanupExpired(ctx context.Context, ttlDays int) (int, error) {
	if ttlDays < 0 {
		return 0, apperrors.Validation("ttl days must be non-negative, got %d", ttlDays)
	}

	cutoff := time.Now().AddDate(0, 0, -ttlDays)
	deleted, err := s.db.DeleteConversationsBefore(ctx, cutoff)
	if err != nil {
		return 0, apperrors.Storage("cleanup expired conversations", err)
	}

	if deleted > 0 {
		logger.Info("Expired conversations cleaned up",
			zap.Int("deleted", deleted),
			zap.Int("ttl_days", ttlDays),
		)
	}

	return deleted, nil
}
