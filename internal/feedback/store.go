package feedback

import (
	"context"
	"crypto/md5"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kbchat/backend/internal/storage/models"
	"github.com/kbchat/backend/internal/storage/sqlite"
	"github.com/kbchat/backend/pkg/apperrors"
	"github.com/kbchat/backend/pkg/logger"
)

// Store is the feedback-augmented answer layer: an append-only event log
// plus a derived per-question cache of accepted corrections.
//
// Negative feedback is recorded for the audit trail but never lowers an
// existing correction's confidence or removes it; once accepted, a
// correction is sticky until a newer correction replaces its text.
type Store struct {
	db *sqlite.Client
}

func NewStore(db *sqlite.Client) *Store {
	return &Store{db: db}
}

// Fingerprint digests the literal question text. No trimming, case folding
// or whitespace collapsing: questions differing only in punctuation or case
// are distinct cache keys, though the similarity matcher may still surface
// them as related.
func Fingerprint(question string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(question)))
}

type RecordRequest struct {
	Question        string
	OriginalAnswer  string
	Kind            string
	CorrectedAnswer string
	Note            string
	SourceRefs      []string
}

// Record appends a feedback event and, for corrections, upserts the
// improved-answer cache in the same transaction. Returns the store-assigned
// event id.
func (s *Store) Record(ctx context.Context, req RecordRequest) (int64, error) {
	if req.Question == "" {
		return 0, apperrors.Validation("question is required")
	}

	switch req.Kind {
	case models.FeedbackPositive, models.FeedbackNegative, models.FeedbackCorrected:
	default:
		return 0, apperrors.Validation("unrecognized feedback kind: %q", req.Kind)
	}

	if req.Kind == models.FeedbackCorrected && req.CorrectedAnswer == "" {
		return 0, apperrors.Validation("corrected feedback requires a corrected answer")
	}

	now := time.Now()
	fingerprint := Fingerprint(req.Question)

	event := &models.FeedbackEvent{
		Question:            req.Question,
		QuestionFingerprint: fingerprint,
		OriginalAnswer:      req.OriginalAnswer,
		Kind:                req.Kind,
		CorrectedAnswer:     req.CorrectedAnswer,
		Note:                req.Note,
		SourceRefs:          req.SourceRefs,
		CreatedAt:           now,
	}

	var eventID int64
	var err error
	if req.Kind == models.FeedbackCorrected {
		eventID, err = s.db.InsertCorrectionEvent(ctx, event)
	} else {
		eventID, err = s.db.InsertFeedbackEvent(ctx, event)
	}
	if err != nil {
		return 0, apperrors.Storage("record feedback", err)
	}

	logger.Info("Feedback recorded",
		zap.Int64("event_id", eventID),
		zap.String("kind", req.Kind),
		zap.String("fingerprint", fingerprint),
	)

	return eventID, nil
}

// GetImprovedAnswer returns the cached correction for the exact question, or
// nil when none has been recorded.
func (s *Store) GetImprovedAnswer(ctx context.Context, question string) (*models.ImprovedAnswer, error) {
	improved, err := s.db.GetImprovedAnswer(ctx, Fingerprint(question))
	if err != nil {
		return nil, apperrors.Storage("get improved answer", err)
	}
	return improved, nil
}

// Metadata describes how a resolved answer was chosen.
type Metadata struct {
	IsImproved         bool
	Confidence         float64
	CorroborationCount int
	UpdatedAt          time.Time
}

// Resolve returns the cached correction when its confidence meets the
// threshold, and the original answer otherwise. The threshold is a per-call
// parameter so concurrent requests cannot observe it changing mid-flight.
func (s *Store) Resolve(ctx context.Context, question, originalAnswer string, confidenceThreshold float64) (string, Metadata, error) {
	improved, err := s.GetImprovedAnswer(ctx, question)
	if err != nil {
		return "", Metadata{}, err
	}

	if improved != nil && improved.Confidence >= confidenceThreshold {
		logger.Debug("Serving improved answer",
			zap.String("fingerprint", improved.QuestionFingerprint),
			zap.Float64("confidence", improved.Confidence),
		)
		return improved.Answer, Metadata{
			IsImproved:         true,
			Confidence:         improved.Confidence,
			CorroborationCount: improved.CorroborationCount,
			UpdatedAt:          improved.UpdatedAt,
		}, nil
	}

	return originalAnswer, Metadata{}, nil
}

// History returns every feedback event for the exact question, newest first.
func (s *Store) History(ctx context.Context, question string) ([]models.FeedbackEvent, error) {
	events, err := s.db.GetFeedbackEvents(ctx, Fingerprint(question))
	if err != nil {
		return nil, apperrors.Storage("feedback history", err)
	}
	return events, nil
}

func (s *Store) Stats(ctx context.Context) (*models.FeedbackStats, error) {
	stats, err := s.db.GetFeedbackStats(ctx)
	if err != nil {
		return nil, apperrors.Storage("feedback stats", err)
	}
	return stats, nil
}
