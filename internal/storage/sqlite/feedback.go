package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kbchat/backend/internal/storage/models"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// InsertFeedbackEvent appends one event to the log and returns its
// store-assigned id. Events are append-only; nothing here updates or deletes.
func (c *Client) InsertFeedbackEvent(ctx context.Context, event *models.FeedbackEvent) (int64, error) {
	return insertFeedbackEventTx(ctx, c.db, event)
}

// InsertCorrectionEvent appends a corrected event and applies the
// improved-answer upsert in one transaction, so a failed upsert cannot
// leave a committed event behind without its cache update.
func (c *Client) InsertCorrectionEvent(ctx context.Context, event *models.FeedbackEvent) (int64, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := insertFeedbackEventTx(ctx, tx, event)
	if err != nil {
		return 0, err
	}

	err = upsertImprovedAnswerTx(ctx, tx, event.QuestionFingerprint, event.Question, event.CorrectedAnswer, event.CreatedAt)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit correction: %w", err)
	}
	return id, nil
}

func insertFeedbackEventTx(ctx context.Context, ex execer, event *models.FeedbackEvent) (int64, error) {
	sourceRefs, err := json.Marshal(event.SourceRefs)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal source refs: %w", err)
	}

	result, err := ex.ExecContext(ctx, `
		INSERT INTO feedback_events (
			question, question_fingerprint, original_answer, kind,
			corrected_answer, note, source_refs, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.Question,
		event.QuestionFingerprint,
		event.OriginalAnswer,
		event.Kind,
		event.CorrectedAnswer,
		event.Note,
		string(sourceRefs),
		event.CreatedAt.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert feedback event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read event id: %w", err)
	}

	return id, nil
}

// UpsertImprovedAnswer applies the confidence accumulation rule in a single
// statement, so concurrent corrections on one fingerprint cannot drop an
// increment. A new row starts at confidence 0.5; each corroboration adds 0.2
// capped at 1.0, and the answer text is always replaced with the newest
// correction. The confidence is derived from the prior corroboration count
// rather than accumulated, because repeated IEEE additions of 0.2 drift
// below the 0.9 decision boundary on the third correction; the derived form
// 0.5 + 0.2*n reproduces the literal sequence 0.5, 0.7, 0.9, 1.0 exactly.
// In the DO UPDATE clause, corroboration_count refers to the row's value
// before the increment.
func (c *Client) UpsertImprovedAnswer(ctx context.Context, fingerprint, question, answer string, now time.Time) error {
	return upsertImprovedAnswerTx(ctx, c.db, fingerprint, question, answer, now)
}

func upsertImprovedAnswerTx(ctx context.Context, ex execer, fingerprint, question, answer string, now time.Time) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO improved_answers (
			question_fingerprint, question, answer, confidence, corroboration_count, updated_at
		) VALUES (?, ?, ?, 0.5, 1, ?)
		ON CONFLICT(question_fingerprint) DO UPDATE SET
			answer = excluded.answer,
			confidence = MIN(1.0, 0.5 + 0.2 * corroboration_count),
			corroboration_count = corroboration_count + 1,
			updated_at = excluded.updated_at`,
		fingerprint, question, answer, now.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert improved answer: %w", err)
	}

	return nil
}

func (c *Client) GetImprovedAnswer(ctx context.Context, fingerprint string) (*models.ImprovedAnswer, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT question_fingerprint, answer, confidence, corroboration_count, updated_at
		FROM improved_answers WHERE question_fingerprint = ?`,
		fingerprint,
	)

	var improved models.ImprovedAnswer
	var updatedAt int64

	err := row.Scan(
		&improved.QuestionFingerprint,
		&improved.Answer,
		&improved.Confidence,
		&improved.CorroborationCount,
		&updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get improved answer: %w", err)
	}

	improved.UpdatedAt = time.Unix(updatedAt, 0)
	return &improved, nil
}

// ListImprovedAnswers returns every derived row with its question text, used
// by the similarity matcher to scan previously corrected questions.
func (c *Client) ListImprovedAnswers(ctx context.Context) ([]models.ImprovedAnswer, []string, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT question_fingerprint, question, answer, confidence, corroboration_count, updated_at
		FROM improved_answers`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list improved answers: %w", err)
	}
	defer rows.Close()

	var improved []models.ImprovedAnswer
	var questions []string
	for rows.Next() {
		var row models.ImprovedAnswer
		var question string
		var updatedAt int64

		err := rows.Scan(
			&row.QuestionFingerprint,
			&question,
			&row.Answer,
			&row.Confidence,
			&row.CorroborationCount,
			&updatedAt,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row.UpdatedAt = time.Unix(updatedAt, 0)
		improved = append(improved, row)
		questions = append(questions, question)
	}

	return improved, questions, rows.Err()
}

// GetFeedbackEvents returns the event log for a fingerprint, newest first.
func (c *Client) GetFeedbackEvents(ctx context.Context, fingerprint string) ([]models.FeedbackEvent, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, question, question_fingerprint, original_answer, kind,
			COALESCE(corrected_answer, ''), COALESCE(note, ''), COALESCE(source_refs, '[]'), created_at
		FROM feedback_events
		WHERE question_fingerprint = ?
		ORDER BY created_at DESC, id DESC`,
		fingerprint,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get feedback events: %w", err)
	}
	defer rows.Close()

	var events []models.FeedbackEvent
	for rows.Next() {
		var event models.FeedbackEvent
		var sourceRefs string
		var createdAt int64

		err := rows.Scan(
			&event.ID,
			&event.Question,
			&event.QuestionFingerprint,
			&event.OriginalAnswer,
			&event.Kind,
			&event.CorrectedAnswer,
			&event.Note,
			&sourceRefs,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if err := json.Unmarshal([]byte(sourceRefs), &event.SourceRefs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal source refs: %w", err)
		}
		event.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, event)
	}

	return events, rows.Err()
}

func (c *Client) GetFeedbackStats(ctx context.Context) (*models.FeedbackStats, error) {
	stats := &models.FeedbackStats{}

	row := c.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			SUM(CASE WHEN kind = 'positive' THEN 1 ELSE 0 END),
			SUM(CASE WHEN kind = 'negative' THEN 1 ELSE 0 END),
			SUM(CASE WHEN kind = 'corrected' THEN 1 ELSE 0 END)
		FROM feedback_events`)

	var positive, negative, corrected sql.NullInt64
	if err := row.Scan(&stats.Total, &positive, &negative, &corrected); err != nil {
		return nil, fmt.Errorf("failed to get feedback stats: %w", err)
	}
	stats.Positive = int(positive.Int64)
	stats.Negative = int(negative.Int64)
	stats.Corrected = int(corrected.Int64)

	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM improved_answers`).Scan(&stats.ImprovedAnswers); err != nil {
		return nil, fmt.Errorf("failed to count improved answers: %w", err)
	}

	if stats.Total > 0 {
		stats.PositiveRate = float64(stats.Positive) / float64(stats.Total)
	}

	return stats, nil
}
