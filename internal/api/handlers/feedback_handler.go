package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kbchat/backend/internal/chat"
	"github.com/kbchat/backend/internal/feedback"
)

type FeedbackHandler struct {
	service *chat.Service
}

func NewFeedbackHandler(service *chat.Service) *FeedbackHandler {
	return &FeedbackHandler{
		service: service,
	}
}

type feedbackRequest struct {
	Question        string   `json:"question"`
	OriginalAnswer  string   `json:"original_answer"`
	Kind            string   `json:"kind"`
	CorrectedAnswer string   `json:"corrected_answer"`
	Note            string   `json:"note"`
	SourceRefs      []string `json:"source_refs"`
}

// HandleSubmit records a feedback event against a question/answer pair.
func (h *FeedbackHandler) HandleSubmit(c *fiber.Ctx) error {
	var req feedbackRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	eventID, err := h.service.SubmitFeedback(c.Context(), feedback.RecordRequest{
		Question:        req.Question,
		OriginalAnswer:  req.OriginalAnswer,
		Kind:            req.Kind,
		CorrectedAnswer: req.CorrectedAnswer,
		Note:            req.Note,
		SourceRefs:      req.SourceRefs,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":  true,
		"event_id": eventID,
	})
}

// HandleHistory lists feedback events for an exact question, newest first.
func (h *FeedbackHandler) HandleHistory(c *fiber.Ctx) error {
	question := c.Query("question")
	if question == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "question is required",
		})
	}

	events, err := h.service.FeedbackHistory(c.Context(), question)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"question": question,
			"events":   events,
		},
	})
}

func (h *FeedbackHandler) HandleStats(c *fiber.Ctx) error {
	stats, err := h.service.Stats(c.Context())
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    stats,
	})
}
