package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kbchat/backend/internal/chat"
)

type ChatHandler struct {
	service *chat.Service
}

func NewChatHandler(service *chat.Service) *ChatHandler {
	return &ChatHandler{
		service: service,
	}
}

type chatRequest struct {
	Question        string `json:"question"`
	UseFeedback     *bool  `json:"use_feedback"`
	ConversationID  string `json:"conversation_id"`
	MaxHistoryTurns int    `json:"max_history_turns"`
}

// HandleChat resolves one chat turn. Feedback resolution is on unless the
// request explicitly disables it.
func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	var req chatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	useFeedback := true
	if req.UseFeedback != nil {
		useFeedback = *req.UseFeedback
	}

	response, err := h.service.Chat(c.Context(), chat.Request{
		Question:        req.Question,
		UseFeedback:     useFeedback,
		ConversationID:  req.ConversationID,
		MaxHistoryTurns: req.MaxHistoryTurns,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    response,
	})
}

// HandleConversationChat resolves a turn inside the conversation named in
// the path. Equivalent to HandleChat with conversation_id set; the path
// form exists so clients can keep the conversation out of the body.
func (h *ChatHandler) HandleConversationChat(c *fiber.Ctx) error {
	var req chatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	useFeedback := true
	if req.UseFeedback != nil {
		useFeedback = *req.UseFeedback
	}

	response, err := h.service.Chat(c.Context(), chat.Request{
		Question:        req.Question,
		UseFeedback:     useFeedback,
		ConversationID:  c.Params("id"),
		MaxHistoryTurns: req.MaxHistoryTurns,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    response,
	})
}

type searchRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

// HandleSearch returns the top-k fragments for a query without generating
// an answer.
func (h *ChatHandler) HandleSearch(c *fiber.Ctx) error {
	var req searchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	documents, err := h.service.SearchDocuments(c.Context(), req.Query, req.K)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"query":     req.Query,
			"documents": documents,
		},
	})
}
