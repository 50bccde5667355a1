package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kbchat/backend/internal/conversation"
)

type ConversationHandler struct {
	store *conversation.Store
}

func NewConversationHandler(store *conversation.Store) *ConversationHandler {
	return &ConversationHandler{
		store: store,
	}
}

type createConversationRequest struct {
	Title string `json:"title"`
	Owner string `json:"owner"`
}

func (h *ConversationHandler) HandleCreate(c *fiber.Ctx) error {
	var req createConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	conv, err := h.store.Create(c.Context(), req.Title, req.Owner)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    conv,
	})
}

func (h *ConversationHandler) HandleList(c *fiber.Ctx) error {
	owner := c.Query("owner")
	includeArchived := c.QueryBool("include_archived", false)
	limit := c.QueryInt("limit", 20)
	offset := c.QueryInt("offset", 0)

	conversations, total, err := h.store.List(c.Context(), owner, includeArchived, limit, offset)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"conversations": conversations,
			"total":         total,
			"limit":         limit,
			"offset":        offset,
		},
	})
}

// HandleHistory returns a conversation with a page of its transcript in
// chronological order.
func (h *ConversationHandler) HandleHistory(c *fiber.Ctx) error {
	id := c.Params("id")
	limit := c.QueryInt("limit", 50)
	offset := c.QueryInt("offset", 0)

	conv, messages, total, err := h.store.History(c.Context(), id, limit, offset)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"conversation": conv,
			"messages":     messages,
			"total":        total,
			"limit":        limit,
			"offset":       offset,
		},
	})
}

type updateConversationRequest struct {
	Title    *string `json:"title"`
	Archived *bool   `json:"archived"`
}

func (h *ConversationHandler) HandleUpdate(c *fiber.Ctx) error {
	id := c.Params("id")

	var req updateConversationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success": false,
			"error":   "Invalid request body",
		})
	}

	conv, err := h.store.Update(c.Context(), id, req.Title, req.Archived)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    conv,
	})
}

// HandleDelete removes a conversation and, through the schema's cascade,
// its messages and their source refs.
func (h *ConversationHandler) HandleDelete(c *fiber.Ctx) error {
	id := c.Params("id")

	if err := h.store.Delete(c.Context(), id); err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
	})
}
