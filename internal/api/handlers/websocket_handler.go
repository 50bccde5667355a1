package handlers

import (
	"context"
	"strings"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/kbchat/backend/internal/chat"
	"github.com/kbchat/backend/pkg/logger"
)

type WebSocketHandler struct {
	service *chat.Service
}

func NewWebSocketHandler(service *chat.Service) *WebSocketHandler {
	return &WebSocketHandler{
		service: service,
	}
}

// HandleConnection serves chat over a websocket. Each "chat" message is
// resolved like the HTTP endpoint, then streamed back word by word
// followed by a "complete" frame carrying sources and feedback metadata.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type           string `json:"type"`
			Question       string `json:"question"`
			ConversationID string `json:"conversation_id"`
			UseFeedback    *bool  `json:"use_feedback"`
		}

		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		if msg.Type != "chat" {
			continue
		}

		useFeedback := true
		if msg.UseFeedback != nil {
			useFeedback = *msg.UseFeedback
		}

		err := h.streamTurn(c, chat.Request{
			Question:       msg.Question,
			UseFeedback:    useFeedback,
			ConversationID: msg.ConversationID,
		})
		if err != nil {
			logger.Error("Failed to stream chat turn", zap.Error(err))
			h.sendError(c, "Failed to resolve answer")
		}
	}
}

func (h *WebSocketHandler) streamTurn(c *websocket.Conn, req chat.Request) error {
	h.sendFrame(c, map[string]interface{}{
		"type":    "status",
		"content": "Resolving answer...",
	})

	response, err := h.service.Chat(context.Background(), req)
	if err != nil {
		return err
	}

	words := strings.Fields(response.FinalAnswer)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 {
			chunk += " "
		}

		if err := h.sendFrame(c, map[string]interface{}{
			"type":    "chunk",
			"content": chunk,
		}); err != nil {
			return err
		}
	}

	complete := map[string]interface{}{
		"type":    "complete",
		"sources": response.SourceDocuments,
	}
	if response.Feedback != nil {
		complete["feedback"] = response.Feedback
	}
	if response.Conversation != nil {
		complete["conversation_id"] = response.Conversation.ID
		complete["message_id"] = response.Conversation.MessageID
	}

	return h.sendFrame(c, complete)
}

func (h *WebSocketHandler) sendFrame(c *websocket.Conn, frame map[string]interface{}) error {
	return c.WriteJSON(frame)
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, message string) {
	if err := c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": message,
	}); err != nil {
		logger.Error("Failed to send WebSocket error", zap.Error(err))
	}
}
