package validation

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kbchat/backend/pkg/logger"
)

type Config struct {
	MaxQuestionLength int
	MaxAnswerLength   int
}

// Middleware enforces content-type and size limits on the JSON bodies of
// the chat, feedback and search routes before they reach the handlers.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQuestionLength == 0 {
		cfg.MaxQuestionLength = 5000
	}
	if cfg.MaxAnswerLength == 0 {
		cfg.MaxAnswerLength = 50000
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost && c.Method() != fiber.MethodPatch {
			return c.Next()
		}

		contentType := c.Get("Content-Type")
		if contentType != "" && !strings.Contains(contentType, "application/json") {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"success": false,
				"error":   "Unsupported content type",
			})
		}

		path := c.Path()

		var failure string
		switch {
		case strings.HasSuffix(path, "/chat"):
			failure = checkBody(c, requiredField("question", cfg.MaxQuestionLength))
		case strings.HasSuffix(path, "/search"):
			failure = checkBody(c, requiredField("query", cfg.MaxQuestionLength))
		case strings.HasSuffix(path, "/feedback"):
			failure = checkBody(c,
				requiredField("question", cfg.MaxQuestionLength),
				optionalField("corrected_answer", cfg.MaxAnswerLength),
			)
		}

		if failure != "" {
			logger.Warn("Request body rejected",
				zap.String("ip", c.IP()),
				zap.String("path", path),
				zap.String("reason", failure),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"success": false,
				"error":   failure,
			})
		}

		return c.Next()
	}
}

type fieldCheck func(body map[string]interface{}) string

// checkBody parses the JSON body once and runs the checks; returns the
// first failure message, or "" when the body passes.
func checkBody(c *fiber.Ctx, checks ...fieldCheck) string {
	var body map[string]interface{}
	if err := c.BodyParser(&body); err != nil {
		return "Invalid JSON format"
	}

	for _, check := range checks {
		if msg := check(body); msg != "" {
			return msg
		}
	}
	return ""
}

func requiredField(field string, maxLen int) fieldCheck {
	return func(body map[string]interface{}) string {
		value, ok := body[field].(string)
		if !ok || strings.TrimSpace(value) == "" {
			return field + " is required and must be a string"
		}
		if len(value) > maxLen {
			return field + " exceeds maximum length"
		}
		return ""
	}
}

func optionalField(field string, maxLen int) fieldCheck {
	return func(body map[string]interface{}) string {
		value, ok := body[field].(string)
		if ok && len(value) > maxLen {
			return field + " exceeds maximum length"
		}
		return ""
	}
}
