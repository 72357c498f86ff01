package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var injectionPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|union\s+select|drop\s+table)`)

type Config struct {
	MaxNameLength int
	Logger        *zap.Logger
}

// Middleware rejects malformed resolution and disambiguation requests
// before they reach the engine: a missing name is a configuration
// error surfaced immediately, never a network call.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxNameLength == 0 {
		cfg.MaxNameLength = 300
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}

		path := c.Path()
		switch {
		case strings.HasSuffix(path, "/resolve"):
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return badRequest(c, "Invalid JSON format")
			}
			name, ok := req["name"].(string)
			if !ok || strings.TrimSpace(name) == "" {
				return badRequest(c, "Entity name is required")
			}
			if len(name) > cfg.MaxNameLength {
				return badRequest(c, "Entity name exceeds maximum length")
			}
			if injectionPattern.MatchString(name) {
				cfg.Logger.Warn("Suspicious resolution request rejected",
					zap.String("ip", c.IP()),
				)
				return badRequest(c, "Invalid entity name")
			}

		case strings.HasSuffix(path, "/disambiguation"):
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return badRequest(c, "Invalid JSON format")
			}
			given, _ := req["given_name"].(string)
			surname, _ := req["surname"].(string)
			if strings.TrimSpace(given) == "" || strings.TrimSpace(surname) == "" {
				return badRequest(c, "Both given_name and surname are required")
			}
		}

		return c.Next()
	}
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": msg,
	})
}
