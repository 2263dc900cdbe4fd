package v1

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// clientIP resolves the visitor address, preferring the first entry of
// X-Forwarded-For when a proxy fronts the service.
func clientIP(c *fiber.Ctx) string {
	if forwarded := c.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	return c.IP()
}

// userAgent resolves the visitor user agent, honoring the forwarded header
// set by edge relays.
func userAgent(c *fiber.Ctx) string {
	if forwarded := c.Get("X-Forwarded-User-Agent"); forwarded != "" {
		return forwarded
	}
	return c.Get("User-Agent")
}
