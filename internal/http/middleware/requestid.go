package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"pdfstore/internal/logging"
)

const (
	// RequestIDHeader is the standard header name used to propagate request IDs.
	RequestIDHeader = "X-Request-ID"
	// RequestIDLocalKey is the key used to store the request ID in Fiber's context locals.
	RequestIDLocalKey = "request_id"

	maxRequestIDLen = 128
)

// RequestID ensures every request carries an id that ends up in the error
// envelope, the access log and the service's logs and spans.
//
// Behavior:
// - Reuses X-Request-ID from the request when it is a short printable token.
// - Otherwise generates a new UUID.
// - Stores the value in Fiber context locals under RequestIDLocalKey and in
//   the user context, where logging.RequestIDFromContext finds it.
// - Echoes the value in the X-Request-ID response header.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(RequestIDHeader)
		if !validRequestID(id) {
			id = uuid.NewString()
		}

		c.Locals(RequestIDLocalKey, id)
		c.SetUserContext(logging.WithRequestID(c.UserContext(), id))
		c.Set(RequestIDHeader, id)

		return c.Next()
	}
}

// validRequestID accepts visible ASCII only, so a client id cannot break a
// JSON log line or a response header.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}
	return true
}
