package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// JWTMiddleware validates bearer tokens and stores session_id in locals.
// Websocket clients cannot set headers, so the access_token query
// parameter is accepted as well.
func JWTMiddleware(secret string) fiber.Handler {
	secretBytes := []byte(secret)
	return func(c *fiber.Ctx) error {
		token := tokenFromRequest(c)
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing bearer token")
		}

		claims, err := parseToken(secretBytes, token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}

		c.Locals("session_id", claims.SessionID)
		return c.Next()
	}
}

// OptionalJWT sets session_id when a valid token is present and never rejects.
func OptionalJWT(secret string) fiber.Handler {
	secretBytes := []byte(secret)
	return func(c *fiber.Ctx) error {
		if token := tokenFromRequest(c); token != "" {
			if claims, err := parseToken(secretBytes, token); err == nil {
				c.Locals("session_id", claims.SessionID)
			}
		}
		return c.Next()
	}
}

// RequireSession rejects requests whose token belongs to another session
// than the one named by the route parameter.
func RequireSession(param string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		owner, _ := c.Locals("session_id").(string)
		if owner == "" || owner != c.Params(param) {
			return fiber.NewError(fiber.StatusForbidden, "token does not grant access to this session")
		}
		return c.Next()
	}
}

func tokenFromRequest(c *fiber.Ctx) string {
	if token := bearerFromHeader(c.Get("Authorization")); token != "" {
		return token
	}
	return c.Query("access_token")
}

func bearerFromHeader(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
