package server

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// memberIDLocal is the fiber locals key for the authenticated member.
const memberIDLocal = "member_id"

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Mode      string // "jwt", "none"
	JWTSecret string
}

// NewAuthMiddleware returns a Fiber middleware that validates the bearer
// token and resolves the calling member. In "none" mode the member comes
// from the X-Member-ID header (dev and test setups only).
func NewAuthMiddleware(cfg AuthConfig, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Probe endpoints stay open
		path := c.Path()
		if path == "/healthz" || path == "/readyz" || path == "/metrics" {
			return c.Next()
		}

		if cfg.Mode == "none" {
			member := c.Get("X-Member-ID")
			if member == "" {
				member = "dev"
			}
			c.Locals(memberIDLocal, member)
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return problemResponse(c, fiber.StatusUnauthorized,
				"missing_auth", "Unauthorized",
				"Authorization header is required")
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_auth_scheme", "Unauthorized",
				"Authorization header must use Bearer scheme")
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		memberID, err := memberFromToken(token, cfg.JWTSecret)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("path", path).
				Str("method", c.Method()).
				Msg("unauthorized request")
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_token", "Unauthorized",
				"Invalid or expired token")
		}

		c.Locals(memberIDLocal, memberID)
		return c.Next()
	}
}

// memberFromToken validates an HS256 JWT and extracts the member_id claim.
func memberFromToken(tokenStr, secret string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("unexpected claims type")
	}

	memberID, _ := claims["member_id"].(string)
	if memberID == "" {
		return "", fmt.Errorf("token has no member_id claim")
	}
	return memberID, nil
}

// MemberID returns the authenticated member for the request.
func MemberID(c *fiber.Ctx) string {
	member, _ := c.Locals(memberIDLocal).(string)
	return member
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}
