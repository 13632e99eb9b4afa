package auth

import (
	"context"
	"log"
	"slices"
	"strings"

	"backend-ratemycoffee/internal/shared/apperr"

	"github.com/gofiber/fiber/v2"
)

// Denylist reports whether an access token id has been revoked.
type Denylist interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// JWTMiddleware validates bearer tokens and stores user_id, role and claims
// in locals. Requests without a valid token are rejected with 401.
func JWTMiddleware(secret string, deny Denylist) fiber.Handler {
	return authenticate([]byte(secret), deny, true)
}

// OptionalJWT authenticates when a bearer token is present and lets
// anonymous requests through. A present but invalid token is still a 401.
func OptionalJWT(secret string, deny Denylist) fiber.Handler {
	return authenticate([]byte(secret), deny, false)
}

func authenticate(secret []byte, deny Denylist, required bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerFromHeader(c.Get(fiber.HeaderAuthorization))
		if token == "" {
			if required {
				return apperr.Unauthorized("missing bearer token")
			}
			return c.Next()
		}

		claims, err := parseClaims(token, secret)
		if err != nil || claims.Type != tokenTypeAccess {
			return apperr.Unauthorized("token invalid")
		}
		if deny != nil {
			revoked, err := deny.IsRevoked(c.UserContext(), claims.ID)
			if err != nil {
				log.Printf("denylist lookup: %v", err)
			}
			if revoked {
				return apperr.Unauthorized("token revoked")
			}
		}

		c.Locals("user_id", claims.UserID)
		c.Locals("role", claims.Role)
		c.Locals("claims", claims)
		return c.Next()
	}
}

// RequireRole must run after JWTMiddleware.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor := ActorFrom(c)
		if !actor.Authenticated() {
			return apperr.Unauthorized("unauthenticated")
		}
		if !actor.Is(roles...) {
			return apperr.Forbidden("this action is unauthorized")
		}
		return c.Next()
	}
}

// Actor is the caller of a request. The zero value is anonymous.
type Actor struct {
	UserID int64
	Role   string
}

func ActorFrom(c *fiber.Ctx) Actor {
	id, _ := c.Locals("user_id").(int64)
	role, _ := c.Locals("role").(string)
	return Actor{UserID: id, Role: role}
}

func (a Actor) Authenticated() bool { return a.UserID != 0 }

func (a Actor) Is(roles ...string) bool {
	return a.Authenticated() && slices.Contains(roles, a.Role)
}

// ClaimsFrom returns the claims stored by the middleware, if any.
func ClaimsFrom(c *fiber.Ctx) *Claims {
	claims, _ := c.Locals("claims").(*Claims)
	return claims
}

func bearerFromHeader(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
