package auth

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/livechat-service/internal/domain"
	apperrors "github.com/spec-kit/livechat-service/pkg/util/errorutil"
)

const principalKey = "auth_principal"

// AuthMiddleware validates bearer tokens and stores the principal.
type AuthMiddleware struct {
	tokens *TokenManager
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	token, ok := bearerToken(c.Get("Authorization"))
	if !ok {
		return apperrors.NewUnauthorized("missing or invalid authorization header")
	}
	principal, err := m.tokens.Authenticate(token)
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}
	c.Locals(principalKey, &principal)
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated principal.
func PrincipalFromContext(c *fiber.Ctx) (*domain.Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*domain.Principal)
	return principal, ok
}

// PrincipalFromRequest authenticates a plain HTTP request, as used by the
// websocket handshake. The token may come from the Authorization header or
// the "token" query parameter since browsers cannot set headers on upgrade.
func (tm *TokenManager) PrincipalFromRequest(r *http.Request) (domain.Principal, error) {
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return domain.Principal{}, apperrors.NewUnauthorized("missing token")
	}
	principal, err := tm.Authenticate(token)
	if err != nil {
		return domain.Principal{}, apperrors.NewUnauthorized("invalid token")
	}
	return principal, nil
}

func bearerToken(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
