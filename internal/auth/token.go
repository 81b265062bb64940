package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/livechat-service/internal/domain"
)

// clockSkew tolerates small clock drift with the identity provider.
const clockSkew = 30 * time.Second

// TokenManager validates the HS256 tokens minted by the identity provider.
// GenerateToken exists for tests and local tooling.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// NewTokenManager builds a new manager.
func NewTokenManager(secret string, ttlMinutes int) *TokenManager {
	if ttlMinutes <= 0 {
		ttlMinutes = 60
	}
	return &TokenManager{secret: []byte(secret), ttl: time.Duration(ttlMinutes) * time.Minute}
}

// WithIssuer makes the manager stamp and require the iss claim. An empty
// issuer disables the check.
func (tm *TokenManager) WithIssuer(issuer string) *TokenManager {
	tm.issuer = issuer
	return tm
}

// Claims describes JWT payload.
type Claims struct {
	Role        domain.Role `json:"role"`
	DisplayName string      `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken builds and signs a JWT for the principal.
func (tm *TokenManager) GenerateToken(principal domain.Principal) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(tm.ttl)
	claims := &Claims{
		Role:        principal.Role,
		DisplayName: principal.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.ExternalID,
			Issuer:    tm.issuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// ParseToken validates and returns claims.
func (tm *TokenManager) ParseToken(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	}
	if tm.issuer != "" {
		opts = append(opts, jwt.WithIssuer(tm.issuer))
	}
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (any, error) {
		return tm.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// Authenticate parses a token into the principal it names.
func (tm *TokenManager) Authenticate(tokenStr string) (domain.Principal, error) {
	claims, err := tm.ParseToken(tokenStr)
	if err != nil {
		return domain.Principal{}, err
	}
	if claims.Subject == "" {
		return domain.Principal{}, errors.New("token has no subject")
	}
	role := claims.Role
	if role == "" {
		role = domain.RoleUser
	}
	if !role.Valid() {
		return domain.Principal{}, errors.New("unknown role")
	}
	name := claims.DisplayName
	if name == "" {
		name = claims.Subject
	}
	return domain.Principal{ExternalID: claims.Subject, Role: role, DisplayName: name}, nil
}
