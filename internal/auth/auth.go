// Package auth issues and verifies bearer tokens and carries the caller's
// identity through request contexts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/greenharvest/harvest-api/internal/apperr"
	"github.com/greenharvest/harvest-api/internal/models"
)

const bcryptCost = 10

// Identity is the authenticated caller
type Identity struct {
	UserID  int64       `json:"id"`
	Name    string      `json:"name"`
	Email   string      `json:"email"`
	Role    models.Role `json:"role"`
	TokenID string      `json:"-"`
}

// HasRole reports whether the identity holds one of roles
func (id *Identity) HasRole(roles ...models.Role) bool {
	for _, r := range roles {
		if id.Role == r {
			return true
		}
	}
	return false
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored in ctx, if any
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}

// Claims are the JWT claims issued by TokenManager
type Claims struct {
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim
func (c *Claims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// TokenManager signs and verifies HS256 tokens
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager creates a manager using secret and token lifetime ttl
func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	return &TokenManager{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for user. The returned claims carry the token id
// (jti) and expiry so the caller can record them.
func (m *TokenManager) Issue(user *models.User) (string, *Claims, error) {
	now := m.now()
	claims := &Claims{
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, claims, nil
}

// Parse verifies signature and expiry of token
func (m *TokenManager) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil || !parsed.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.Unauthorized("auth.Parse", "Token expired")
		}
		return nil, apperr.Unauthorized("auth.Parse", "Invalid token")
	}
	if _, err := claims.UserID(); err != nil || claims.ID == "" {
		return nil, apperr.Unauthorized("auth.Parse", "Invalid token")
	}
	return claims, nil
}

// HashPassword returns the bcrypt hash of password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
