package services

import (
	"context"
	"log"
	"net/mail"
	"strings"

	"github.com/greenharvest/harvest-api/internal/apperr"
	"github.com/greenharvest/harvest-api/internal/auth"
	"github.com/greenharvest/harvest-api/internal/metrics"
	"github.com/greenharvest/harvest-api/internal/models"
	"github.com/greenharvest/harvest-api/internal/store"
)

const (
	minPasswordLength = 6
	// bcrypt rejects longer input
	maxPasswordLength = 72
)

// RegisterInput holds a new account's details
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Role     models.Role
	Location string
}

// Session is a signed-in user with their bearer token
type Session struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

// UserService handles accounts and sessions
type UserService struct {
	store   store.Store
	tokens  *auth.TokenManager
	metrics *metrics.AppMetrics
}

// NewUserService creates a new user service
func NewUserService(st store.Store, tokens *auth.TokenManager, m *metrics.AppMetrics) *UserService {
	return &UserService{
		store:   st,
		tokens:  tokens,
		metrics: m,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates an account and signs it in
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	const op = "users.Register"
	email := normalizeEmail(in.Email)
	switch {
	case strings.TrimSpace(in.Name) == "":
		return nil, apperr.Invalid(op, "Name is required")
	case email == "":
		return nil, apperr.Invalid(op, "Email is required")
	case len(in.Password) < minPasswordLength:
		return nil, apperr.Invalid(op, "Password must be at least %d characters", minPasswordLength)
	case len(in.Password) > maxPasswordLength:
		return nil, apperr.Invalid(op, "Password must be at most %d bytes", maxPasswordLength)
	case !in.Role.Valid():
		return nil, apperr.Invalid(op, "Invalid role %q", in.Role)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperr.Invalid(op, "Invalid email address")
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		Name:         strings.TrimSpace(in.Name),
		Email:        email,
		PasswordHash: hash,
		Role:         in.Role,
		Location:     in.Location,
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		return nil, err
	}

	log.Printf("[AUTH] user registered: id=%d role=%s", user.ID, user.Role)
	return s.startSession(ctx, user)
}

// Login verifies credentials and issues a new token
func (s *UserService) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.store.Users().GetByEmail(ctx, normalizeEmail(email))
	if apperr.IsNotFound(err) {
		return nil, apperr.Unauthorized("users.Login", "Invalid login credentials")
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(user.PasswordHash, password) {
		log.Printf("[AUTH] failed login: user=%d", user.ID)
		return nil, apperr.Unauthorized("users.Login", "Invalid login credentials")
	}
	return s.startSession(ctx, user)
}

func (s *UserService) startSession(ctx context.Context, user *models.User) (*Session, error) {
	token, claims, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	if err := s.store.Users().AddToken(ctx, user.ID, claims.ID, claims.ExpiresAt.Time); err != nil {
		return nil, err
	}
	s.metrics.RecordActiveUser(ctx, user.ID, string(user.Role))
	return &Session{User: user, Token: token}, nil
}

// Logout revokes the token the identity signed in with
func (s *UserService) Logout(ctx context.Context, id *auth.Identity) error {
	if err := s.store.Users().RemoveToken(ctx, id.UserID, id.TokenID); err != nil {
		return err
	}
	log.Printf("[AUTH] user logged out: id=%d", id.UserID)
	return nil
}

// Profile returns the account of userID
func (s *UserService) Profile(ctx context.Context, userID int64) (*models.User, error) {
	return s.store.Users().Get(ctx, userID)
}

// Authenticate resolves a bearer token into the caller's identity. The
// token must be correctly signed, unexpired and not revoked, and its user
// must still exist.
func (s *UserService) Authenticate(ctx context.Context, token string) (*auth.Identity, error) {
	const op = "users.Authenticate"
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	userID, _ := claims.UserID()

	active, err := s.store.Users().HasToken(ctx, userID, claims.ID)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, apperr.Unauthorized(op, "Token revoked")
	}

	user, err := s.store.Users().Get(ctx, userID)
	if apperr.IsNotFound(err) {
		return nil, apperr.Unauthorized(op, "User not found")
	}
	if err != nil {
		return nil, err
	}

	s.metrics.RecordActiveUser(ctx, user.ID, string(user.Role))
	return &auth.Identity{
		UserID:  user.ID,
		Name:    user.Name,
		Email:   user.Email,
		Role:    user.Role,
		TokenID: claims.ID,
	}, nil
}
