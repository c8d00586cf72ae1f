package auth

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"saltapi/internal/audit"
	"saltapi/internal/identity"
	"saltapi/internal/obs"
)

const defaultAccessTTL = 7 * 24 * time.Hour

// Service authenticates users against the identity store and issues tokens.
type Service struct {
	users     identity.Store
	tokens    *Tokens
	accessTTL time.Duration
	now       func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.accessTTL = ttl
		}
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs Service with optional configuration.
func NewService(users identity.Store, tokens *Tokens, opts ...ServiceOption) (*Service, error) {
	if users == nil {
		return nil, errors.New("identity store is required")
	}
	if tokens == nil {
		return nil, errors.New("token signer is required")
	}
	svc := &Service{
		users:     users,
		tokens:    tokens,
		accessTTL: defaultAccessTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// AccessToken is a signed bearer token and its expiry.
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
}

// Authenticate checks a username/password pair. A successful login with a
// legacy hash replaces the stored hash; failing to do so is logged only.
func (s *Service) Authenticate(ctx context.Context, username, password string) (identity.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return identity.User{}, ErrInvalidCredentials
	}
	user, err := s.users.FindUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return identity.User{}, ErrInvalidCredentials
		}
		return identity.User{}, err
	}
	if !VerifyPassword(user.PasswordHash, password) {
		return identity.User{}, ErrInvalidCredentials
	}
	if NeedsRehash(user.PasswordHash) {
		s.migratePassword(ctx, &user, password)
	}
	return user, nil
}

func (s *Service) migratePassword(ctx context.Context, user *identity.User, password string) {
	hash, err := HashPassword(password)
	if err == nil {
		err = s.users.UpdatePasswordHash(ctx, user.ID, hash)
	}
	if err != nil {
		obs.Warn("password rehash failed", map[string]any{
			"user_id": user.ID,
			"error":   err.Error(),
		})
		_ = audit.LogEvent(ctx, "auth.password_migration_failed", map[string]any{"user_id": user.ID})
		return
	}
	user.PasswordHash = hash
	_ = audit.LogEvent(ctx, "auth.password_migrated", map[string]any{"user_id": user.ID})
}

// Login authenticates and issues an access token.
func (s *Service) Login(ctx context.Context, username, password string) (AccessToken, identity.User, error) {
	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			_ = audit.LogEvent(ctx, "auth.login_failed", map[string]any{"username": strings.TrimSpace(username)})
		}
		return AccessToken{}, identity.User{}, err
	}
	tok, err := s.tokens.Sign(Claims{
		Username:         user.Username,
		RegisteredClaims: jwt.RegisteredClaims{Subject: strconv.FormatInt(user.ID, 10)},
	}, s.accessTTL)
	if err != nil {
		return AccessToken{}, identity.User{}, err
	}
	_ = audit.LogEvent(ctx, "auth.login", map[string]any{"user_id": user.ID})
	return AccessToken{Token: tok, ExpiresAt: s.now().UTC().Add(s.accessTTL)}, user, nil
}

// AuthenticateToken validates an access token and loads its user.
func (s *Service) AuthenticateToken(ctx context.Context, token string) (identity.User, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return identity.User{}, ErrInvalidToken
	}
	id, err := claims.UserID()
	if err != nil {
		return identity.User{}, ErrInvalidToken
	}
	user, err := s.users.FindUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return identity.User{}, ErrInvalidToken
		}
		return identity.User{}, err
	}
	return user, nil
}
