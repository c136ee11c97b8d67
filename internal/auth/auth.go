// Package auth implements account registration and login, opaque bearer-token
// sessions, and the request-authentication middleware.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mango-chat/mango-server/internal/ident"
	"github.com/mango-chat/mango-server/internal/model"
	"github.com/mango-chat/mango-server/internal/store"
)

// Sentinel errors for the auth package.
var (
	ErrInvalidEmail       = errors.New("invalid email format")
	ErrUsernameInvalid    = errors.New("username must be 3-32 characters of letters, digits, and underscores")
	ErrDisplayNameLength  = errors.New("display name must be between 2 and 64 characters")
	ErrPasswordTooShort   = errors.New("password must be at least 8 characters")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

var usernameRegex = regexp.MustCompile(`^[A-Za-z0-9_]{3,32}$`)

// RegisterParams groups the inputs for creating an account.
type RegisterParams struct {
	Email       string `json:"email"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

// Service implements register, login, and session resolution over the store.
// tokenSecret signs the long-lived bot tokens that RequireAuth honours
// alongside opaque sessions.
type Service struct {
	store       store.Store
	hasher      *Hasher
	tokenSecret string
	log         zerolog.Logger
}

// NewService creates the auth service.
func NewService(st store.Store, hasher *Hasher, tokenSecret string, logger zerolog.Logger) *Service {
	return &Service{
		store:       st,
		hasher:      hasher,
		tokenSecret: tokenSecret,
		log:         logger.With().Str("component", "auth").Logger(),
	}
}

// Register validates the params, hashes the password, creates the user, and
// mints a session. Duplicate email/username surfaces as the store's typed
// error.
func (s *Service) Register(ctx context.Context, params RegisterParams) (*model.User, string, error) {
	email, err := ValidateEmail(params.Email)
	if err != nil {
		return nil, "", err
	}
	if !usernameRegex.MatchString(params.Username) {
		return nil, "", ErrUsernameInvalid
	}
	if n := len(strings.TrimSpace(params.DisplayName)); n < 2 || n > 64 {
		return nil, "", ErrDisplayNameLength
	}
	if len(params.Password) < 8 {
		return nil, "", ErrPasswordTooShort
	}

	hash, err := s.hasher.Hash(params.Password)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}

	u, err := s.store.CreateUser(ctx, model.User{
		ID:           ident.New(ident.PrefixUser),
		Email:        email,
		Username:     params.Username,
		DisplayName:  strings.TrimSpace(params.DisplayName),
		CreatedAt:    ident.NowString(),
		PasswordHash: hash,
	})
	if err != nil {
		return nil, "", err
	}

	token, err := s.mintSession(ctx, u.ID)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// Login resolves the identifier as an email when it contains '@' and as a
// case-insensitive username otherwise, verifies the password, and mints a
// fresh session token.
func (s *Service) Login(ctx context.Context, identifier, password string) (*model.User, string, error) {
	var u *model.User
	var err error
	if strings.Contains(identifier, "@") {
		u, err = s.store.GetUserByEmail(ctx, identifier)
	} else {
		u, err = s.store.GetUserByUsername(ctx, identifier)
	}
	if err != nil {
		return nil, "", fmt.Errorf("lookup user: %w", err)
	}
	if u == nil {
		// Burn a verification anyway so the response time does not reveal
		// whether the account exists.
		_, _ = s.hasher.Verify(password, phantomHash)
		return nil, "", ErrInvalidCredentials
	}

	match, err := s.hasher.Verify(password, u.PasswordHash)
	if err != nil {
		return nil, "", fmt.Errorf("verify password: %w", err)
	}
	if !match {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.mintSession(ctx, u.ID)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// Logout deletes the session bound to the token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.store.DeleteSession(ctx, token)
}

// ResolveToken returns the user bound to a token, or nil for a stale or
// unknown one. Opaque session tokens resolve through the store; signed bot
// tokens resolve through their claims.
func (s *Service) ResolveToken(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, nil
	}

	userID := ""
	if ident.HasPrefix(token, ident.PrefixToken) {
		sess, err := s.store.GetSession(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("lookup session: %w", err)
		}
		if sess == nil {
			return nil, nil
		}
		userID = sess.UserID
	} else if s.tokenSecret != "" {
		claims, err := ParseScopedToken(s.tokenSecret, token, ScopeBot)
		if err != nil {
			return nil, nil
		}
		userID = claims.Subject
	} else {
		return nil, nil
	}

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("lookup token user: %w", err)
	}
	return u, nil
}

// MintBotToken signs a long-lived programmatic token bound to the user.
func (s *Service) MintBotToken(userID string) (string, error) {
	if s.tokenSecret == "" {
		return "", fmt.Errorf("bot tokens are not configured")
	}
	return SignScopedToken(s.tokenSecret, ScopeBot, userID, "", 0)
}

func (s *Service) mintSession(ctx context.Context, userID string) (string, error) {
	token := ident.New(ident.PrefixToken)
	err := s.store.CreateSession(ctx, model.Session{
		Token:     token,
		UserID:    userID,
		CreatedAt: ident.NowString(),
	})
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return token, nil
}

// ValidateEmail parses and lowercases an email address.
func ValidateEmail(email string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || addr.Name != "" {
		return "", ErrInvalidEmail
	}
	return strings.ToLower(addr.Address), nil
}
