package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/mango-chat/mango-server/internal/store"
	"github.com/mango-chat/mango-server/internal/store/memory"
)

// testHasher uses deliberately cheap argon2 parameters.
func testHasher() *Hasher {
	return NewHasher(8*1024, 1, 1, 16, 32)
}

func testService() *Service {
	return NewService(memory.New(), testHasher(), "0123456789abcdef0123456789abcdef", zerolog.Nop())
}

func validParams() RegisterParams {
	return RegisterParams{
		Email:       "Alice@Example.com",
		Username:    "alice_01",
		DisplayName: "Alice",
		Password:    "correct horse",
	}
}

func TestRegister_Success(t *testing.T) {
	t.Parallel()
	svc := testService()

	u, token, err := svc.Register(context.Background(), validParams())
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if u.Email != "alice@example.com" {
		t.Errorf("email = %q, want lowercased", u.Email)
	}
	if token == "" {
		t.Error("no session token minted")
	}
	if u.PasswordHash == "" || u.PasswordHash == "correct horse" {
		t.Error("password not hashed")
	}

	resolved, err := svc.ResolveToken(context.Background(), token)
	if err != nil || resolved == nil || resolved.ID != u.ID {
		t.Errorf("ResolveToken = %v, %v; want the registered user", resolved, err)
	}
}

func TestRegister_Validation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*RegisterParams)
		want   error
	}{
		{"bad email", func(p *RegisterParams) { p.Email = "not-an-email" }, ErrInvalidEmail},
		{"short username", func(p *RegisterParams) { p.Username = "ab" }, ErrUsernameInvalid},
		{"bad username chars", func(p *RegisterParams) { p.Username = "has space" }, ErrUsernameInvalid},
		{"long username", func(p *RegisterParams) { p.Username = "a23456789012345678901234567890123" }, ErrUsernameInvalid},
		{"short display name", func(p *RegisterParams) { p.DisplayName = "x" }, ErrDisplayNameLength},
		{"short password", func(p *RegisterParams) { p.Password = "seven77" }, ErrPasswordTooShort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := testService()
			params := validParams()
			tt.mutate(&params)
			_, _, err := svc.Register(context.Background(), params)
			if !errors.Is(err, tt.want) {
				t.Errorf("Register() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRegister_DuplicateUsername(t *testing.T) {
	t.Parallel()
	svc := testService()
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, validParams()); err != nil {
		t.Fatal(err)
	}
	params := validParams()
	params.Email = "other@example.com"
	params.Username = "ALICE_01"
	_, _, err := svc.Register(ctx, params)
	if !errors.Is(err, store.ErrDuplicateUsername) {
		t.Errorf("error = %v, want ErrDuplicateUsername", err)
	}
}

func TestLogin_ByEmailAndUsername(t *testing.T) {
	t.Parallel()
	svc := testService()
	ctx := context.Background()
	if _, _, err := svc.Register(ctx, validParams()); err != nil {
		t.Fatal(err)
	}

	for _, identifier := range []string{"alice@example.com", "ALICE_01"} {
		u, token, err := svc.Login(ctx, identifier, "correct horse")
		if err != nil {
			t.Errorf("Login(%q) error = %v", identifier, err)
			continue
		}
		if u == nil || token == "" {
			t.Errorf("Login(%q) returned %v, %q", identifier, u, token)
		}
	}
}

func TestLogin_WrongPassword(t *testing.T) {
	t.Parallel()
	svc := testService()
	ctx := context.Background()
	if _, _, err := svc.Register(ctx, validParams()); err != nil {
		t.Fatal(err)
	}

	_, _, err := svc.Login(ctx, "alice@example.com", "wrong password")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("error = %v, want ErrInvalidCredentials", err)
	}
}

func TestLogin_UnknownIdentifier(t *testing.T) {
	t.Parallel()
	svc := testService()
	_, _, err := svc.Login(context.Background(), "ghost@example.com", "whatever!")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("error = %v, want ErrInvalidCredentials", err)
	}
}

func TestLogout_InvalidatesToken(t *testing.T) {
	t.Parallel()
	svc := testService()
	ctx := context.Background()
	_, token, err := svc.Register(ctx, validParams())
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Logout(ctx, token); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	resolved, err := svc.ResolveToken(ctx, token)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != nil {
		t.Error("token resolved after logout")
	}
}

func TestResolveToken_BotToken(t *testing.T) {
	t.Parallel()
	svc := testService()
	ctx := context.Background()
	u, _, err := svc.Register(ctx, validParams())
	if err != nil {
		t.Fatal(err)
	}

	botToken, err := svc.MintBotToken(u.ID)
	if err != nil {
		t.Fatalf("MintBotToken() error = %v", err)
	}

	resolved, err := svc.ResolveToken(ctx, botToken)
	if err != nil || resolved == nil || resolved.ID != u.ID {
		t.Errorf("ResolveToken(bot) = %v, %v; want the owning user", resolved, err)
	}

	// A webhook-scoped token is not a login credential.
	whToken, err := SignScopedToken("0123456789abcdef0123456789abcdef", ScopeWebhook, "whk_1", "chn_1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if resolved, _ := svc.ResolveToken(ctx, whToken); resolved != nil {
		t.Error("webhook token resolved as a user session")
	}
}

func TestScopedToken_RoundTrip(t *testing.T) {
	t.Parallel()
	const secret = "0123456789abcdef0123456789abcdef"

	token, err := SignScopedToken(secret, ScopeWebhook, "whk_1", "chn_1", 0)
	if err != nil {
		t.Fatalf("SignScopedToken() error = %v", err)
	}

	claims, err := ParseScopedToken(secret, token, ScopeWebhook)
	if err != nil {
		t.Fatalf("ParseScopedToken() error = %v", err)
	}
	if claims.Subject != "whk_1" || claims.ChannelID != "chn_1" {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := ParseScopedToken(secret, token, ScopeBot); !errors.Is(err, ErrInvalidScopedToken) {
		t.Errorf("wrong scope error = %v, want ErrInvalidScopedToken", err)
	}
	if _, err := ParseScopedToken("another-secret-another-secret-ab", token, ScopeWebhook); !errors.Is(err, ErrInvalidScopedToken) {
		t.Errorf("wrong secret error = %v, want ErrInvalidScopedToken", err)
	}
}
