package auth

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestTokens(t *testing.T, clock *fakeClock) *TokenService {
	t.Helper()
	ts, err := NewTokenService("access-secret", "refresh-secret", WithTokenClock(clock.Now), WithIssuer("test-issuer"))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

func TestNewTokenServiceRequiresDistinctSecrets(t *testing.T) {
	if _, err := NewTokenService("", "x"); err == nil {
		t.Fatal("expected error for empty access secret")
	}
	if _, err := NewTokenService("same", "same"); err == nil {
		t.Fatal("expected error for identical secrets")
	}
}

func TestTokenIssueAndVerify(t *testing.T) {
	clock := newFakeClock()
	ts := newTestTokens(t, clock)

	token, issued, err := ts.Issue(KindAccess, "usr-1", RoleAdmin)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if want := clock.Now().Add(15 * time.Minute); !issued.ExpiresAt.Time.Equal(want) {
		t.Fatalf("unexpected expiry %v, want %v", issued.ExpiresAt.Time, want)
	}

	claims, err := ts.Verify(KindAccess, token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "usr-1" || claims.Role != RoleAdmin || claims.Issuer != "test-issuer" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ID == "" {
		t.Fatal("expected jti to be set")
	}
}

func TestAccessTokenExpiry(t *testing.T) {
	clock := newFakeClock()
	ts := newTestTokens(t, clock)

	token, _, err := ts.Issue(KindAccess, "usr-1", RoleUser)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clock.Advance(14 * time.Minute)
	if _, err := ts.Verify(KindAccess, token); err != nil {
		t.Fatalf("token should be valid at t+14m: %v", err)
	}

	clock.Advance(2 * time.Minute)
	_, err = ts.Verify(KindAccess, token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired at t+16m, got %v", err)
	}
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expired token should be unauthorized, got %v", err)
	}
}

func TestRefreshTokenHasNoRole(t *testing.T) {
	ts := newTestTokens(t, newFakeClock())
	token, _, err := ts.Issue(KindRefresh, "usr-1", RoleAdmin)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	claims, err := ts.Verify(KindRefresh, token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Role != "" {
		t.Fatalf("refresh token must not carry role, got %q", claims.Role)
	}
}

func TestVerifyRejectsForeignTokens(t *testing.T) {
	clock := newFakeClock()
	ts := newTestTokens(t, clock)

	access, _, _ := ts.Issue(KindAccess, "usr-1", RoleUser)
	refresh, _, _ := ts.Issue(KindRefresh, "usr-1", "")

	other, err := NewTokenService("other-access", "other-refresh", WithTokenClock(clock.Now), WithIssuer("test-issuer"))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	foreign, _, _ := other.Issue(KindAccess, "usr-1", RoleUser)

	otherIssuer, err := NewTokenService("access-secret", "refresh-secret", WithTokenClock(clock.Now), WithIssuer("someone-else"))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	wrongIss, _, _ := otherIssuer.Issue(KindAccess, "usr-1", RoleUser)

	// same secret, wrong kind claim
	swapped := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: "usr-1",
		Kind:   KindRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti-1",
			Issuer:    "test-issuer",
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
	})
	wrongKind, err := swapped.SignedString([]byte("access-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "usr-1", Kind: KindAccess})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	cases := map[string]struct {
		kind  TokenKind
		token string
	}{
		"refresh as access":  {KindAccess, refresh},
		"access as refresh":  {KindRefresh, access},
		"foreign secret":     {KindAccess, foreign},
		"wrong issuer":       {KindAccess, wrongIss},
		"wrong kind claim":   {KindAccess, wrongKind},
		"alg none":           {KindAccess, unsigned},
		"malformed":          {KindAccess, "not.a.jwt"},
		"empty":              {KindAccess, ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ts.Verify(tc.kind, tc.token)
			if !errors.Is(err, ErrTokenInvalid) {
				t.Fatalf("expected ErrTokenInvalid, got %v", err)
			}
		})
	}
}
