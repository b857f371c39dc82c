package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"ediportal.org/internal/ids"
	"ediportal.org/internal/obs"
)

const (
	defaultResetTTL = time.Hour
	resetTokenBytes = 32
)

// Mailer delivers a single message. Implementations live in internal/mail.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type discardMailer struct{}

func (discardMailer) Send(context.Context, string, string, string) error { return nil }

// Service runs the authentication flow: registration, login, token refresh,
// password reset and profile completion.
type Service struct {
	store    Store
	tokens   *TokenService
	mailer   Mailer
	now      func() time.Time
	appURL   string
	resetTTL time.Duration
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithMailer sets the delivery channel for reset links.
func WithMailer(m Mailer) ServiceOption {
	return func(s *Service) error {
		if m != nil {
			s.mailer = m
		}
		return nil
	}
}

// WithAppURL sets the public base URL used to build reset links.
func WithAppURL(raw string) ServiceOption {
	return func(s *Service) error {
		raw = strings.TrimRight(strings.TrimSpace(raw), "/")
		if raw == "" {
			return nil
		}
		if _, err := url.ParseRequestURI(raw); err != nil {
			return fmt.Errorf("auth: app url: %w", err)
		}
		s.appURL = raw
		return nil
	}
}

// WithResetTTL configures how long a reset token stays valid.
func WithResetTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.resetTTL = ttl
		}
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, tokens *TokenService, opts ...ServiceOption) (*Service, error) {
	if store == nil || tokens == nil {
		return nil, errors.New("auth: store and token service are required")
	}
	svc := &Service{
		store:    store,
		tokens:   tokens,
		mailer:   discardMailer{},
		now:      time.Now,
		appURL:   "http://localhost:3000",
		resetTTL: defaultResetTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Register creates an account and returns it with a fresh token pair.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.Role = strings.TrimSpace(in.Role)
	if in.Username == "" || in.Email == "" || in.Password == "" || in.Role == "" {
		obs.AuthEvent("register", "invalid")
		return nil, fmt.Errorf("%w: missing required fields", ErrInvalidInput)
	}
	if in.Role != RoleUser && in.Role != RoleAdmin {
		obs.AuthEvent("register", "invalid")
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, in.Role)
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &User{
		ID:           ids.WithPrefix("usr"),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         in.Role,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.Users(ctx).Create(ctx, user); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			obs.AuthEvent("register", "conflict")
			return nil, fmt.Errorf("%w: username or email already exists", ErrAlreadyExists)
		}
		return nil, err
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return nil, err
	}
	obs.AuthEvent("register", "success")
	return &Session{TokenPair: *pair, User: user}, nil
}

// Login verifies credentials. Unknown users and wrong passwords fail identically.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		obs.AuthEvent("login", "invalid")
		return nil, fmt.Errorf("%w: missing username or password", ErrInvalidInput)
	}
	invalid := fmt.Errorf("%w: invalid credentials", ErrUnauthorized)

	user, err := s.store.Users(ctx).FindByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		obs.AuthEvent("login", "failure")
		return nil, invalid
	}
	if err != nil {
		return nil, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		obs.AuthEvent("login", "failure")
		return nil, invalid
	}

	at := s.now().UTC()
	if err := s.store.Users(ctx).UpdateLastLogin(ctx, user.ID, at); err != nil {
		return nil, err
	}
	user.LastLogin = &at

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return nil, err
	}
	obs.AuthEvent("login", "success")
	return &Session{TokenPair: *pair, User: user}, nil
}

// RefreshTokens exchanges a valid refresh token for a new pair. The presented
// token stays usable until it expires or is revoked.
func (s *Service) RefreshTokens(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, fmt.Errorf("%w: refresh token is required", ErrInvalidInput)
	}
	claims, err := s.tokens.Verify(KindRefresh, refreshToken)
	if err != nil {
		obs.AuthEvent("refresh", "failure")
		return nil, err
	}
	record, err := s.store.RefreshTokens(ctx).Find(ctx, claims.ID)
	if errors.Is(err, ErrNotFound) || (err == nil && (record.Revoked || record.UserID != claims.UserID)) {
		obs.AuthEvent("refresh", "failure")
		return nil, fmt.Errorf("%w: refresh token revoked", ErrTokenInvalid)
	}
	if err != nil {
		return nil, err
	}
	user, err := s.store.Users(ctx).Find(ctx, claims.UserID)
	if errors.Is(err, ErrNotFound) {
		obs.AuthEvent("refresh", "failure")
		return nil, fmt.Errorf("%w: user not found", ErrUnauthorized)
	}
	if err != nil {
		return nil, err
	}
	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return nil, err
	}
	obs.AuthEvent("refresh", "success")
	return pair, nil
}

// Logout revokes the presented refresh token. Tokens that no longer verify
// have nothing left to revoke and are accepted silently.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if strings.TrimSpace(refreshToken) == "" {
		return fmt.Errorf("%w: refresh token is required", ErrInvalidInput)
	}
	claims, err := s.tokens.Verify(KindRefresh, refreshToken)
	if err != nil {
		return nil
	}
	if err := s.store.RefreshTokens(ctx).Revoke(ctx, claims.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	obs.AuthEvent("logout", "success")
	return nil
}

// RequestPasswordReset mails a reset link when the email belongs to an account.
// The result is the same whether or not the address is known.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		obs.AuthEvent("reset_request", "unknown")
		return nil
	}
	if err != nil {
		return err
	}

	token, err := newResetToken()
	if err != nil {
		return err
	}
	now := s.now().UTC()
	rec := &PasswordResetToken{
		ID:        ids.WithPrefix("rst"),
		Token:     token,
		UserID:    user.ID,
		ExpiresAt: now.Add(s.resetTTL),
		CreatedAt: now,
	}
	if err := s.store.ResetTokens(ctx).Create(ctx, rec); err != nil {
		return err
	}

	link := s.appURL + "/reset-password?token=" + url.QueryEscape(token)
	if err := s.mailer.Send(ctx, user.Email, "Password Reset Request", resetEmailBody(link, s.resetTTL)); err != nil {
		obs.AuthEvent("reset_request", "mail_error")
		return fmt.Errorf("auth: send reset email: %w", err)
	}
	obs.AuthEvent("reset_request", "success")
	return nil
}

// ConfirmPasswordReset consumes the token, replaces the password and revokes
// every refresh token of the account.
func (s *Service) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	token = strings.TrimSpace(token)
	if token == "" || newPassword == "" {
		return fmt.Errorf("%w: token and new password are required", ErrInvalidInput)
	}
	if len(newPassword) > maxPasswordBytes {
		return fmt.Errorf("%w: password longer than %d bytes", ErrInvalidInput, maxPasswordBytes)
	}
	rec, err := s.store.ResetTokens(ctx).Consume(ctx, token, s.now().UTC())
	if errors.Is(err, ErrNotFound) {
		obs.AuthEvent("reset_confirm", "failure")
		return ErrInvalidResetToken
	}
	if err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.store.Users(ctx).UpdatePassword(ctx, rec.UserID, hash); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidResetToken
		}
		return err
	}
	if err := s.store.RefreshTokens(ctx).RevokeByUser(ctx, rec.UserID); err != nil {
		return err
	}
	obs.AuthEvent("reset_confirm", "success")
	return nil
}

// CurrentUser loads the account behind an authenticated principal.
func (s *Service) CurrentUser(ctx context.Context, userID string) (*User, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: user not found", ErrNotFound)
	}
	return user, err
}

// UpdateProfile merges the provided fields into the profile. The profile is
// complete once both organization and developer names are present.
func (s *Service) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (*User, error) {
	user, err := s.CurrentUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := user.Profile
	apply := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	apply(&p.Country, upd.Country)
	apply(&p.DeveloperName, upd.DeveloperName)
	apply(&p.DeveloperTitle, upd.DeveloperTitle)
	apply(&p.DeveloperPhone, upd.DeveloperPhone)
	apply(&p.OrganizationName, upd.OrganizationName)
	apply(&p.OrganizationAddress, upd.OrganizationAddress)
	apply(&p.OrganizationIndustry, upd.OrganizationIndustry)

	if p.OrganizationName != "" && p.DeveloperName != "" {
		if p.CompletedAt == nil {
			at := s.now().UTC()
			p.CompletedAt = &at
		}
	} else {
		p.CompletedAt = nil
	}
	if err := s.store.Users(ctx).UpdateProfile(ctx, user.ID, p); err != nil {
		return nil, err
	}
	user.Profile = p
	return user, nil
}

// Authenticate resolves a bearer access token to a principal.
func (s *Service) Authenticate(_ context.Context, accessToken string) (Principal, error) {
	claims, err := s.tokens.Verify(KindAccess, accessToken)
	if err != nil {
		return Principal{}, err
	}
	return Principal{UserID: claims.UserID, Role: claims.Role}, nil
}

// PurgeExpired removes reset tokens and refresh records that can no longer be used.
func (s *Service) PurgeExpired(ctx context.Context) (resets, refresh int64, err error) {
	now := s.now().UTC()
	resets, err = s.store.ResetTokens(ctx).PurgeExpired(ctx, now)
	if err != nil {
		return 0, 0, fmt.Errorf("auth: purge reset tokens: %w", err)
	}
	refresh, err = s.store.RefreshTokens(ctx).PurgeExpired(ctx, now)
	if err != nil {
		return resets, 0, fmt.Errorf("auth: purge refresh tokens: %w", err)
	}
	return resets, refresh, nil
}

func (s *Service) issuePair(ctx context.Context, user *User) (*TokenPair, error) {
	access, accessClaims, err := s.tokens.Issue(KindAccess, user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	refresh, refreshClaims, err := s.tokens.Issue(KindRefresh, user.ID, "")
	if err != nil {
		return nil, err
	}
	rec := &RefreshToken{
		ID:        refreshClaims.ID,
		UserID:    user.ID,
		ExpiresAt: refreshClaims.ExpiresAt.Time,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.RefreshTokens(ctx).Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("auth: record refresh token: %w", err)
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
	}, nil
}

func newResetToken() (string, error) {
	buf := make([]byte, resetTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("auth: generate reset token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func resetEmailBody(link string, ttl time.Duration) string {
	escaped := html.EscapeString(link)
	return fmt.Sprintf(`<p>You requested a password reset. Click the link below to reset your password:</p>
<p><a href="%s">%s</a></p>
<p>This link will expire in %s.</p>`, escaped, escaped, humanDuration(ttl))
}

func humanDuration(d time.Duration) string {
	if d == time.Hour {
		return "1 hour"
	}
	if d%time.Hour == 0 {
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	}
	return d.String()
}
