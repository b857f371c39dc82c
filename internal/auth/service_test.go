package auth

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"
)

type sentMail struct {
	to, subject, body string
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *recordingMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func (m *recordingMailer) last(t *testing.T) sentMail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("expected an email to be sent")
	}
	return m.sent[len(m.sent)-1]
}

var resetTokenPattern = regexp.MustCompile(`token=([0-9a-f]{64})`)

type fixture struct {
	svc    *Service
	store  *MemoryStore
	clock  *fakeClock
	mailer *recordingMailer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newFakeClock()
	store := NewMemoryStore()
	mailer := &recordingMailer{}
	svc, err := NewService(store, newTestTokens(t, clock),
		WithClock(clock.Now),
		WithMailer(mailer),
		WithAppURL("https://portal.example.com/"),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &fixture{svc: svc, store: store, clock: clock, mailer: mailer}
}

func (f *fixture) register(t *testing.T, username, email, password string) *Session {
	t.Helper()
	sess, err := f.svc.Register(context.Background(), RegisterInput{
		Username: username, Email: email, Password: password, Role: RoleUser,
	})
	if err != nil {
		t.Fatalf("Register(%s): %v", username, err)
	}
	return sess
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	sess := f.register(t, "alice", "alice@example.com", "s3cret")

	if sess.AccessToken == "" || sess.RefreshToken == "" {
		t.Fatal("expected token pair")
	}
	if sess.User.Role != RoleUser || !sess.User.CreatedAt.Equal(f.clock.Now()) {
		t.Fatalf("unexpected user: %+v", sess.User)
	}
	if !strings.HasPrefix(sess.User.ID, "usr-") {
		t.Fatalf("unexpected id %q", sess.User.ID)
	}

	raw, err := json.Marshal(sess)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(raw), "$2a$") || strings.Contains(strings.ToLower(string(raw)), "password") {
		t.Fatalf("session leaks password material: %s", raw)
	}
}

func TestRegisterAdminRole(t *testing.T) {
	f := newFixture(t)
	sess, err := f.svc.Register(context.Background(), RegisterInput{
		Username: "root", Email: "root@example.com", Password: "s3cret", Role: RoleAdmin,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	principal, err := f.svc.Authenticate(context.Background(), sess.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if principal.Role != RoleAdmin {
		t.Fatalf("unexpected role %q", principal.Role)
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]RegisterInput{
		"missing username": {Email: "a@example.com", Password: "x", Role: RoleUser},
		"blank username":   {Username: "   ", Email: "a@example.com", Password: "x", Role: RoleUser},
		"missing email":    {Username: "a", Password: "x", Role: RoleUser},
		"missing password": {Username: "a", Email: "a@example.com", Role: RoleUser},
		"missing role":     {Username: "a", Email: "a@example.com", Password: "x"},
		"unknown role":     {Username: "a", Email: "a@example.com", Password: "x", Role: "root"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), in)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestRegisterConflicts(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "alice@example.com", "s3cret")

	_, err := f.svc.Register(context.Background(), RegisterInput{Username: "alice", Email: "other@example.com", Password: "x", Role: RoleUser})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected conflict on username, got %v", err)
	}
	_, err = f.svc.Register(context.Background(), RegisterInput{Username: "bob", Email: "ALICE@example.com", Password: "x", Role: RoleUser})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected conflict on email, got %v", err)
	}
}

func TestRegisterConcurrentSameUsername(t *testing.T) {
	f := newFixture(t)
	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Register(context.Background(), RegisterInput{
				Username: "racer", Email: "racer" + string(rune('a'+i)) + "@example.com", Password: "x", Role: RoleUser,
			})
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else if !errors.Is(err, ErrAlreadyExists) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	if successes != 1 {
		t.Fatalf("expected exactly one registration, got %d", successes)
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "alice@example.com", "s3cret")
	f.clock.Advance(time.Minute)

	sess, err := f.svc.Login(context.Background(), "alice", "s3cret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if sess.User.LastLogin == nil || !sess.User.LastLogin.Equal(f.clock.Now()) {
		t.Fatalf("lastLogin not updated: %+v", sess.User.LastLogin)
	}

	stored, _ := f.store.Users(context.Background()).Find(context.Background(), sess.User.ID)
	if stored.LastLogin == nil {
		t.Fatal("lastLogin not persisted")
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "alice@example.com", "s3cret")

	_, wrongPassword := f.svc.Login(context.Background(), "alice", "nope")
	_, unknownUser := f.svc.Login(context.Background(), "mallory", "nope")

	if !errors.Is(wrongPassword, ErrUnauthorized) || !errors.Is(unknownUser, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v / %v", wrongPassword, unknownUser)
	}
	if wrongPassword.Error() != unknownUser.Error() {
		t.Fatalf("failures differ: %q vs %q", wrongPassword, unknownUser)
	}

	if _, err := f.svc.Login(context.Background(), "", "x"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRefreshTokens(t *testing.T) {
	f := newFixture(t)
	sess := f.register(t, "alice", "alice@example.com", "s3cret")

	first, err := f.svc.RefreshTokens(context.Background(), sess.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshTokens: %v", err)
	}
	if first.AccessToken == "" || first.RefreshToken == sess.RefreshToken {
		t.Fatal("expected a fresh pair")
	}

	// the original refresh token is not single-use
	if _, err := f.svc.RefreshTokens(context.Background(), sess.RefreshToken); err != nil {
		t.Fatalf("reuse should succeed: %v", err)
	}

	principal, err := f.svc.Authenticate(context.Background(), first.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if principal.UserID != sess.User.ID || principal.Role != RoleUser {
		t.Fatalf("unexpected principal: %+v", principal)
	}

	f.clock.Advance(7*24*time.Hour + time.Minute)
	if _, err := f.svc.RefreshTokens(context.Background(), sess.RefreshToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestRefreshRederivesRole(t *testing.T) {
	f := newFixture(t)
	sess := f.register(t, "alice", "alice@example.com", "s3cret")

	f.store.mu.Lock()
	f.store.users[sess.User.ID].Role = RoleAdmin
	f.store.mu.Unlock()

	pair, err := f.svc.RefreshTokens(context.Background(), sess.RefreshToken)
	if err != nil {
		t.Fatalf("RefreshTokens: %v", err)
	}
	principal, err := f.svc.Authenticate(context.Background(), pair.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if principal.Role != RoleAdmin {
		t.Fatalf("expected role from store %q, got %q", RoleAdmin, principal.Role)
	}
}

func TestRefreshRejectsRemovedUser(t *testing.T) {
	f := newFixture(t)
	sess := f.register(t, "alice", "alice@example.com", "s3cret")

	f.store.mu.Lock()
	delete(f.store.users, sess.User.ID)
	f.store.mu.Unlock()

	_, err := f.svc.RefreshTokens(context.Background(), sess.RefreshToken)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatalf("removed user must not surface as not found: %v", err)
	}
}

func TestRefreshRejectsAccessTokenAndMissingInput(t *testing.T) {
	f := newFixture(t)
	sess := f.register(t, "alice", "alice@example.com", "s3cret")

	if _, err := f.svc.RefreshTokens(context.Background(), sess.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	if _, err := f.svc.RefreshTokens(context.Background(), " "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	f := newFixture(t)
	sess := f.register(t, "alice", "alice@example.com", "s3cret")

	if err := f.svc.Logout(context.Background(), sess.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := f.svc.RefreshTokens(context.Background(), sess.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected revoked token to fail, got %v", err)
	}
	if err := f.svc.Logout(context.Background(), "garbage"); err != nil {
		t.Fatalf("logout with unusable token should be a no-op: %v", err)
	}
}

func TestRequestPasswordResetUnknownEmail(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.RequestPasswordReset(context.Background(), "ghost@example.com"); err != nil {
		t.Fatalf("unknown email must be acknowledged: %v", err)
	}
	if len(f.mailer.sent) != 0 {
		t.Fatal("no mail expected for unknown address")
	}
	if err := f.svc.RequestPasswordReset(context.Background(), ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	f := newFixture(t)
	sess := f.register(t, "alice", "alice@example.com", "s3cret")

	if err := f.svc.RequestPasswordReset(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	mail := f.mailer.last(t)
	if mail.to != "alice@example.com" || mail.subject != "Password Reset Request" {
		t.Fatalf("unexpected mail: %+v", mail)
	}
	if !strings.Contains(mail.body, "https://portal.example.com/reset-password?token=") {
		t.Fatalf("reset link missing: %s", mail.body)
	}
	m := resetTokenPattern.FindStringSubmatch(mail.body)
	if m == nil {
		t.Fatalf("token not found in %s", mail.body)
	}
	token := m[1]

	if err := f.svc.ConfirmPasswordReset(context.Background(), strings.Repeat("0", 64), "new-pass"); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("unknown token must fail, got %v", err)
	}
	if err := f.svc.ConfirmPasswordReset(context.Background(), token, "new-pass"); err != nil {
		t.Fatalf("ConfirmPasswordReset: %v", err)
	}
	if err := f.svc.ConfirmPasswordReset(context.Background(), token, "again"); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("token must be single-use, got %v", err)
	}

	if _, err := f.svc.Login(context.Background(), "alice", "s3cret"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old password must fail, got %v", err)
	}
	if _, err := f.svc.Login(context.Background(), "alice", "new-pass"); err != nil {
		t.Fatalf("new password must work: %v", err)
	}
	if _, err := f.svc.RefreshTokens(context.Background(), sess.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("refresh tokens issued before reset must be revoked, got %v", err)
	}
}

func TestPasswordResetExpiry(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "alice@example.com", "s3cret")
	if err := f.svc.RequestPasswordReset(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	token := resetTokenPattern.FindStringSubmatch(f.mailer.last(t).body)[1]

	f.clock.Advance(time.Hour)
	if err := f.svc.ConfirmPasswordReset(context.Background(), token, "new-pass"); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expired token must fail, got %v", err)
	}
}

func TestConfirmPasswordResetConcurrent(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "alice@example.com", "s3cret")
	if err := f.svc.RequestPasswordReset(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	token := resetTokenPattern.FindStringSubmatch(f.mailer.last(t).body)[1]

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.svc.ConfirmPasswordReset(context.Background(), token, "new-pass"); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if successes != 1 {
		t.Fatalf("expected exactly one successful confirm, got %d", successes)
	}
}

func TestRequestPasswordResetMailFailure(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "alice@example.com", "s3cret")
	f.mailer.err = errors.New("smtp down")

	err := f.svc.RequestPasswordReset(context.Background(), "alice@example.com")
	if err == nil || errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected delivery error, got %v", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	sess := f.register(t, "alice", "alice@example.com", "s3cret")

	org := "Acme Logistics"
	user, err := f.svc.UpdateProfile(context.Background(), sess.User.ID, ProfileUpdate{OrganizationName: &org})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if user.Profile.CompletedAt != nil {
		t.Fatal("profile should not be complete without developer name")
	}

	dev := " Jane Doe "
	user, err = f.svc.UpdateProfile(context.Background(), sess.User.ID, ProfileUpdate{DeveloperName: &dev})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if user.Profile.OrganizationName != org || user.Profile.DeveloperName != "Jane Doe" {
		t.Fatalf("unexpected profile: %+v", user.Profile)
	}
	if user.Profile.CompletedAt == nil {
		t.Fatal("profile should be complete")
	}

	if _, err := f.svc.UpdateProfile(context.Background(), "usr-missing", ProfileUpdate{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPurgeExpired(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice", "alice@example.com", "s3cret")
	if err := f.svc.RequestPasswordReset(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}

	resets, refresh, err := f.svc.PurgeExpired(context.Background())
	if err != nil || resets != 0 || refresh != 0 {
		t.Fatalf("nothing should expire yet: %d %d %v", resets, refresh, err)
	}

	f.clock.Advance(8 * 24 * time.Hour)
	resets, refresh, err = f.svc.PurgeExpired(context.Background())
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if resets != 1 || refresh != 1 {
		t.Fatalf("expected 1 reset and 1 refresh purged, got %d and %d", resets, refresh)
	}
}
