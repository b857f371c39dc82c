package auth

import (
	"context"
	"strings"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps auth data in process memory. Suitable for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]*User
	resets  map[string]*PasswordResetToken // keyed by token value
	refresh map[string]*RefreshToken
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*User),
		resets:  make(map[string]*PasswordResetToken),
		refresh: make(map[string]*RefreshToken),
	}
}

func (s *MemoryStore) Users(context.Context) UserStore                 { return memUsers{s} }
func (s *MemoryStore) ResetTokens(context.Context) ResetTokenStore     { return memResets{s} }
func (s *MemoryStore) RefreshTokens(context.Context) RefreshTokenStore { return memRefresh{s} }

func cloneUser(u *User) *User {
	c := *u
	if u.LastLogin != nil {
		t := *u.LastLogin
		c.LastLogin = &t
	}
	if u.Profile.CompletedAt != nil {
		t := *u.Profile.CompletedAt
		c.Profile.CompletedAt = &t
	}
	return &c
}

type memUsers struct{ s *MemoryStore }

func (m memUsers) Create(_ context.Context, u *User) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.users[u.ID]; ok {
		return ErrAlreadyExists
	}
	for _, existing := range m.s.users {
		if existing.Username == u.Username || strings.EqualFold(existing.Email, u.Email) {
			return ErrAlreadyExists
		}
	}
	m.s.users[u.ID] = cloneUser(u)
	return nil
}

func (m memUsers) Find(_ context.Context, id string) (*User, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	u, ok := m.s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (m memUsers) find(match func(*User) bool) (*User, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, u := range m.s.users {
		if match(u) {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (m memUsers) FindByUsername(_ context.Context, username string) (*User, error) {
	return m.find(func(u *User) bool { return u.Username == username })
}

func (m memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	return m.find(func(u *User) bool { return strings.EqualFold(u.Email, email) })
}

func (m memUsers) update(id string, fn func(*User)) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return ErrNotFound
	}
	fn(u)
	return nil
}

func (m memUsers) UpdateLastLogin(_ context.Context, userID string, at time.Time) error {
	return m.update(userID, func(u *User) { u.LastLogin = &at })
}

func (m memUsers) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	return m.update(userID, func(u *User) { u.PasswordHash = passwordHash })
}

func (m memUsers) UpdateProfile(_ context.Context, userID string, profile Profile) error {
	return m.update(userID, func(u *User) { u.Profile = profile })
}

type memResets struct{ s *MemoryStore }

func (m memResets) Create(_ context.Context, tok *PasswordResetToken) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.users[tok.UserID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.s.resets[tok.Token]; ok {
		return ErrAlreadyExists
	}
	c := *tok
	m.s.resets[tok.Token] = &c
	return nil
}

func (m memResets) Consume(_ context.Context, token string, now time.Time) (*PasswordResetToken, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	tok, ok := m.s.resets[token]
	if !ok || !tok.ExpiresAt.After(now) {
		return nil, ErrNotFound
	}
	delete(m.s.resets, token)
	return tok, nil
}

func (m memResets) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var n int64
	for k, tok := range m.s.resets {
		if !tok.ExpiresAt.After(now) {
			delete(m.s.resets, k)
			n++
		}
	}
	return n, nil
}

type memRefresh struct{ s *MemoryStore }

func (m memRefresh) Create(_ context.Context, tok *RefreshToken) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.refresh[tok.ID]; ok {
		return ErrAlreadyExists
	}
	c := *tok
	m.s.refresh[tok.ID] = &c
	return nil
}

func (m memRefresh) Find(_ context.Context, id string) (*RefreshToken, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	tok, ok := m.s.refresh[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *tok
	return &c, nil
}

func (m memRefresh) Revoke(_ context.Context, id string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	tok, ok := m.s.refresh[id]
	if !ok {
		return ErrNotFound
	}
	tok.Revoked = true
	return nil
}

func (m memRefresh) RevokeByUser(_ context.Context, userID string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, tok := range m.s.refresh {
		if tok.UserID == userID {
			tok.Revoked = true
		}
	}
	return nil
}

func (m memRefresh) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var n int64
	for k, tok := range m.s.refresh {
		if !tok.ExpiresAt.After(now) {
			delete(m.s.refresh, k)
			n++
		}
	}
	return n, nil
}
