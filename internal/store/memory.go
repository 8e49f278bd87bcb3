package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zaqqye/relay/internal/models"
)

// Memory keeps users and tokens in process memory. It backs single-node
// deployments without Postgres and the test suite.
type Memory struct {
	mu     sync.RWMutex
	nextID uint
	users  map[string]*models.User        // keyed by public UserID
	tokens map[string]*models.IssuedToken // keyed by jti
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:  make(map[string]*models.User),
		tokens: make(map[string]*models.IssuedToken),
	}
}

func (m *Memory) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == user.Username || u.UserID == user.UserID {
			return ErrDuplicate
		}
	}
	m.nextID++
	user.ID = m.nextID
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	cp := *user
	m.users[user.UserID] = &cp
	return nil
}

func (m *Memory) UserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) UserByPublicID(_ context.Context, userID string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) ListUsers(_ context.Context) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.users[user.UserID]
	if !ok {
		return ErrNotFound
	}
	for _, u := range m.users {
		if u.UserID != user.UserID && u.Username == user.Username {
			return ErrDuplicate
		}
	}
	user.ID = cur.ID
	user.CreatedAt = cur.CreatedAt
	user.UpdatedAt = time.Now()
	cp := *user
	m.users[user.UserID] = &cp
	return nil
}

func (m *Memory) DeleteUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return ErrNotFound
	}
	delete(m.users, userID)
	return nil
}

func (m *Memory) CountByRole(_ context.Context, role string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, u := range m.users {
		if u.Role == role {
			n++
		}
	}
	return n, nil
}

func (m *Memory) RecordToken(_ context.Context, tok *models.IssuedToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[tok.TokenID]; ok {
		return ErrDuplicate
	}
	m.nextID++
	tok.ID = m.nextID
	tok.CreatedAt = time.Now()
	cp := *tok
	m.tokens[tok.TokenID] = &cp
	return nil
}

func (m *Memory) TokenByID(_ context.Context, jti string) (*models.IssuedToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[jti]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) RevokeToken(_ context.Context, jti string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[jti]
	if !ok {
		return ErrNotFound
	}
	if t.RevokedAt == nil {
		now := time.Now()
		t.RevokedAt = &now
	}
	return nil
}
