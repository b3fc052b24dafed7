package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/server/models"
)

// MemoryStore keeps sessions in process memory. Returned sessions are
// copies, so callers cannot mutate stored state.
type MemoryStore struct {
	mu      sync.Mutex
	byHash  map[string]*models.Session
	byOwner map[string]map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHash:  make(map[string]*models.Session),
		byOwner: make(map[string]map[string]struct{}),
	}
}

func (m *MemoryStore) Create(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byHash[s.TokenHash]; ok {
		return common.ErrAlreadyExists
	}

	m.byHash[s.TokenHash] = clone(s)
	hashes, ok := m.byOwner[s.OwnerID]
	if !ok {
		hashes = make(map[string]struct{})
		m.byOwner[s.OwnerID] = hashes
	}
	hashes[s.TokenHash] = struct{}{}
	return nil
}

func (m *MemoryStore) FindByTokenHash(_ context.Context, tokenHash string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byHash[tokenHash]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return clone(s), nil
}

func (m *MemoryStore) RevokeOwner(_ context.Context, ownerID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for h := range m.byOwner[ownerID] {
		s := m.byHash[h]
		if s.Revoked() || s.ExpiredAt(at) {
			continue
		}
		t := at
		s.RevokedAt = &t
		n++
	}
	return n, nil
}

func (m *MemoryStore) RevokeTokenHash(_ context.Context, tokenHash string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byHash[tokenHash]
	if !ok {
		return common.ErrorNotFound
	}
	if !s.Revoked() {
		t := at
		s.RevokedAt = &t
	}
	return nil
}

func (m *MemoryStore) DeleteInactive(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for h, s := range m.byHash {
		if !s.Revoked() && !s.ExpiredAt(now) {
			continue
		}
		delete(m.byHash, h)
		if owned := m.byOwner[s.OwnerID]; owned != nil {
			delete(owned, h)
			if len(owned) == 0 {
				delete(m.byOwner, s.OwnerID)
			}
		}
		n++
	}
	return n, nil
}

// Len returns the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byHash)
}

func clone(s *models.Session) *models.Session {
	c := *s
	if s.RevokedAt != nil {
		t := *s.RevokedAt
		c.RevokedAt = &t
	}
	return &c
}
