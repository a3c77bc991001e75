package storage

import (
	"context"
	"sync"
	"time"
)

// MemRegistry keeps the registry in process. Used by single-node deployments and tests.
type MemRegistry struct {
	mu     sync.Mutex
	ttl    time.Duration
	clock  func() time.Time
	byConn map[string]ConnRecord          // connId -> 记录
	byUser map[string]map[string]struct{} // userId -> connId 集合
}

func NewMemRegistry(ttl time.Duration, clock func() time.Time) *MemRegistry {
	if ttl <= 0 {
		ttl = DefaultConnTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &MemRegistry{
		ttl:    ttl,
		clock:  clock,
		byConn: make(map[string]ConnRecord),
		byUser: make(map[string]map[string]struct{}),
	}
}

// ===== 注册 / 注销 =====

func (m *MemRegistry) Register(_ context.Context, rec ConnRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if rec.ConnectedAt.IsZero() {
		rec.ConnectedAt = now
	}
	rec.ExpiresAt = now.Add(m.ttl)
	if old, ok := m.byConn[rec.ConnectionID]; ok && old.UserID != rec.UserID {
		m.dropIndex(old.UserID, rec.ConnectionID)
	}
	m.byConn[rec.ConnectionID] = rec
	set, ok := m.byUser[rec.UserID]
	if !ok {
		set = make(map[string]struct{})
		m.byUser[rec.UserID] = set
	}
	set[rec.ConnectionID] = struct{}{}
	return nil
}

func (m *MemRegistry) Unregister(_ context.Context, connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byConn[connID]
	if !ok {
		return nil
	}
	m.dropIndex(rec.UserID, connID)
	delete(m.byConn, connID)
	return nil
}

func (m *MemRegistry) ConnectionsFor(_ context.Context, userID string) ([]ConnRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	out := make([]ConnRecord, 0, len(m.byUser[userID]))
	for id := range m.byUser[userID] {
		rec, ok := m.byConn[id]
		if !ok || !rec.ExpiresAt.After(now) {
			delete(m.byConn, id)
			m.dropIndex(userID, id)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (m *MemRegistry) Lookup(_ context.Context, connID string) (ConnRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byConn[connID]
	if !ok || !rec.ExpiresAt.After(m.clock()) {
		return ConnRecord{}, false, nil
	}
	return rec, true, nil
}

func (m *MemRegistry) Touch(_ context.Context, connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byConn[connID]
	if !ok {
		return nil
	}
	rec.ExpiresAt = m.clock().Add(m.ttl)
	m.byConn[connID] = rec
	return nil
}

func (m *MemRegistry) dropIndex(userID, connID string) {
	set := m.byUser[userID]
	delete(set, connID)
	if len(set) == 0 {
		delete(m.byUser, userID)
	}
}
