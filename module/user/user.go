package user

import (
	"context"
	"sync"

	"MeetChat/module/user/model"
	"MeetChat/tools/errs"
)

// Directory answers the profile questions chat asks: may this user send, and on which plan.
type Directory interface {
	// Profile returns errs.ErrNotFound for unknown users.
	Profile(ctx context.Context, userID string) (*model.Profile, error)
}

// Memory is an in-process Directory seeded by callers.
type Memory struct {
	mu       sync.RWMutex
	profiles map[string]model.Profile
}

func NewMemory(profiles ...model.Profile) *Memory {
	m := &Memory{profiles: make(map[string]model.Profile, len(profiles))}
	for _, p := range profiles {
		m.profiles[p.UserID] = p
	}
	return m
}

func (m *Memory) Put(p model.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.UserID] = p
}

func (m *Memory) Profile(_ context.Context, userID string) (*model.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("profile", "userId", userID)
	}
	return &p, nil
}
