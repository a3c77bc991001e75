package service

import (
	"context"
	"sync"
	"time"
)

// LocalStamper keeps per-room monotonic timestamps within one process.
type LocalStamper struct {
	mu   sync.Mutex
	last map[string]int64
}

func NewLocalStamper() *LocalStamper {
	return &LocalStamper{last: make(map[string]int64)}
}

func (s *LocalStamper) Stamp(_ context.Context, roomID string, now time.Time) (int64, error) {
	ms := now.UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	if last := s.last[roomID]; ms <= last {
		ms = last + 1
	}
	s.last[roomID] = ms
	return ms, nil
}
