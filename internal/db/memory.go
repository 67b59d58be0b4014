package db

import (
	"context"
	"sync"

	"github.com/patrickwarner/adcortex-go/pkg/models"
)

// MemoryRepository is a process-local SessionRepository used when no
// Postgres DSN is configured.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]models.SessionInfo
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{sessions: make(map[string]models.SessionInfo)}
}

func (m *MemoryRepository) Create(_ context.Context, s models.SessionInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.SessionID]; ok {
		return ErrSessionExists
	}
	m.sessions[s.SessionID] = s
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, id string) (models.SessionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return models.SessionInfo{}, ErrSessionNotFound
	}
	return s, nil
}

func (m *MemoryRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	return nil
}
