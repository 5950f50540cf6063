package memory

import (
	"context"
	"fmt"
	"sync"

	"camlink/internal/core/domain"
	"camlink/internal/core/ports"
)

type MemorySessionRepository struct {
	sessions map[domain.SessionID]*domain.Session
	byOwner  map[domain.EndpointID]domain.SessionID
	mu       sync.RWMutex
}

func NewMemorySessionRepository() ports.SessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[domain.SessionID]*domain.Session),
		byOwner:  make(map[domain.EndpointID]domain.SessionID),
	}
}

func (r *MemorySessionRepository) Create(ctx context.Context, session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; exists {
		return fmt.Errorf("session already exists: %s", session.ID)
	}
	if _, exists := r.byOwner[session.Owner]; exists {
		return domain.ErrAlreadyBroadcasting
	}

	copied := *session
	r.sessions[session.ID] = &copied
	r.byOwner[session.Owner] = session.ID
	return nil
}

func (r *MemorySessionRepository) GetByID(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[id]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}

	copied := *session
	return &copied, nil
}

func (r *MemorySessionRepository) GetByOwner(ctx context.Context, owner domain.EndpointID) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, exists := r.byOwner[owner]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}

	copied := *r.sessions[id]
	return &copied, nil
}

func (r *MemorySessionRepository) Update(ctx context.Context, session *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; !exists {
		return domain.ErrSessionNotFound
	}

	copied := *session
	r.sessions[session.ID] = &copied
	return nil
}

func (r *MemorySessionRepository) Delete(ctx context.Context, id domain.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.sessions[id]
	if !exists {
		return domain.ErrSessionNotFound
	}

	delete(r.byOwner, session.Owner)
	delete(r.sessions, id)
	return nil
}

func (r *MemorySessionRepository) ListActive(ctx context.Context) ([]*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := make([]*domain.Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		copied := *session
		active = append(active, &copied)
	}
	return active, nil
}
