package memory

import (
	"context"
	"sync"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
)

type MemorySessionRegistry struct {
	sessions map[domain.PeerID]*domain.PeerSession
	touched  map[domain.PeerID]time.Time
	mu       sync.RWMutex
}

func NewMemorySessionRegistry() ports.SessionRegistry {
	return &MemorySessionRegistry{
		sessions: make(map[domain.PeerID]*domain.PeerSession),
		touched:  make(map[domain.PeerID]time.Time),
	}
}

func (r *MemorySessionRegistry) Add(ctx context.Context, session *domain.PeerSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.ID]; exists {
		return domain.ErrPeerAlreadyAdmitted
	}

	r.sessions[session.ID] = session
	r.touched[session.ID] = time.Now()
	return nil
}

func (r *MemorySessionRegistry) Get(ctx context.Context, peerID domain.PeerID) (*domain.PeerSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.sessions[peerID]
	if !exists {
		return nil, domain.ErrPeerNotFound
	}
	return session, nil
}

func (r *MemorySessionRegistry) Remove(ctx context.Context, peerID domain.PeerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[peerID]; !exists {
		return domain.ErrPeerNotFound
	}

	delete(r.sessions, peerID)
	delete(r.touched, peerID)
	return nil
}

func (r *MemorySessionRegistry) List(ctx context.Context) ([]*domain.PeerSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*domain.PeerSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		result = append(result, session)
	}
	return result, nil
}

func (r *MemorySessionRegistry) Touch(ctx context.Context, peerID domain.PeerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[peerID]; !exists {
		return domain.ErrPeerNotFound
	}
	r.touched[peerID] = time.Now()
	return nil
}
