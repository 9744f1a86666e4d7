package ports

import (
	"context"

	"peerlink/internal/core/domain"
)

// SessionRegistry tracks admitted peer sessions for presence and listing.
// The live runtime (transport handle, timers) stays with the session
// service; the registry only mirrors session records.
type SessionRegistry interface {
	Add(ctx context.Context, session *domain.PeerSession) error
	Get(ctx context.Context, peerID domain.PeerID) (*domain.PeerSession, error)
	Remove(ctx context.Context, peerID domain.PeerID) error
	List(ctx context.Context) ([]*domain.PeerSession, error)
	Touch(ctx context.Context, peerID domain.PeerID) error
}
