package services

import (
	"context"

	"peerlink/internal/core/domain"

	"go.uber.org/zap"
)

// RenegotiationService decides whether a local stream change actually
// requires a fresh offer. Track replacement keeps the synchronization sources
// stable and needs no renegotiation; only a changed sender set does.
type RenegotiationService struct {
	sessions *SessionService
	logger   *zap.SugaredLogger
}

func NewRenegotiationService(sessions *SessionService, logger *zap.SugaredLogger) *RenegotiationService {
	return &RenegotiationService{sessions: sessions, logger: logger}
}

// Required compares the transmitting sender set against the snapshot taken at
// the last decision, records the new snapshot, and reports whether the set
// changed.
func (r *RenegotiationService) Required(ctx context.Context, peerID domain.PeerID) (bool, error) {
	rt, ok := r.sessions.runtime(peerID)
	if !ok {
		return false, domain.ErrPeerNotFound
	}

	snapshot, err := rt.transport.ListActiveSenders(ctx)
	if err != nil {
		return false, err
	}
	if !rt.alive() {
		return false, domain.ErrPeerClosed
	}

	rt.mu.Lock()
	prev := rt.session.LastSenders
	rt.session.LastSenders = snapshot
	rt.mu.Unlock()

	changed := !snapshot.Equal(prev)
	r.logger.Debugw("renegotiation decision",
		"peer_id", peerID,
		"senders", len(snapshot),
		"changed", changed,
	)
	return changed, nil
}
