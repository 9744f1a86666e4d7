package services

import (
	"context"
	"sync"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/pkg/retry"

	"go.uber.org/zap"
)

// peerRuntime binds a PeerSession to its transport and lifetime. The mutex
// serializes all orchestration callbacks for the peer; the context is
// cancelled on removal so that late asynchronous completions become no-ops.
type peerRuntime struct {
	mu        sync.Mutex
	session   *domain.PeerSession
	transport ports.Transport
	ctx       context.Context
	cancel    context.CancelFunc
}

// alive reports whether the peer has not been torn down yet. Every async
// completion checks this before touching state.
func (rt *peerRuntime) alive() bool {
	return rt.ctx.Err() == nil
}

// AdmitOptions fixes the remote endpoint properties at admission time.
type AdmitOptions struct {
	Weight          uint64
	Agent           string
	Relay           bool
	LegacyAgent     bool
	TrickleICE      bool
	AllowICERestart bool
}

// SessionService owns the peer session registry and the per-peer runtime
// state. It is the only component allowed to create or destroy sessions.
type SessionService struct {
	registry ports.SessionRegistry
	events   ports.EventSink
	logger   *zap.SugaredLogger

	mu    sync.RWMutex
	peers map[domain.PeerID]*peerRuntime

	// Bound after construction; same-package collaborators.
	connectivity *ConnectivityService
	negotiation  *NegotiationService
	sampler      *StatsSampler
	bandwidth    *BandwidthService

	retryCfg retry.Config
}

func NewSessionService(registry ports.SessionRegistry, events ports.EventSink, logger *zap.SugaredLogger) *SessionService {
	return &SessionService{
		registry: registry,
		events:   events,
		logger:   logger,
		peers:    make(map[domain.PeerID]*peerRuntime),
		retryCfg: retry.DefaultConfig(),
	}
}

// Bind wires the collaborating services. Called once during assembly.
func (s *SessionService) Bind(connectivity *ConnectivityService, negotiation *NegotiationService, sampler *StatsSampler, bandwidth *BandwidthService) {
	s.connectivity = connectivity
	s.negotiation = negotiation
	s.sampler = sampler
	s.bandwidth = bandwidth
}

// AdmitPeer creates the session for a newly admitted remote endpoint and
// subscribes to its transport signals.
func (s *SessionService) AdmitPeer(ctx context.Context, peerID domain.PeerID, transport ports.Transport, opts AdmitOptions) (*domain.PeerSession, error) {
	session := domain.NewPeerSession(peerID, opts.Weight)
	session.Agent = opts.Agent
	session.Relay = opts.Relay
	session.LegacyAgent = opts.LegacyAgent
	session.TrickleICE = opts.TrickleICE
	session.AllowICERestart = opts.AllowICERestart

	peerCtx, cancel := context.WithCancel(context.Background())
	rt := &peerRuntime{
		session:   session,
		transport: transport,
		ctx:       peerCtx,
		cancel:    cancel,
	}

	s.mu.Lock()
	if _, exists := s.peers[peerID]; exists {
		s.mu.Unlock()
		cancel()
		return nil, domain.ErrPeerAlreadyAdmitted
	}
	s.peers[peerID] = rt
	s.mu.Unlock()

	if err := retry.Do(ctx, s.retryCfg, func() error {
		return s.registry.Add(ctx, session)
	}); err != nil {
		s.logger.Warnw("failed to mirror peer into registry", "peer_id", peerID, "error", err)
	}

	transport.OnConnectivityChange(func(raw string) {
		s.connectivity.HandleSignal(peerID, raw)
	})
	transport.OnGatheringComplete(func() {
		s.negotiation.OnGatheringComplete(peerID)
	})

	s.logger.Infow("peer admitted",
		"peer_id", peerID,
		"weight", opts.Weight,
		"relay", opts.Relay,
		"trickle", opts.TrickleICE,
	)
	return session, nil
}

// RemovePeer tears a peer down: cancels its lifetime context, stops its
// sampler and bandwidth window, transitions negotiation to closed and closes
// the transport. In-flight completions for the peer become no-ops.
func (s *SessionService) RemovePeer(ctx context.Context, peerID domain.PeerID) error {
	s.mu.Lock()
	rt, exists := s.peers[peerID]
	if exists {
		delete(s.peers, peerID)
	}
	s.mu.Unlock()

	if !exists {
		s.logger.Debugw("remove for unknown peer dropped", "peer_id", peerID)
		return domain.ErrPeerNotFound
	}

	rt.cancel()

	rt.mu.Lock()
	rt.session.State = domain.StateClosed
	rt.session.PendingLocal = nil
	rt.session.PrevSample = nil
	rt.mu.Unlock()

	s.bandwidth.Forget(peerID)
	s.connectivity.Forget(peerID)

	if err := rt.transport.Close(); err != nil {
		s.logger.Warnw("error closing transport on peer removal", "peer_id", peerID, "error", err)
	}

	if err := s.registry.Remove(ctx, peerID); err != nil {
		s.logger.Warnw("failed to remove peer from registry", "peer_id", peerID, "error", err)
	}

	s.logger.Infow("peer removed", "peer_id", peerID)
	return nil
}

// AddRemoteCandidate feeds a remote candidate into the peer's transport.
func (s *SessionService) AddRemoteCandidate(ctx context.Context, peerID domain.PeerID, candidate string) error {
	rt, ok := s.runtime(peerID)
	if !ok {
		return domain.ErrPeerNotFound
	}
	if !rt.alive() {
		return domain.ErrPeerClosed
	}
	return rt.transport.AddRemoteCandidate(ctx, candidate)
}

// Session returns the session record for a peer.
func (s *SessionService) Session(peerID domain.PeerID) (*domain.PeerSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rt, ok := s.peers[peerID]
	if !ok {
		return nil, false
	}
	return rt.session, true
}

// Sessions lists all live sessions.
func (s *SessionService) Sessions() []*domain.PeerSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.PeerSession, 0, len(s.peers))
	for _, rt := range s.peers {
		out = append(out, rt.session)
	}
	return out
}

func (s *SessionService) runtime(peerID domain.PeerID) (*peerRuntime, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rt, ok := s.peers[peerID]
	return rt, ok
}
