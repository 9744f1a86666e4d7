package services

import (
	"context"
	"sync"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/pkg/config"

	"github.com/bep/debounce"
	"go.uber.org/zap"
)

// ConnectivityService canonicalizes raw transport connectivity signals into
// the domain connectivity states. Implementation-specific deviations are
// corrected through data-driven quirk profiles keyed by agent name, so adding
// support for a new transport implementation is a configuration change.
type ConnectivityService struct {
	sessions  *SessionService
	quirks    map[string]config.QuirkProfile
	sampler   *StatsSampler
	bandwidth *BandwidthService
	events    ports.EventSink
	logger    *zap.SugaredLogger

	mu         sync.Mutex
	debouncers map[domain.PeerID]func(func())
}

func NewConnectivityService(
	sessions *SessionService,
	quirks map[string]config.QuirkProfile,
	sampler *StatsSampler,
	bandwidth *BandwidthService,
	events ports.EventSink,
	logger *zap.SugaredLogger,
) *ConnectivityService {
	return &ConnectivityService{
		sessions:   sessions,
		quirks:     quirks,
		sampler:    sampler,
		bandwidth:  bandwidth,
		events:     events,
		logger:     logger,
		debouncers: make(map[domain.PeerID]func(func())),
	}
}

// HandleSignal processes one raw connectivity signal from a peer's transport.
func (c *ConnectivityService) HandleSignal(peerID domain.PeerID, raw string) {
	rt, ok := c.sessions.runtime(peerID)
	if !ok || !rt.alive() {
		return
	}

	profile := c.quirks[rt.session.Agent]

	if remapped, ok := profile.SignalRemap[raw]; ok {
		c.logger.Debugw("connectivity signal remapped",
			"peer_id", peerID,
			"agent", rt.session.Agent,
			"raw", raw,
			"remapped", remapped,
		)
		raw = remapped
	}

	state := domain.ConnectivityState(raw)

	// Some implementations bounce back to "new" mid-checking instead of
	// reporting the failure.
	if profile.SpuriousNew && state == domain.ConnectivityNew {
		rt.mu.Lock()
		started := rt.session.Connectivity != domain.ConnectivityNew
		rt.mu.Unlock()
		if started {
			c.logger.Warnw("spurious new signal treated as failure",
				"peer_id", peerID, "agent", rt.session.Agent)
			state = domain.ConnectivityFailed
		}
	}

	// A closed signal can race normal transport replacement during an ICE
	// restart; with a debounce configured it is only trusted if the
	// transport still reports closed once the delay elapses.
	if state == domain.ConnectivityClosed && profile.ClosedDebounce > 0 {
		c.debouncer(peerID, profile.ClosedDebounce)(func() {
			if !rt.alive() {
				return
			}
			if rt.transport.ConnectivitySignal() != string(domain.ConnectivityClosed) {
				c.logger.Debugw("debounced closed signal superseded", "peer_id", peerID)
				return
			}
			c.apply(rt, domain.ConnectivityClosed)
		})
		return
	}

	c.apply(rt, state)
}

func (c *ConnectivityService) apply(rt *peerRuntime, state domain.ConnectivityState) {
	peerID := rt.session.ID

	rt.mu.Lock()
	prev := rt.session.Connectivity
	if prev == state {
		rt.mu.Unlock()
		return
	}
	rt.session.Connectivity = state
	rt.mu.Unlock()

	c.logger.Infow("connectivity changed",
		"peer_id", peerID,
		"from", prev,
		"to", state,
	)
	c.events.ConnectivityChanged(peerID, state)

	switch {
	case state.IsConnectedLike():
		rt.session.Connected.Store(true)
		if rt.session.MarkSamplerStarted() {
			c.sampler.Start(rt)
		}
		c.bandwidth.OnConnected(rt.session)

	case state == domain.ConnectivityFailed:
		rt.session.Connected.Store(false)
		// Secondary signal: a hard failure usually means candidate
		// exchange itself broke down.
		c.events.ConnectivityChanged(peerID, domain.ConnectivityTrickleFailed)

	case state == domain.ConnectivityDisconnected:
		rt.session.Connected.Store(false)

	case state == domain.ConnectivityClosed:
		rt.session.Connected.Store(false)
		go func() {
			if err := c.sessions.RemovePeer(context.Background(), peerID); err != nil && err != domain.ErrPeerNotFound {
				c.logger.Warnw("teardown after closed signal failed", "peer_id", peerID, "error", err)
			}
		}()
	}
}

// debouncer returns the per-peer closed-signal debouncer, creating it on
// first use.
func (c *ConnectivityService) debouncer(peerID domain.PeerID, delay time.Duration) func(func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.debouncers[peerID]
	if !ok {
		d = debounce.New(delay)
		c.debouncers[peerID] = d
	}
	return d
}

// Forget drops the per-peer debounce state. Called on peer removal.
func (c *ConnectivityService) Forget(peerID domain.PeerID) {
	c.mu.Lock()
	delete(c.debouncers, peerID)
	c.mu.Unlock()
}
