package domain

import (
	"time"

	"go.uber.org/atomic"
)

type PeerID string

// PeerSession is the exclusively-owned negotiation state for one remote
// endpoint. It is created when the peer is admitted and destroyed when the
// peer leaves or its transport closes. All mutation goes through the
// orchestration services, never through shared maps.
type PeerSession struct {
	ID     PeerID
	Weight uint64

	// Remote endpoint properties fixed at admission time. Agent names the
	// transport implementation and selects its quirk profile.
	Agent           string
	Relay           bool
	LegacyAgent     bool
	TrickleICE      bool
	AllowICERestart bool

	State        NegotiationState
	Connectivity ConnectivityState

	// Connected flips to true when the canonical connectivity state is
	// connected-like. It gates the one-time stats sampler startup.
	Connected atomic.Bool

	// PendingLocal buffers a local description in non-trickle mode until
	// candidate gathering completes.
	PendingLocal *SessionDescription

	// PrevSample is retained only as the baseline for the next delta.
	PrevSample *StatSample

	// LastSenders is the sender snapshot recorded by the last
	// renegotiation decision.
	LastSenders SenderSnapshot

	JoinedAt time.Time

	processingLocal atomic.Bool
	samplerStarted  atomic.Bool
}

func NewPeerSession(id PeerID, weight uint64) *PeerSession {
	return &PeerSession{
		ID:           id,
		Weight:       weight,
		TrickleICE:   true,
		State:        StateStable,
		Connectivity: ConnectivityNew,
		JoinedAt:     time.Now(),
	}
}

// BeginLocalDescription claims the single in-flight local description slot.
// Returns false if another local description is already being processed.
func (p *PeerSession) BeginLocalDescription() bool {
	return p.processingLocal.CompareAndSwap(false, true)
}

// EndLocalDescription releases the slot claimed by BeginLocalDescription.
func (p *PeerSession) EndLocalDescription() {
	p.processingLocal.Store(false)
}

// ProcessingLocalDescription reports whether a local description operation
// is in flight.
func (p *PeerSession) ProcessingLocalDescription() bool {
	return p.processingLocal.Load()
}

// MarkSamplerStarted returns true exactly once per session, making sampler
// startup idempotent across repeated connected signals.
func (p *PeerSession) MarkSamplerStarted() bool {
	return p.samplerStarted.CompareAndSwap(false, true)
}

// Closed reports whether the session reached its terminal state.
func (p *PeerSession) Closed() bool {
	return p.State == StateClosed
}

// OutranksForGlare resolves concurrent offers deterministically: the higher
// weight wins, equal weights fall back to the lexicographically higher peer
// identifier.
func (p *PeerSession) OutranksForGlare(localID PeerID, localWeight uint64) bool {
	if p.Weight != localWeight {
		return p.Weight > localWeight
	}
	return p.ID > localID
}
