package ports

import (
	"context"

	"peerlink/internal/core/domain"
)

// OfferOptions carries the negotiation parameters built by the
// NegotiationService for a single offer round.
type OfferOptions struct {
	OfferToReceiveAudio bool
	OfferToReceiveVideo bool
	ICERestart          bool
}

// Transport is the per-peer real-time transport collaborator. Every call may
// suspend; completions can arrive after the owning peer has been torn down
// and must then be discarded by the caller.
type Transport interface {
	CreateLocalOffer(ctx context.Context, opts OfferOptions) (domain.SessionDescription, error)
	CreateLocalAnswer(ctx context.Context) (domain.SessionDescription, error)

	ApplyLocalDescription(ctx context.Context, desc domain.SessionDescription) error
	ApplyRemoteDescription(ctx context.Context, desc domain.SessionDescription) error

	// RollbackLocalDescription abandons an applied-but-unanswered local
	// offer, returning the transport to its stable signaling state so a
	// remote offer can be applied instead.
	RollbackLocalDescription(ctx context.Context) error

	AddRemoteCandidate(ctx context.Context, candidate string) error

	// ConnectivitySignal returns the raw, implementation-specific signal.
	// OnConnectivityChange subscribes to signal changes; the subscription
	// lives until the transport closes.
	ConnectivitySignal() string
	OnConnectivityChange(fn func(raw string))

	// OnGatheringComplete fires once candidate gathering finished, used to
	// flush buffered descriptions in non-trickle mode.
	OnGatheringComplete(fn func())

	// OnLocalCandidate fires for every locally gathered candidate, used by
	// the signaling layer in trickle mode.
	OnLocalCandidate(fn func(candidate string))

	PullStats(ctx context.Context) (*domain.StatSample, error)
	ListActiveSenders(ctx context.Context) (domain.SenderSnapshot, error)

	// UpdateBandwidthConstraint is a renegotiation-free constraint change,
	// fire and forget.
	UpdateBandwidthConstraint(audioKbps, videoKbps int)

	Close() error
}
