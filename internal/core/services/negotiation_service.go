package services

import (
	"context"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/internal/core/sdp"
	apperrors "peerlink/pkg/errors"

	"go.uber.org/zap"
)

// Negotiation progress phases emitted through the event sink.
const (
	PhaseOfferCreated   = "offer-created"
	PhaseAnswerCreated  = "answer-created"
	PhaseLocalApplied   = "local-description-applied"
	PhaseRemoteApplied  = "remote-description-applied"
	PhaseBuffered       = "description-buffered"
	PhaseStable         = "stable"
	PhaseGlareDiscarded = "glare-offer-discarded"
)

// NegotiationConfig fixes the local endpoint's negotiation identity and
// directions for the session lifetime.
type NegotiationConfig struct {
	LocalID      domain.PeerID
	LocalWeight  uint64
	ReceiveAudio bool
	ReceiveVideo bool
}

// NegotiationService drives the per-peer offer/answer state machine.
// Ordering violations are expected races and are logged and dropped rather
// than surfaced as fatal errors.
type NegotiationService struct {
	cfg      NegotiationConfig
	sessions *SessionService
	pipeline *sdp.Pipeline
	signaler ports.Signaler
	advisor  *RenegotiationService
	events   ports.EventSink
	logger   *zap.SugaredLogger
}

func NewNegotiationService(
	cfg NegotiationConfig,
	sessions *SessionService,
	pipeline *sdp.Pipeline,
	signaler ports.Signaler,
	advisor *RenegotiationService,
	events ports.EventSink,
	logger *zap.SugaredLogger,
) *NegotiationService {
	return &NegotiationService{
		cfg:      cfg,
		sessions: sessions,
		pipeline: pipeline,
		signaler: signaler,
		advisor:  advisor,
		events:   events,
		logger:   logger,
	}
}

// CreateOffer starts a negotiation round. Allowed only in the stable state;
// anything else is dropped without error since offer races are expected.
func (n *NegotiationService) CreateOffer(ctx context.Context, peerID domain.PeerID, forceICERestart bool) {
	rt, ok := n.sessions.runtime(peerID)
	if !ok || rt.transport == nil {
		n.logger.Infow("offer dropped, peer has no transport", "peer_id", peerID)
		return
	}

	rt.mu.Lock()
	if rt.session.State != domain.StateStable {
		state := rt.session.State
		rt.mu.Unlock()
		n.logger.Infow("offer dropped, peer not stable", "peer_id", peerID, "state", state)
		return
	}
	opts := ports.OfferOptions{
		OfferToReceiveAudio: n.cfg.ReceiveAudio && !rt.session.Relay,
		OfferToReceiveVideo: n.cfg.ReceiveVideo && !rt.session.Relay,
		ICERestart:          forceICERestart && rt.session.AllowICERestart,
	}
	rt.mu.Unlock()

	desc, err := rt.transport.CreateLocalOffer(ctx, opts)
	if err != nil {
		n.failed(peerID, apperrors.NewTransportFailure(err, "create offer failed"))
		return
	}
	if !rt.alive() {
		return
	}

	n.events.NegotiationProgress(peerID, PhaseOfferCreated)
	n.applyLocal(ctx, rt, desc, domain.DescriptionMeta{
		Weight:     n.cfg.LocalWeight,
		ICERestart: opts.ICERestart,
	})
}

// CreateAnswer responds to a previously applied remote offer. Allowed only
// in the have-remote-offer state, symmetric drop policy to CreateOffer.
func (n *NegotiationService) CreateAnswer(ctx context.Context, peerID domain.PeerID) {
	rt, ok := n.sessions.runtime(peerID)
	if !ok || rt.transport == nil {
		n.logger.Infow("answer dropped, peer has no transport", "peer_id", peerID)
		return
	}

	rt.mu.Lock()
	if rt.session.State != domain.StateHaveRemoteOffer {
		state := rt.session.State
		rt.mu.Unlock()
		n.logger.Infow("answer dropped, no remote offer pending", "peer_id", peerID, "state", state)
		return
	}
	rt.mu.Unlock()

	desc, err := rt.transport.CreateLocalAnswer(ctx)
	if err != nil {
		n.failed(peerID, apperrors.NewTransportFailure(err, "create answer failed"))
		return
	}
	if !rt.alive() {
		return
	}

	n.events.NegotiationProgress(peerID, PhaseAnswerCreated)
	n.applyLocal(ctx, rt, desc, domain.DescriptionMeta{Weight: n.cfg.LocalWeight})
}

// ApplyLocalDescription validates, rewrites and applies a local description,
// then transmits it (or buffers it in non-trickle mode).
func (n *NegotiationService) ApplyLocalDescription(ctx context.Context, peerID domain.PeerID, desc domain.SessionDescription) error {
	rt, ok := n.sessions.runtime(peerID)
	if !ok {
		return domain.ErrPeerNotFound
	}
	return n.applyLocal(ctx, rt, desc, domain.DescriptionMeta{Weight: n.cfg.LocalWeight})
}

func (n *NegotiationService) applyLocal(ctx context.Context, rt *peerRuntime, desc domain.SessionDescription, meta domain.DescriptionMeta) error {
	peerID := rt.session.ID

	if desc.Empty() {
		n.logger.Warnw("empty local description rejected", "peer_id", peerID)
		return domain.ErrEmptyDescription
	}
	if rt.transport == nil {
		n.logger.Infow("local description dropped, no transport", "peer_id", peerID)
		return domain.ErrNoTransport
	}

	rt.mu.Lock()
	switch desc.Type {
	case domain.DescriptionOffer:
		if rt.session.State != domain.StateStable {
			state := rt.session.State
			rt.mu.Unlock()
			n.logger.Infow("local offer dropped, peer not stable", "peer_id", peerID, "state", state)
			return domain.ErrInvalidState
		}
	case domain.DescriptionAnswer:
		if rt.session.State != domain.StateHaveRemoteOffer {
			state := rt.session.State
			rt.mu.Unlock()
			n.logger.Infow("local answer dropped, no remote offer pending", "peer_id", peerID, "state", state)
			return domain.ErrInvalidState
		}
	}
	if !rt.session.BeginLocalDescription() {
		rt.mu.Unlock()
		n.logger.Infow("local description rejected, another in flight", "peer_id", peerID)
		return domain.ErrDescriptionInFlight
	}
	rt.mu.Unlock()

	rewritten := n.pipeline.Apply(desc)

	if err := rt.transport.ApplyLocalDescription(ctx, rewritten); err != nil {
		rt.session.EndLocalDescription()
		n.failed(peerID, apperrors.NewTransportFailure(err, "apply local description failed"))
		return err
	}
	if !rt.alive() {
		rt.session.EndLocalDescription()
		return domain.ErrPeerClosed
	}

	rt.mu.Lock()
	if desc.Type == domain.DescriptionOffer {
		rt.session.State = domain.StateHaveLocalOffer
	} else {
		rt.session.State = domain.StateStable
	}
	trickle := rt.session.TrickleICE
	if !trickle {
		buffered := rewritten
		rt.session.PendingLocal = &buffered
	}
	rt.mu.Unlock()

	n.events.NegotiationProgress(peerID, PhaseLocalApplied)

	if !trickle {
		// Held until candidate gathering completes; the processing slot
		// stays claimed until the buffered description is flushed.
		n.events.NegotiationProgress(peerID, PhaseBuffered)
		n.logger.Debugw("local description buffered until gathering completes", "peer_id", peerID)
		return nil
	}

	return n.transmit(rt, rewritten, meta)
}

func (n *NegotiationService) transmit(rt *peerRuntime, desc domain.SessionDescription, meta domain.DescriptionMeta) error {
	peerID := rt.session.ID
	defer rt.session.EndLocalDescription()

	if err := n.signaler.SendDescription(peerID, desc, meta); err != nil {
		n.failed(peerID, apperrors.NewTransportFailure(err, "send description failed"))
		return err
	}
	if desc.Type == domain.DescriptionAnswer {
		n.events.NegotiationProgress(peerID, PhaseStable)
	}
	return nil
}

// OnGatheringComplete flushes the buffered local description in non-trickle
// mode. Signaled by the transport once candidate gathering finished.
func (n *NegotiationService) OnGatheringComplete(peerID domain.PeerID) {
	rt, ok := n.sessions.runtime(peerID)
	if !ok || !rt.alive() {
		return
	}

	rt.mu.Lock()
	pending := rt.session.PendingLocal
	rt.session.PendingLocal = nil
	rt.mu.Unlock()

	if pending == nil {
		return
	}
	n.logger.Debugw("flushing buffered local description", "peer_id", peerID)
	_ = n.transmit(rt, *pending, domain.DescriptionMeta{Weight: n.cfg.LocalWeight})
}

// ApplyRemoteDescription applies an incoming description. A remote offer
// arriving while a local offer is pending is glare; resolution is
// deterministic: the higher weight wins, equal weights tie-break on the
// lexicographically higher peer identifier.
func (n *NegotiationService) ApplyRemoteDescription(ctx context.Context, peerID domain.PeerID, desc domain.SessionDescription, meta domain.DescriptionMeta) error {
	rt, ok := n.sessions.runtime(peerID)
	if !ok || rt.transport == nil {
		n.logger.Infow("remote description dropped, peer has no transport", "peer_id", peerID)
		return domain.ErrPeerNotFound
	}
	if desc.Empty() {
		n.logger.Warnw("empty remote description rejected", "peer_id", peerID)
		return domain.ErrEmptyDescription
	}

	rollback := false
	rt.mu.Lock()
	switch desc.Type {
	case domain.DescriptionOffer:
		rt.session.Weight = meta.Weight
		if rt.session.State == domain.StateHaveLocalOffer {
			if !rt.session.OutranksForGlare(n.cfg.LocalID, n.cfg.LocalWeight) {
				rt.mu.Unlock()
				n.logger.Infow("glare: local offer outranks remote, remote offer dropped",
					"peer_id", peerID,
					"remote_weight", meta.Weight,
					"local_weight", n.cfg.LocalWeight,
				)
				return nil
			}
			// Remote wins: discard our pending offer and accept theirs.
			// The transport still holds the losing offer and must roll it
			// back before the remote one can apply.
			rollback = true
			rt.session.State = domain.StateStable
			rt.session.PendingLocal = nil
			rt.session.EndLocalDescription()
			n.logger.Infow("glare: remote offer outranks local, local offer discarded",
				"peer_id", peerID,
				"remote_weight", meta.Weight,
				"local_weight", n.cfg.LocalWeight,
			)
			n.events.NegotiationProgress(peerID, PhaseGlareDiscarded)
		}
		if rt.session.State != domain.StateStable {
			state := rt.session.State
			rt.mu.Unlock()
			n.logger.Infow("remote offer dropped, peer not stable", "peer_id", peerID, "state", state)
			return domain.ErrInvalidState
		}
	case domain.DescriptionAnswer:
		if rt.session.State != domain.StateHaveLocalOffer {
			state := rt.session.State
			rt.mu.Unlock()
			n.logger.Infow("remote answer dropped, no local offer pending", "peer_id", peerID, "state", state)
			return domain.ErrInvalidState
		}
	}
	rt.mu.Unlock()

	if rollback {
		if err := rt.transport.RollbackLocalDescription(ctx); err != nil {
			n.failed(peerID, apperrors.NewTransportFailure(err, "rollback local offer failed"))
			return err
		}
		if !rt.alive() {
			return domain.ErrPeerClosed
		}
	}

	if err := rt.transport.ApplyRemoteDescription(ctx, desc); err != nil {
		n.failed(peerID, apperrors.NewTransportFailure(err, "apply remote description failed"))
		return err
	}
	if !rt.alive() {
		return domain.ErrPeerClosed
	}

	rt.mu.Lock()
	if desc.Type == domain.DescriptionOffer {
		rt.session.State = domain.StateHaveRemoteOffer
	} else {
		rt.session.State = domain.StateStable
	}
	rt.mu.Unlock()

	n.events.NegotiationProgress(peerID, PhaseRemoteApplied)
	if desc.Type == domain.DescriptionAnswer {
		n.events.NegotiationProgress(peerID, PhaseStable)
	}
	return nil
}

// OfferIfNeeded issues a fresh offer in response to a local stream change,
// but only when the renegotiation advisor reports the transmitting sender
// set actually changed.
func (n *NegotiationService) OfferIfNeeded(ctx context.Context, peerID domain.PeerID) {
	required, err := n.advisor.Required(ctx, peerID)
	if err != nil {
		n.logger.Warnw("renegotiation check failed", "peer_id", peerID, "error", err)
		return
	}
	if !required {
		n.logger.Debugw("renegotiation skipped, sender set unchanged", "peer_id", peerID)
		return
	}
	n.CreateOffer(ctx, peerID, false)
}

func (n *NegotiationService) failed(peerID domain.PeerID, err error) {
	n.logger.Warnw("negotiation failed", "peer_id", peerID, "error", err)
	n.events.NegotiationFailed(peerID, err)
}
