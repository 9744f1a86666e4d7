package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

// TransportConfig holds the peer connection factory settings.
type TransportConfig struct {
	ICEServers []webrtc.ICEServer
	PortRange  struct {
		Min uint16
		Max uint16
	}
}

// TransportFactory builds one PeerTransport per admitted peer from a shared
// API instance.
type TransportFactory struct {
	config TransportConfig
	api    *webrtc.API
	logger *zap.SugaredLogger
}

func NewTransportFactory(config TransportConfig, logger *zap.SugaredLogger) *TransportFactory {
	settingEngine := webrtc.SettingEngine{}
	if config.PortRange.Min > 0 && config.PortRange.Max > 0 {
		settingEngine.SetEphemeralUDPPortRange(config.PortRange.Min, config.PortRange.Max)
	}

	return &TransportFactory{
		config: config,
		api:    webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine)),
		logger: logger,
	}
}

// New creates the transport for one peer.
func (f *TransportFactory) New(peerID domain.PeerID) (ports.Transport, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   f.config.ICEServers,
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlanWithFallback,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	t := &PeerTransport{
		peerID: peerID,
		pc:     pc,
		logger: f.logger,
	}

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		t.mu.RLock()
		fn := t.onConnectivity
		t.mu.RUnlock()
		if fn != nil {
			fn(state.String())
		}
	})
	pc.OnICEGatheringStateChange(func(state webrtc.ICEGathererState) {
		if state != webrtc.ICEGathererStateComplete {
			return
		}
		t.mu.RLock()
		fn := t.onGatheringComplete
		t.mu.RUnlock()
		if fn != nil {
			fn()
		}
	})
	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		t.mu.RLock()
		fn := t.onLocalCandidate
		t.mu.RUnlock()
		if fn != nil {
			fn(candidate.ToJSON().Candidate)
		}
	})

	return t, nil
}

// PeerTransport adapts a pion peer connection to the transport port.
type PeerTransport struct {
	peerID domain.PeerID
	pc     *webrtc.PeerConnection
	logger *zap.SugaredLogger

	mu                  sync.RWMutex
	onConnectivity      func(raw string)
	onGatheringComplete func()
	onLocalCandidate    func(candidate string)
	recvConfigured      bool
}

func (t *PeerTransport) CreateLocalOffer(ctx context.Context, opts ports.OfferOptions) (domain.SessionDescription, error) {
	if err := t.configureReceive(opts); err != nil {
		return domain.SessionDescription{}, err
	}

	offer, err := t.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: opts.ICERestart})
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	return domain.SessionDescription{Type: domain.DescriptionOffer, SDP: offer.SDP}, nil
}

func (t *PeerTransport) CreateLocalAnswer(ctx context.Context) (domain.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}
	return domain.SessionDescription{Type: domain.DescriptionAnswer, SDP: answer.SDP}, nil
}

// configureReceive adds receive-only transceivers once per connection for the
// requested media kinds.
func (t *PeerTransport) configureReceive(opts ports.OfferOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.recvConfigured {
		return nil
	}

	directions := []webrtc.RTPTransceiverInit{{Direction: webrtc.RTPTransceiverDirectionRecvonly}}
	if opts.OfferToReceiveAudio {
		if _, err := t.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, directions...); err != nil {
			return fmt.Errorf("failed to add audio transceiver: %w", err)
		}
	}
	if opts.OfferToReceiveVideo {
		if _, err := t.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, directions...); err != nil {
			return fmt.Errorf("failed to add video transceiver: %w", err)
		}
	}
	t.recvConfigured = true
	return nil
}

func (t *PeerTransport) ApplyLocalDescription(ctx context.Context, desc domain.SessionDescription) error {
	return t.pc.SetLocalDescription(toPion(desc))
}

func (t *PeerTransport) ApplyRemoteDescription(ctx context.Context, desc domain.SessionDescription) error {
	return t.pc.SetRemoteDescription(toPion(desc))
}

// RollbackLocalDescription returns the signaling machine to stable after a
// local offer lost a glare round. Without it the connection stays in
// have-local-offer and rejects the winning remote offer.
func (t *PeerTransport) RollbackLocalDescription(ctx context.Context) error {
	return t.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback})
}

func (t *PeerTransport) AddRemoteCandidate(ctx context.Context, candidate string) error {
	return t.pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: candidate})
}

func (t *PeerTransport) ConnectivitySignal() string {
	return t.pc.ICEConnectionState().String()
}

func (t *PeerTransport) OnConnectivityChange(fn func(raw string)) {
	t.mu.Lock()
	t.onConnectivity = fn
	t.mu.Unlock()
}

func (t *PeerTransport) OnGatheringComplete(fn func()) {
	t.mu.Lock()
	t.onGatheringComplete = fn
	t.mu.Unlock()
}

func (t *PeerTransport) OnLocalCandidate(fn func(candidate string)) {
	t.mu.Lock()
	t.onLocalCandidate = fn
	t.mu.Unlock()
}

// PullStats converts one pion stats report into a raw sample. The selected
// pair is the succeeded nominated pair; pion reports at most one.
func (t *PeerTransport) PullStats(ctx context.Context) (*domain.StatSample, error) {
	report := t.pc.GetStats()

	sample := &domain.StatSample{
		Timestamp:  time.Now(),
		Pairs:      make(map[string]domain.CandidatePairStats),
		Candidates: make(map[string]domain.CandidateStats),
	}

	for _, entry := range report {
		switch s := entry.(type) {
		case webrtc.ICECandidatePairStats:
			pair := domain.CandidatePairStats{
				ID:                s.ID,
				LocalCandidateID:  s.LocalCandidateID,
				RemoteCandidateID: s.RemoteCandidateID,
				Nominated:         s.Nominated,
				Writable:          s.State == webrtc.StatsICECandidatePairStateSucceeded,
				Counters: map[string]uint64{
					domain.CounterBytesSent:          s.BytesSent,
					domain.CounterBytesReceived:      s.BytesReceived,
					domain.CounterRequestsSent:       s.RequestsSent,
					domain.CounterResponsesReceived:  s.ResponsesReceived,
					domain.CounterTotalRoundTripTime: uint64(s.TotalRoundTripTime * 1000),
				},
			}
			sample.Pairs[s.ID] = pair
			if s.Nominated && s.State == webrtc.StatsICECandidatePairStateSucceeded {
				sample.SelectedPairID = s.ID
			}

		case webrtc.ICECandidateStats:
			sample.Candidates[s.ID] = domain.CandidateStats{
				ID:       s.ID,
				Address:  s.IP,
				Port:     int(s.Port),
				Protocol: s.Protocol,
				Type:     s.CandidateType.String(),
				Priority: uint32(s.Priority),
			}

		case webrtc.OutboundRTPStreamStats:
			switch s.Kind {
			case "audio":
				sample.AudioBytesSent += s.BytesSent
			case "video":
				sample.VideoBytesSent += s.BytesSent
			}

		case webrtc.InboundRTPStreamStats:
			switch s.Kind {
			case "audio":
				sample.AudioBytesReceived += s.BytesReceived
			case "video":
				sample.VideoBytesReceived += s.BytesReceived
			}
		}
	}

	return sample, nil
}

// ListActiveSenders snapshots the transmitting senders keyed by their
// synchronization source.
func (t *PeerTransport) ListActiveSenders(ctx context.Context) (domain.SenderSnapshot, error) {
	snapshot := make(domain.SenderSnapshot)
	for _, sender := range t.pc.GetSenders() {
		track := sender.Track()
		if track == nil {
			continue
		}
		for _, encoding := range sender.GetParameters().Encodings {
			snapshot[uint32(encoding.SSRC)] = track.ID()
		}
	}
	return snapshot, nil
}

// UpdateBandwidthConstraint signals the remote sender a receiver-side
// estimate, constraining its send rate without renegotiation. Failures are
// logged only; the next window produces a fresh constraint anyway.
func (t *PeerTransport) UpdateBandwidthConstraint(audioKbps, videoKbps int) {
	var ssrcs []uint32
	for _, receiver := range t.pc.GetReceivers() {
		track := receiver.Track()
		if track == nil {
			continue
		}
		ssrcs = append(ssrcs, uint32(track.SSRC()))
	}
	if len(ssrcs) == 0 {
		return
	}

	bitrate := float32(audioKbps+videoKbps) * 1000
	packet := &rtcp.ReceiverEstimatedMaximumBitrate{
		Bitrate: bitrate,
		SSRCs:   ssrcs,
	}
	if err := t.pc.WriteRTCP([]rtcp.Packet{packet}); err != nil {
		t.logger.Warnw("failed to send bandwidth estimate",
			"peer_id", t.peerID,
			"bitrate", bitrate,
			"error", err,
		)
	}
}

func (t *PeerTransport) Close() error {
	return t.pc.Close()
}

func toPion(desc domain.SessionDescription) webrtc.SessionDescription {
	sdpType := webrtc.SDPTypeOffer
	if desc.Type == domain.DescriptionAnswer {
		sdpType = webrtc.SDPTypeAnswer
	}
	return webrtc.SessionDescription{Type: sdpType, SDP: desc.SDP}
}
