package services

import (
	"math"
	"sync"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"

	"go.uber.org/zap"
)

// BandwidthConfig controls the closed-loop bandwidth adjuster.
type BandwidthConfig struct {
	Enabled         bool
	LimitPercentage int
	WindowLength    int
	UploadOnly      bool
}

// BandwidthService keeps a sliding window of observed bitrates per eligible
// peer and, whenever the window fills, pushes a reduced constraint to the
// transport without triggering renegotiation. Relay peers and legacy agents
// are excluded: relays aggregate many endpoints and legacy agents cannot
// apply renegotiation-free constraints.
type BandwidthService struct {
	cfg    BandwidthConfig
	events ports.EventSink
	logger *zap.SugaredLogger

	mu      sync.Mutex
	windows map[domain.PeerID][]domain.BitrateSample
}

func NewBandwidthService(cfg BandwidthConfig, events ports.EventSink, logger *zap.SugaredLogger) *BandwidthService {
	return &BandwidthService{
		cfg:     cfg,
		events:  events,
		logger:  logger,
		windows: make(map[domain.PeerID][]domain.BitrateSample),
	}
}

// Eligible reports whether the adjuster manages this peer.
func (b *BandwidthService) Eligible(session *domain.PeerSession) bool {
	return b.cfg.Enabled && !session.Relay && !session.LegacyAgent
}

// OnConnected initializes the window when a peer becomes connected.
func (b *BandwidthService) OnConnected(session *domain.PeerSession) {
	if !b.Eligible(session) {
		b.logger.Debugw("bandwidth adjustment not eligible",
			"peer_id", session.ID,
			"enabled", b.cfg.Enabled,
			"relay", session.Relay,
			"legacy_agent", session.LegacyAgent,
		)
		return
	}
	b.mu.Lock()
	if _, ok := b.windows[session.ID]; !ok {
		b.windows[session.ID] = make([]domain.BitrateSample, 0, b.cfg.WindowLength)
	}
	b.mu.Unlock()
	b.logger.Infow("bandwidth adjustment active",
		"peer_id", session.ID,
		"limit_percentage", b.cfg.LimitPercentage,
		"window_length", b.cfg.WindowLength,
	)
}

// Push appends one interval's bitrate sample and adjusts the constraint when
// the window is full. The window is cleared atomically with the adjustment so
// each sample contributes to exactly one decision.
func (b *BandwidthService) Push(rt *peerRuntime, sample domain.BitrateSample) {
	if !b.Eligible(rt.session) {
		return
	}
	peerID := rt.session.ID

	b.mu.Lock()
	window := append(b.windows[peerID], sample)
	if len(window) < b.cfg.WindowLength {
		b.windows[peerID] = window
		b.mu.Unlock()
		return
	}
	b.windows[peerID] = make([]domain.BitrateSample, 0, b.cfg.WindowLength)
	b.mu.Unlock()

	audioTarget := b.target(window, func(s domain.BitrateSample) float64 {
		if b.cfg.UploadOnly {
			return s.AudioSendKbps
		}
		return (s.AudioSendKbps + s.AudioReceiveKbps) / 2
	})
	videoTarget := b.target(window, func(s domain.BitrateSample) float64 {
		if b.cfg.UploadOnly {
			return s.VideoSendKbps
		}
		return (s.VideoSendKbps + s.VideoReceiveKbps) / 2
	})

	if !rt.alive() {
		return
	}
	rt.transport.UpdateBandwidthConstraint(audioTarget, videoTarget)
	b.events.BandwidthAdjusted(peerID, audioTarget, videoTarget)
	b.logger.Infow("bandwidth constraint adjusted",
		"peer_id", peerID,
		"audio_kbps", audioTarget,
		"video_kbps", videoTarget,
	)
}

// target averages the window and applies the configured reduction.
func (b *BandwidthService) target(window []domain.BitrateSample, pick func(domain.BitrateSample) float64) int {
	var sum float64
	for _, s := range window {
		sum += pick(s)
	}
	avg := sum / float64(len(window))
	return int(math.Round(avg * float64(b.cfg.LimitPercentage) / 100))
}

// Forget drops a peer's window. Called on peer removal.
func (b *BandwidthService) Forget(peerID domain.PeerID) {
	b.mu.Lock()
	delete(b.windows, peerID)
	b.mu.Unlock()
}

// WindowSize reports the number of samples currently buffered for a peer.
func (b *BandwidthService) WindowSize(peerID domain.PeerID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.windows[peerID])
}
