package services

import (
	"time"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/internal/core/stats"

	"go.uber.org/zap"
)

// SamplerConfig controls the periodic stats pull.
type SamplerConfig struct {
	Interval time.Duration
}

// StatsSampler runs one goroutine per connected peer that periodically pulls
// raw transport statistics, converts them to interval deltas and feeds the
// bandwidth window. Started at most once per session, stopped by the peer's
// lifetime context.
type StatsSampler struct {
	cfg       SamplerConfig
	bandwidth *BandwidthService
	sink      ports.StatsSink
	logger    *zap.SugaredLogger
}

func NewStatsSampler(cfg SamplerConfig, bandwidth *BandwidthService, sink ports.StatsSink, logger *zap.SugaredLogger) *StatsSampler {
	if cfg.Interval <= 0 {
		cfg.Interval = 20 * time.Second
	}
	if sink == nil {
		sink = ports.NopStatsSink{}
	}
	return &StatsSampler{
		cfg:       cfg,
		bandwidth: bandwidth,
		sink:      sink,
		logger:    logger,
	}
}

// Start launches the sampling loop for a peer. Callers guard the once-only
// startup via the session's sampler flag.
func (s *StatsSampler) Start(rt *peerRuntime) {
	peerID := rt.session.ID
	s.logger.Infow("stats sampler started", "peer_id", peerID, "interval", s.cfg.Interval)

	go func() {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-rt.ctx.Done():
				s.logger.Debugw("stats sampler stopped", "peer_id", peerID)
				return
			case <-ticker.C:
				s.sampleOnce(rt)
			}
		}
	}()
}

func (s *StatsSampler) sampleOnce(rt *peerRuntime) {
	peerID := rt.session.ID

	sample, err := rt.transport.PullStats(rt.ctx)
	if !rt.alive() {
		// Peer torn down while the pull was in flight; discard.
		return
	}
	if err != nil {
		// The window keeps moving on failures so a stalled transport drags
		// the bandwidth target down instead of freezing it.
		s.logger.Warnw("stats pull failed", "peer_id", peerID, "error", err)
		s.bandwidth.Push(rt, domain.BitrateSample{})
		return
	}

	rt.mu.Lock()
	prev := rt.session.PrevSample
	rt.session.PrevSample = sample
	rt.mu.Unlock()

	record := stats.Delta(prev, sample)
	s.sink.RecordDelta(peerID, record)

	if record.Bootstrap || record.Interval <= 0 {
		// No rate can be derived from the first sample.
		return
	}

	seconds := record.Interval.Seconds()
	s.bandwidth.Push(rt, domain.BitrateSample{
		AudioSendKbps:    kbps(record.AudioBytesSent, seconds),
		VideoSendKbps:    kbps(record.VideoBytesSent, seconds),
		AudioReceiveKbps: kbps(record.AudioBytesReceived, seconds),
		VideoReceiveKbps: kbps(record.VideoBytesReceived, seconds),
	})
}

func kbps(bytes uint64, seconds float64) float64 {
	return float64(bytes) * 8 / 1000 / seconds
}
