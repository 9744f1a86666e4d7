package ports

import "peerlink/internal/core/domain"

// Signaler delivers local descriptions and candidates to the remote endpoint
// over the signaling channel.
type Signaler interface {
	SendDescription(peerID domain.PeerID, desc domain.SessionDescription, meta domain.DescriptionMeta) error
	SendCandidate(peerID domain.PeerID, candidate string) error
}

// EventSink receives the typed observability signals emitted by the
// orchestration core.
type EventSink interface {
	NegotiationProgress(peerID domain.PeerID, phase string)
	NegotiationFailed(peerID domain.PeerID, err error)
	ConnectivityChanged(peerID domain.PeerID, state domain.ConnectivityState)
	BandwidthAdjusted(peerID domain.PeerID, audioKbps, videoKbps int)
}

// StatsSink receives the per-interval delta records produced by the stats
// sampler, e.g. a metrics collector.
type StatsSink interface {
	RecordDelta(peerID domain.PeerID, record *domain.DeltaRecord)
}

// NopStatsSink discards all records.
type NopStatsSink struct{}

func (NopStatsSink) RecordDelta(domain.PeerID, *domain.DeltaRecord) {}

// NopEventSink discards all signals. Useful for tests and optional wiring.
type NopEventSink struct{}

func (NopEventSink) NegotiationProgress(domain.PeerID, string)                  {}
func (NopEventSink) NegotiationFailed(domain.PeerID, error)                     {}
func (NopEventSink) ConnectivityChanged(domain.PeerID, domain.ConnectivityState) {}
func (NopEventSink) BandwidthAdjusted(domain.PeerID, int, int)                  {}
