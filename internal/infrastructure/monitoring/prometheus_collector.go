package monitoring

import (
	"peerlink/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements the event and stats sinks and exposes the
// orchestration signals as Prometheus metrics.
type PrometheusCollector struct {
	negotiationRounds   *prometheus.CounterVec
	negotiationFailures prometheus.Counter
	connectivityStates  *prometheus.GaugeVec
	bandwidthTarget     *prometheus.GaugeVec
	bandwidthAdjusts    prometheus.Counter

	bytesSent     prometheus.Counter
	bytesReceived prometheus.Counter
	roundTripTime prometheus.Histogram
	pathType      *prometheus.CounterVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		negotiationRounds: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peerlink_negotiation_phases_total",
			Help: "Negotiation phase transitions by phase name",
		}, []string{"phase"}),

		negotiationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peerlink_negotiation_failures_total",
			Help: "Total number of failed negotiation rounds",
		}),

		connectivityStates: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "peerlink_connectivity_transitions",
			Help: "Connectivity state transitions by canonical state",
		}, []string{"state"}),

		bandwidthTarget: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "peerlink_bandwidth_target_kbps",
			Help: "Last bandwidth constraint pushed to a peer in kbps",
		}, []string{"peer_id", "media"}),

		bandwidthAdjusts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peerlink_bandwidth_adjustments_total",
			Help: "Total number of bandwidth constraint adjustments",
		}),

		bytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peerlink_transport_bytes_sent_total",
			Help: "Total bytes sent over selected transport paths",
		}),

		bytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peerlink_transport_bytes_received_total",
			Help: "Total bytes received over selected transport paths",
		}),

		roundTripTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "peerlink_transport_rtt_seconds",
			Help:    "Round trip time per sampling interval",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		pathType: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peerlink_transport_path_samples_total",
			Help: "Samples observed per selected path candidate type",
		}, []string{"local_type", "remote_type"}),
	}
}

func (p *PrometheusCollector) NegotiationProgress(peerID domain.PeerID, phase string) {
	p.negotiationRounds.WithLabelValues(phase).Inc()
}

func (p *PrometheusCollector) NegotiationFailed(peerID domain.PeerID, err error) {
	p.negotiationFailures.Inc()
}

func (p *PrometheusCollector) ConnectivityChanged(peerID domain.PeerID, state domain.ConnectivityState) {
	p.connectivityStates.WithLabelValues(state.String()).Inc()
}

func (p *PrometheusCollector) BandwidthAdjusted(peerID domain.PeerID, audioKbps, videoKbps int) {
	p.bandwidthAdjusts.Inc()
	p.bandwidthTarget.WithLabelValues(string(peerID), "audio").Set(float64(audioKbps))
	p.bandwidthTarget.WithLabelValues(string(peerID), "video").Set(float64(videoKbps))
}

// RecordDelta folds one sampling interval into the transport metrics.
// Bootstrap records carry cumulative values and are skipped.
func (p *PrometheusCollector) RecordDelta(peerID domain.PeerID, record *domain.DeltaRecord) {
	if record.Bootstrap {
		return
	}

	if record.Path != nil {
		p.pathType.WithLabelValues(record.Path.LocalType, record.Path.RemoteType).Inc()
		if pair, ok := record.Pairs[record.Path.PairID]; ok {
			p.bytesSent.Add(float64(pair.Counters[domain.CounterBytesSent]))
			p.bytesReceived.Add(float64(pair.Counters[domain.CounterBytesReceived]))
			if responses := pair.Counters[domain.CounterResponsesReceived]; responses > 0 {
				rttMs := pair.Counters[domain.CounterTotalRoundTripTime]
				p.roundTripTime.Observe(float64(rttMs) / 1000 / float64(responses))
			}
		}
	}
}
