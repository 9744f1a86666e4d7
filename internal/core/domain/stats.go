package domain

import "time"

// Counter names reported by the transport for a candidate pair. Values are
// cumulative and monotonically increasing for the lifetime of the pair.
const (
	CounterBytesSent          = "bytesSent"
	CounterBytesReceived      = "bytesReceived"
	CounterPacketsSent        = "packetsSent"
	CounterPacketsReceived    = "packetsReceived"
	CounterTotalRoundTripTime = "totalRoundTripTime"
	CounterRequestsSent       = "requestsSent"
	CounterResponsesReceived  = "responsesReceived"
)

// CandidateStats identifies one endpoint of a transport path.
type CandidateStats struct {
	ID       string
	Address  string
	Port     int
	Protocol string
	Type     string
	Priority uint32
}

// CandidatePairStats holds the cumulative counters for one transport path.
type CandidatePairStats struct {
	ID                string
	LocalCandidateID  string
	RemoteCandidateID string
	Nominated         bool
	Writable          bool
	Counters          map[string]uint64
}

// StatSample is one raw pull of transport statistics for a peer. Pairs and
// Candidates are keyed by their transport-assigned identifiers.
type StatSample struct {
	Timestamp      time.Time
	SelectedPairID string
	Pairs          map[string]CandidatePairStats
	Candidates     map[string]CandidateStats

	// Media byte counters for bitrate derivation, cumulative like Pairs.
	AudioBytesSent     uint64
	VideoBytesSent     uint64
	AudioBytesReceived uint64
	VideoBytesReceived uint64
}

// DeltaRecord mirrors a StatSample with interval values (current minus
// previous). For the first sample of a peer the cumulative values are carried
// through unchanged, callers special-case that when computing rates.
type DeltaRecord struct {
	Timestamp time.Time
	Interval  time.Duration
	Bootstrap bool

	Pairs map[string]CandidatePairStats
	Path  *TransportPath

	AudioBytesSent     uint64
	VideoBytesSent     uint64
	AudioBytesReceived uint64
	VideoBytesReceived uint64
}

// TransportPath describes the currently selected candidate pair.
type TransportPath struct {
	PairID         string
	LocalAddress   string
	LocalPort      int
	LocalType      string
	RemoteAddress  string
	RemotePort     int
	RemoteType     string
	Protocol       string
	Priority       uint32
	Nominated      bool
	Writable       bool
}

// SenderSnapshot maps synchronization sources to their owning sender
// identity. Used only for set comparison by the renegotiation advisor.
type SenderSnapshot map[uint32]string

// Equal reports whether two snapshots carry the same senders.
func (s SenderSnapshot) Equal(other SenderSnapshot) bool {
	if len(s) != len(other) {
		return false
	}
	for ssrc, sender := range s {
		if other[ssrc] != sender {
			return false
		}
	}
	return true
}

// BitrateSample is one sampling interval's bitrates in kbps.
type BitrateSample struct {
	AudioSendKbps    float64
	VideoSendKbps    float64
	AudioReceiveKbps float64
	VideoReceiveKbps float64
}
