// Package stats converts cumulative transport counters into interval deltas
// and extracts the currently selected transport path from a raw sample.
package stats

import (
	"strings"

	"peerlink/internal/core/domain"
)

// Delta computes the interval record between two samples. With a nil
// previous sample the cumulative values are carried through and the record is
// marked Bootstrap. A counter that decreased indicates a transport restart;
// the pair's baseline resets to the current cumulative value instead of
// producing a negative delta.
func Delta(prev, cur *domain.StatSample) *domain.DeltaRecord {
	record := &domain.DeltaRecord{
		Timestamp: cur.Timestamp,
		Bootstrap: prev == nil,
		Pairs:     make(map[string]domain.CandidatePairStats, len(cur.Pairs)),
	}

	for id, pair := range cur.Pairs {
		counters := make(map[string]uint64, len(pair.Counters))
		var prevCounters map[string]uint64
		if prev != nil {
			if prevPair, ok := prev.Pairs[id]; ok {
				prevCounters = prevPair.Counters
			}
		}
		for name, value := range pair.Counters {
			counters[name] = counterDelta(prevCounters, name, value)
		}
		record.Pairs[id] = domain.CandidatePairStats{
			ID:                pair.ID,
			LocalCandidateID:  pair.LocalCandidateID,
			RemoteCandidateID: pair.RemoteCandidateID,
			Nominated:         pair.Nominated,
			Writable:          pair.Writable,
			Counters:          counters,
		}
	}

	if prev != nil {
		record.Interval = cur.Timestamp.Sub(prev.Timestamp)
		record.AudioBytesSent = scalarDelta(prev.AudioBytesSent, cur.AudioBytesSent)
		record.VideoBytesSent = scalarDelta(prev.VideoBytesSent, cur.VideoBytesSent)
		record.AudioBytesReceived = scalarDelta(prev.AudioBytesReceived, cur.AudioBytesReceived)
		record.VideoBytesReceived = scalarDelta(prev.VideoBytesReceived, cur.VideoBytesReceived)
	} else {
		record.AudioBytesSent = cur.AudioBytesSent
		record.VideoBytesSent = cur.VideoBytesSent
		record.AudioBytesReceived = cur.AudioBytesReceived
		record.VideoBytesReceived = cur.VideoBytesReceived
	}

	if path, ok := SelectedPath(cur); ok {
		record.Path = path
	}
	return record
}

func counterDelta(prev map[string]uint64, name string, cur uint64) uint64 {
	if prev == nil {
		return cur
	}
	before, ok := prev[name]
	if !ok || before > cur {
		// Unknown counter or transport restart: reset the baseline.
		return cur
	}
	return cur - before
}

func scalarDelta(prev, cur uint64) uint64 {
	if prev > cur {
		return cur
	}
	return cur - prev
}

// SelectedPath locates the candidate pair matching the sample's selected
// pair identifier and resolves its endpoint descriptors. Returns false when
// no selection has occurred yet.
func SelectedPath(sample *domain.StatSample) (*domain.TransportPath, bool) {
	if sample.SelectedPairID == "" {
		return nil, false
	}
	pair, ok := sample.Pairs[sample.SelectedPairID]
	if !ok {
		return nil, false
	}

	path := &domain.TransportPath{
		PairID:    pair.ID,
		Nominated: pair.Nominated,
		Writable:  pair.Writable,
	}
	if local, ok := sample.Candidates[pair.LocalCandidateID]; ok {
		path.LocalAddress = local.Address
		path.LocalPort = local.Port
		path.LocalType = MapCandidateType(local.Type)
		path.Protocol = local.Protocol
		path.Priority = local.Priority
	}
	if remote, ok := sample.Candidates[pair.RemoteCandidateID]; ok {
		path.RemoteAddress = remote.Address
		path.RemotePort = remote.Port
		path.RemoteType = MapCandidateType(remote.Type)
	}
	return path, true
}

// MapCandidateType maps transport candidate type labels to canonical names.
// Unknown labels pass through unchanged.
func MapCandidateType(raw string) string {
	switch {
	case raw == "relay":
		return "relayed"
	case strings.HasPrefix(raw, "host"):
		return "local"
	case raw == "srflx":
		return "serverreflexive"
	default:
		return raw
	}
}
