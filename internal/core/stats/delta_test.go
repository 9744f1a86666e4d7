package stats

import (
	"testing"
	"time"

	"peerlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleAt(ts time.Time) *domain.StatSample {
	return &domain.StatSample{
		Timestamp: ts,
		Pairs:     make(map[string]domain.CandidatePairStats),
		Candidates: map[string]domain.CandidateStats{
			"lc1": {ID: "lc1", Address: "10.0.0.1", Port: 50000, Protocol: "udp", Type: "host", Priority: 100},
			"rc1": {ID: "rc1", Address: "203.0.113.5", Port: 3478, Protocol: "udp", Type: "relay"},
		},
	}
}

func pairWith(counters map[string]uint64) domain.CandidatePairStats {
	return domain.CandidatePairStats{
		ID:                "pair1",
		LocalCandidateID:  "lc1",
		RemoteCandidateID: "rc1",
		Nominated:         true,
		Writable:          true,
		Counters:          counters,
	}
}

func TestDelta_Bootstrap(t *testing.T) {
	now := time.Now()
	cur := sampleAt(now)
	cur.Pairs["pair1"] = pairWith(map[string]uint64{
		domain.CounterBytesSent:   1000,
		domain.CounterPacketsSent: 10,
	})
	cur.AudioBytesSent = 500

	record := Delta(nil, cur)

	require.True(t, record.Bootstrap)
	assert.Equal(t, time.Duration(0), record.Interval)
	// Cumulative values carried through unchanged.
	assert.Equal(t, uint64(1000), record.Pairs["pair1"].Counters[domain.CounterBytesSent])
	assert.Equal(t, uint64(500), record.AudioBytesSent)
}

func TestDelta_IntervalValues(t *testing.T) {
	base := time.Now()
	prev := sampleAt(base)
	prev.Pairs["pair1"] = pairWith(map[string]uint64{
		domain.CounterBytesSent:   1000,
		domain.CounterPacketsSent: 10,
	})
	prev.AudioBytesSent = 500
	prev.VideoBytesReceived = 4000

	cur := sampleAt(base.Add(20 * time.Second))
	cur.Pairs["pair1"] = pairWith(map[string]uint64{
		domain.CounterBytesSent:   1800,
		domain.CounterPacketsSent: 17,
	})
	cur.AudioBytesSent = 900
	cur.VideoBytesReceived = 9000

	record := Delta(prev, cur)

	require.False(t, record.Bootstrap)
	assert.Equal(t, 20*time.Second, record.Interval)
	assert.Equal(t, uint64(800), record.Pairs["pair1"].Counters[domain.CounterBytesSent])
	assert.Equal(t, uint64(7), record.Pairs["pair1"].Counters[domain.CounterPacketsSent])
	assert.Equal(t, uint64(400), record.AudioBytesSent)
	assert.Equal(t, uint64(5000), record.VideoBytesReceived)
}

func TestDelta_CounterDecreaseResetsBaseline(t *testing.T) {
	base := time.Now()
	prev := sampleAt(base)
	prev.Pairs["pair1"] = pairWith(map[string]uint64{domain.CounterBytesSent: 5000})

	cur := sampleAt(base.Add(20 * time.Second))
	cur.Pairs["pair1"] = pairWith(map[string]uint64{domain.CounterBytesSent: 300})

	record := Delta(prev, cur)

	// Transport restart: never negative, baseline resets to the current
	// cumulative value.
	assert.Equal(t, uint64(300), record.Pairs["pair1"].Counters[domain.CounterBytesSent])
}

func TestDelta_UnknownCounterAndNewPair(t *testing.T) {
	base := time.Now()
	prev := sampleAt(base)
	prev.Pairs["pair1"] = pairWith(map[string]uint64{domain.CounterBytesSent: 100})

	cur := sampleAt(base.Add(time.Second))
	cur.Pairs["pair1"] = pairWith(map[string]uint64{
		domain.CounterBytesSent:     150,
		domain.CounterBytesReceived: 700,
	})
	cur.Pairs["pair2"] = domain.CandidatePairStats{
		ID:       "pair2",
		Counters: map[string]uint64{domain.CounterBytesSent: 42},
	}

	record := Delta(prev, cur)

	assert.Equal(t, uint64(50), record.Pairs["pair1"].Counters[domain.CounterBytesSent])
	// Counter absent in the previous sample passes through cumulatively.
	assert.Equal(t, uint64(700), record.Pairs["pair1"].Counters[domain.CounterBytesReceived])
	// A pair without a baseline behaves like a bootstrap for that pair.
	assert.Equal(t, uint64(42), record.Pairs["pair2"].Counters[domain.CounterBytesSent])
}

func TestSelectedPath(t *testing.T) {
	cur := sampleAt(time.Now())
	cur.SelectedPairID = "pair1"
	cur.Pairs["pair1"] = pairWith(map[string]uint64{})

	path, ok := SelectedPath(cur)

	require.True(t, ok)
	assert.Equal(t, "pair1", path.PairID)
	assert.Equal(t, "10.0.0.1", path.LocalAddress)
	assert.Equal(t, 50000, path.LocalPort)
	assert.Equal(t, "local", path.LocalType)
	assert.Equal(t, "203.0.113.5", path.RemoteAddress)
	assert.Equal(t, "relayed", path.RemoteType)
	assert.Equal(t, "udp", path.Protocol)
	assert.True(t, path.Nominated)
}

func TestSelectedPath_NoSelection(t *testing.T) {
	cur := sampleAt(time.Now())

	_, ok := SelectedPath(cur)
	assert.False(t, ok, "no selected pair id means no path")

	cur.SelectedPairID = "missing"
	_, ok = SelectedPath(cur)
	assert.False(t, ok, "dangling selected pair id means no path")
}

func TestMapCandidateType(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"relay", "relayed"},
		{"host", "local"},
		{"host_tcp", "local"},
		{"srflx", "serverreflexive"},
		{"prflx", "prflx"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MapCandidateType(tt.raw), "raw=%q", tt.raw)
	}
}
