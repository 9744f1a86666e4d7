package signal

import (
	"context"
	"encoding/json"
	"testing"

	"peerlink/internal/core/domain"
	"peerlink/internal/core/ports"
	"peerlink/internal/core/services"
	memoryrepo "peerlink/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func newTestServer(t *testing.T) *WebSocketServer {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	sessions := services.NewSessionService(memoryrepo.NewMemorySessionRegistry(), ports.NopEventSink{}, log)
	builder := func(peerID domain.PeerID) (ports.Transport, error) {
		return nil, nil
	}
	return NewWebSocketServer(ServerConfig{}, sessions, builder, log)
}

func TestValidateSDP(t *testing.T) {
	tests := []struct {
		name    string
		sdp     string
		wantErr bool
	}{
		{"valid", "v=0\r\no=- 0 0 IN IP4 0.0.0.0\r\n", false},
		{"empty", "", true},
		{"missing version line", "o=- 0 0 IN IP4 0.0.0.0\r\n", true},
		{"too short", "v", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSDP(tt.sdp)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHandleMessage_EnvelopeValidation(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	err := s.handleMessage(ctx, "peer-a", SignalMessage{})
	assert.Error(t, err, "missing type must be rejected")

	err = s.handleMessage(ctx, "peer-a", SignalMessage{Type: "candidate", PeerID: "peer-b"})
	assert.Error(t, err, "peer_id mismatch must be rejected")

	err = s.handleMessage(ctx, "peer-a", SignalMessage{Type: "warble"})
	assert.Error(t, err, "unknown type must be rejected")
}

func TestHandleCandidate_Validation(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	err := s.handleCandidate(ctx, "peer-a", SignalMessage{
		Type:    "candidate",
		Payload: json.RawMessage(`{"candidate":""}`),
	})
	assert.Error(t, err, "empty candidate must be rejected")

	err = s.handleCandidate(ctx, "peer-a", SignalMessage{
		Type:    "candidate",
		Payload: json.RawMessage(`{"candidate":"candidate:1 1 udp 1 10.0.0.1 50000 typ host"}`),
	})
	assert.ErrorIs(t, err, domain.ErrPeerNotFound, "candidate before hello has no session")
}

func TestSendDescription_NotConnected(t *testing.T) {
	s := newTestServer(t)

	err := s.SendDescription("ghost", domain.SessionDescription{
		Type: domain.DescriptionOffer,
		SDP:  "v=0\r\n",
	}, domain.DescriptionMeta{Weight: 1})

	assert.Error(t, err, "sending to a peer without a signaling connection fails")
}

func TestIsPeerConnected(t *testing.T) {
	s := newTestServer(t)
	assert.False(t, s.IsPeerConnected("peer-a"))
}
