package services

import (
	"context"
	"errors"
	"testing"

	"peerlink/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOffer_StableSendsOffer(t *testing.T) {
	f := newFixture(t, defaultFixtureOptions())
	transport := newFakeTransport()
	session := f.admit(t, "peer-a", transport, AdmitOptions{TrickleICE: true})

	f.negotiation.CreateOffer(context.Background(), "peer-a", false)

	sent := f.signaler.sentDescriptions()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.DescriptionOffer, sent[0].Type)
	assert.Equal(t, domain.StateHaveLocalOffer, session.State)
	assert.False(t, session.ProcessingLocalDescription(), "processing slot must be released after transmit")
	assert.Equal(t, uint64(500), f.signaler.meta[0].Weight)
	require.Len(t, transport.appliedLocal, 1)
}

func TestCreateOffer_DroppedWhenNotStable(t *testing.T) {
	f := newFixture(t, defaultFixtureOptions())
	session := f.admit(t, "peer-a", newFakeTransport(), AdmitOptions{TrickleICE: true})
	session.State = domain.StateHaveLocalOffer

	f.negotiation.CreateOffer(context.Background(), "peer-a", false)

	assert.Empty(t, f.signaler.sentDescriptions(), "offer in non-stable state is dropped silently")
	assert.Empty(t, f.events.failures)
}

func TestCreateOffer_UnknownPeerDropped(t *testing.T) {
	f := newFixture(t, defaultFixtureOptions())

	f.negotiation.CreateOffer(context.Background(), "ghost", false)

	assert.Empty(t, f.signaler.sentDescriptions())
	assert.Empty(t, f.events.failures)
}

func TestApplyLocalDescription_EmptyRejected(t *testing.T) {
	f := newFixture(t, defaultFixtureOptions())
	f.admit(t, "peer-a", newFakeTransport(), AdmitOptions{TrickleICE: true})

	err := f.negotiation.ApplyLocalDescription(context.Background(), "peer-a",
		domain.SessionDescription{Type: domain.DescriptionOffer})

	assert.ErrorIs(t, err, domain.ErrEmptyDescription)
}

func TestApplyLocalDescription_InFlightRejected(t *testing.T) {
	f := newFixture(t, defaultFixtureOptions())
	session := f.admit(t, "peer-a", newFakeTransport(), AdmitOptions{TrickleICE: true})
	require.True(t, session.BeginLocalDescription())

	err := f.negotiation.ApplyLocalDescription(context.Background(), "peer-a",
		domain.SessionDescription{Type: domain.DescriptionOffer, SDP: "v=0\r\n"})

	assert.ErrorIs(t, err, domain.ErrDescriptionInFlight)
}

func TestApplyLocalDescription_TransportFailure(t *testing.T) {
	f := newFixture(t, defaultFixtureOptions())
	transport := newFakeTransport()
	transport.applyLocalErr = errors.New("dtls handshake lost")
	session := f.admit(t, "peer-a", transport, AdmitOptions{TrickleICE: true})

	err := f.negotiation.ApplyLocalDescription(context.Background(), "peer-a",
		domain.SessionDescription{Type: domain.DescriptionOffer, SDP: "v=0\r\n"})

	require.Error(t, err)
	assert.Len(t, f.events.failures, 1)
	assert.False(t, session.ProcessingLocalDescription(), "slot must be released on failure")
	assert.Equal(t, domain.StateStable, session.State)
}

func TestCreateAnswer_RequiresRemoteOffer(t *testing.T) {
	f := newFixture(t, defaultFixtureOptions())
	f.admit(t, "peer-a", newFakeTransport(), AdmitOptions{TrickleICE: true})

	f.negotiation.CreateAnswer(context.Background(), "peer-a")

	assert.Empty(t, f.signaler.sentDescriptions(), "answer without a pending remote offer is dropped")
}

func TestOfferAnswerRound(t *testing.T) {
	f := newFixture(t, defaultFixtureOptions())
	transport := newFakeTransport()
	session := f.admit(t, "peer-a", transport, AdmitOptions{TrickleICE: true})

	err := f.negotiation.ApplyRemoteDescription(context.Background(), "peer-a",
		domain.SessionDescription{Type: domain.DescriptionOffer, SDP: "v=0\r\n"},
		domain.DescriptionMeta{Weight: 100})
	require.NoError(t, err)
	assert.Equal(t, domain.StateHaveRemoteOffer, session.State)

	f.negotiation.CreateAnswer(context.Background(), "peer-a")

	sent := f.signaler.sentDescriptions()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.DescriptionAnswer, sent[0].Type)
	assert.Equal(t, domain.StateStable, session.State)
	assert.Contains(t, f.events.recordedPhases(), PhaseStable)
}

func TestRemoteAnswer_WithoutLocalOfferDropped(t *testing.T) {
	f := newFixture(t, defaultFixtureOptions())
	transport := newFakeTransport()
	f.admit(t, "peer-a", transport, AdmitOptions{TrickleICE: true})

	err := f.negotiation.ApplyRemoteDescription(context.Background(), "peer-a",
		domain.SessionDescription{Type: domain.DescriptionAnswer, SDP: "v=0\r\n"},
		domain.DescriptionMeta{})

	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Empty(t, transport.appliedRemote)
}

func TestRemoteAnswer_CompletesRound(t *testing.T) {
	f := newFixture(t, defaultFixtureOptions())
	transport := newFakeTransport()
	session := f.admit(t, "peer-a", transport, AdmitOptions{TrickleICE: true})

	f.negotiation.CreateOffer(context.Background(), "peer-a", false)
	require.Equal(t, domain.StateHaveLocalOffer, session.State)

	err := f.negotiation.ApplyRemoteDescription(context.Background(), "peer-a",
		domain.SessionDescription{Type: domain.DescriptionAnswer, SDP: "v=0\r\n"},
		domain.DescriptionMeta{})

	require.NoError(t, err)
	assert.Equal(t, domain.StateStable, session.State)
}

func TestGlare_RemoteOutranksLocal(t *testing.T) {
	f := newFixture(t, defaultFixtureOptions())
	transport := newFakeTransport()
	session := f.admit(t, "peer-a", transport, AdmitOptions{TrickleICE: true})

	f.negotiation.CreateOffer(context.Background(), "peer-a", false)
	require.Equal(t, domain.StateHaveLocalOffer, session.State)

	// Remote weight 1000 beats local 500: our offer is discarded, theirs
	// applies.
	err := f.negotiation.ApplyRemoteDescription(context.Background(), "peer-a",
		domain.SessionDescription{Type: domain.DescriptionOffer, SDP: "v=0\r\n"},
		domain.DescriptionMeta{Weight: 1000})

	require.NoError(t, err)
	assert.Equal(t, domain.StateHaveRemoteOffer, session.State)
	assert.Nil(t, session.PendingLocal)
	assert.False(t, session.ProcessingLocalDescription())
	assert.Contains(t, f.events.recordedPhases(), PhaseGlareDiscarded)
	assert.Equal(t, 1, transport.rollbackCount(), "losing offer must be rolled back on the transport")
	require.Len(t, transport.appliedRemote, 1)
}

func TestGlare_RollbackFailureReported(t *testing.T) {
	f := newFixture(t, defaultFixtureOptions())
	transport := newFakeTransport()
	transport.rollbackErr = errors.New("signaling state mismatch")
	f.admit(t, "peer-a", transport, AdmitOptions{TrickleICE: true})

	f.negotiation.CreateOffer(context.Background(), "peer-a", false)

	err := f.negotiation.ApplyRemoteDescription(context.Background(), "peer-a",
		domain.SessionDescription{Type: domain.DescriptionOffer, SDP: "v=0\r\n"},
		domain.DescriptionMeta{Weight: 1000})

	require.Error(t, err)
	assert.Len(t, f.events.failures, 1)
	assert.Empty(t, transport.appliedRemote, "remote offer must not apply over a stuck local offer")
}

func TestGlare_LocalOutranksRemote(t *testing.T) {
	f := newFixture(t, defaultFixtureOptions())
	transport := newFakeTransport()
	session := f.admit(t, "peer-a", transport, AdmitOptions{TrickleICE: true})

	f.negotiation.CreateOffer(context.Background(), "peer-a", false)

	// Remote weight 100 loses to local 500: their offer is ignored.
	err := f.negotiation.ApplyRemoteDescription(context.Background(), "peer-a",
		domain.SessionDescription{Type: domain.DescriptionOffer, SDP: "v=0\r\n"},
		domain.DescriptionMeta{Weight: 100})

	require.NoError(t, err)
	assert.Equal(t, domain.StateHaveLocalOffer, session.State)
	assert.Empty(t, transport.appliedRemote)
	assert.Equal(t, 0, transport.rollbackCount(), "winning local offer stays applied")
}

func TestGlare_EqualWeightTieBreaksOnPeerID(t *testing.T) {
	tests := []struct {
		name       string
		remoteID   domain.PeerID
		remoteWins bool
	}{
		// Local ID in the fixture is "local-peer".
		{"remote id higher", "zz-peer", true},
		{"remote id lower", "aa-peer", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, defaultFixtureOptions())
			transport := newFakeTransport()
			session := f.admit(t, tt.remoteID, transport, AdmitOptions{TrickleICE: true})

			f.negotiation.CreateOffer(context.Background(), tt.remoteID, false)

			err := f.negotiation.ApplyRemoteDescription(context.Background(), tt.remoteID,
				domain.SessionDescription{Type: domain.DescriptionOffer, SDP: "v=0\r\n"},
				domain.DescriptionMeta{Weight: 500})
			require.NoError(t, err)

			if tt.remoteWins {
				assert.Equal(t, domain.StateHaveRemoteOffer, session.State)
			} else {
				assert.Equal(t, domain.StateHaveLocalOffer, session.State)
			}
		})
	}
}

func TestNonTrickle_BuffersUntilGatheringComplete(t *testing.T) {
	f := newFixture(t, defaultFixtureOptions())
	transport := newFakeTransport()
	session := f.admit(t, "peer-a", transport, AdmitOptions{TrickleICE: false})

	f.negotiation.CreateOffer(context.Background(), "peer-a", false)

	assert.Empty(t, f.signaler.sentDescriptions(), "description held until gathering completes")
	require.NotNil(t, session.PendingLocal)
	assert.True(t, session.ProcessingLocalDescription(), "slot stays claimed while buffered")

	f.negotiation.OnGatheringComplete("peer-a")

	sent := f.signaler.sentDescriptions()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.DescriptionOffer, sent[0].Type)
	assert.Nil(t, session.PendingLocal)
	assert.False(t, session.ProcessingLocalDescription())

	// A second completion signal is a no-op.
	f.negotiation.OnGatheringComplete("peer-a")
	assert.Len(t, f.signaler.sentDescriptions(), 1)
}

func TestOfferIfNeeded_SkipsWhenSendersUnchanged(t *testing.T) {
	f := newFixture(t, defaultFixtureOptions())
	transport := newFakeTransport()
	transport.senders = domain.SenderSnapshot{1001: "audio"}
	f.admit(t, "peer-a", transport, AdmitOptions{TrickleICE: true})

	// First decision sees a new sender set and offers.
	f.negotiation.OfferIfNeeded(context.Background(), "peer-a")
	require.Len(t, f.signaler.sentDescriptions(), 1)

	// Complete the round so the peer is stable again.
	require.NoError(t, f.negotiation.ApplyRemoteDescription(context.Background(), "peer-a",
		domain.SessionDescription{Type: domain.DescriptionAnswer, SDP: "v=0\r\n"},
		domain.DescriptionMeta{}))

	// Unchanged set: no new offer.
	f.negotiation.OfferIfNeeded(context.Background(), "peer-a")
	assert.Len(t, f.signaler.sentDescriptions(), 1)
}
