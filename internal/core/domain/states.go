package domain

// NegotiationState tracks the offer/answer progress of a single peer.
type NegotiationState string

const (
	StateStable          NegotiationState = "stable"
	StateHaveLocalOffer  NegotiationState = "have-local-offer"
	StateHaveRemoteOffer NegotiationState = "have-remote-offer"
	StateClosed          NegotiationState = "closed"
)

func (s NegotiationState) String() string {
	return string(s)
}

// ConnectivityState is the canonical connectivity signal after quirk
// normalization. TrickleFailed is a secondary signal emitted alongside
// Failed, never a resting state.
type ConnectivityState string

const (
	ConnectivityNew           ConnectivityState = "new"
	ConnectivityChecking      ConnectivityState = "checking"
	ConnectivityConnected     ConnectivityState = "connected"
	ConnectivityCompleted     ConnectivityState = "completed"
	ConnectivityFailed        ConnectivityState = "failed"
	ConnectivityDisconnected  ConnectivityState = "disconnected"
	ConnectivityClosed        ConnectivityState = "closed"
	ConnectivityTrickleFailed ConnectivityState = "trickle-failed"
)

func (s ConnectivityState) String() string {
	return string(s)
}

// IsConnectedLike reports whether media can be assumed to flow in this state.
func (s ConnectivityState) IsConnectedLike() bool {
	return s == ConnectivityConnected || s == ConnectivityCompleted
}
