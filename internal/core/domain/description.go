package domain

// DescriptionType distinguishes the two halves of a negotiation round.
type DescriptionType string

const (
	DescriptionOffer  DescriptionType = "offer"
	DescriptionAnswer DescriptionType = "answer"
)

// SessionDescription is an immutable offer or answer body. Pipeline stages
// always return a new value, the original is never mutated.
type SessionDescription struct {
	Type DescriptionType `json:"type"`
	SDP  string          `json:"sdp"`
}

// Empty reports whether the description carries no body.
func (d SessionDescription) Empty() bool {
	return d.SDP == ""
}

// DescriptionMeta travels with an outbound description to the remote peer.
type DescriptionMeta struct {
	Weight     uint64 `json:"weight"`
	ICERestart bool   `json:"ice_restart,omitempty"`
}
