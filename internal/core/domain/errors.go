package domain

import "errors"

var (
	ErrPeerNotFound         = errors.New("peer not found")
	ErrPeerClosed           = errors.New("peer session closed")
	ErrNoTransport          = errors.New("peer has no transport")
	ErrInvalidState         = errors.New("operation not allowed in current negotiation state")
	ErrEmptyDescription     = errors.New("empty session description")
	ErrDescriptionInFlight  = errors.New("another local description is being processed")
	ErrPeerAlreadyAdmitted  = errors.New("peer already admitted")
	ErrBandwidthNotEligible = errors.New("peer not eligible for bandwidth adjustment")
)
