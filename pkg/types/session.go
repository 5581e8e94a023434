package types

import "errors"

// Errors shared between the WebRTC signaling server and the HTTP layer.
var (
	// ErrInvalidOffer is returned for offers that cannot be parsed or applied.
	ErrInvalidOffer = errors.New("invalid offer")
	// ErrSessionLimit is returned when max sessions are already active.
	ErrSessionLimit = errors.New("maximum sessions reached")
)
