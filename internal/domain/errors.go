// Package domain contains entity without logic, just meta-data
package domain

import "errors"

var (
	ErrPermissionDenied  = errors.New("media permission denied")
	ErrDeviceUnavailable = errors.New("media device unavailable")
	ErrStoreUnavailable  = errors.New("signaling store unavailable")
	ErrRoomNotFound      = errors.New("room not found")
	ErrNoOffer           = errors.New("room has no offer")
	ErrAlreadyAnswered   = errors.New("room already answered")
	ErrMediaNotReady     = errors.New("local media not acquired")
	ErrSignalingFailure  = errors.New("signaling failure")

	ErrSessionClosed     = errors.New("session closed")
	ErrInvalidTransition = errors.New("invalid state transition")
)
