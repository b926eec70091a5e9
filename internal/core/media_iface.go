package core

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// MediaEndpoint hands out local capture tracks and a sink for remote ones.
type MediaEndpoint interface {
	// Acquire fails with domain.ErrPermissionDenied or domain.ErrDeviceUnavailable.
	Acquire(ctx context.Context) (*TrackSet, *RemoteSink, error)
	// Release stops every track in the set. Safe to call repeatedly.
	Release(*TrackSet)
}

// RemoteTrack is the view of an incoming track the core needs.
// *webrtc.TrackRemote satisfies it.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// PeerConnection is the real-time connection capability consumed by a session.
type PeerConnection interface {
	AddTrack(webrtc.TrackLocal) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error

	// OnICECandidate is called for each gathered candidate; nil marks end of gathering.
	OnICECandidate(func(*webrtc.ICECandidateInit))
	OnTrack(func(RemoteTrack))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))

	Close() error
}

type PeerFactory interface {
	NewPeer() (PeerConnection, error)
}
