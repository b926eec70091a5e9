package core

import (
	"context"
	"encoding/json"

	"github.com/dkeye/videocall/internal/domain"
)

// SignalingStore is the rendezvous database two peers exchange descriptions
// and candidates through. Implementations wrap backend failures in
// domain.ErrStoreUnavailable.
type SignalingStore interface {
	// CreateRoom inserts a room holding offer and no answer.
	CreateRoom(ctx context.Context, offer domain.SessionDescription, creator string) (domain.RoomID, error)
	// GetRoom returns domain.ErrRoomNotFound for unknown ids.
	GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	ListRooms(ctx context.Context) ([]domain.Room, error)
	// SetAnswer fails with domain.ErrAlreadyAnswered when the room already has one.
	SetAnswer(ctx context.Context, id domain.RoomID, answer domain.SessionDescription) error

	AppendCandidate(ctx context.Context, id domain.RoomID, log domain.CandidateLog, candidate json.RawMessage) error
	// ListCandidates returns a point-in-time copy of the log in append order.
	ListCandidates(ctx context.Context, id domain.RoomID, log domain.CandidateLog) ([]domain.CandidateRecord, error)
	// WatchCandidates delivers every record appended after the call, once, in append order.
	WatchCandidates(ctx context.Context, id domain.RoomID, log domain.CandidateLog, onAdded func(domain.CandidateRecord)) (Subscription, error)
	// WatchRoom delivers a snapshot after each change of the room record.
	WatchRoom(ctx context.Context, id domain.RoomID, onChange func(domain.Room)) (Subscription, error)

	// DeleteRoom removes the room together with both candidate logs.
	DeleteRoom(ctx context.Context, id domain.RoomID) error
}
