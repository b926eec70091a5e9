package domain

import "time"

type RoomID string

// SessionDescription is the stored form of an SDP offer or answer.
type SessionDescription struct {
	Type string `json:"type" bson:"type"`
	SDP  string `json:"sdp" bson:"sdp"`
}

// Room is the rendezvous record two peers meet on.
// Offer is written once at creation, Answer at most once by the callee.
type Room struct {
	ID        RoomID              `json:"id"`
	Offer     *SessionDescription `json:"offer,omitempty"`
	Answer    *SessionDescription `json:"answer,omitempty"`
	Creator   string              `json:"creator"`
	CreatedAt time.Time           `json:"createdAt"`
}

// Joinable reports whether a callee may still answer this room.
func (r *Room) Joinable() bool {
	return r.Offer != nil && r.Answer == nil
}

func (r *Room) Answered() bool { return r.Answer != nil }

// Clone returns a copy that shares no pointers with r.
func (r *Room) Clone() *Room {
	out := *r
	if r.Offer != nil {
		o := *r.Offer
		out.Offer = &o
	}
	if r.Answer != nil {
		a := *r.Answer
		out.Answer = &a
	}
	return &out
}
