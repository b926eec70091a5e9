// Package wire holds the JSON shapes and paths shared by the rendezvous
// server and its remote store client.
package wire

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/dkeye/videocall/internal/domain"
)

const (
	CodeRoomNotFound     = "room_not_found"
	CodeAlreadyAnswered  = "already_answered"
	CodeBadPayload       = "bad_payload"
	CodeBadLog           = "bad_log"
	CodeStoreUnavailable = "store_unavailable"
	CodeRateLimited      = "rate_limited"
	// CodePayloadTooLarge rejects a candidate body over the server's read_limit.
	CodePayloadTooLarge  = "payload_too_large"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type CreateRoomRequest struct {
	Offer   *domain.SessionDescription `json:"offer"`
	Creator string                     `json:"creator,omitempty"`
}

type CreateRoomResponse struct {
	ID domain.RoomID `json:"id"`
}

// Watch stream frame types.
const (
	EventReady     = "ready"
	EventCandidate = "candidate"
	EventRoom      = "room"
	EventError     = "error"
)

// WatchEvent is one text frame of a watch stream. The server sends ready once
// the underlying subscription is live.
type WatchEvent struct {
	Type      string                  `json:"type"`
	Candidate *domain.CandidateRecord `json:"candidate,omitempty"`
	Room      *domain.Room            `json:"room,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

// CodeFor maps a store error to its wire code.
func CodeFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		return CodeRoomNotFound
	case errors.Is(err, domain.ErrAlreadyAnswered):
		return CodeAlreadyAnswered
	default:
		return CodeStoreUnavailable
	}
}

// ErrorFor maps a wire code back to the domain error.
func ErrorFor(code string) error {
	switch code {
	case CodeRoomNotFound:
		return domain.ErrRoomNotFound
	case CodeAlreadyAnswered:
		return domain.ErrAlreadyAnswered
	case CodeStoreUnavailable:
		return domain.ErrStoreUnavailable
	case CodeRateLimited:
		return fmt.Errorf("%w: rate limited", domain.ErrStoreUnavailable)
	case CodePayloadTooLarge:
		return fmt.Errorf("%w: candidate exceeds server read limit", domain.ErrStoreUnavailable)
	default:
		return fmt.Errorf("%w: %s", domain.ErrStoreUnavailable, code)
	}
}

func RoomsPath() string { return "/api/rooms" }

func RoomPath(id domain.RoomID) string {
	return "/api/rooms/" + url.PathEscape(string(id))
}

func AnswerPath(id domain.RoomID) string { return RoomPath(id) + "/answer" }

func RoomWatchPath(id domain.RoomID) string { return RoomPath(id) + "/watch" }

func CandidatesPath(id domain.RoomID, l domain.CandidateLog) string {
	return RoomPath(id) + "/candidates/" + string(l)
}

func CandidatesWatchPath(id domain.RoomID, l domain.CandidateLog) string {
	return CandidatesPath(id, l) + "/watch"
}
