package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// CandidateLog names one of the two append-only candidate collections of a room.
type CandidateLog string

const (
	CallerCandidates CandidateLog = "callerCandidates"
	CalleeCandidates CandidateLog = "calleeCandidates"
)

func ParseCandidateLog(s string) (CandidateLog, error) {
	switch CandidateLog(s) {
	case CallerCandidates, CalleeCandidates:
		return CandidateLog(s), nil
	}
	return "", fmt.Errorf("unknown candidate log %q", s)
}

// Peer returns the log written by the other side of the call.
func (l CandidateLog) Peer() CandidateLog {
	if l == CallerCandidates {
		return CalleeCandidates
	}
	return CallerCandidates
}

// CandidateRecord is one trickled ICE candidate as persisted by the store.
// Candidate is kept opaque; Seq is the 1-based append position inside its log.
type CandidateRecord struct {
	ID        string          `json:"id"`
	Room      RoomID          `json:"room"`
	Log       CandidateLog    `json:"log"`
	Seq       uint64          `json:"seq"`
	Candidate json.RawMessage `json:"candidate"`
	CreatedAt time.Time       `json:"createdAt"`
}
