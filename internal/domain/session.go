package domain

type Role string

const (
	RoleCaller Role = "caller"
	RoleCallee Role = "callee"
)

// LocalLog is the candidate log this role appends to.
func (r Role) LocalLog() CandidateLog {
	if r == RoleCaller {
		return CallerCandidates
	}
	return CalleeCandidates
}

// RemoteLog is the candidate log this role reads from.
func (r Role) RemoteLog() CandidateLog { return r.LocalLog().Peer() }

// State is the lifecycle state of a connection session.
type State int

const (
	StateIdle State = iota
	StateOffering
	StateAwaitingAnswer
	StateAnswering
	StateConnected
	StateClosed
	StateFailed
)

var stateNames = [...]string{
	StateIdle:           "idle",
	StateOffering:       "offering",
	StateAwaitingAnswer: "awaiting_answer",
	StateAnswering:      "answering",
	StateConnected:      "connected",
	StateClosed:         "closed",
	StateFailed:         "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}
