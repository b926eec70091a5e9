package session

import "github.com/pion/webrtc/v4"

// gate holds remote ICE candidates until the remote description is applied.
// It does no I/O; the session applies whatever push and release hand back.
type gate struct {
	opened bool
	queue  []webrtc.ICECandidateInit
}

// push returns the candidates that may be applied now.
func (g *gate) push(c webrtc.ICECandidateInit) []webrtc.ICECandidateInit {
	if g.opened {
		return []webrtc.ICECandidateInit{c}
	}
	g.queue = append(g.queue, c)
	return nil
}

// release opens the gate and returns the backlog in arrival order.
func (g *gate) release() []webrtc.ICECandidateInit {
	g.opened = true
	out := g.queue
	g.queue = nil
	return out
}

func (g *gate) pending() int { return len(g.queue) }
