package session

import (
	"fmt"

	"github.com/dkeye/videocall/internal/domain"
)

var transitions = map[domain.State][]domain.State{
	domain.StateIdle:           {domain.StateOffering, domain.StateAnswering, domain.StateFailed, domain.StateClosed},
	domain.StateOffering:       {domain.StateAwaitingAnswer, domain.StateFailed, domain.StateClosed},
	domain.StateAwaitingAnswer: {domain.StateConnected, domain.StateFailed, domain.StateClosed},
	domain.StateAnswering:      {domain.StateConnected, domain.StateFailed, domain.StateClosed},
	domain.StateConnected:      {domain.StateFailed, domain.StateClosed},
}

// transition validates a lifecycle move. Terminal states have no exits.
func transition(from, to domain.State) error {
	for _, s := range transitions[from] {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, from, to)
}
