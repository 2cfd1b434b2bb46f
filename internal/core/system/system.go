// Package system orders the per-frame work of the server into phases.
package system

import "time"

// Phase defines execution ordering within a single frame.
type Phase int

const (
	PhaseInput      Phase = iota // accept connections, run client commands
	PhasePreUpdate               // deliver last frame's events
	PhaseUpdate                  // rules think, time advances
	PhasePostUpdate              // relink moved entities
	PhaseOutput                  // build and send client messages
	PhasePersist                 // periodic statistics flush
	PhaseCleanup                 // release freed edicts
)

func (p Phase) String() string {
	switch p {
	case PhaseInput:
		return "input"
	case PhasePreUpdate:
		return "pre-update"
	case PhaseUpdate:
		return "update"
	case PhasePostUpdate:
		return "post-update"
	case PhaseOutput:
		return "output"
	case PhasePersist:
		return "persist"
	case PhaseCleanup:
		return "cleanup"
	}
	return "unknown"
}

// System is one stage of the frame.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
