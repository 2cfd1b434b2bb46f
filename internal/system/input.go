package system

import (
	"time"

	coresys "github.com/quakesync/server/internal/core/system"
	"github.com/quakesync/server/internal/server"
)

// InputSystem accepts pending connections and runs every queued client
// command. Phase 0 (Input).
type InputSystem struct {
	sv *server.Server
}

func NewInputSystem(sv *server.Server) *InputSystem {
	return &InputSystem{sv: sv}
}

func (s *InputSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *InputSystem) Update(_ time.Duration) {
	s.sv.CheckForNewClients()
	s.sv.ReadAllClientMessages()
}
