package system

import (
	"time"

	coresys "github.com/quakesync/server/internal/core/system"
	"github.com/quakesync/server/internal/server"
)

// OutputSystem builds and sends this frame's client messages. Phase 4
// (Output).
type OutputSystem struct {
	sv *server.Server
}

func NewOutputSystem(sv *server.Server) *OutputSystem {
	return &OutputSystem{sv: sv}
}

func (s *OutputSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *OutputSystem) Update(_ time.Duration) {
	s.sv.SendClientMessages()
}
