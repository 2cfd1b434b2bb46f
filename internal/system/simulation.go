package system

import (
	"time"

	coresys "github.com/quakesync/server/internal/core/system"
	"github.com/quakesync/server/internal/server"
)

// SimulationSystem lets the rules think and advances level time.
// Phase 2 (Update).
type SimulationSystem struct {
	sv *server.Server
}

func NewSimulationSystem(sv *server.Server) *SimulationSystem {
	return &SimulationSystem{sv: sv}
}

func (s *SimulationSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *SimulationSystem) Update(dt time.Duration) {
	s.sv.RunFrame(dt.Seconds())
}
