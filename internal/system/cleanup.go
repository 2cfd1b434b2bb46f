package system

import (
	"time"

	coresys "github.com/quakesync/server/internal/core/system"
	"github.com/quakesync/server/internal/server"
	"go.uber.org/zap"
)

// CleanupSystem releases the edicts freed during the frame and performs a
// level change requested by the rules. Phase 6 (Cleanup).
type CleanupSystem struct {
	sv  *server.Server
	log *zap.Logger
}

func NewCleanupSystem(sv *server.Server, log *zap.Logger) *CleanupSystem {
	return &CleanupSystem{sv: sv, log: log}
}

func (s *CleanupSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }

func (s *CleanupSystem) Update(_ time.Duration) {
	if n := s.sv.FlushFreed(); n > 0 {
		s.log.Debug("edicts released", zap.Int("count", n))
	}
	if next := s.sv.PendingLevel(); next != "" {
		if err := s.sv.ApplyLevelChange(); err != nil {
			s.log.Error("level change failed", zap.String("map", next), zap.Error(err))
		}
	}
}
