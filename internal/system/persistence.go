package system

import (
	"context"
	"time"

	coresys "github.com/quakesync/server/internal/core/system"
	"github.com/quakesync/server/internal/persist"
	"github.com/quakesync/server/internal/server"
	"go.uber.org/zap"
)

// NetStatsSaver stores level packet statistics. *persist.NetStatsRepo
// implements it.
type NetStatsSaver interface {
	Save(ctx context.Context, row *persist.NetStatsRow) error
}

// PersistenceSystem periodically writes the running level's packet
// statistics. Phase 5 (Persist).
type PersistenceSystem struct {
	sv        *server.Server
	repo      NetStatsSaver
	log       *zap.Logger
	now       func() time.Time
	tickCount int
	interval  int // save every N ticks

	started map[string]time.Time
}

func NewPersistenceSystem(sv *server.Server, repo NetStatsSaver, log *zap.Logger, intervalTicks int) *PersistenceSystem {
	if intervalTicks < 1 {
		intervalTicks = 1
	}
	return &PersistenceSystem{
		sv:       sv,
		repo:     repo,
		log:      log,
		now:      time.Now,
		interval: intervalTicks,
		started:  make(map[string]time.Time),
	}
}

func (s *PersistenceSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *PersistenceSystem) Update(_ time.Duration) {
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0
	s.SaveNow()
}

// SaveNow writes the current statistics immediately. Called on shutdown
// and before a level change so the last interval is not lost.
func (s *PersistenceSystem) SaveNow() {
	if !s.sv.Active {
		return
	}
	id := s.sv.LevelID.String()
	started, ok := s.started[id]
	if !ok {
		started = s.now()
		s.started = map[string]time.Time{id: started}
	}
	st := s.sv.Stats
	row := &persist.NetStatsRow{
		LevelID:        s.sv.LevelID,
		Map:            s.sv.Name,
		Protocol:       s.sv.Protocol,
		PeakPacketSize: st.PeakSize,
		LastPacketSize: st.PacketSize,
		Overflows:      st.Overflows,
		Drops:          st.Drops,
		StartedAt:      started,
		UpdatedAt:      s.now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.repo.Save(ctx, row); err != nil {
		s.log.Error("net stats save failed", zap.String("level_id", id), zap.Error(err))
		return
	}
	s.log.Debug("net stats saved",
		zap.String("level_id", id),
		zap.Int("peak", st.PeakSize),
		zap.Int("overflows", st.Overflows),
	)
}
