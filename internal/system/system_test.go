package system

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quakesync/server/internal/bsp/bsptest"
	"github.com/quakesync/server/internal/core/event"
	coresys "github.com/quakesync/server/internal/core/system"
	"github.com/quakesync/server/internal/data"
	gonet "github.com/quakesync/server/internal/net"
	"github.com/quakesync/server/internal/net/packet"
	"github.com/quakesync/server/internal/persist"
	"github.com/quakesync/server/internal/server"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type oneLevel struct{ lvl *data.Level }

func (l oneLevel) LoadLevel(string) (*data.Level, error) { return l.lvl, nil }

type fakeSaver struct {
	rows []persist.NetStatsRow
	err  error
}

func (f *fakeSaver) Save(_ context.Context, row *persist.NetStatsRow) error {
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, *row)
	return nil
}

const tick = 100 * time.Millisecond

type pipeline struct {
	sv      *server.Server
	lb      *gonet.Loopback
	bus     *event.Bus
	runner  *coresys.Runner
	saver   *fakeSaver
	persist *PersistenceSystem
}

func newPipeline(t *testing.T, log *zap.Logger) *pipeline {
	t.Helper()
	lvl := &data.Level{
		Name: "test",
		Map:  bsptest.Corridor(),
		Entities: []data.EntityDef{
			{"classname": "worldspawn"},
			{"classname": "misc_box", "model": "progs/box.mdl", "origin": "50 0 0"},
		},
		Models: []string{server.PlayerModel, "progs/box.mdl"},
	}
	bus := event.NewBus()
	sv, err := server.New(server.DefaultOptions(), nil, oneLevel{lvl}, log, server.WithEventBus(bus))
	if err != nil {
		t.Fatal(err)
	}
	if err := sv.SpawnServer("test"); err != nil {
		t.Fatal(err)
	}
	lb := gonet.NewLoopback()
	sv.AddTransport(lb)

	saver := &fakeSaver{}
	ps := NewPersistenceSystem(sv, saver, log, 3)

	r := coresys.NewRunner()
	// Registered out of phase order on purpose.
	r.Register(NewCleanupSystem(sv, log))
	r.Register(ps)
	r.Register(NewOutputSystem(sv))
	r.Register(NewSimulationSystem(sv))
	r.Register(NewEventDispatchSystem(bus))
	r.Register(NewInputSystem(sv))

	return &pipeline{sv: sv, lb: lb, bus: bus, runner: r, saver: saver, persist: ps}
}

func stringCmd(s string) []byte {
	w := packet.NewWriter(64)
	w.PutByte(packet.ClcStringCmd)
	w.PutString(s)
	return w.Bytes()
}

func TestPipelineSpawnsClient(t *testing.T) {
	p := newPipeline(t, zap.NewNop())
	var spawned []event.ClientSpawned
	event.Subscribe(p.bus, func(ev event.ClientSpawned) { spawned = append(spawned, ev) })

	conn := p.lb.Dial(gonet.LocalAddress, "")
	p.runner.Tick(tick)
	for _, cmd := range []string{"name runner", "prespawn", "spawn", "begin"} {
		conn.Send(stringCmd(cmd))
		p.runner.Tick(tick)
	}
	c := p.sv.Client(0)
	if !c.Spawned {
		t.Fatalf("client stage %s, not spawned", c.Stage)
	}
	// Input runs before PreUpdate, so the begin frame already delivered it.
	if len(spawned) != 1 || spawned[0].Name != "runner" {
		t.Fatalf("spawned events = %+v", spawned)
	}

	conn.TakeUnreliable()
	p.runner.Tick(tick)
	if len(spawned) != 1 {
		t.Fatal("event delivered twice")
	}
	dgrams := conn.TakeUnreliable()
	if len(dgrams) != 1 || dgrams[0][0] != packet.SvcTime {
		t.Fatalf("datagrams = %d", len(dgrams))
	}
}

func TestSimulationAdvancesTime(t *testing.T) {
	p := newPipeline(t, zap.NewNop())
	before := p.sv.Time
	p.runner.TickPhase(coresys.PhaseUpdate, tick)
	if got := p.sv.Time - before; got < 0.099 || got > 0.101 {
		t.Fatalf("time advanced by %v", got)
	}
}

func TestPersistenceInterval(t *testing.T) {
	p := newPipeline(t, zap.NewNop())
	for i := 0; i < 2; i++ {
		p.runner.Tick(tick)
	}
	if len(p.saver.rows) != 0 {
		t.Fatal("saved before interval")
	}
	p.runner.Tick(tick)
	if len(p.saver.rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(p.saver.rows))
	}
	row := p.saver.rows[0]
	if row.LevelID != p.sv.LevelID || row.Map != "test" || row.Protocol != packet.ProtocolFitzQuake {
		t.Fatalf("row = %+v", row)
	}

	for i := 0; i < 3; i++ {
		p.runner.Tick(tick)
	}
	if len(p.saver.rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(p.saver.rows))
	}
	if !p.saver.rows[1].StartedAt.Equal(row.StartedAt) {
		t.Fatal("start time changed within one level")
	}
}

func TestPersistenceErrorLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	p := newPipeline(t, zap.New(core))
	p.saver.err = errors.New("db down")
	p.persist.SaveNow()
	if logs.FilterMessage("net stats save failed").Len() != 1 {
		t.Fatal("save failure not logged")
	}
}

func TestCleanupReleasesFreed(t *testing.T) {
	p := newPipeline(t, zap.NewNop())
	box := p.sv.Edicts.Get(p.sv.Options().MaxClients + 1)
	if box.Free {
		t.Fatal("box not spawned")
	}
	p.sv.FreeEdict(box)
	p.runner.TickPhase(coresys.PhaseCleanup, tick)
	if !box.Free {
		t.Fatal("freed edict not released")
	}
}

func TestCleanupAppliesLevelChange(t *testing.T) {
	p := newPipeline(t, zap.NewNop())
	conn := p.lb.Dial(gonet.LocalAddress, "")
	p.runner.Tick(tick)
	for _, cmd := range []string{"prespawn", "spawn", "begin"} {
		conn.Send(stringCmd(cmd))
		p.runner.Tick(tick)
	}
	c := p.sv.Client(0)
	if !c.Spawned {
		t.Fatal("client not spawned")
	}
	oldLevel := p.sv.LevelID

	p.sv.ChangeLevel("e1m2")
	p.sv.ChangeLevel("e1m3")
	p.runner.Tick(tick)

	if p.sv.Name != "e1m2" || p.sv.LevelID == oldLevel {
		t.Fatalf("level %q id %s after change", p.sv.Name, p.sv.LevelID)
	}
	if p.sv.PendingLevel() != "" {
		t.Fatalf("pending level %q left over", p.sv.PendingLevel())
	}
	if c.Spawned || !c.Active {
		t.Fatalf("client active %v spawned %v after change", c.Active, c.Spawned)
	}
}

func TestInputPollBetweenFrames(t *testing.T) {
	p := newPipeline(t, zap.NewNop())
	conn := p.lb.Dial(gonet.LocalAddress, "")
	p.runner.Tick(tick)
	conn.TakeReliable()
	c := p.sv.Client(0)
	before := p.sv.Time

	conn.Send(stringCmd("prespawn"))
	p.runner.TickPhase(coresys.PhaseInput, 0)
	if c.Stage != packet.StageSendingSignonBuffers {
		t.Fatalf("stage after poll = %s", c.Stage)
	}
	if p.sv.Time != before || len(conn.TakeReliable()) != 0 {
		t.Fatal("input poll ran more than the input phase")
	}

	p.runner.Tick(tick)
	if c.Stage != packet.StageDone || len(conn.TakeReliable()) != 1 {
		t.Fatalf("signon not sent on the next frame, stage %s", c.Stage)
	}
}
