package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/quakesync/server/internal/bsp/bsptest"
	"github.com/quakesync/server/internal/config"
	"github.com/quakesync/server/internal/data"
	"github.com/quakesync/server/internal/net/packet"
	"github.com/quakesync/server/internal/server"
	"github.com/quakesync/server/internal/world"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type levels map[string]*data.Level

func (l levels) LoadLevel(name string) (*data.Level, error) {
	lvl, ok := l[name]
	if !ok {
		return nil, fmt.Errorf("no level %q", name)
	}
	return lvl, nil
}

func physics() config.WorldConfig {
	return config.WorldConfig{Gravity: 800, MaxVelocity: 2000}
}

func baseEngine(t *testing.T, log *zap.Logger) *Engine {
	t.Helper()
	cfg := config.ScriptingConfig{Dir: filepath.Join("..", "..", "scripts"), Rules: "rules/base.lua"}
	e, err := NewEngine(cfg, physics(), log)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

// scriptEngine loads a single rules file written from src.
func scriptEngine(t *testing.T, src string, log *zap.Logger) (*Engine, error) {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "rules"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "rules", "test.lua"), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	e, err := NewEngine(config.ScriptingConfig{Dir: dir, Rules: "rules/test.lua"}, physics(), log)
	if err == nil {
		t.Cleanup(e.Close)
	}
	return e, err
}

func spawn(t *testing.T, rules server.Rules, defs []data.EntityDef) *server.Server {
	t.Helper()
	lvl := &data.Level{
		Name:     "test",
		Map:      bsptest.Corridor(),
		Entities: append([]data.EntityDef{{"classname": "worldspawn"}}, defs...),
		Models:   []string{server.PlayerModel, "progs/box.mdl"},
	}
	sv, err := server.New(server.DefaultOptions(), rules, levels{"test": lvl}, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sv.SpawnServer("test"); err != nil {
		t.Fatalf("SpawnServer: %v", err)
	}
	return sv
}

func TestBaseRulesSpawn(t *testing.T) {
	e := baseEngine(t, zap.NewNop())
	sv := spawn(t, e, []data.EntityDef{
		{"classname": "misc_static", "model": "progs/box.mdl", "origin": "30 0 0"},
		{"classname": "ambient_sound", "noise": "ambience/drip1.wav", "origin": "40 0 0"},
		{"classname": "info_player_start", "origin": "20 0 0"},
		{"classname": "misc_falling", "model": "progs/box.mdl", "origin": "50 0 100"},
		{"classname": "misc_spinner", "model": "progs/box.mdl", "origin": "60 0 0", "speed": "90"},
	})

	signon := sv.Signon.Buffer(0).Bytes()
	if signon[0] != packet.SvcSpawnStatic {
		t.Fatalf("first signon opcode = %d, want spawnstatic", signon[0])
	}
	if _, ok := sv.Precache.SoundIndex("ambience/drip1.wav"); !ok {
		t.Fatal("ambient sound not precached")
	}

	var falling, spinner bool
	for n := 1; n < sv.Edicts.Num(); n++ {
		ent := sv.Edicts.Get(n)
		if ent.Free {
			continue
		}
		switch ent.V.ClassName {
		case "misc_static", "ambient_sound", "info_player_start":
			t.Fatalf("%s kept an edict", ent.V.ClassName)
		case "misc_falling":
			falling = true
			if ent.V.Origin[2] >= 100 || ent.V.Velocity[2] >= 0 {
				t.Fatalf("falling entity did not fall: origin %v velocity %v", ent.V.Origin, ent.V.Velocity)
			}
		case "misc_spinner":
			spinner = true
			if ent.V.Angles[1] <= 0 {
				t.Fatalf("spinner yaw = %v", ent.V.Angles[1])
			}
		}
	}
	if !falling || !spinner {
		t.Fatal("moving entities missing")
	}
}

func TestBaseRulesParms(t *testing.T) {
	e := baseEngine(t, zap.NewNop())
	sv := spawn(t, e, []data.EntityDef{
		{"classname": "info_player_start", "origin": "20 0 0"},
	})

	parms := e.SetNewParms()
	if parms[1] != 100 || parms[3] != 25 {
		t.Fatalf("new parms = %v", parms)
	}

	player := sv.Edicts.Get(1)
	e.PutClientInServer(sv, player, parms)
	if player.V.Health != 100 || player.V.AmmoShells != 25 {
		t.Fatalf("player vars = %+v", player.V)
	}
	if player.V.Origin[0] != 20 {
		t.Fatalf("player origin = %v, want spawn point", player.V.Origin)
	}
	if !player.V.FixAngle || player.V.ViewOfs[2] != 22 {
		t.Fatal("player view not set up")
	}

	player.V.Health = 250
	player.V.AmmoShells = 7
	changed := e.SetChangeParms(sv, player)
	if changed[1] != 100 || changed[3] != 7 {
		t.Fatalf("change parms = %v", changed)
	}
}

func TestBaseRulesCustomStat(t *testing.T) {
	e := baseEngine(t, zap.NewNop())
	decls := e.CustomStats()
	if len(decls) != 1 || decls[0].Index != 32 || decls[0].Global == nil {
		t.Fatalf("decls = %+v", decls)
	}
	sv := spawn(t, e, nil)
	sv.Time = 600
	e.Frame(sv, 0.1)
	if got := decls[0].Global.F; got != 10 {
		t.Fatalf("level_minutes = %v, want 10", got)
	}
}

func TestExtensionFieldsAndSpawnFilter(t *testing.T) {
	e, err := scriptEngine(t, `
function spawn_entity(ent, keys)
  if keys.classname == "drop_me" then return false end
  qs.ent_set(ent, "charge", 3)
  return true
end

function frame(dt)
  for ent = 1, qs.num_edicts() - 1 do
    if not qs.is_free(ent) then
      local c = qs.ent_get(ent, "charge")
      if c then qs.ent_set(ent, "charge", c + 1) end
    end
  end
  if broken then error("boom") end
end
`, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	sv := spawn(t, e, []data.EntityDef{
		{"classname": "keep_me"},
		{"classname": "drop_me"},
	})

	maxClients := sv.Options().MaxClients
	keep := sv.Edicts.Get(maxClients + 1)
	drop := sv.Edicts.Get(maxClients + 2)
	if keep.Free || !drop.Free {
		t.Fatalf("keep free=%v drop free=%v", keep.Free, drop.Free)
	}
	idx := sv.Edicts.Fields.Lookup("charge")
	if idx < 0 {
		t.Fatal("extension field not registered")
	}
	// Two settle frames ran during spawn.
	if got := keep.Field(idx).F; got != 5 {
		t.Fatalf("charge = %v, want 5", got)
	}
}

func TestHookErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	e, err := scriptEngine(t, `function frame(dt) error("boom") end`, zap.New(core))
	if err != nil {
		t.Fatal(err)
	}
	sv := spawn(t, e, nil)
	before := logs.FilterMessage("lua hook error").Len()
	e.Frame(sv, 0.1)
	if logs.FilterMessage("lua hook error").Len() != before+1 {
		t.Fatal("hook error not logged")
	}
}

func TestMissingHooksUseDefaults(t *testing.T) {
	e, err := scriptEngine(t, `-- empty rules`, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	sv := spawn(t, e, []data.EntityDef{{"classname": "anything"}})
	if sv.Edicts.Get(sv.Options().MaxClients + 1).Free {
		t.Fatal("entity freed without spawn_entity hook")
	}
	if p := e.SetNewParms(); p != (world.Parms{}) {
		t.Fatalf("parms = %v", p)
	}
	if e.EffectsMask() == 0 || e.UsesItems2() {
		t.Fatal("unexpected defaults")
	}
}

func TestBadStatDeclaration(t *testing.T) {
	_, err := scriptEngine(t, `custom_stats = {{index = 40, type = "quaternion", field = "q"}}`, zap.NewNop())
	if err == nil {
		t.Fatal("bad stat type accepted")
	}
}

func TestAPIOutsideHook(t *testing.T) {
	e, err := scriptEngine(t, `-- empty rules`, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if err := e.vm.DoString(`qs.time()`); err == nil {
		t.Fatal("api call without a level succeeded")
	}
	if e.vm.GetGlobal("API_VERSION") != lua.LNumber(APIVersion) {
		t.Fatal("API_VERSION not set")
	}
}

func TestVisibleFromLua(t *testing.T) {
	e, err := scriptEngine(t, `
function frame(dt)
  if target then seen = qs.visible(1, target) end
end
`, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	sv := spawn(t, e, []data.EntityDef{{"classname": "thing", "origin": "50 0 0"}})
	target := sv.Options().MaxClients + 1
	e.vm.SetGlobal("target", lua.LNumber(target))

	player := sv.Edicts.Get(1)
	player.V.Origin[0] = 40
	e.Frame(sv, 0.1)
	if e.vm.GetGlobal("seen") != lua.LTrue {
		t.Fatal("entity in the same room not visible")
	}
	player.V.Origin[0] = 300
	e.Frame(sv, 0.1)
	if e.vm.GetGlobal("seen") != lua.LFalse {
		t.Fatal("entity in a closed room visible")
	}
}

func TestChangeLevelFromLua(t *testing.T) {
	e, err := scriptEngine(t, `
function frame(dt)
  if next_map then qs.changelevel(next_map) end
end
`, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	sv := spawn(t, e, nil)
	if sv.PendingLevel() != "" {
		t.Fatalf("pending = %q before any request", sv.PendingLevel())
	}
	e.vm.SetGlobal("next_map", lua.LString("e1m2"))
	e.Frame(sv, 0.1)
	if sv.PendingLevel() != "e1m2" {
		t.Fatalf("pending = %q", sv.PendingLevel())
	}
}

func TestUserCmdFromLua(t *testing.T) {
	e, err := scriptEngine(t, `
function frame(dt)
  cmd = qs.usercmd(1)
end
`, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	sv := spawn(t, e, nil)
	e.Frame(sv, 0.1)
	if e.vm.GetGlobal("cmd") != lua.LNil {
		t.Fatal("command returned for a client that is not in the game")
	}

	c := sv.Client(0)
	c.Spawned = true
	c.Cmd = server.UserCmd{ForwardMove: 200, SideMove: -50, Buttons: 2, Impulse: 7}
	e.Frame(sv, 0.1)
	cmd, ok := e.vm.GetGlobal("cmd").(*lua.LTable)
	if !ok {
		t.Fatal("no command for a spawned client")
	}
	if lInt(cmd, "forwardmove") != 200 || lInt(cmd, "sidemove") != -50 || lInt(cmd, "buttons") != 2 || lInt(cmd, "impulse") != 7 {
		t.Fatalf("forward %d side %d buttons %d impulse %d",
			lInt(cmd, "forwardmove"), lInt(cmd, "sidemove"), lInt(cmd, "buttons"), lInt(cmd, "impulse"))
	}
}

func TestBaseRulesWalkAndExit(t *testing.T) {
	e := baseEngine(t, zap.NewNop())
	sv := spawn(t, e, []data.EntityDef{
		{"classname": "info_player_start", "origin": "20 0 0"},
		{"classname": "trigger_changelevel", "origin": "60 0 0", "radius": "16", "map": "e1m2"},
	})
	player := sv.Edicts.Get(1)
	e.PutClientInServer(sv, player, e.SetNewParms())
	c := sv.Client(0)
	c.Spawned = true
	c.Cmd = server.UserCmd{ForwardMove: 200}

	e.Frame(sv, 0.1)
	if player.V.Velocity[0] != 200 || player.V.Origin[0] != 40 {
		t.Fatalf("velocity %v origin %v", player.V.Velocity, player.V.Origin)
	}
	if sv.PendingLevel() != "" {
		t.Fatal("exit triggered from outside its radius")
	}

	e.Frame(sv, 0.1)
	if sv.PendingLevel() != "e1m2" {
		t.Fatalf("pending = %q at origin %v", sv.PendingLevel(), player.V.Origin)
	}
}
