package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/quakesync/server/internal/config"
	"github.com/quakesync/server/internal/data"
	"github.com/quakesync/server/internal/server"
	"github.com/quakesync/server/internal/stats"
	"github.com/quakesync/server/internal/world"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// APIVersion is exposed to scripts as API_VERSION.
const APIVersion = 1

// Engine wraps a single gopher-lua VM running the level rules.
// Single-goroutine access only (frame loop).
type Engine struct {
	vm  *lua.LState
	log *zap.Logger

	// sv is the level the current hook runs against. API calls made
	// outside a hook raise a Lua error.
	sv *server.Server

	decls       []stats.Decl
	globals     map[string]*world.Value
	effectsMask int
	usesItems2  bool
}

var _ server.Rules = (*Engine)(nil)

// NewEngine creates a Lua engine, loads scriptsDir/lib and then the rules
// entry script.
func NewEngine(cfg config.ScriptingConfig, phys config.WorldConfig, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(APIVersion))

	e := &Engine{
		vm:          vm,
		log:         log,
		globals:     make(map[string]*world.Value),
		effectsMask: world.DefaultEffectsMask,
	}
	e.registerAPI()
	e.setPhysics(phys)

	if err := e.loadDir(filepath.Join(cfg.Dir, "lib")); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load lib scripts: %w", err)
	}
	entry := filepath.Join(cfg.Dir, cfg.Rules)
	if err := vm.DoFile(entry); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load rules %s: %w", entry, err)
	}
	log.Debug("loaded lua script", zap.String("file", entry))

	if err := e.readDeclarations(); err != nil {
		vm.Close()
		return nil, fmt.Errorf("rules %s: %w", entry, err)
	}
	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

func (e *Engine) setPhysics(p config.WorldConfig) {
	t := e.vm.NewTable()
	t.RawSetString("gravity", lua.LNumber(p.Gravity))
	t.RawSetString("friction", lua.LNumber(p.Friction))
	t.RawSetString("stopspeed", lua.LNumber(p.StopSpeed))
	t.RawSetString("maxspeed", lua.LNumber(p.MaxSpeed))
	t.RawSetString("accelerate", lua.LNumber(p.Accelerate))
	t.RawSetString("edgefriction", lua.LNumber(p.EdgeFriction))
	t.RawSetString("maxvelocity", lua.LNumber(p.MaxVelocity))
	e.vm.SetGlobal("physics", t)
}

// readDeclarations picks up the static rule settings: custom_stats,
// effects_mask and uses_items2.
func (e *Engine) readDeclarations() error {
	if v, ok := e.vm.GetGlobal("effects_mask").(lua.LNumber); ok {
		e.effectsMask = int(v)
	}
	e.usesItems2 = lua.LVAsBool(e.vm.GetGlobal("uses_items2"))

	tbl, ok := e.vm.GetGlobal("custom_stats").(*lua.LTable)
	if !ok {
		return nil
	}
	var err error
	tbl.ForEach(func(_, v lua.LValue) {
		row, ok := v.(*lua.LTable)
		if !ok || err != nil {
			return
		}
		kind, kerr := world.ParseKind(lStr(row, "type"))
		if kerr != nil {
			err = fmt.Errorf("custom stat %d: %w", lInt(row, "index"), kerr)
			return
		}
		d := stats.Decl{Index: lInt(row, "index"), Kind: kind, Field: lStr(row, "field")}
		if name := lStr(row, "global"); name != "" {
			g, ok := e.globals[name]
			if !ok {
				g = &world.Value{Kind: kind}
				e.globals[name] = g
			}
			d.Global = g
		}
		e.decls = append(e.decls, d)
	})
	return err
}

// call runs a global Lua function. A missing function reports false
// without logging; a failing one is logged.
func (e *Engine) call(name string, nret int, args ...lua.LValue) (lua.LValue, bool) {
	fn := e.vm.GetGlobal(name)
	if fn == lua.LNil {
		return lua.LNil, false
	}
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    nret,
		Protect: true,
	}, args...); err != nil {
		e.log.Error("lua hook error", zap.String("hook", name), zap.Error(err))
		return lua.LNil, false
	}
	if nret == 0 {
		return lua.LNil, true
	}
	ret := e.vm.Get(-1)
	e.vm.Pop(1)
	return ret, true
}

// bind makes sv the target of API calls until the hook returns.
func (e *Engine) bind(sv *server.Server) func() {
	prev := e.sv
	e.sv = sv
	return func() { e.sv = prev }
}

func (e *Engine) SetNewParms() world.Parms {
	ret, _ := e.call("set_new_parms", 1)
	return parmsFromLua(ret)
}

func (e *Engine) SetChangeParms(sv *server.Server, ent *world.Edict) world.Parms {
	defer e.bind(sv)()
	ret, _ := e.call("set_change_parms", 1, lua.LNumber(ent.Num))
	return parmsFromLua(ret)
}

// SpawnEntity hands the entity and its level keys to spawn_entity. Only an
// explicit false frees the entity.
func (e *Engine) SpawnEntity(sv *server.Server, ent *world.Edict, def data.EntityDef) bool {
	defer e.bind(sv)()
	keys := e.vm.CreateTable(0, len(def))
	for k, v := range def {
		keys.RawSetString(k, lua.LString(v))
	}
	ret, ok := e.call("spawn_entity", 1, lua.LNumber(ent.Num), keys)
	if !ok {
		return true
	}
	return ret != lua.LFalse
}

func (e *Engine) PutClientInServer(sv *server.Server, ent *world.Edict, parms world.Parms) {
	defer e.bind(sv)()
	e.call("put_client_in_server", 0, lua.LNumber(ent.Num), e.parmsToLua(parms))
}

func (e *Engine) ClientDisconnect(sv *server.Server, ent *world.Edict) {
	defer e.bind(sv)()
	e.call("client_disconnect", 0, lua.LNumber(ent.Num))
}

func (e *Engine) Frame(sv *server.Server, dt float64) {
	defer e.bind(sv)()
	e.call("frame", 0, lua.LNumber(dt))
}

func (e *Engine) CustomStats() []stats.Decl { return e.decls }
func (e *Engine) EffectsMask() int         { return e.effectsMask }
func (e *Engine) UsesItems2() bool         { return e.usesItems2 }

// Close releases the VM.
func (e *Engine) Close() {
	e.vm.Close()
}

func parmsFromLua(v lua.LValue) world.Parms {
	var p world.Parms
	t, ok := v.(*lua.LTable)
	if !ok {
		return p
	}
	for i := range p {
		p[i] = float32(lua.LVAsNumber(t.RawGetInt(i + 1)))
	}
	return p
}

func (e *Engine) parmsToLua(p world.Parms) *lua.LTable {
	t := e.vm.CreateTable(len(p), 0)
	for i, f := range p {
		t.RawSetInt(i+1, lua.LNumber(f))
	}
	return t
}

// lInt reads an integer field from a Lua table.
func lInt(t *lua.LTable, key string) int {
	return int(lua.LVAsNumber(t.RawGetString(key)))
}

// lStr reads a string field from a Lua table.
func lStr(t *lua.LTable, key string) string {
	return lua.LVAsString(t.RawGetString(key))
}
