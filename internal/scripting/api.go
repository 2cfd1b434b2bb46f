package scripting

import (
	"github.com/quakesync/server/internal/server"
	"github.com/quakesync/server/internal/world"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// registerAPI installs the global qs table. Entities are passed to and
// from Lua as edict numbers, vectors as {x, y, z}.
func (e *Engine) registerAPI() {
	api := e.vm.NewTable()
	e.vm.SetFuncs(api, map[string]lua.LGFunction{
		"time":           e.luaTime,
		"num_edicts":     e.luaNumEdicts,
		"is_free":        e.luaIsFree,
		"visible":        e.luaVisible,
		"ent_get":        e.luaEntGet,
		"ent_set":        e.luaEntSet,
		"spawn":          e.luaSpawn,
		"remove":         e.luaRemove,
		"setorigin":      e.luaSetOrigin,
		"setmodel":       e.luaSetModel,
		"precache_model": e.luaPrecacheModel,
		"precache_sound": e.luaPrecacheSound,
		"sound":          e.luaSound,
		"stopsound":      e.luaStopSound,
		"localsound":     e.luaLocalSound,
		"particle":       e.luaParticle,
		"makestatic":     e.luaMakeStatic,
		"ambientsound":   e.luaAmbientSound,
		"bprint":         e.luaBPrint,
		"sprint":         e.luaSPrint,
		"centerprint":    e.luaCenterPrint,
		"stat_global":    e.luaStatGlobal,
		"usercmd":        e.luaUserCmd,
		"changelevel":    e.luaChangeLevel,
		"log":            e.luaLog,
	})
	e.vm.SetGlobal("qs", api)

	consts := e.vm.NewTable()
	for name, v := range map[string]int{
		"MOVETYPE_NONE":   world.MoveTypeNone,
		"MOVETYPE_WALK":   world.MoveTypeWalk,
		"MOVETYPE_STEP":   world.MoveTypeStep,
		"MOVETYPE_FLY":    world.MoveTypeFly,
		"MOVETYPE_TOSS":   world.MoveTypeToss,
		"MOVETYPE_PUSH":   world.MoveTypePush,
		"MOVETYPE_NOCLIP": world.MoveTypeNoClip,
		"FL_FLY":          world.FlagFly,
		"FL_SWIM":         world.FlagSwim,
		"FL_CLIENT":       world.FlagClient,
		"FL_ITEM":         world.FlagItem,
		"FL_ONGROUND":     world.FlagOnGround,
		"EF_BRIGHTFIELD":  world.EffectBrightField,
		"EF_MUZZLEFLASH":  world.EffectMuzzleFlash,
		"EF_BRIGHTLIGHT":  world.EffectBrightLight,
		"EF_DIMLIGHT":     world.EffectDimLight,
		"VIEW_HEIGHT":     world.DefaultViewHeight,
		"NUM_SPAWN_PARMS": world.NumSpawnParms,
	} {
		consts.RawSetString(name, lua.LNumber(v))
	}
	e.vm.SetGlobal("const", consts)
}

// level returns the bound server or raises a Lua error.
func (e *Engine) level(L *lua.LState) *server.Server {
	if e.sv == nil || e.sv.Edicts == nil {
		L.RaiseError("no level is running")
		return nil
	}
	return e.sv
}

// edictArg resolves argument n to a live edict.
func (e *Engine) edictArg(L *lua.LState, n int) *world.Edict {
	sv := e.level(L)
	ent := sv.Edicts.Get(L.CheckInt(n))
	if ent == nil {
		L.ArgError(n, "no such entity")
		return nil
	}
	return ent
}

func (e *Engine) luaTime(L *lua.LState) int {
	L.Push(lua.LNumber(e.level(L).Time))
	return 1
}

func (e *Engine) luaNumEdicts(L *lua.LState) int {
	L.Push(lua.LNumber(e.level(L).Edicts.Num()))
	return 1
}

func (e *Engine) luaIsFree(L *lua.LState) int {
	L.Push(lua.LBool(e.edictArg(L, 1).Free))
	return 1
}

// visible(player, ent) tests ent against the player's fat PVS.
func (e *Engine) luaVisible(L *lua.LState) int {
	player := e.edictArg(L, 1)
	ent := e.edictArg(L, 2)
	L.Push(lua.LBool(e.sv.VisibleToClient(player, ent)))
	return 1
}

// ent_get(ent, field): built-in fields first, then extension fields.
func (e *Engine) luaEntGet(L *lua.LState) int {
	ent := e.edictArg(L, 1)
	name := L.CheckString(2)
	if f, ok := builtinFields[name]; ok {
		L.Push(f.get(L, &ent.V))
		return 1
	}
	idx := e.sv.Edicts.Fields.Lookup(name)
	if idx < 0 {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(valueToLua(L, ent.Field(idx)))
	return 1
}

// ent_set(ent, field, value). Unknown names become extension fields; an
// existing extension value keeps its kind.
func (e *Engine) luaEntSet(L *lua.LState) int {
	ent := e.edictArg(L, 1)
	name := L.CheckString(2)
	val := L.CheckAny(3)
	if f, ok := builtinFields[name]; ok {
		f.set(&ent.V, val)
		return 0
	}
	idx := e.sv.Edicts.Fields.Intern(name)
	if old := ent.Field(idx); old.Kind != world.KindNone {
		ent.SetField(idx, convertValue(old.Kind, val))
		return 0
	}
	ent.SetField(idx, valueFromLua(val))
	return 0
}

func (e *Engine) luaSpawn(L *lua.LState) int {
	sv := e.level(L)
	ent, err := sv.Edicts.Alloc(sv.Time)
	if err != nil {
		L.RaiseError("spawn: %v", err)
		return 0
	}
	L.Push(lua.LNumber(ent.Num))
	return 1
}

func (e *Engine) luaRemove(L *lua.LState) int {
	ent := e.edictArg(L, 1)
	if ent.Num <= e.sv.Edicts.MaxClients() {
		L.ArgError(1, "cannot remove world or client entities")
		return 0
	}
	e.sv.FreeEdict(ent)
	return 0
}

func (e *Engine) luaSetOrigin(L *lua.LState) int {
	ent := e.edictArg(L, 1)
	ent.V.Origin = vecFromLua(L.CheckTable(2))
	world.LinkEdict(ent, e.sv.Map)
	return 0
}

// setmodel(ent, name[, mins, maxs])
func (e *Engine) luaSetModel(L *lua.LState) int {
	ent := e.edictArg(L, 1)
	name := L.CheckString(2)
	idx, err := e.sv.PrecacheModel(name)
	if err != nil {
		L.RaiseError("setmodel %s: %v", name, err)
		return 0
	}
	ent.V.Model = name
	ent.V.ModelIndex = idx
	if L.GetTop() >= 4 {
		ent.V.Mins = vecFromLua(L.CheckTable(3))
		ent.V.Maxs = vecFromLua(L.CheckTable(4))
	}
	world.LinkEdict(ent, e.sv.Map)
	return 0
}

func (e *Engine) luaPrecacheModel(L *lua.LState) int {
	name := L.CheckString(1)
	idx, err := e.level(L).PrecacheModel(name)
	if err != nil {
		L.RaiseError("precache_model %s: %v", name, err)
		return 0
	}
	L.Push(lua.LNumber(idx))
	return 1
}

func (e *Engine) luaPrecacheSound(L *lua.LState) int {
	name := L.CheckString(1)
	idx, err := e.level(L).PrecacheSound(name)
	if err != nil {
		L.RaiseError("precache_sound %s: %v", name, err)
		return 0
	}
	L.Push(lua.LNumber(idx))
	return 1
}

// sound(ent, channel, sample[, volume 0..1, attenuation])
func (e *Engine) luaSound(L *lua.LState) int {
	ent := e.edictArg(L, 1)
	channel := L.CheckInt(2)
	sample := L.CheckString(3)
	volume := float64(L.OptNumber(4, 1))
	atten := float32(L.OptNumber(5, 1))
	e.sv.StartSound(ent, channel, sample, int(volume*255), atten)
	return 0
}

func (e *Engine) luaStopSound(L *lua.LState) int {
	e.sv.StopSound(e.edictArg(L, 1), L.CheckInt(2))
	return 0
}

// localsound(ent, sample) plays to the client owning ent.
func (e *Engine) luaLocalSound(L *lua.LState) int {
	ent := e.edictArg(L, 1)
	sample := L.CheckString(2)
	c := e.sv.ClientForEdict(ent)
	if c == nil || !c.Active {
		L.ArgError(1, "not a client")
		return 0
	}
	e.sv.LocalSound(c, sample)
	return 0
}

// particle(org, dir, color, count)
func (e *Engine) luaParticle(L *lua.LState) int {
	sv := e.level(L)
	org := vecFromLua(L.CheckTable(1))
	dir := vecFromLua(L.CheckTable(2))
	sv.StartParticle(org, dir, L.CheckInt(3), L.CheckInt(4))
	return 0
}

// makestatic(ent) returns true, or false and a message.
func (e *Engine) luaMakeStatic(L *lua.LState) int {
	if err := e.sv.MakeStatic(e.edictArg(L, 1)); err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// ambientsound(org, sample, volume, attenuation) returns like makestatic.
func (e *Engine) luaAmbientSound(L *lua.LState) int {
	sv := e.level(L)
	org := vecFromLua(L.CheckTable(1))
	sample := L.CheckString(2)
	vol := float32(L.CheckNumber(3))
	atten := float32(L.CheckNumber(4))
	if err := sv.AmbientSound(org, sample, vol, atten); err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

func (e *Engine) luaBPrint(L *lua.LState) int {
	e.level(L).BroadcastPrint(L.CheckString(1))
	return 0
}

func (e *Engine) luaSPrint(L *lua.LState) int {
	e.sv.ClientPrint(e.edictArg(L, 1), L.CheckString(2))
	return 0
}

func (e *Engine) luaCenterPrint(L *lua.LState) int {
	e.sv.CenterPrint(e.edictArg(L, 1), L.CheckString(2))
	return 0
}

// stat_global(name, value) updates a stat declared with global = name.
func (e *Engine) luaStatGlobal(L *lua.LState) int {
	name := L.CheckString(1)
	g, ok := e.globals[name]
	if !ok {
		L.ArgError(1, "no stat reads global "+name)
		return 0
	}
	*g = convertValue(g.Kind, L.CheckAny(2))
	return 0
}

// usercmd(ent) is the last movement command of the spawned client owning
// ent, or nil.
func (e *Engine) luaUserCmd(L *lua.LState) int {
	c := e.sv.ClientForEdict(e.edictArg(L, 1))
	if c == nil || !c.Spawned {
		L.Push(lua.LNil)
		return 1
	}
	t := L.CreateTable(0, 5)
	t.RawSetString("forwardmove", lua.LNumber(c.Cmd.ForwardMove))
	t.RawSetString("sidemove", lua.LNumber(c.Cmd.SideMove))
	t.RawSetString("upmove", lua.LNumber(c.Cmd.UpMove))
	t.RawSetString("buttons", lua.LNumber(c.Cmd.Buttons))
	t.RawSetString("impulse", lua.LNumber(c.Cmd.Impulse))
	L.Push(t)
	return 1
}

// changelevel(map) switches levels once the current frame is over.
func (e *Engine) luaChangeLevel(L *lua.LState) int {
	e.level(L).ChangeLevel(L.CheckString(1))
	return 0
}

func (e *Engine) luaLog(L *lua.LState) int {
	e.log.Debug("lua", zap.String("msg", L.CheckString(1)))
	return 0
}
