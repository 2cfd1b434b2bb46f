package scripting

import (
	"github.com/quakesync/server/internal/mathx"
	"github.com/quakesync/server/internal/world"
	lua "github.com/yuin/gopher-lua"
)

// fieldAccessor reads and writes one built-in entity field.
type fieldAccessor struct {
	get func(L *lua.LState, v *world.Vars) lua.LValue
	set func(v *world.Vars, val lua.LValue)
}

func floatField(p func(*world.Vars) *float32) fieldAccessor {
	return fieldAccessor{
		get: func(_ *lua.LState, v *world.Vars) lua.LValue { return lua.LNumber(*p(v)) },
		set: func(v *world.Vars, val lua.LValue) { *p(v) = float32(lua.LVAsNumber(val)) },
	}
}

func intField(p func(*world.Vars) *int) fieldAccessor {
	return fieldAccessor{
		get: func(_ *lua.LState, v *world.Vars) lua.LValue { return lua.LNumber(*p(v)) },
		set: func(v *world.Vars, val lua.LValue) { *p(v) = int(lua.LVAsNumber(val)) },
	}
}

func stringField(p func(*world.Vars) *string) fieldAccessor {
	return fieldAccessor{
		get: func(_ *lua.LState, v *world.Vars) lua.LValue { return lua.LString(*p(v)) },
		set: func(v *world.Vars, val lua.LValue) { *p(v) = lua.LVAsString(val) },
	}
}

func vecField(p func(*world.Vars) *mathx.Vec3) fieldAccessor {
	return fieldAccessor{
		get: func(L *lua.LState, v *world.Vars) lua.LValue { return vecToLua(L, *p(v)) },
		set: func(v *world.Vars, val lua.LValue) { *p(v) = vecFromLua(val) },
	}
}

var builtinFields = map[string]fieldAccessor{
	"classname":   stringField(func(v *world.Vars) *string { return &v.ClassName }),
	"model":       stringField(func(v *world.Vars) *string { return &v.Model }),
	"message":     stringField(func(v *world.Vars) *string { return &v.Message }),
	"netname":     stringField(func(v *world.Vars) *string { return &v.NetName }),
	"weaponmodel": stringField(func(v *world.Vars) *string { return &v.WeaponModel }),

	"modelindex":    intField(func(v *world.Vars) *int { return &v.ModelIndex }),
	"frame":         intField(func(v *world.Vars) *int { return &v.Frame }),
	"skin":          intField(func(v *world.Vars) *int { return &v.Skin }),
	"colormap":      intField(func(v *world.Vars) *int { return &v.Colormap }),
	"effects":       intField(func(v *world.Vars) *int { return &v.Effects }),
	"movetype":      intField(func(v *world.Vars) *int { return &v.MoveType }),
	"flags":         intField(func(v *world.Vars) *int { return &v.Flags }),
	"waterlevel":    intField(func(v *world.Vars) *int { return &v.WaterLevel }),
	"sounds":        intField(func(v *world.Vars) *int { return &v.Sounds }),
	"team":          intField(func(v *world.Vars) *int { return &v.Team }),
	"items":         intField(func(v *world.Vars) *int { return &v.Items }),
	"items2":        intField(func(v *world.Vars) *int { return &v.Items2 }),
	"weapon":        intField(func(v *world.Vars) *int { return &v.Weapon }),
	"weaponframe":   intField(func(v *world.Vars) *int { return &v.WeaponFrame }),
	"dmg_inflictor": intField(func(v *world.Vars) *int { return &v.DmgInflictor }),

	"alpha":        floatField(func(v *world.Vars) *float32 { return &v.Alpha }),
	"scale":        floatField(func(v *world.Vars) *float32 { return &v.Scale }),
	"idealpitch":   floatField(func(v *world.Vars) *float32 { return &v.IdealPitch }),
	"nextthink":    floatField(func(v *world.Vars) *float32 { return &v.NextThink }),
	"frags":        floatField(func(v *world.Vars) *float32 { return &v.Frags }),
	"health":       floatField(func(v *world.Vars) *float32 { return &v.Health }),
	"armorvalue":   floatField(func(v *world.Vars) *float32 { return &v.ArmorValue }),
	"currentammo":  floatField(func(v *world.Vars) *float32 { return &v.CurrentAmmo }),
	"ammo_shells":  floatField(func(v *world.Vars) *float32 { return &v.AmmoShells }),
	"ammo_nails":   floatField(func(v *world.Vars) *float32 { return &v.AmmoNails }),
	"ammo_rockets": floatField(func(v *world.Vars) *float32 { return &v.AmmoRockets }),
	"ammo_cells":   floatField(func(v *world.Vars) *float32 { return &v.AmmoCells }),
	"dmg_take":     floatField(func(v *world.Vars) *float32 { return &v.DmgTake }),
	"dmg_save":     floatField(func(v *world.Vars) *float32 { return &v.DmgSave }),

	"origin":     vecField(func(v *world.Vars) *mathx.Vec3 { return &v.Origin }),
	"angles":     vecField(func(v *world.Vars) *mathx.Vec3 { return &v.Angles }),
	"velocity":   vecField(func(v *world.Vars) *mathx.Vec3 { return &v.Velocity }),
	"v_angle":    vecField(func(v *world.Vars) *mathx.Vec3 { return &v.VAngle }),
	"view_ofs":   vecField(func(v *world.Vars) *mathx.Vec3 { return &v.ViewOfs }),
	"punchangle": vecField(func(v *world.Vars) *mathx.Vec3 { return &v.PunchAngle }),
	"mins":       vecField(func(v *world.Vars) *mathx.Vec3 { return &v.Mins }),
	"maxs":       vecField(func(v *world.Vars) *mathx.Vec3 { return &v.Maxs }),

	"fixangle": {
		get: func(_ *lua.LState, v *world.Vars) lua.LValue { return lua.LBool(v.FixAngle) },
		set: func(v *world.Vars, val lua.LValue) { v.FixAngle = lua.LVAsBool(val) },
	},
}

// valueToLua converts an extension field value.
func valueToLua(L *lua.LState, v world.Value) lua.LValue {
	switch v.Kind {
	case world.KindFloat:
		return lua.LNumber(v.F)
	case world.KindInt, world.KindEntity:
		return lua.LNumber(v.I)
	case world.KindVector:
		return vecToLua(L, v.Vec)
	case world.KindString:
		return lua.LString(v.S)
	}
	return lua.LNil
}

// valueFromLua infers the kind from the Lua type: numbers become floats,
// tables vectors.
func valueFromLua(val lua.LValue) world.Value {
	switch x := val.(type) {
	case lua.LNumber:
		return world.FloatValue(float32(x))
	case lua.LString:
		return world.StringValue(string(x))
	case *lua.LTable:
		return world.VectorValue(vecFromLua(x))
	case lua.LBool:
		if x {
			return world.FloatValue(1)
		}
		return world.FloatValue(0)
	}
	return world.Value{}
}

// convertValue coerces val to a declared kind.
func convertValue(kind world.Kind, val lua.LValue) world.Value {
	switch kind {
	case world.KindInt:
		return world.IntValue(int32(lua.LVAsNumber(val)))
	case world.KindEntity:
		return world.EntityValue(int(lua.LVAsNumber(val)))
	case world.KindFloat:
		return world.FloatValue(float32(lua.LVAsNumber(val)))
	case world.KindString:
		return world.StringValue(lua.LVAsString(val))
	case world.KindVector:
		return world.VectorValue(vecFromLua(val))
	}
	return valueFromLua(val)
}

func vecToLua(L *lua.LState, v mathx.Vec3) *lua.LTable {
	t := L.CreateTable(3, 0)
	for i := 0; i < 3; i++ {
		t.RawSetInt(i+1, lua.LNumber(v[i]))
	}
	return t
}

// vecFromLua accepts {x, y, z}. Missing components are zero.
func vecFromLua(val lua.LValue) mathx.Vec3 {
	var v mathx.Vec3
	t, ok := val.(*lua.LTable)
	if !ok {
		return v
	}
	for i := 0; i < 3; i++ {
		v[i] = float32(lua.LVAsNumber(t.RawGetInt(i + 1)))
	}
	return v
}
