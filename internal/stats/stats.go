// Package stats computes the per-client numeric and string stat table and
// turns changes into the smallest update each value allows.
package stats

import (
	"fmt"

	"github.com/quakesync/server/internal/world"
)

// Stat slots understood by every client.
const (
	Health        = 0
	Frags         = 1
	Weapon        = 2
	Ammo          = 3
	Armor         = 4
	WeaponFrame   = 5
	Shells        = 6
	Nails         = 7
	Rockets       = 8
	Cells         = 9
	ActiveWeapon  = 10
	TotalSecrets  = 11
	TotalMonsters = 12
	Secrets       = 13
	Monsters      = 14
	Items         = 15
	ViewHeight    = 16
	TimeScale     = 17
	NonClient     = 18
)

const (
	// MaxBaseStats is the number of slots with a compact binary update.
	MaxBaseStats = 32
	MaxStats     = 256
)

// Decl declares a rules-defined stat. Global, when set, is read instead of
// the named per-entity field.
type Decl struct {
	Index  int
	Kind   world.Kind
	Field  string
	Global *world.Value
}

type accessor struct {
	index  int
	kind   world.Kind
	field  int
	global *world.Value
}

// Snapshot is one frame's computed stat table.
type Snapshot struct {
	I [MaxStats]int32
	F [MaxStats]float32
	S [MaxStats]string
}

// Calculator fills snapshots. Custom stat field names are resolved once here.
type Calculator struct {
	custom []accessor
}

// NewCalculator validates decls and binds them to field slots.
func NewCalculator(decls []Decl, fields *world.FieldRegistry) (*Calculator, error) {
	c := &Calculator{}
	for _, d := range decls {
		last := d.Index
		if d.Kind == world.KindVector {
			last += 2
		}
		if d.Index < 0 || last >= MaxStats {
			return nil, fmt.Errorf("stat %q: index %d out of range", d.Field, d.Index)
		}
		switch d.Kind {
		case world.KindFloat, world.KindInt, world.KindVector, world.KindEntity, world.KindString:
		default:
			return nil, fmt.Errorf("stat %q: unsupported type %s", d.Field, d.Kind)
		}
		a := accessor{index: d.Index, kind: d.Kind, field: -1, global: d.Global}
		if d.Global == nil {
			if d.Field == "" {
				return nil, fmt.Errorf("stat %d: no field or global", d.Index)
			}
			a.field = fields.Intern(d.Field)
		}
		c.custom = append(c.custom, a)
	}
	return c, nil
}

// Compute fills out for e. weaponModel is the precache index of the view
// weapon model.
func (c *Calculator) Compute(e *world.Edict, weaponModel int, out *Snapshot) {
	*out = Snapshot{}
	v := &e.V
	out.F[Health] = v.Health
	out.I[Weapon] = int32(weaponModel)
	out.F[Ammo] = v.CurrentAmmo
	out.F[Armor] = v.ArmorValue
	out.F[WeaponFrame] = float32(v.WeaponFrame)
	out.F[Shells] = v.AmmoShells
	out.F[Nails] = v.AmmoNails
	out.F[Rockets] = v.AmmoRockets
	out.F[Cells] = v.AmmoCells
	out.F[ActiveWeapon] = float32(v.Weapon)

	for i := range c.custom {
		a := &c.custom[i]
		var val world.Value
		if a.global != nil {
			val = *a.global
		} else {
			val = e.Field(a.field)
		}
		switch a.kind {
		case world.KindInt, world.KindEntity:
			out.I[a.index] = val.I
		case world.KindFloat:
			out.F[a.index] = val.F
		case world.KindVector:
			out.F[a.index] = val.Vec[0]
			out.F[a.index+1] = val.Vec[1]
			out.F[a.index+2] = val.Vec[2]
		case world.KindString:
			out.S[a.index] = val.S
		}
	}
}
