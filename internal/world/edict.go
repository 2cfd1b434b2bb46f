// Package world holds the per-level entity state the frame pipeline reads:
// the edict table, the precache lists and leaf linking.
package world

import (
	"github.com/quakesync/server/internal/bsp"
	"github.com/quakesync/server/internal/mathx"
)

const (
	EffectBrightField = 1
	EffectMuzzleFlash = 2
	EffectBrightLight = 4
	EffectDimLight    = 8

	// DefaultEffectsMask covers the effects every client understands.
	DefaultEffectsMask = EffectBrightField | EffectMuzzleFlash | EffectBrightLight | EffectDimLight
)

const (
	MoveTypeNone   = 0
	MoveTypeWalk   = 3
	MoveTypeStep   = 4
	MoveTypeFly    = 5
	MoveTypeToss   = 6
	MoveTypePush   = 7
	MoveTypeNoClip = 8
)

const (
	FlagFly      = 1
	FlagSwim     = 2
	FlagClient   = 8
	FlagItem     = 256
	FlagOnGround = 512
)

const DefaultViewHeight = 22

// NumSpawnParms is the size of the per-client state carried across levels.
const NumSpawnParms = 16

// Parms is the per-client state carried across level changes.
type Parms [NumSpawnParms]float32

// Vars is the gameplay-visible state of an edict. Rules code writes it,
// the frame pipeline only reads it (the muzzle flash bit excepted).
type Vars struct {
	ClassName string
	Model     string
	Message   string
	NetName   string

	ModelIndex int
	Frame      int
	Skin       int
	Colormap   int
	Effects    int
	MoveType   int
	Flags      int
	WaterLevel int
	Sounds     int

	Origin     mathx.Vec3
	Angles     mathx.Vec3
	Velocity   mathx.Vec3
	VAngle     mathx.Vec3
	ViewOfs    mathx.Vec3
	PunchAngle mathx.Vec3
	Mins       mathx.Vec3
	Maxs       mathx.Vec3
	AbsMin     mathx.Vec3
	AbsMax     mathx.Vec3

	// Alpha is 0 for "unset", otherwise 0..1. Scale is 0 for "unset".
	Alpha float32
	Scale float32

	IdealPitch  float32
	NextThink   float32
	FixAngle    bool
	Team        int
	Frags       float32
	Health      float32
	ArmorValue  float32
	CurrentAmmo float32
	AmmoShells  float32
	AmmoNails   float32
	AmmoRockets float32
	AmmoCells   float32
	Items       int
	Items2      int
	Weapon      int
	WeaponModel string
	WeaponFrame int

	DmgTake      float32
	DmgSave      float32
	DmgInflictor int
}

// Baseline is the reference state deltas are computed against.
type Baseline struct {
	Origin     mathx.Vec3
	Angles     mathx.Vec3
	ModelIndex int
	Frame      int
	Colormap   int
	Skin       int
	Effects    int
	Alpha      uint8
	Scale      uint8
}

// Edict is one networked entity slot.
type Edict struct {
	Num      int
	Free     bool
	FreeTime float64

	V        Vars
	Baseline Baseline

	// Encoded alpha/scale as last sent, refreshed by the entity encoder.
	Alpha uint8
	Scale uint8

	// SendInterval marks entities whose think interval is not the
	// default tenth of a second; the lerp-finish byte is sent for them.
	SendInterval bool

	// ForceWater overrides the client's underwater view tint once
	// SendForceWater is raised.
	SendForceWater bool
	ForceWater     int

	// Leafs are the leaf numbers the entity's bounds touch.
	Leafs []int32

	ext []Value
}

// Reset clears an edict for reuse, keeping its slot number.
func (e *Edict) Reset() {
	num := e.Num
	leafs := e.Leafs[:0]
	*e = Edict{Num: num, Leafs: leafs, Alpha: AlphaDefault, Scale: ScaleDefault}
}

// Center returns the midpoint of the entity's bounding box in world space.
func (e *Edict) Center() mathx.Vec3 {
	return e.V.Origin.Add(e.V.Mins.Add(e.V.Maxs).Scale(0.5))
}

// Field returns an extension field resolved by FieldRegistry.
func (e *Edict) Field(idx int) Value {
	if idx < 0 || idx >= len(e.ext) {
		return Value{}
	}
	return e.ext[idx]
}

// SetField stores an extension field value.
func (e *Edict) SetField(idx int, v Value) {
	if idx < 0 {
		return
	}
	if idx >= len(e.ext) {
		grown := make([]Value, idx+1)
		copy(grown, e.ext)
		e.ext = grown
	}
	e.ext[idx] = v
}

// InSet reports whether the edict's leaves intersect a visibility set.
func (e *Edict) InSet(set bsp.VisSet) bool {
	return bsp.Intersects(e.Leafs, set)
}
