// Package delta encodes entity, baseline and per-client state blocks as
// field masks followed by the fields that differ from a reference.
package delta

import (
	"fmt"

	"github.com/quakesync/server/internal/net/packet"
)

// Entity update mask bits.
const (
	UMoreBits   uint32 = 1 << 0
	UOrigin1    uint32 = 1 << 1
	UOrigin2    uint32 = 1 << 2
	UOrigin3    uint32 = 1 << 3
	UAngle2     uint32 = 1 << 4
	UStep       uint32 = 1 << 5
	UFrame      uint32 = 1 << 6
	USignal     uint32 = 1 << 7
	UAngle1     uint32 = 1 << 8
	UAngle3     uint32 = 1 << 9
	UModel      uint32 = 1 << 10
	UColormap   uint32 = 1 << 11
	USkin       uint32 = 1 << 12
	UEffects    uint32 = 1 << 13
	ULongEntity uint32 = 1 << 14
	UExtend1    uint32 = 1 << 15
	UAlpha      uint32 = 1 << 16
	UFrame2     uint32 = 1 << 17
	UModel2     uint32 = 1 << 18
	ULerpFinish uint32 = 1 << 19
	UScale      uint32 = 1 << 20
	UExtend2    uint32 = 1 << 23
)

// Client state mask bits.
const (
	SUViewHeight   uint32 = 1 << 0
	SUIdealPitch   uint32 = 1 << 1
	SUPunch1       uint32 = 1 << 2
	SUPunch2       uint32 = 1 << 3
	SUPunch3       uint32 = 1 << 4
	SUVelocity1    uint32 = 1 << 5
	SUVelocity2    uint32 = 1 << 6
	SUVelocity3    uint32 = 1 << 7
	SUItems        uint32 = 1 << 9
	SUOnGround     uint32 = 1 << 10
	SUInWater      uint32 = 1 << 11
	SUWeaponFrame  uint32 = 1 << 12
	SUArmor        uint32 = 1 << 13
	SUWeapon       uint32 = 1 << 14
	SUExtend1      uint32 = 1 << 15
	SUWeapon2      uint32 = 1 << 16
	SUArmor2       uint32 = 1 << 17
	SUAmmo2        uint32 = 1 << 18
	SUShells2      uint32 = 1 << 19
	SUNails2       uint32 = 1 << 20
	SURockets2     uint32 = 1 << 21
	SUCells2       uint32 = 1 << 22
	SUExtend2      uint32 = 1 << 23
	SUWeaponFrame2 uint32 = 1 << 24
	SUWeaponAlpha  uint32 = 1 << 25
)

// Baseline mask bits.
const (
	BLargeModel uint32 = 1 << 0
	BLargeFrame uint32 = 1 << 1
	BAlpha      uint32 = 1 << 2
	BScale      uint32 = 1 << 3
)

// MaxEntityRecord is the worst-case size of one entity update across every
// protocol and flag combination.
const MaxEntityRecord = 40

// OriginEpsilon is how far an origin axis may drift from the baseline
// before it is resent.
const OriginEpsilon = 0.1

// tier is an optional mask byte that follows the base bytes when its
// marker bit is set.
type tier struct {
	marker uint32
	shift  uint
}

// maskLayout describes how a mask is spread over bytes: base bytes are
// always present, each tier only when its marker bit is set. The marker of
// a tier lives in the byte written before it.
type maskLayout struct {
	base  int
	tiers []tier
}

var (
	entityLayoutLegacy   = maskLayout{base: 1, tiers: []tier{{UMoreBits, 8}}}
	entityLayoutExtended = maskLayout{base: 1, tiers: []tier{{UMoreBits, 8}, {UExtend1, 16}, {UExtend2, 24}}}
	clientLayoutLegacy   = maskLayout{base: 2}
	clientLayoutExtended = maskLayout{base: 2, tiers: []tier{{SUExtend1, 16}, {SUExtend2, 24}}}
)

func entityLayout(protocol int) maskLayout {
	if protocol == packet.ProtocolNetQuake {
		return entityLayoutLegacy
	}
	return entityLayoutExtended
}

func clientLayout(protocol int) maskLayout {
	if protocol == packet.ProtocolNetQuake {
		return clientLayoutLegacy
	}
	return clientLayoutExtended
}

// mark sets every tier marker whose byte is needed to carry bits.
func (l maskLayout) mark(bits uint32) uint32 {
	for _, t := range l.tiers {
		if bits >= 1<<t.shift {
			bits |= t.marker
		}
	}
	return bits
}

func (l maskLayout) put(w *packet.Writer, bits uint32) {
	for i := 0; i < l.base; i++ {
		w.PutByte(int(bits >> (8 * i)))
	}
	for _, t := range l.tiers {
		if bits&t.marker != 0 {
			w.PutByte(int(bits >> t.shift))
		}
	}
}

func (l maskLayout) get(r *packet.Reader) uint32 {
	var bits uint32
	for i := 0; i < l.base; i++ {
		bits |= uint32(r.GetByte()) << (8 * i)
	}
	for _, t := range l.tiers {
		if bits&t.marker != 0 {
			bits |= uint32(r.GetByte()) << t.shift
		}
	}
	return bits
}

func errBadOpcode(got, want int) error {
	return fmt.Errorf("delta: opcode %d, want %d", got, want)
}
