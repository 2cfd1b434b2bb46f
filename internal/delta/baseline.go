package delta

import (
	"github.com/quakesync/server/internal/net/packet"
	"github.com/quakesync/server/internal/world"
)

// MaxBaselineRecord is the signon space reserved per baseline record.
const MaxBaselineRecord = 35

// NormalizeBaseline adjusts b for the protocol and returns its mask.
// Legacy clients cannot represent large indices or alpha/scale, so those
// values are reset to their defaults rather than sent.
func NormalizeBaseline(b *world.Baseline, protocol int) uint32 {
	if protocol == packet.ProtocolNetQuake {
		if b.ModelIndex&0xff00 != 0 {
			b.ModelIndex = 0
		}
		if b.Frame&0xff00 != 0 {
			b.Frame = 0
		}
		b.Alpha = world.AlphaDefault
		b.Scale = world.ScaleDefault
		return 0
	}
	var bits uint32
	if b.ModelIndex&0xff00 != 0 {
		bits |= BLargeModel
	}
	if b.Frame&0xff00 != 0 {
		bits |= BLargeFrame
	}
	if b.Alpha != world.AlphaDefault {
		bits |= BAlpha
	}
	if b.Scale != world.ScaleDefault {
		bits |= BScale
	}
	return bits
}

// WriteBaseline appends a spawn-baseline record. The extended opcode is used
// only when bits is non-zero.
func (enc *Encoder) WriteBaseline(w *packet.Writer, num int, b *world.Baseline, bits uint32) {
	if bits != 0 {
		w.PutByte(packet.SvcSpawnBaseline2)
	} else {
		w.PutByte(packet.SvcSpawnBaseline)
	}
	w.PutShort(num)
	if bits != 0 {
		w.PutByte(int(bits))
	}
	enc.putState(w, b, bits)
}

// WriteStatic appends a static entity record. Static entities have no slot
// number and are never updated after the signon.
func (enc *Encoder) WriteStatic(w *packet.Writer, b *world.Baseline, bits uint32) {
	if bits != 0 {
		w.PutByte(packet.SvcSpawnStatic2)
		w.PutByte(int(bits))
	} else {
		w.PutByte(packet.SvcSpawnStatic)
	}
	enc.putState(w, b, bits)
}

func (enc *Encoder) putState(w *packet.Writer, b *world.Baseline, bits uint32) {
	if bits&BLargeModel != 0 {
		w.PutShort(b.ModelIndex)
	} else {
		w.PutByte(b.ModelIndex)
	}
	if bits&BLargeFrame != 0 {
		w.PutShort(b.Frame)
	} else {
		w.PutByte(b.Frame)
	}
	w.PutByte(b.Colormap)
	w.PutByte(b.Skin)
	for i := 0; i < 3; i++ {
		w.PutCoord(b.Origin[i], enc.Flags)
		w.PutAngle(b.Angles[i], enc.Flags)
	}
	if bits&BAlpha != 0 {
		w.PutByte(int(b.Alpha))
	}
	if bits&BScale != 0 {
		w.PutByte(int(b.Scale))
	}
}

// DecodeBaseline reads a record written by WriteBaseline, opcode included.
func DecodeBaseline(r *packet.Reader, flags uint32) (num int, b world.Baseline, err error) {
	op := r.GetByte()
	num = r.GetShort()
	var bits uint32
	if op == packet.SvcSpawnBaseline2 {
		bits = uint32(r.GetByte())
	}
	if bits&BLargeModel != 0 {
		b.ModelIndex = r.GetShort()
	} else {
		b.ModelIndex = r.GetByte()
	}
	if bits&BLargeFrame != 0 {
		b.Frame = r.GetShort()
	} else {
		b.Frame = r.GetByte()
	}
	b.Colormap = r.GetByte()
	b.Skin = r.GetByte()
	for i := 0; i < 3; i++ {
		b.Origin[i] = r.GetCoord(flags)
		b.Angles[i] = r.GetAngle(flags)
	}
	b.Alpha = world.AlphaDefault
	b.Scale = world.ScaleDefault
	if bits&BAlpha != 0 {
		b.Alpha = uint8(r.GetByte())
	}
	if bits&BScale != 0 {
		b.Scale = uint8(r.GetByte())
	}
	return num, b, r.Err()
}
