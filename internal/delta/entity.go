package delta

import (
	"github.com/quakesync/server/internal/mathx"
	"github.com/quakesync/server/internal/net/packet"
	"github.com/quakesync/server/internal/world"
)

// Encoder writes state blocks for one server level. Its fields are fixed
// for the level's lifetime except Time, which advances every frame.
type Encoder struct {
	Protocol    int
	Flags       uint32
	EffectsMask int
	Time        float32
}

// EntityUpdate is a decoded entity record. Fields whose bit is clear hold
// the baseline value they were decoded against.
type EntityUpdate struct {
	Num        int
	Bits       uint32
	ModelIndex int
	Frame      int
	Colormap   int
	Skin       int
	Effects    int
	Origin     mathx.Vec3
	Angles     mathx.Vec3
	Alpha      uint8
	Scale      uint8
	LerpFinish uint8
}

// entityField pairs a mask bit with its writer and reader. The table order
// is the wire order.
type entityField struct {
	bit uint32
	put func(enc *Encoder, w *packet.Writer, e *world.Edict)
	get func(r *packet.Reader, flags uint32, u *EntityUpdate)
}

func originField(bit uint32, axis int) entityField {
	return entityField{
		bit: bit,
		put: func(enc *Encoder, w *packet.Writer, e *world.Edict) { w.PutCoord(e.V.Origin[axis], enc.Flags) },
		get: func(r *packet.Reader, flags uint32, u *EntityUpdate) { u.Origin[axis] = r.GetCoord(flags) },
	}
}

func angleField(bit uint32, axis int) entityField {
	return entityField{
		bit: bit,
		put: func(enc *Encoder, w *packet.Writer, e *world.Edict) { w.PutAngle(e.V.Angles[axis], enc.Flags) },
		get: func(r *packet.Reader, flags uint32, u *EntityUpdate) { u.Angles[axis] = r.GetAngle(flags) },
	}
}

var entityFields = []entityField{
	{
		bit: UModel,
		put: func(_ *Encoder, w *packet.Writer, e *world.Edict) { w.PutByte(e.V.ModelIndex) },
		get: func(r *packet.Reader, _ uint32, u *EntityUpdate) { u.ModelIndex = r.GetByte() },
	},
	{
		bit: UFrame,
		put: func(_ *Encoder, w *packet.Writer, e *world.Edict) { w.PutByte(e.V.Frame) },
		get: func(r *packet.Reader, _ uint32, u *EntityUpdate) { u.Frame = r.GetByte() },
	},
	{
		bit: UColormap,
		put: func(_ *Encoder, w *packet.Writer, e *world.Edict) { w.PutByte(e.V.Colormap) },
		get: func(r *packet.Reader, _ uint32, u *EntityUpdate) { u.Colormap = r.GetByte() },
	},
	{
		bit: USkin,
		put: func(_ *Encoder, w *packet.Writer, e *world.Edict) { w.PutByte(e.V.Skin) },
		get: func(r *packet.Reader, _ uint32, u *EntityUpdate) { u.Skin = r.GetByte() },
	},
	{
		bit: UEffects,
		put: func(enc *Encoder, w *packet.Writer, e *world.Edict) { w.PutByte(e.V.Effects & enc.EffectsMask) },
		get: func(r *packet.Reader, _ uint32, u *EntityUpdate) { u.Effects = r.GetByte() },
	},
	originField(UOrigin1, 0),
	angleField(UAngle1, 0),
	originField(UOrigin2, 1),
	angleField(UAngle2, 1),
	originField(UOrigin3, 2),
	angleField(UAngle3, 2),
	{
		bit: UAlpha,
		put: func(_ *Encoder, w *packet.Writer, e *world.Edict) { w.PutByte(int(e.Alpha)) },
		get: func(r *packet.Reader, _ uint32, u *EntityUpdate) { u.Alpha = uint8(r.GetByte()) },
	},
	{
		bit: UScale,
		put: func(_ *Encoder, w *packet.Writer, e *world.Edict) { w.PutByte(int(e.Scale)) },
		get: func(r *packet.Reader, _ uint32, u *EntityUpdate) { u.Scale = uint8(r.GetByte()) },
	},
	{
		bit: UFrame2,
		put: func(_ *Encoder, w *packet.Writer, e *world.Edict) { w.PutByte(e.V.Frame >> 8) },
		get: func(r *packet.Reader, _ uint32, u *EntityUpdate) { u.Frame = u.Frame&0xff | r.GetByte()<<8 },
	},
	{
		bit: UModel2,
		put: func(_ *Encoder, w *packet.Writer, e *world.Edict) { w.PutByte(e.V.ModelIndex >> 8) },
		get: func(r *packet.Reader, _ uint32, u *EntityUpdate) {
			u.ModelIndex = u.ModelIndex&0xff | r.GetByte()<<8
		},
	},
	{
		bit: ULerpFinish,
		put: func(enc *Encoder, w *packet.Writer, e *world.Edict) {
			w.PutByte(int(byte(mathx.Rint((e.V.NextThink - enc.Time) * 255))))
		},
		get: func(r *packet.Reader, _ uint32, u *EntityUpdate) { u.LerpFinish = uint8(r.GetByte()) },
	},
}

// EntityBits computes the update mask of e against its baseline. It also
// refreshes the edict's encoded alpha and scale. send is false for
// entities that are fully transparent and carry no visible effect.
func (enc *Encoder) EntityBits(e *world.Edict) (bits uint32, send bool) {
	v := &e.V
	b := &e.Baseline

	for i := 0; i < 3; i++ {
		miss := v.Origin[i] - b.Origin[i]
		if miss < -OriginEpsilon || miss > OriginEpsilon {
			bits |= UOrigin1 << i
		}
	}
	if v.Angles[0] != b.Angles[0] {
		bits |= UAngle1
	}
	if v.Angles[1] != b.Angles[1] {
		bits |= UAngle2
	}
	if v.Angles[2] != b.Angles[2] {
		bits |= UAngle3
	}
	if v.MoveType == world.MoveTypeStep {
		bits |= UStep
	}
	if b.Colormap != v.Colormap {
		bits |= UColormap
	}
	if b.Skin != v.Skin {
		bits |= USkin
	}
	if b.Frame != v.Frame {
		bits |= UFrame
	}
	if (b.Effects^v.Effects)&enc.EffectsMask != 0 {
		bits |= UEffects
	}
	if b.ModelIndex != v.ModelIndex {
		bits |= UModel
	}

	e.Alpha = world.EncodeAlpha(v.Alpha)
	if e.Alpha == world.AlphaZero && v.Effects&enc.EffectsMask == 0 {
		return 0, false
	}
	e.Scale = world.EncodeScale(v.Scale)

	if enc.Protocol != packet.ProtocolNetQuake {
		if b.Alpha != e.Alpha {
			bits |= UAlpha
		}
		if b.Scale != e.Scale {
			bits |= UScale
		}
		if bits&UFrame != 0 && v.Frame&0xff00 != 0 {
			bits |= UFrame2
		}
		if bits&UModel != 0 && v.ModelIndex&0xff00 != 0 {
			bits |= UModel2
		}
		if e.SendInterval {
			bits |= ULerpFinish
		}
	}
	if e.Num >= 256 {
		bits |= ULongEntity
	}
	return entityLayout(enc.Protocol).mark(bits), true
}

// WriteEntity appends one entity record with the given mask.
func (enc *Encoder) WriteEntity(w *packet.Writer, e *world.Edict, bits uint32) {
	entityLayout(enc.Protocol).put(w, bits|USignal)
	if bits&ULongEntity != 0 {
		w.PutShort(e.Num)
	} else {
		w.PutByte(e.Num)
	}
	for i := range entityFields {
		f := &entityFields[i]
		if bits&f.bit != 0 {
			f.put(enc, w, e)
		}
	}
}

// EntityResult summarizes one WriteEntities pass.
type EntityResult struct {
	Sent      int
	Skipped   int
	Truncated bool
}

// WriteEntities writes records for order until the next record might not
// fit. No record is ever written partially.
func (enc *Encoder) WriteEntities(w *packet.Writer, tab *world.Table, order []int) EntityResult {
	var res EntityResult
	for _, n := range order {
		if w.Len()+MaxEntityRecord > w.MaxSize() {
			res.Truncated = true
			break
		}
		e := tab.Get(n)
		bits, ok := enc.EntityBits(e)
		if !ok {
			res.Skipped++
			continue
		}
		enc.WriteEntity(w, e, bits)
		res.Sent++
	}
	return res
}

// DecodeEntity reads one entity record, starting with its first mask byte,
// and fills absent fields from the baseline.
func DecodeEntity(r *packet.Reader, protocol int, flags uint32, baseline func(num int) world.Baseline) (EntityUpdate, error) {
	bits := entityLayout(protocol).get(r)
	var u EntityUpdate
	if bits&ULongEntity != 0 {
		u.Num = r.GetShort()
	} else {
		u.Num = r.GetByte()
	}
	u.Bits = bits

	var b world.Baseline
	if baseline != nil {
		b = baseline(u.Num)
	}
	u.ModelIndex = b.ModelIndex
	u.Frame = b.Frame
	u.Colormap = b.Colormap
	u.Skin = b.Skin
	u.Effects = b.Effects
	u.Origin = b.Origin
	u.Angles = b.Angles
	u.Alpha = b.Alpha
	u.Scale = b.Scale

	for i := range entityFields {
		f := &entityFields[i]
		if bits&f.bit != 0 {
			f.get(r, flags, &u)
		}
	}
	return u, r.Err()
}
