package delta

import (
	"github.com/quakesync/server/internal/net/packet"
	"github.com/quakesync/server/internal/world"
)

// ClientInfo carries the values the client block needs that are not plain
// edict fields.
type ClientInfo struct {
	Items         int // items word with sigils or items2 mixed in
	WeaponModel   int // precache index of the view weapon model
	StandardQuake bool
}

// ClientData is a decoded client block.
type ClientData struct {
	Bits         uint32
	ViewHeight   int
	IdealPitch   int
	Punch        [3]int
	Velocity     [3]int
	Items        int
	WeaponFrame  int
	Armor        int
	Weapon       int
	Health       int
	Ammo         int
	Shells       int
	Nails        int
	Rockets      int
	Cells        int
	ActiveWeapon int
	WeaponAlpha  uint8
}

type clientSource struct {
	e    *world.Edict
	info *ClientInfo
}

// clientField is one entry of the client block. bit 0 marks fields that
// are always present. Table order is wire order.
type clientField struct {
	bit uint32
	put func(w *packet.Writer, s clientSource)
	get func(r *packet.Reader, d *ClientData)
}

func punchField(bit uint32, axis int) clientField {
	return clientField{
		bit: bit,
		put: func(w *packet.Writer, s clientSource) { w.PutChar(int(s.e.V.PunchAngle[axis])) },
		get: func(r *packet.Reader, d *ClientData) { d.Punch[axis] = r.GetChar() },
	}
}

func velocityField(bit uint32, axis int) clientField {
	return clientField{
		bit: bit,
		put: func(w *packet.Writer, s clientSource) { w.PutChar(int(s.e.V.Velocity[axis] / 16)) },
		get: func(r *packet.Reader, d *ClientData) { d.Velocity[axis] = r.GetChar() * 16 },
	}
}

func highByte(bit uint32, value func(s clientSource) int, into func(d *ClientData) *int) clientField {
	return clientField{
		bit: bit,
		put: func(w *packet.Writer, s clientSource) { w.PutByte(value(s) >> 8) },
		get: func(r *packet.Reader, d *ClientData) {
			p := into(d)
			*p = *p&0xff | r.GetByte()<<8
		},
	}
}

func lowByte(bit uint32, value func(s clientSource) int, into func(d *ClientData) *int) clientField {
	return clientField{
		bit: bit,
		put: func(w *packet.Writer, s clientSource) { w.PutByte(value(s)) },
		get: func(r *packet.Reader, d *ClientData) { *into(d) = r.GetByte() },
	}
}

var (
	weaponFrameOf = func(s clientSource) int { return s.e.V.WeaponFrame }
	armorOf       = func(s clientSource) int { return int(s.e.V.ArmorValue) }
	weaponModelOf = func(s clientSource) int { return s.info.WeaponModel }
	ammoOf        = func(s clientSource) int { return int(s.e.V.CurrentAmmo) }
	shellsOf      = func(s clientSource) int { return int(s.e.V.AmmoShells) }
	nailsOf       = func(s clientSource) int { return int(s.e.V.AmmoNails) }
	rocketsOf     = func(s clientSource) int { return int(s.e.V.AmmoRockets) }
	cellsOf       = func(s clientSource) int { return int(s.e.V.AmmoCells) }
)

var clientFields = []clientField{
	{
		bit: SUViewHeight,
		put: func(w *packet.Writer, s clientSource) { w.PutChar(int(s.e.V.ViewOfs[2])) },
		get: func(r *packet.Reader, d *ClientData) { d.ViewHeight = r.GetChar() },
	},
	{
		bit: SUIdealPitch,
		put: func(w *packet.Writer, s clientSource) { w.PutChar(int(s.e.V.IdealPitch)) },
		get: func(r *packet.Reader, d *ClientData) { d.IdealPitch = r.GetChar() },
	},
	punchField(SUPunch1, 0),
	velocityField(SUVelocity1, 0),
	punchField(SUPunch2, 1),
	velocityField(SUVelocity2, 1),
	punchField(SUPunch3, 2),
	velocityField(SUVelocity3, 2),
	{
		put: func(w *packet.Writer, s clientSource) { w.PutLong(s.info.Items) },
		get: func(r *packet.Reader, d *ClientData) { d.Items = r.GetLong() },
	},
	lowByte(SUWeaponFrame, weaponFrameOf, func(d *ClientData) *int { return &d.WeaponFrame }),
	lowByte(SUArmor, armorOf, func(d *ClientData) *int { return &d.Armor }),
	lowByte(SUWeapon, weaponModelOf, func(d *ClientData) *int { return &d.Weapon }),
	{
		put: func(w *packet.Writer, s clientSource) { w.PutShort(int(s.e.V.Health)) },
		get: func(r *packet.Reader, d *ClientData) { d.Health = r.GetShort() },
	},
	lowByte(0, ammoOf, func(d *ClientData) *int { return &d.Ammo }),
	lowByte(0, shellsOf, func(d *ClientData) *int { return &d.Shells }),
	lowByte(0, nailsOf, func(d *ClientData) *int { return &d.Nails }),
	lowByte(0, rocketsOf, func(d *ClientData) *int { return &d.Rockets }),
	lowByte(0, cellsOf, func(d *ClientData) *int { return &d.Cells }),
	{
		put: func(w *packet.Writer, s clientSource) { w.PutByte(activeWeaponByte(s.e.V.Weapon, s.info.StandardQuake)) },
		get: func(r *packet.Reader, d *ClientData) { d.ActiveWeapon = r.GetByte() },
	},
	highByte(SUWeapon2, weaponModelOf, func(d *ClientData) *int { return &d.Weapon }),
	highByte(SUArmor2, armorOf, func(d *ClientData) *int { return &d.Armor }),
	highByte(SUAmmo2, ammoOf, func(d *ClientData) *int { return &d.Ammo }),
	highByte(SUShells2, shellsOf, func(d *ClientData) *int { return &d.Shells }),
	highByte(SUNails2, nailsOf, func(d *ClientData) *int { return &d.Nails }),
	highByte(SURockets2, rocketsOf, func(d *ClientData) *int { return &d.Rockets }),
	highByte(SUCells2, cellsOf, func(d *ClientData) *int { return &d.Cells }),
	highByte(SUWeaponFrame2, weaponFrameOf, func(d *ClientData) *int { return &d.WeaponFrame }),
	{
		bit: SUWeaponAlpha,
		put: func(w *packet.Writer, s clientSource) { w.PutByte(int(s.e.Alpha)) },
		get: func(r *packet.Reader, d *ClientData) { d.WeaponAlpha = uint8(r.GetByte()) },
	},
}

// activeWeaponByte is the weapon number itself for standard rules, or the
// lowest set bit of a weapon bitfield otherwise. An empty bitfield still
// yields a 0 byte: the block carries no mask bit for this field, so the
// byte is always present.
func activeWeaponByte(weapon int, standard bool) int {
	if standard {
		return weapon
	}
	for i := 0; i < 32; i++ {
		if weapon&(1<<i) != 0 {
			return i
		}
	}
	return 0
}

// ClientBits computes the client block mask for e.
func (enc *Encoder) ClientBits(e *world.Edict, info *ClientInfo) uint32 {
	v := &e.V
	var bits uint32
	if v.ViewOfs[2] != world.DefaultViewHeight {
		bits |= SUViewHeight
	}
	if v.IdealPitch != 0 {
		bits |= SUIdealPitch
	}
	bits |= SUItems
	if v.Flags&world.FlagOnGround != 0 {
		bits |= SUOnGround
	}
	if v.WaterLevel >= 2 {
		bits |= SUInWater
	}
	for i := 0; i < 3; i++ {
		if v.PunchAngle[i] != 0 {
			bits |= SUPunch1 << i
		}
		if v.Velocity[i] != 0 {
			bits |= SUVelocity1 << i
		}
	}
	if v.WeaponFrame != 0 {
		bits |= SUWeaponFrame
	}
	if v.ArmorValue != 0 {
		bits |= SUArmor
	}
	bits |= SUWeapon

	if enc.Protocol != packet.ProtocolNetQuake {
		if info.WeaponModel&0xff00 != 0 {
			bits |= SUWeapon2
		}
		if int(v.ArmorValue)&0xff00 != 0 {
			bits |= SUArmor2
		}
		if int(v.CurrentAmmo)&0xff00 != 0 {
			bits |= SUAmmo2
		}
		if int(v.AmmoShells)&0xff00 != 0 {
			bits |= SUShells2
		}
		if int(v.AmmoNails)&0xff00 != 0 {
			bits |= SUNails2
		}
		if int(v.AmmoRockets)&0xff00 != 0 {
			bits |= SURockets2
		}
		if int(v.AmmoCells)&0xff00 != 0 {
			bits |= SUCells2
		}
		if bits&SUWeaponFrame != 0 && v.WeaponFrame&0xff00 != 0 {
			bits |= SUWeaponFrame2
		}
		if e.Alpha != world.AlphaDefault {
			bits |= SUWeaponAlpha
		}
	}
	return clientLayout(enc.Protocol).mark(bits)
}

// WriteClientData appends the svc_clientdata block for e.
func (enc *Encoder) WriteClientData(w *packet.Writer, e *world.Edict, info *ClientInfo) {
	bits := enc.ClientBits(e, info)
	w.PutByte(packet.SvcClientData)
	clientLayout(enc.Protocol).put(w, bits)
	src := clientSource{e: e, info: info}
	for i := range clientFields {
		f := &clientFields[i]
		if f.bit == 0 || bits&f.bit != 0 {
			f.put(w, src)
		}
	}
}

// WriteWeaponBitsPatch resends the active weapon as a 32-bit stat when the
// client block had to truncate it to a byte.
func WriteWeaponBitsPatch(w *packet.Writer, e *world.Edict, statActiveWeapon int) bool {
	weapon := e.V.Weapon
	if int(byte(weapon)) == weapon || w.Room() < 6 {
		return false
	}
	w.PutByte(packet.SvcUpdateStat)
	w.PutByte(statActiveWeapon)
	w.PutLong(weapon)
	return true
}

// DecodeClientData reads a block written by WriteClientData, opcode included.
func DecodeClientData(r *packet.Reader, protocol int) (ClientData, error) {
	var d ClientData
	if op := r.GetByte(); op != packet.SvcClientData {
		return d, errBadOpcode(op, packet.SvcClientData)
	}
	d.Bits = clientLayout(protocol).get(r)
	d.ViewHeight = world.DefaultViewHeight
	for i := range clientFields {
		f := &clientFields[i]
		if f.bit == 0 || d.Bits&f.bit != 0 {
			f.get(r, &d)
		}
	}
	return d, r.Err()
}
