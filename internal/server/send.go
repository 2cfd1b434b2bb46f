package server

import (
	"github.com/quakesync/server/internal/delta"
	"github.com/quakesync/server/internal/net/packet"
	"github.com/quakesync/server/internal/stats"
	"github.com/quakesync/server/internal/world"
	"go.uber.org/zap"
)

// peakReportSize is the datagram size whose first crossing is logged.
const peakReportSize = 1024

// SendClientMessages is the output stage of a frame: reliable updates are
// merged into every client message, spawned clients get their datagram,
// connecting clients advance through the signon, and pending reliable
// messages are flushed where the transport allows.
func (sv *Server) SendClientMessages() {
	if !sv.Active {
		return
	}
	sv.UpdateToReliableMessages()
	sv.enc.Time = float32(sv.Time)

	for _, c := range sv.clients {
		if !c.Active {
			continue
		}

		if c.Spawned {
			if !sv.SendClientDatagram(c) {
				continue
			}
		} else if !sv.advanceSignon(c) {
			continue
		}

		if c.Message.Overflowed() {
			sv.log.Warn("client reliable message overflowed",
				zap.Int("client", c.Slot),
				zap.String("name", c.Name),
			)
			sv.DropClient(c, true)
			continue
		}

		if c.Message.Len() == 0 && !c.DropASAP {
			continue
		}
		if !c.Conn.CanSend() {
			continue
		}
		if c.DropASAP {
			sv.DropClient(c, false)
			continue
		}
		if err := c.Conn.SendReliable(c.Message.Bytes()); err != nil {
			sv.log.Debug("reliable send failed", zap.Int("client", c.Slot), zap.Error(err))
			sv.DropClient(c, true)
			continue
		}
		c.Message.Clear()
		c.LastMessage = sv.realtime()
		if c.Stage == packet.StageFlushing {
			c.Stage = sv.flushedStage(c)
		}
	}

	sv.CleanupEnts()
}

// flushedStage is where a client lands once its pending handshake message
// was delivered: waiting for "prespawn" after serverinfo, or waiting for
// the next command after the signon data.
func (sv *Server) flushedStage(c *Client) packet.SignonStage {
	if c.signonIdx == sv.Signon.Len() {
		return packet.StageDone
	}
	return packet.StageNeedPrespawn
}

// advanceSignon copies handshake data into a connecting client's message.
// It reports false when there is nothing to flush this frame.
func (sv *Server) advanceSignon(c *Client) bool {
	switch c.Stage {
	case packet.StageNeedPrespawn, packet.StageDone:
		if sv.realtime()-c.LastMessage > sv.opts.IdleKeepalive.Seconds() {
			sv.SendNop(c)
		}
		return false
	}

	if c.Stage == packet.StageSendingSignonBuffers {
		local := c.Local()
		for c.signonIdx < sv.Signon.Len() {
			buf := sv.Signon.Buffer(c.signonIdx)
			if c.Message.Len()+buf.Len() > c.Message.MaxSize() {
				break
			}
			c.Message.PutBytes(buf.Bytes())
			c.signonIdx++
			if !local {
				break
			}
		}
		if c.signonIdx == sv.Signon.Len() {
			c.Stage = packet.StageSendingSignonMarker
		}
	}

	if c.Stage == packet.StageSendingSignonMarker {
		if c.Message.Len()+2 < c.Message.MaxSize() {
			c.Message.PutByte(packet.SvcSignonNum)
			c.Message.PutByte(2)
			c.Stage = packet.StageFlushing
		}
	}
	return true
}

// SendNop keeps an idle connection alive without touching the pending
// reliable message.
func (sv *Server) SendNop(c *Client) {
	if err := c.Conn.SendUnreliable([]byte{packet.SvcNop}); err != nil {
		sv.DropClient(c, true)
		return
	}
	c.LastMessage = sv.realtime()
}

// UpdateToReliableMessages broadcasts frag changes, writes changed stats and
// appends this frame's reliable datagram to every client message.
func (sv *Server) UpdateToReliableMessages() {
	for _, c := range sv.clients {
		if c.Edict == nil || c.oldFrags == c.Edict.V.Frags {
			continue
		}
		for _, other := range sv.clients {
			if !other.Active {
				continue
			}
			other.Message.PutByte(packet.SvcUpdateFrags)
			other.Message.PutByte(c.Slot)
			other.Message.PutShort(int(c.Edict.V.Frags))
		}
		c.oldFrags = c.Edict.V.Frags
	}

	for _, c := range sv.clients {
		if !c.Active {
			continue
		}
		sv.writeStats(c)
		stats.WriteUnderwater(c.Message, c.Edict)
		c.Message.PutBytes(sv.Reliable.Bytes())
	}
	sv.Reliable.Clear()
}

// writeStats sends the stats that changed since the client last heard.
func (sv *Server) writeStats(c *Client) {
	e := c.Edict
	weaponModel, _ := sv.Precache.ModelIndex(e.V.WeaponModel)
	sv.calc.Compute(e, weaponModel, &c.snap)
	c.history.Diff(&c.snap, sv.opts.StatsFrom, func(u stats.Update) {
		u.Write(c.Message)
	})
}

// SendClientDatagram builds and sends the unreliable frame update for c.
// It reports false when the client was dropped.
func (sv *Server) SendClientDatagram(c *Client) bool {
	msg := sv.scratch
	msg.Clear()
	if c.Local() {
		msg.SetMaxSize(packet.MaxDatagram)
	} else {
		msg.SetMaxSize(packet.DatagramMTU)
	}

	msg.PutByte(packet.SvcTime)
	msg.PutFloat(float32(sv.Time))

	sv.writeClientData(c.Edict, msg)
	sv.writeEntitiesToClient(c.Edict, msg)

	if msg.Len()+sv.Datagram.Len() < msg.MaxSize() {
		msg.PutBytes(sv.Datagram.Bytes())
	}

	if err := c.Conn.SendUnreliable(msg.Bytes()); err != nil {
		sv.DropClient(c, true)
		return false
	}
	return true
}

// clientInfo gathers the client block values that are not plain fields.
func (sv *Server) clientInfo(e *world.Edict) delta.ClientInfo {
	items := e.V.Items
	if sv.rules.UsesItems2() {
		items |= e.V.Items2 << 23
	} else {
		items |= sv.ServerFlags << 28
	}
	weaponModel, _ := sv.Precache.ModelIndex(e.V.WeaponModel)
	return delta.ClientInfo{
		Items:         items,
		WeaponModel:   weaponModel,
		StandardQuake: sv.opts.StandardQuake,
	}
}

// writeClientData drains pending damage and fixangle, then writes the
// client block.
func (sv *Server) writeClientData(e *world.Edict, msg *packet.Writer) {
	if e.V.DmgTake != 0 || e.V.DmgSave != 0 {
		other := sv.Edicts.Get(e.V.DmgInflictor)
		if other == nil {
			other = sv.Edicts.World()
		}
		msg.PutByte(packet.SvcDamage)
		msg.PutByte(int(e.V.DmgSave))
		msg.PutByte(int(e.V.DmgTake))
		center := other.Center()
		for i := 0; i < 3; i++ {
			msg.PutCoord(center[i], sv.Flags)
		}
		e.V.DmgTake = 0
		e.V.DmgSave = 0
	}

	if e.V.FixAngle {
		msg.PutByte(packet.SvcSetAngle)
		for i := 0; i < 3; i++ {
			msg.PutAngle(e.V.Angles[i], sv.Flags)
		}
		e.V.FixAngle = false
	}

	sv.writeClientBlock(msg, e)
}

// writeClientBlock appends the client data block and, when enabled, the
// full-width active weapon stat.
func (sv *Server) writeClientBlock(msg *packet.Writer, e *world.Edict) {
	info := sv.clientInfo(e)
	sv.enc.WriteClientData(msg, e, &info)
	if sv.opts.WeaponBitsPatch {
		delta.WriteWeaponBitsPatch(msg, e, stats.ActiveWeapon)
	}
}

// writeEntitiesToClient appends every entity visible from the client's eye.
func (sv *Server) writeEntitiesToClient(client *world.Edict, msg *packet.Writer) {
	eye := client.V.Origin.Add(client.V.ViewOfs)
	pvs := sv.pvs.Compute(eye, sv.Map)
	order := sv.collector.Collect(client, sv.Edicts, pvs, sv.Protocol)

	res := sv.enc.WriteEntities(msg, sv.Edicts, order)
	if res.Truncated {
		sv.Stats.Overflows++
		if sv.overflowLog.Allow() {
			sv.log.Warn("Packet overflow!",
				zap.Int("client", client.Num-1),
				zap.Int("sent", res.Sent),
				zap.Int("candidates", len(order)),
			)
		}
	}

	size := msg.Len()
	if size > peakReportSize && sv.Stats.PeakSize <= peakReportSize {
		sv.log.Debug("packet exceeds standard limit",
			zap.Int("bytes", size),
			zap.Int("limit", peakReportSize),
		)
	}
	sv.Stats.PacketSize = size
	if size > sv.Stats.PeakSize {
		sv.Stats.PeakSize = size
	}
}

// CleanupEnts clears one-frame effects once every client has seen them.
func (sv *Server) CleanupEnts() {
	for n := 1; n < sv.Edicts.Num(); n++ {
		e := sv.Edicts.Get(n)
		e.V.Effects &^= world.EffectMuzzleFlash
	}
}
