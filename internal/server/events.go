package server

import (
	"github.com/quakesync/server/internal/mathx"
	"github.com/quakesync/server/internal/net/packet"
	"github.com/quakesync/server/internal/world"
	"go.uber.org/zap"
)

// Worst-case sizes of the broadcast events; an event is dropped when the
// datagram has less room than that.
const (
	particleSize = 18
	soundSize    = 21
	maxSoundEnt  = 8192
)

// StartParticle broadcasts a particle burst in this frame's datagram.
func (sv *Server) StartParticle(org, dir mathx.Vec3, color, count int) {
	if sv.Datagram.Len() > packet.MaxDatagram-particleSize {
		return
	}
	w := sv.Datagram
	w.PutByte(packet.SvcParticle)
	for i := 0; i < 3; i++ {
		w.PutCoord(org[i], sv.Flags)
	}
	for i := 0; i < 3; i++ {
		w.PutChar(mathx.Clamp(-128, int(dir[i]*16), 127))
	}
	w.PutByte(count)
	w.PutByte(color)
}

// StartSound broadcasts a sound attached to e. Out of range parameters and
// unknown samples are reported and ignored.
func (sv *Server) StartSound(e *world.Edict, channel int, sample string, volume int, attenuation float32) {
	log := sv.log.With(zap.String("sound", sample), zap.Int("entity", e.Num))
	if volume < 0 || volume > 255 {
		log.Warn("sound volume out of range", zap.Int("volume", volume))
		return
	}
	if attenuation < 0 || attenuation > 4 {
		log.Warn("sound attenuation out of range", zap.Float32("attenuation", attenuation))
		return
	}
	if channel < 0 || channel > 7 {
		log.Warn("sound channel out of range", zap.Int("channel", channel))
		return
	}

	if sv.Datagram.Len() > packet.MaxDatagram-soundSize {
		return
	}

	num, ok := sv.Precache.SoundIndex(sample)
	if !ok || num == 0 {
		log.Warn("sound not precached")
		return
	}

	ent := e.Num
	mask := 0
	if volume != packet.DefaultSoundVolume {
		mask |= packet.SndVolume
	}
	if attenuation != packet.DefaultSoundAttenuation {
		mask |= packet.SndAttenuation
	}
	if ent >= maxSoundEnt {
		if sv.Protocol == packet.ProtocolNetQuake {
			return
		}
		mask |= packet.SndLargeEntity
	}
	if num >= 256 {
		if sv.Protocol == packet.ProtocolNetQuake {
			return
		}
		mask |= packet.SndLargeSound
	}

	w := sv.Datagram
	w.PutByte(packet.SvcSound)
	w.PutByte(mask)
	if mask&packet.SndVolume != 0 {
		w.PutByte(volume)
	}
	if mask&packet.SndAttenuation != 0 {
		w.PutByte(int(attenuation * 64))
	}
	if mask&packet.SndLargeEntity != 0 {
		w.PutShort(ent)
		w.PutByte(channel)
	} else {
		w.PutShort(ent<<3 | channel)
	}
	if mask&packet.SndLargeSound != 0 {
		w.PutShort(num)
	} else {
		w.PutByte(num)
	}
	center := e.Center()
	for i := 0; i < 3; i++ {
		w.PutCoord(center[i], sv.Flags)
	}
}

// StopSound cancels whatever e plays on channel.
func (sv *Server) StopSound(e *world.Edict, channel int) {
	if sv.Datagram.Len() > packet.MaxDatagram-3 {
		return
	}
	sv.Datagram.PutByte(packet.SvcStopSound)
	sv.Datagram.PutShort(e.Num<<3 | channel&7)
}

// LocalSound plays a sample for one client only, through its reliable
// message.
func (sv *Server) LocalSound(c *Client, sample string) {
	num, ok := sv.Precache.SoundIndex(sample)
	if !ok || num == 0 {
		sv.log.Warn("local sound not precached", zap.String("sound", sample))
		return
	}
	mask := 0
	if num >= 256 {
		if sv.Protocol == packet.ProtocolNetQuake {
			return
		}
		mask |= packet.SndLargeSound
	}
	msg := c.Message
	if msg.Len() > msg.MaxSize()-4 {
		return
	}
	msg.PutByte(packet.SvcLocalSound)
	msg.PutByte(mask)
	if mask&packet.SndLargeSound != 0 {
		msg.PutShort(num)
	} else {
		msg.PutByte(num)
	}
}

// BroadcastPrint queues text for every connected client.
func (sv *Server) BroadcastPrint(text string) {
	for _, c := range sv.clients {
		if c.Active && c.Spawned {
			c.Print(text)
		}
	}
}

// ClientPrint queues text for the client owning e.
func (sv *Server) ClientPrint(e *world.Edict, text string) {
	c := sv.ClientForEdict(e)
	if c == nil || !c.Active {
		sv.log.Debug("print to non-client", zap.Int("entity", e.Num))
		return
	}
	c.Print(text)
}

// CenterPrint shows text in the middle of the client's screen.
func (sv *Server) CenterPrint(e *world.Edict, text string) {
	c := sv.ClientForEdict(e)
	if c == nil || !c.Active {
		return
	}
	c.Message.PutByte(packet.SvcCenterPrint)
	c.Message.PutString(text)
}
