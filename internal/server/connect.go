package server

import (
	"fmt"

	"github.com/quakesync/server/internal/core/event"
	gonet "github.com/quakesync/server/internal/net"
	"github.com/quakesync/server/internal/net/packet"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Version is announced to every client on connect.
const Version = "QuakeSync 1.0"

// CheckForNewClients accepts every pending connection from every transport.
func (sv *Server) CheckForNewClients() {
	for _, t := range sv.transports {
		for {
			conn := t.CheckNewConnections()
			if conn == nil {
				break
			}
			if err := sv.accept(conn); err != nil {
				sv.log.Warn("connection rejected",
					zap.String("addr", conn.Address()),
					zap.Error(err),
				)
			}
		}
	}
}

func (sv *Server) accept(conn gonet.Conn) error {
	if sv.opts.PasswordHash != "" {
		err := bcrypt.CompareHashAndPassword([]byte(sv.opts.PasswordHash), []byte(conn.Credentials()))
		if err != nil {
			reject(conn, "Bad password.\n")
			return fmt.Errorf("password check: %w", err)
		}
	}

	var free *Client
	for _, c := range sv.clients {
		if !c.Active {
			free = c
			break
		}
	}
	if free == nil {
		reject(conn, "Server is full.\n")
		return ErrNoFreeClient
	}
	sv.ConnectClient(free, conn)
	return nil
}

// reject tells the peer why and hangs up.
func reject(conn gonet.Conn, reason string) {
	w := packet.NewWriter(256)
	w.PutByte(packet.SvcPrint)
	w.PutString(reason)
	w.PutByte(packet.SvcDisconnect)
	_ = conn.SendReliable(w.Bytes())
	conn.Close()
}

// ConnectClient binds conn to slot c and starts the level handshake.
func (sv *Server) ConnectClient(c *Client, conn gonet.Conn) {
	c.reset(conn)
	c.Parms = sv.rules.SetNewParms()
	c.freshParms = true
	c.LastMessage = sv.realtime()

	sv.log.Info("client connected",
		zap.Int("client", c.Slot),
		zap.String("addr", conn.Address()),
	)
	emit(sv, event.ClientConnected{Slot: c.Slot, Address: conn.Address()})

	if sv.Active {
		sv.SendServerInfo(c)
	}
}

// SendServerInfo queues the level description that starts the handshake:
// protocol, precache lists, view entity and signon stage 1.
func (sv *Server) SendServerInfo(c *Client) {
	msg := c.Message

	msg.PutByte(packet.SvcPrint)
	msg.PutString(fmt.Sprintf("\x02\n%s SERVER\n", Version))

	msg.PutByte(packet.SvcServerInfo)
	msg.PutLong(sv.Protocol)
	if sv.Protocol == packet.ProtocolRMQ {
		msg.PutLong(int(sv.Flags))
	}
	msg.PutByte(sv.opts.MaxClients)
	if !sv.opts.Coop && sv.opts.Deathmatch {
		msg.PutByte(packet.GameDeathmatch)
	} else {
		msg.PutByte(packet.GameCoop)
	}
	msg.PutString(sv.Edicts.World().V.Message)

	for i, m := range sv.Precache.Models() {
		if i == 0 {
			continue
		}
		if sv.Protocol == packet.ProtocolNetQuake && i >= 256 {
			break
		}
		msg.PutString(m)
	}
	msg.PutByte(0)

	for i, s := range sv.Precache.Sounds() {
		if i == 0 {
			continue
		}
		if sv.Protocol == packet.ProtocolNetQuake && i >= 256 {
			break
		}
		msg.PutString(s)
	}
	msg.PutByte(0)

	track := sv.Edicts.World().V.Sounds
	msg.PutByte(packet.SvcCDTrack)
	msg.PutByte(track)
	msg.PutByte(track)

	msg.PutByte(packet.SvcSetView)
	msg.PutShort(c.Edict.Num)

	msg.PutByte(packet.SvcSignonNum)
	msg.PutByte(1)

	c.Stage = packet.StageFlushing
	c.signonIdx = 0
	c.Spawned = false
}

// DropClient disconnects c. A crash drop skips the goodbye message and the
// rules' disconnect hook. Other clients are told the slot is empty.
func (sv *Server) DropClient(c *Client, crash bool) {
	if !c.Active {
		return
	}
	if !crash {
		if c.Conn != nil && c.Conn.CanSend() {
			_ = c.Conn.SendReliable([]byte{packet.SvcDisconnect})
		}
		if c.Spawned {
			sv.rules.ClientDisconnect(sv, c.Edict)
		}
	}
	if c.Spawned {
		c.Parms = sv.rules.SetChangeParms(sv, c.Edict)
		sv.storeParms(c)
	}

	sv.log.Info("client dropped",
		zap.Int("client", c.Slot),
		zap.String("name", c.Name),
		zap.Bool("crash", crash),
	)

	if c.Conn != nil {
		c.Conn.Close()
	}
	name := c.Name
	c.Active = false
	c.Spawned = false
	c.DropASAP = false
	c.Conn = nil
	c.Name = ""
	c.Colors = 0
	c.Message.Clear()
	c.history.Reset()
	if c.Edict != nil {
		c.Edict.V.Frags = 0
	}
	sv.Stats.Drops++

	for _, other := range sv.clients {
		if !other.Active {
			continue
		}
		m := other.Message
		m.PutByte(packet.SvcUpdateName)
		m.PutByte(c.Slot)
		m.PutString("")
		m.PutByte(packet.SvcUpdateFrags)
		m.PutByte(c.Slot)
		m.PutShort(0)
		m.PutByte(packet.SvcUpdateColors)
		m.PutByte(c.Slot)
		m.PutByte(0)
	}

	emit(sv, event.ClientDropped{Slot: c.Slot, Name: name, Crash: crash})
}
