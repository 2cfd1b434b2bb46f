package server

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/quakesync/server/internal/core/event"
	"github.com/quakesync/server/internal/mathx"
	"github.com/quakesync/server/internal/net/packet"
	"go.uber.org/zap"
)

// newCommandRegistry wires the client-to-server opcodes. Movement is only
// applied once the handshake data is delivered; earlier moves are parsed
// and dropped, which covers the frames between a level change and the
// client reconnecting. Handshake string commands are gated by
// ExecuteClientCommand.
func newCommandRegistry(sv *Server, log *zap.Logger) *packet.Registry {
	reg := packet.NewRegistry(log)

	reg.Register(packet.ClcNop, packet.AllStages, func(any, *packet.Reader) {})

	reg.Register(packet.ClcDisconnect, packet.AllStages,
		func(client any, _ *packet.Reader) {
			sv.DropClient(client.(*Client), false)
		},
	)

	reg.RegisterSkippable(packet.ClcMove, []packet.SignonStage{packet.StageDone},
		func(client any, r *packet.Reader) {
			sv.readMove(client.(*Client), r)
		},
		func(_ any, r *packet.Reader) {
			sv.parseMove(r)
		},
	)

	reg.Register(packet.ClcStringCmd, packet.AllStages,
		func(client any, r *packet.Reader) {
			sv.ExecuteClientCommand(client.(*Client), r.GetString())
		},
	)

	return reg
}

// ReadClientMessages drains everything c sent since the last frame. A
// message that cannot be parsed drops the client.
func (sv *Server) ReadClientMessages(c *Client) {
	for c.Active && c.Conn != nil {
		data, ok := c.Conn.Receive()
		if !ok {
			break
		}
		c.LastMessage = sv.realtime()
		if err := sv.commands.Dispatch(c, c.SignonStage, data); err != nil {
			sv.log.Warn("bad client message",
				zap.Int("client", c.Slot),
				zap.String("name", c.Name),
				zap.Error(err),
			)
			sv.DropClient(c, true)
			return
		}
	}
	if c.Active && c.Conn != nil && c.Conn.IsClosed() {
		sv.DropClient(c, true)
	}
}

// ReadAllClientMessages runs ReadClientMessages for every active client.
func (sv *Server) ReadAllClientMessages() {
	for _, c := range sv.clients {
		if c.Active {
			sv.ReadClientMessages(c)
		}
	}
}

func (sv *Server) readMove(c *Client, r *packet.Reader) {
	cmd, angles := sv.parseMove(r)
	if !c.Spawned || r.Err() != nil {
		return
	}
	c.Cmd = cmd
	c.Edict.V.VAngle = angles
}

func (sv *Server) parseMove(r *packet.Reader) (cmd UserCmd, angles mathx.Vec3) {
	cmd.Time = r.GetFloat()
	for i := range angles {
		if sv.Protocol == packet.ProtocolNetQuake {
			angles[i] = r.GetAngle(sv.Flags)
		} else {
			angles[i] = r.GetAngle16(sv.Flags)
		}
	}
	cmd.ForwardMove = float32(r.GetShort())
	cmd.SideMove = float32(r.GetShort())
	cmd.UpMove = float32(r.GetShort())
	cmd.Buttons = r.GetByte()
	cmd.Impulse = r.GetByte()
	return cmd, angles
}

// handshakeCommands are the string commands valid in one signon stage
// only. They share clc_stringcmd with everything else, so the registry
// cannot gate them.
var handshakeCommands = map[string]packet.SignonStage{
	"prespawn": packet.StageNeedPrespawn,
	"spawn":    packet.StageDone,
	"begin":    packet.StageDone,
}

// ExecuteClientCommand runs one console line sent by a client.
func (sv *Server) ExecuteClientCommand(c *Client, line string) {
	line = strings.TrimSpace(line)
	name, args, _ := strings.Cut(line, " ")
	args = strings.TrimSpace(args)

	if want, ok := handshakeCommands[name]; ok && c.Stage != want {
		sv.log.Warn("client command out of stage",
			zap.Int("client", c.Slot),
			zap.String("cmd", name),
			zap.String("stage", c.Stage.String()),
		)
		return
	}

	switch name {
	case "prespawn":
		sv.cmdPrespawn(c)
	case "spawn":
		sv.cmdSpawn(c)
	case "begin":
		sv.cmdBegin(c)
	case "name":
		sv.cmdName(c, args)
	case "color":
		sv.cmdColor(c, args)
	case "say":
		sv.cmdSay(c, args)
	case "status":
		sv.cmdStatus(c)
	case "":
	default:
		sv.log.Debug("unknown client command",
			zap.Int("client", c.Slot),
			zap.String("cmd", name),
		)
	}
}

func (sv *Server) cmdPrespawn(c *Client) {
	if c.Spawned {
		sv.log.Warn("prespawn not valid -- already spawned", zap.Int("client", c.Slot))
		return
	}
	c.Stage = packet.StageSendingSignonBuffers
	c.signonIdx = 0
}

func (sv *Server) cmdSpawn(c *Client) {
	if c.Spawned {
		sv.log.Warn("spawn not valid -- already spawned", zap.Int("client", c.Slot))
		return
	}
	if !sv.Active {
		return
	}

	if c.freshParms && sv.parms != nil && c.Name != "unconnected" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		parms, ok, err := sv.parms.LoadParms(ctx, c.Name)
		cancel()
		switch {
		case err != nil:
			sv.log.Warn("load spawn parms failed", zap.String("name", c.Name), zap.Error(err))
		case ok:
			c.Parms = parms
			c.freshParms = false
		}
	}

	e := c.Edict
	e.Reset()
	e.V.Colormap = c.Slot + 1
	e.V.Team = c.Colors&15 + 1
	e.V.NetName = c.Name
	sv.rules.PutClientInServer(sv, e, c.Parms)
	c.history.Reset()

	msg := c.Message
	msg.Clear()

	msg.PutByte(packet.SvcTime)
	msg.PutFloat(float32(sv.Time))

	for _, other := range sv.clients {
		msg.PutByte(packet.SvcUpdateName)
		msg.PutByte(other.Slot)
		if other.Active {
			msg.PutString(other.Name)
		} else {
			msg.PutString("")
		}
		msg.PutByte(packet.SvcUpdateFrags)
		msg.PutByte(other.Slot)
		msg.PutShort(int(other.frags()))
		msg.PutByte(packet.SvcUpdateColors)
		msg.PutByte(other.Slot)
		msg.PutByte(other.Colors)
	}

	msg.PutByte(packet.SvcSetAngle)
	for i := 0; i < 3; i++ {
		msg.PutAngle(e.V.Angles[i], sv.Flags)
	}
	e.V.FixAngle = false

	sv.writeClientBlock(msg, e)

	msg.PutByte(packet.SvcSignonNum)
	msg.PutByte(3)
	c.Stage = packet.StageFlushing
}

func (sv *Server) cmdBegin(c *Client) {
	if c.Spawned {
		return
	}
	c.Spawned = true
	sv.log.Info("client entered the game",
		zap.Int("client", c.Slot),
		zap.String("name", c.Name),
	)
	emit(sv, event.ClientSpawned{Slot: c.Slot, Name: c.Name})
}

func (sv *Server) cmdName(c *Client, args string) {
	if args == "" {
		c.Print(fmt.Sprintf("\"name\" is \"%s\"\n", c.Name))
		return
	}
	name := strings.Trim(args, "\"")
	if len(name) > MaxNameLength {
		name = name[:MaxNameLength]
	}
	if name == c.Name {
		return
	}
	if c.Name != "" && c.Name != "unconnected" {
		sv.log.Info("client renamed",
			zap.String("from", c.Name),
			zap.String("to", name),
		)
	}
	c.Name = name
	if c.Edict != nil {
		c.Edict.V.NetName = name
	}
	if sv.Reliable != nil {
		sv.Reliable.PutByte(packet.SvcUpdateName)
		sv.Reliable.PutByte(c.Slot)
		sv.Reliable.PutString(name)
	}
}

func (sv *Server) cmdColor(c *Client, args string) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		c.Print(fmt.Sprintf("\"color\" is \"%d %d\"\n", c.Colors>>4, c.Colors&15))
		return
	}
	top, _ := strconv.Atoi(fields[0])
	bottom := top
	if len(fields) > 1 {
		bottom, _ = strconv.Atoi(fields[1])
	}
	top = clampColor(top)
	bottom = clampColor(bottom)

	c.Colors = top*16 + bottom
	if c.Edict != nil {
		c.Edict.V.Team = bottom + 1
	}
	if sv.Reliable != nil {
		sv.Reliable.PutByte(packet.SvcUpdateColors)
		sv.Reliable.PutByte(c.Slot)
		sv.Reliable.PutByte(c.Colors)
	}
}

func clampColor(v int) int {
	v &= 15
	if v > 13 {
		v = 13
	}
	return v
}

func (sv *Server) cmdSay(c *Client, args string) {
	if args == "" {
		return
	}
	text := strings.Trim(args, "\"")
	sv.BroadcastPrint(fmt.Sprintf("\x01%s: %s\n", c.Name, text))
}

// cmdStatus prints the server name, the level and the player list.
func (sv *Server) cmdStatus(c *Client) {
	var b strings.Builder
	active := 0
	for _, other := range sv.clients {
		if other.Active {
			active++
		}
	}
	fmt.Fprintf(&b, "host:    %s\n", sv.opts.Hostname)
	fmt.Fprintf(&b, "map:     %s\n", sv.Name)
	fmt.Fprintf(&b, "players: %d active (%d max)\n\n", active, sv.opts.MaxClients)
	for _, other := range sv.clients {
		if !other.Active {
			continue
		}
		fmt.Fprintf(&b, "#%-2d %-16.16s %3d\n", other.Slot+1, other.Name, int(other.frags()))
	}
	c.Print(b.String())
}

// frags is the score shown in the frag table.
func (c *Client) frags() float32 {
	if c.Edict == nil {
		return 0
	}
	return c.Edict.V.Frags
}
