package server

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quakesync/server/internal/core/event"
	"github.com/quakesync/server/internal/data"
	"github.com/quakesync/server/internal/delta"
	"github.com/quakesync/server/internal/mathx"
	"github.com/quakesync/server/internal/net/packet"
	"github.com/quakesync/server/internal/stats"
	"github.com/quakesync/server/internal/world"
	"go.uber.org/zap"
)

// PlayerModel is the model every client edict's baseline refers to.
const PlayerModel = "progs/player.mdl"

// Signon sizes some clients cannot receive in one message.
const (
	signonWarnLarge    = 64000 - 2
	signonWarnStandard = 8000 - 2
)

// ErrSignonClosed is returned for signon writes once the level is running.
var ErrSignonClosed = errors.New("server: signon is closed after level load")

// settleFrameTime is the step of the frames run before baselines are taken.
const settleFrameTime = 0.1

// SpawnServer loads a level and makes it current. Connected clients are told
// to reconnect and receive the new serverinfo.
func (sv *Server) SpawnServer(name string) error {
	log := sv.log.With(zap.String("map", name))
	log.Debug("spawning server")
	sv.nextLevel = ""

	if sv.Active {
		sv.sendReconnect()
	}

	lvl, err := sv.maps.LoadLevel(name)
	if err != nil {
		sv.Active = false
		return fmt.Errorf("couldn't spawn server %s: %w", name, err)
	}

	tab, err := world.NewTable(sv.opts.MaxEdicts, sv.opts.MaxClients)
	if err != nil {
		return err
	}
	calc, err := stats.NewCalculator(sv.rules.CustomStats(), tab.Fields)
	if err != nil {
		return fmt.Errorf("custom stats: %w", err)
	}

	sv.Active = false
	sv.loading = true
	sv.Name = name
	sv.ModelName = fmt.Sprintf("maps/%s.bsp", name)
	sv.Protocol = sv.opts.Protocol
	sv.Flags = 0
	if sv.Protocol == packet.ProtocolRMQ {
		sv.Flags = sv.opts.ProtocolFlags
		if sv.Flags == 0 {
			sv.Flags = packet.DefaultRMQFlags
		}
	}
	sv.enc = delta.Encoder{Protocol: sv.Protocol, Flags: sv.Flags, EffectsMask: sv.rules.EffectsMask()}
	sv.Map = lvl.Map
	sv.Edicts = tab
	sv.calc = calc
	sv.Datagram = packet.NewWriter(packet.MaxDatagram)
	sv.Reliable = packet.NewWriter(packet.MaxDatagram)
	sv.Signon = NewSignonChain()
	sv.Precache = world.NewPrecache()
	sv.Stats = NetStats{}
	sv.Time = 1.0

	for i, c := range sv.clients {
		c.Edict = tab.Get(i + 1)
	}

	if err := sv.precacheLevel(lvl); err != nil {
		sv.loading = false
		return err
	}

	ent := tab.World()
	ent.V.Model = sv.ModelName
	ent.V.ModelIndex = 1
	ent.V.MoveType = world.MoveTypePush
	ent.V.Message = lvl.Message
	ent.V.Sounds = lvl.CDTrack

	spawned, err := sv.spawnEntities(lvl.Entities)
	if err != nil {
		sv.loading = false
		return err
	}

	sv.Precache.Close()
	sv.loading = false
	sv.Active = true

	for i := 0; i < 2; i++ {
		sv.RunFrame(settleFrameTime)
		sv.FlushFreed()
	}

	if err := sv.CreateBaseline(); err != nil {
		sv.Active = false
		return fmt.Errorf("create baseline: %w", err)
	}

	if size := sv.Signon.Size(); size > signonWarnLarge {
		log.Warn("signon buffer exceeds large client limit", zap.Int("bytes", size), zap.Int("limit", signonWarnLarge))
	} else if size > signonWarnStandard {
		log.Warn("signon buffer exceeds standard limit", zap.Int("bytes", size), zap.Int("limit", signonWarnStandard))
	}

	sv.LevelID = uuid.New()
	for _, c := range sv.clients {
		if c.Active {
			c.Message.Clear()
			c.Cmd = UserCmd{}
			sv.SendServerInfo(c)
		}
	}
	emit(sv, event.LevelSpawned{Name: name, LevelID: sv.LevelID})

	log.Info("server spawned",
		zap.String("host", sv.opts.Hostname),
		zap.String("level_id", sv.LevelID.String()),
		zap.Int("entities", spawned),
		zap.Int("signon_buffers", sv.Signon.Len()),
		zap.Int("signon_bytes", sv.Signon.Size()),
	)
	return nil
}

func (sv *Server) precacheLevel(lvl *data.Level) error {
	if _, err := sv.Precache.AddModel(sv.ModelName); err != nil {
		return err
	}
	for i := 1; i < lvl.Map.Submodels; i++ {
		if _, err := sv.Precache.AddModel("*" + strconv.Itoa(i)); err != nil {
			return err
		}
	}
	for _, m := range lvl.Models {
		if _, err := sv.Precache.AddModel(m); err != nil {
			return fmt.Errorf("precache model %s: %w", m, err)
		}
	}
	for _, s := range lvl.Sounds {
		if _, err := sv.Precache.AddSound(s); err != nil {
			return fmt.Errorf("precache sound %s: %w", s, err)
		}
	}
	return nil
}

// spawnEntities creates the level's entities. The worldspawn entry sets up
// slot 0 instead of allocating one.
func (sv *Server) spawnEntities(defs []data.EntityDef) (int, error) {
	n := 0
	for _, def := range defs {
		if def.ClassName() == "worldspawn" {
			applyEntityKeys(sv.Edicts.World(), def)
			continue
		}
		e, err := sv.Edicts.Alloc(sv.Time)
		if err != nil {
			return n, fmt.Errorf("spawn %s: %w", def.ClassName(), err)
		}
		applyEntityKeys(e, def)
		if e.V.Model != "" {
			idx, err := sv.PrecacheModel(e.V.Model)
			if err != nil {
				sv.log.Warn("entity model not precached",
					zap.String("classname", e.V.ClassName),
					zap.String("model", e.V.Model),
					zap.Error(err),
				)
			}
			e.V.ModelIndex = idx
		}
		if !sv.rules.SpawnEntity(sv, e, def) {
			sv.Edicts.MarkFree(e)
			continue
		}
		world.LinkEdict(e, sv.Map)
		n++
	}
	sv.FlushFreed()
	return n, nil
}

// applyEntityKeys copies the keys the server itself understands.
func applyEntityKeys(e *world.Edict, def data.EntityDef) {
	for k, v := range def {
		switch k {
		case "classname":
			e.V.ClassName = v
		case "model":
			e.V.Model = v
		case "message":
			e.V.Message = v
		case "netname":
			e.V.NetName = v
		case "origin":
			e.V.Origin = parseVec(v)
		case "angles":
			e.V.Angles = parseVec(v)
		case "angle":
			f, _ := strconv.ParseFloat(v, 32)
			e.V.Angles = mathx.Vec3{0, float32(f), 0}
		case "sounds":
			e.V.Sounds, _ = strconv.Atoi(v)
		case "skin":
			e.V.Skin, _ = strconv.Atoi(v)
		case "frame":
			e.V.Frame, _ = strconv.Atoi(v)
		case "effects":
			e.V.Effects, _ = strconv.Atoi(v)
		case "alpha":
			f, _ := strconv.ParseFloat(v, 32)
			e.V.Alpha = float32(f)
		case "scale":
			f, _ := strconv.ParseFloat(v, 32)
			e.V.Scale = float32(f)
		}
	}
}

func parseVec(s string) mathx.Vec3 {
	var v mathx.Vec3
	for i, f := range strings.Fields(s) {
		if i > 2 {
			break
		}
		x, _ := strconv.ParseFloat(f, 32)
		v[i] = float32(x)
	}
	return v
}

// PrecacheModel registers a model while the level loads and returns its
// index. Afterwards only already known names resolve.
func (sv *Server) PrecacheModel(name string) (int, error) {
	if sv.loading {
		return sv.Precache.AddModel(name)
	}
	return sv.Precache.ModelIndex(name)
}

// PrecacheSound is PrecacheModel for sounds.
func (sv *Server) PrecacheSound(name string) (int, error) {
	if sv.loading {
		return sv.Precache.AddSound(name)
	}
	if i, ok := sv.Precache.SoundIndex(name); ok {
		return i, nil
	}
	return 0, world.ErrNotPrecached
}

// CreateBaseline records the reference state of every entity and appends
// it to the signon.
func (sv *Server) CreateBaseline() error {
	playerModel, err := sv.Precache.ModelIndex(PlayerModel)
	if err != nil {
		sv.log.Debug("player model not precached", zap.String("model", PlayerModel))
	}
	maxClients := sv.opts.MaxClients

	for n := 0; n < sv.Edicts.Num(); n++ {
		e := sv.Edicts.Get(n)
		if e.Free {
			continue
		}
		if n > maxClients && e.V.ModelIndex == 0 {
			continue
		}

		b := world.Baseline{
			Origin: e.V.Origin,
			Angles: e.V.Angles,
			Frame:  e.V.Frame,
			Skin:   e.V.Skin,
			Scale:  world.ScaleDefault,
		}
		if n > 0 && n <= maxClients {
			b.Colormap = n
			b.ModelIndex = playerModel
			b.Alpha = world.AlphaDefault
		} else {
			b.ModelIndex, _ = sv.Precache.ModelIndex(e.V.Model)
			e.Alpha = world.EncodeAlpha(e.V.Alpha)
			b.Alpha = e.Alpha
			if sv.Protocol == packet.ProtocolRMQ && e.V.Scale != 0 {
				b.Scale = world.EncodeScale(e.V.Scale)
			}
		}

		bits := delta.NormalizeBaseline(&b, sv.Protocol)
		if err := sv.Signon.Reserve(delta.MaxBaselineRecord); err != nil {
			return err
		}
		sv.enc.WriteBaseline(sv.Signon.Current(), n, &b, bits)
		e.Baseline = b
	}
	return nil
}

// MakeStatic turns e into a static entity in the signon and frees its slot.
// Only valid while the level loads.
func (sv *Server) MakeStatic(e *world.Edict) error {
	if !sv.loading {
		return ErrSignonClosed
	}
	defer sv.Edicts.MarkFree(e)

	alpha := world.EncodeAlpha(e.V.Alpha)
	if alpha == world.AlphaZero {
		return nil
	}
	model, _ := sv.Precache.ModelIndex(e.V.Model)
	b := world.Baseline{
		Origin:     e.V.Origin,
		Angles:     e.V.Angles,
		ModelIndex: model,
		Frame:      e.V.Frame,
		Colormap:   e.V.Colormap,
		Skin:       e.V.Skin,
		Alpha:      alpha,
		Scale:      world.ScaleDefault,
	}
	var bits uint32
	if sv.Protocol == packet.ProtocolNetQuake {
		if b.ModelIndex&0xff00 != 0 || b.Frame&0xff00 != 0 {
			return nil
		}
	} else {
		if b.ModelIndex&0xff00 != 0 {
			bits |= delta.BLargeModel
		}
		if b.Frame&0xff00 != 0 {
			bits |= delta.BLargeFrame
		}
		if b.Alpha != world.AlphaDefault {
			bits |= delta.BAlpha
		}
	}
	if err := sv.Signon.Reserve(delta.MaxBaselineRecord); err != nil {
		return err
	}
	sv.enc.WriteStatic(sv.Signon.Current(), &b, bits)
	return nil
}

// AmbientSound adds a looping positional sound to the signon.
func (sv *Server) AmbientSound(pos mathx.Vec3, sample string, volume, attenuation float32) error {
	if !sv.loading {
		return ErrSignonClosed
	}
	num, ok := sv.Precache.SoundIndex(sample)
	if !ok || num == 0 {
		sv.log.Warn("ambient sound not precached", zap.String("sound", sample))
		return nil
	}
	large := num > 255
	if large && sv.Protocol == packet.ProtocolNetQuake {
		return nil
	}
	if err := sv.Signon.Reserve(17); err != nil {
		return err
	}
	w := sv.Signon.Current()
	if large {
		w.PutByte(packet.SvcStaticSound2)
	} else {
		w.PutByte(packet.SvcStaticSound)
	}
	for i := 0; i < 3; i++ {
		w.PutCoord(pos[i], sv.Flags)
	}
	if large {
		w.PutShort(num)
	} else {
		w.PutByte(num)
	}
	w.PutByte(int(volume * 255))
	w.PutByte(int(attenuation * 64))
	return nil
}

// ChangeLevel queues a switch to another level. The switch happens in
// ApplyLevelChange once the frame is over; later requests in the same
// frame are ignored.
func (sv *Server) ChangeLevel(name string) {
	if sv.nextLevel != "" {
		sv.log.Debug("level change already pending",
			zap.String("pending", sv.nextLevel),
			zap.String("map", name),
		)
		return
	}
	sv.nextLevel = name
}

// PendingLevel is the queued level change, or "".
func (sv *Server) PendingLevel() string { return sv.nextLevel }

// ApplyLevelChange performs a queued level change: every client's parms are
// captured from the old level before the new one spawns and sends them
// back through the handshake.
func (sv *Server) ApplyLevelChange() error {
	name := sv.nextLevel
	if name == "" {
		return nil
	}
	sv.nextLevel = ""
	sv.log.Info("changing level", zap.String("from", sv.Name), zap.String("map", name))
	sv.SaveSpawnParms()
	return sv.SpawnServer(name)
}

// SaveSpawnParms captures every active client's state before a level
// change and stores it when a parm store is configured.
func (sv *Server) SaveSpawnParms() {
	for _, c := range sv.clients {
		if !c.Active {
			continue
		}
		c.Parms = sv.rules.SetChangeParms(sv, c.Edict)
		c.freshParms = false
		sv.storeParms(c)
	}
}

func (sv *Server) storeParms(c *Client) {
	if sv.parms == nil || c.Name == "" || c.Name == "unconnected" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sv.parms.SaveParms(ctx, c.Name, c.Parms); err != nil {
		sv.log.Warn("save spawn parms failed", zap.String("name", c.Name), zap.Error(err))
	}
}

// sendReconnect tells every connection a new level is coming.
func (sv *Server) sendReconnect() {
	w := packet.NewWriter(128)
	w.PutByte(packet.SvcStuffText)
	w.PutString("reconnect\n")
	for _, c := range sv.clients {
		if c.Conn == nil || c.Conn.IsClosed() {
			continue
		}
		if err := c.Conn.SendReliable(w.Bytes()); err != nil {
			sv.log.Debug("reconnect notice not delivered", zap.Int("client", c.Slot), zap.Error(err))
		}
	}
}
