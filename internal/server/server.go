// Package server owns one running level and its client sessions, and turns
// world state into per-client messages every frame.
package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/quakesync/server/internal/bsp"
	"github.com/quakesync/server/internal/core/event"
	"github.com/quakesync/server/internal/data"
	"github.com/quakesync/server/internal/delta"
	gonet "github.com/quakesync/server/internal/net"
	"github.com/quakesync/server/internal/net/packet"
	"github.com/quakesync/server/internal/relevance"
	"github.com/quakesync/server/internal/stats"
	"github.com/quakesync/server/internal/world"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrBadProtocol  = errors.New("server: unsupported protocol")
	ErrNoFreeClient = errors.New("server: no free client slots")
	ErrNotActive    = errors.New("server: no level running")
)

// Options are fixed for the server's lifetime.
type Options struct {
	Hostname      string
	MaxClients    int
	MaxEdicts     int
	Deathmatch    bool
	Coop          bool
	Protocol      int
	ProtocolFlags uint32 // RMQ only; zero selects the default flags
	NetSort       bool
	PasswordHash  string // bcrypt; empty disables the join password

	// IdleKeepalive is how long a connecting client may go without a
	// message before a nop is sent.
	IdleKeepalive time.Duration
	// OverflowRespam limits how often packet overflow is logged.
	OverflowRespam time.Duration
	// StatsFrom is the first stat index tracked through the reliable
	// channel. Lower slots travel in the client data block.
	StatsFrom int
	// StandardQuake sends the active weapon as a raw byte instead of the
	// index of its lowest set bit.
	StandardQuake bool
	// WeaponBitsPatch follows the client block with a 32-bit active weapon
	// stat when the weapon does not fit in a byte. Only clients that
	// understand the extra stat should be served with it on.
	WeaponBitsPatch bool
}

// DefaultOptions match a stock single-level cooperative server.
func DefaultOptions() Options {
	return Options{
		Hostname:       "UNNAMED",
		MaxClients:     8,
		MaxEdicts:      8192,
		Protocol:       packet.ProtocolFitzQuake,
		NetSort:        true,
		IdleKeepalive:  5 * time.Second,
		OverflowRespam: 3 * time.Second,
		StatsFrom:      stats.NonClient,
	}
}

// MapLoader resolves a level name.
type MapLoader interface {
	LoadLevel(name string) (*data.Level, error)
}

// NetStats is the packet accounting of the current level.
type NetStats struct {
	PacketSize int
	PeakSize   int
	Overflows  int
	Drops      int
}

// Server is the explicit context every frame operation works on: the
// running level, the client sessions and the per-frame scratch state.
type Server struct {
	opts       Options
	log        *zap.Logger
	rules      Rules
	maps       MapLoader
	parms      SpawnParmStore
	bus        *event.Bus
	transports []gonet.Transport
	now        func() time.Time
	start      time.Time

	// Level state, replaced by SpawnServer.
	Active      bool
	loading     bool
	Name        string
	ModelName   string
	LevelID     uuid.UUID
	Time        float64
	Protocol    int
	Flags       uint32
	Map         *bsp.Map
	Precache    *world.Precache
	Edicts      *world.Table
	Datagram    *packet.Writer
	Reliable    *packet.Writer
	Signon      *SignonChain
	ServerFlags int
	Stats       NetStats

	// nextLevel is a level change requested during the frame.
	nextLevel string

	clients []*Client

	enc       delta.Encoder
	pvs       bsp.FatPVS
	collector *relevance.Collector
	calc      *stats.Calculator
	scratch   *packet.Writer
	commands  *packet.Registry

	overflowLog *rate.Limiter
}

// Option configures optional collaborators.
type Option func(*Server)

// WithSpawnParmStore persists spawn parms by player name.
func WithSpawnParmStore(s SpawnParmStore) Option { return func(sv *Server) { sv.parms = s } }

// WithEventBus publishes lifecycle events.
func WithEventBus(b *event.Bus) Option { return func(sv *Server) { sv.bus = b } }

// WithClock replaces the wall clock used for keepalive timing.
func WithClock(now func() time.Time) Option { return func(sv *Server) { sv.now = now } }

// New validates opts and creates an idle server. SpawnServer starts a level.
func New(opts Options, rules Rules, maps MapLoader, log *zap.Logger, options ...Option) (*Server, error) {
	if !packet.ValidProtocol(opts.Protocol) {
		return nil, fmt.Errorf("%w: %d (accepted %d, %d, %d)", ErrBadProtocol, opts.Protocol,
			packet.ProtocolNetQuake, packet.ProtocolFitzQuake, packet.ProtocolRMQ)
	}
	if opts.MaxClients < 1 || opts.MaxClients+1 > opts.MaxEdicts {
		return nil, fmt.Errorf("server: %d clients do not fit in %d edicts", opts.MaxClients, opts.MaxEdicts)
	}
	if rules == nil {
		rules = NopRules{}
	}
	sv := &Server{
		opts:      opts,
		log:       log,
		rules:     rules,
		maps:      maps,
		now:       time.Now,
		collector: relevance.NewCollector(opts.NetSort),
		scratch:   packet.NewWriter(packet.MaxDatagram),
	}
	for _, o := range options {
		o(sv)
	}
	sv.start = sv.now()
	respam := opts.OverflowRespam
	if respam <= 0 {
		respam = 3 * time.Second
	}
	sv.overflowLog = rate.NewLimiter(rate.Every(respam), 1)

	sv.clients = make([]*Client, opts.MaxClients)
	for i := range sv.clients {
		sv.clients[i] = newClient(i)
	}
	sv.commands = newCommandRegistry(sv, log)

	log.Info("server created",
		zap.Int("protocol", opts.Protocol),
		zap.String("protocol_name", packet.ProtocolName(opts.Protocol)),
		zap.Int("maxclients", opts.MaxClients),
	)
	return sv, nil
}

// AddTransport registers a source of new connections.
func (sv *Server) AddTransport(t gonet.Transport) {
	sv.transports = append(sv.transports, t)
}

func (sv *Server) Options() Options   { return sv.opts }
func (sv *Server) Log() *zap.Logger   { return sv.log }
func (sv *Server) Clients() []*Client { return sv.clients }

// Client returns slot i, or nil when out of range.
func (sv *Server) Client(i int) *Client {
	if i < 0 || i >= len(sv.clients) {
		return nil
	}
	return sv.clients[i]
}

// ClientForEdict returns the session owning a player edict.
func (sv *Server) ClientForEdict(e *world.Edict) *Client {
	if e == nil {
		return nil
	}
	return sv.Client(e.Num - 1)
}

// VisibleToClient reports whether ent touches the fat PVS around the
// eye of a player edict.
func (sv *Server) VisibleToClient(client, ent *world.Edict) bool {
	eye := client.V.Origin.Add(client.V.ViewOfs)
	return ent.InSet(sv.pvs.Compute(eye, sv.Map))
}

// realtime is seconds since the server was created.
func (sv *Server) realtime() float64 {
	return sv.now().Sub(sv.start).Seconds()
}

// ModelIndex returns the precache index of a model, 0 for the empty name.
func (sv *Server) ModelIndex(name string) (int, error) {
	if sv.Precache == nil {
		return 0, ErrNotActive
	}
	return sv.Precache.ModelIndex(name)
}

// Precaching reports whether the level is still accepting precache names.
func (sv *Server) Precaching() bool { return sv.loading }

// ClearDatagram resets the broadcast datagram at the start of a frame.
func (sv *Server) ClearDatagram() {
	if sv.Datagram != nil {
		sv.Datagram.Clear()
	}
}

// LinkAll relinks every live entity into the level after it moved.
func (sv *Server) LinkAll() {
	if sv.Edicts == nil {
		return
	}
	sv.Edicts.Each(func(e *world.Edict) {
		if e.Num == 0 {
			return
		}
		world.LinkEdict(e, sv.Map)
	})
}

// RunFrame advances the level by dt seconds: the broadcast datagram is
// reset, the rules think, entities are relinked and time moves on.
func (sv *Server) RunFrame(dt float64) {
	if !sv.Active {
		return
	}
	sv.ClearDatagram()
	sv.rules.Frame(sv, dt)
	sv.LinkAll()
	sv.Time += dt
}

// FreeEdict queues e for release at the end of the frame.
func (sv *Server) FreeEdict(e *world.Edict) {
	sv.Edicts.MarkFree(e)
}

// FlushFreed releases queued edicts.
func (sv *Server) FlushFreed() int {
	if sv.Edicts == nil {
		return 0
	}
	return sv.Edicts.FlushFree(sv.Time)
}

func emit[T any](sv *Server, ev T) {
	if sv.bus != nil {
		event.Emit(sv.bus, ev)
	}
}
