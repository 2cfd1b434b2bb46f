package server

import (
	"context"

	"github.com/quakesync/server/internal/data"
	"github.com/quakesync/server/internal/stats"
	"github.com/quakesync/server/internal/world"
)

// Rules is the game logic driving the level. The server calls it at fixed
// points; everything else about simulation is the rules' business.
type Rules interface {
	// SetNewParms returns spawn parms for a player joining fresh.
	SetNewParms() world.Parms
	// SetChangeParms captures a player's state before a level change.
	SetChangeParms(sv *Server, e *world.Edict) world.Parms
	// SpawnEntity sets up an entity loaded from the level file. Returning
	// false frees it.
	SpawnEntity(sv *Server, e *world.Edict, def data.EntityDef) bool
	// PutClientInServer places a player's edict at spawn time.
	PutClientInServer(sv *Server, e *world.Edict, parms world.Parms)
	// ClientDisconnect runs when a spawned player leaves.
	ClientDisconnect(sv *Server, e *world.Edict)
	// CustomStats declares extra stats sent to every client.
	CustomStats() []stats.Decl
	// EffectsMask selects which effect bits clients understand.
	EffectsMask() int
	// UsesItems2 reports whether items2 is mixed into the items word
	// instead of the server flags.
	UsesItems2() bool
	// Frame runs one simulation step.
	Frame(sv *Server, dt float64)
}

// NopRules spawns level entities as-is and simulates nothing.
type NopRules struct{}

func (NopRules) SetNewParms() world.Parms                               { return world.Parms{} }
func (NopRules) SetChangeParms(*Server, *world.Edict) world.Parms       { return world.Parms{} }
func (NopRules) SpawnEntity(*Server, *world.Edict, data.EntityDef) bool { return true }
func (NopRules) PutClientInServer(*Server, *world.Edict, world.Parms)   {}
func (NopRules) ClientDisconnect(*Server, *world.Edict)                 {}
func (NopRules) CustomStats() []stats.Decl                              { return nil }
func (NopRules) EffectsMask() int                                       { return world.DefaultEffectsMask }
func (NopRules) UsesItems2() bool                                       { return false }
func (NopRules) Frame(*Server, float64)                                 {}

// SpawnParmStore keeps spawn parms across server restarts, keyed by player
// name.
type SpawnParmStore interface {
	LoadParms(ctx context.Context, name string) (world.Parms, bool, error)
	SaveParms(ctx context.Context, name string, parms world.Parms) error
}
