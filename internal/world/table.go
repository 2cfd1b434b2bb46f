package world

import (
	"errors"
	"fmt"
)

// ErrNoFreeEdicts is returned when every slot up to the table size is in use.
var ErrNoFreeEdicts = errors.New("world: no free edicts")

// Slots freed less than this long ago are not reused, so clients do not
// interpolate a new entity from an old one's state.
const freeReuseDelay = 0.5

// Table is the fixed-capacity edict slot table. Slot 0 is the world and
// slots 1..maxClients belong to client sessions.
type Table struct {
	edicts     []*Edict
	max        int
	maxClients int
	pending    []*Edict

	Fields *FieldRegistry
}

// NewTable creates a table with the world and client slots in use.
func NewTable(max, maxClients int) (*Table, error) {
	if maxClients+1 > max {
		return nil, fmt.Errorf("edict table of %d cannot hold %d clients", max, maxClients)
	}
	t := &Table{
		edicts:     make([]*Edict, 0, min(max, 1024)),
		max:        max,
		maxClients: maxClients,
		Fields:     NewFieldRegistry(),
	}
	for i := 0; i <= maxClients; i++ {
		t.edicts = append(t.edicts, newEdict(i))
	}
	return t, nil
}

func newEdict(n int) *Edict {
	e := &Edict{Num: n, Leafs: make([]int32, 0, 4)}
	e.Reset()
	return e
}

// Num is one past the highest slot ever allocated this level.
func (t *Table) Num() int        { return len(t.edicts) }
func (t *Table) Max() int        { return t.max }
func (t *Table) MaxClients() int { return t.maxClients }

// Get returns slot n, or nil when out of range.
func (t *Table) Get(n int) *Edict {
	if n < 0 || n >= len(t.edicts) {
		return nil
	}
	return t.edicts[n]
}

// World returns slot 0.
func (t *Table) World() *Edict { return t.edicts[0] }

// Alloc returns a cleared slot, reusing freed ones past the reuse delay.
func (t *Table) Alloc(now float64) (*Edict, error) {
	for i := t.maxClients + 1; i < len(t.edicts); i++ {
		e := t.edicts[i]
		if e.Free && (e.FreeTime < 2 || now-e.FreeTime > freeReuseDelay) {
			e.Reset()
			return e, nil
		}
	}
	if len(t.edicts) >= t.max {
		return nil, ErrNoFreeEdicts
	}
	e := newEdict(len(t.edicts))
	t.edicts = append(t.edicts, e)
	return e, nil
}

// MarkFree queues an edict to be released by FlushFree.
func (t *Table) MarkFree(e *Edict) {
	if e == nil || e.Free || e.Num <= t.maxClients {
		return
	}
	t.pending = append(t.pending, e)
}

// FlushFree releases queued edicts and returns how many were released.
func (t *Table) FlushFree(now float64) int {
	n := 0
	for _, e := range t.pending {
		if e.Free {
			continue
		}
		e.Reset()
		e.Free = true
		e.FreeTime = now
		n++
	}
	t.pending = t.pending[:0]
	return n
}

// Each calls fn for every slot in use.
func (t *Table) Each(fn func(*Edict)) {
	for _, e := range t.edicts {
		if !e.Free {
			fn(e)
		}
	}
}
