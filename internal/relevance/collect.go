// Package relevance decides which entities go into a client's frame and in
// what order, so the most useful updates survive a packet size cut-off.
package relevance

import (
	"math"

	"github.com/quakesync/server/internal/bsp"
	"github.com/quakesync/server/internal/mathx"
	"github.com/quakesync/server/internal/net/packet"
	"github.com/quakesync/server/internal/world"
)

// MaxCandidates bounds how many entities one frame considers.
const MaxCandidates = 65536

const (
	numBins = 256

	// BehindBit is set on the score of entities whose box is behind the viewer.
	BehindBit = 128

	// DistanceScale spreads sqrt(sqrt(distance/size)) over the low seven bits.
	DistanceScale = 8
)

// Scorer ranks one candidate; lower sorts first.
type Scorer func(eye, forward mathx.Vec3, e *world.Edict) uint8

// Collector builds per-client candidate lists. It keeps its scratch buffers
// between frames and is not safe for concurrent use.
type Collector struct {
	Sort  bool
	Score Scorer
	Cap   int

	ents   []int
	dists  []uint8
	sorted []int
	bins   [numBins + 1]int
}

func NewCollector(sorted bool) *Collector {
	return &Collector{Sort: sorted, Score: DefaultScore, Cap: MaxCandidates}
}

// Collect returns the entity numbers client may see, the client's own entity
// always first. The slice is reused by the next call.
func (c *Collector) Collect(client *world.Edict, tab *world.Table, pvs bsp.VisSet, protocol int) []int {
	eye := client.V.Origin.Add(client.V.ViewOfs)
	forward, _, _ := mathx.AngleVectors(client.V.VAngle)
	limit := c.Cap
	if limit <= 0 || limit > MaxCandidates {
		limit = MaxCandidates
	}

	c.ents = append(c.ents[:0], client.Num)
	c.dists = append(c.dists[:0], 0)

	for n := 1; n < tab.Num() && len(c.ents) < limit; n++ {
		e := tab.Get(n)
		if e == client || e.Free {
			continue
		}
		if e.V.ModelIndex == 0 || e.V.Model == "" {
			continue
		}
		if protocol == packet.ProtocolNetQuake && e.V.ModelIndex&0xff00 != 0 {
			continue
		}
		if !e.InSet(pvs) {
			continue
		}
		c.ents = append(c.ents, n)
		if c.Sort {
			c.dists = append(c.dists, c.Score(eye, forward, e))
		}
	}

	if !c.Sort {
		return c.ents
	}
	return c.countingSort()
}

// countingSort is a stable sort of ents by their one-byte scores.
func (c *Collector) countingSort() []int {
	clear(c.bins[:])
	for _, d := range c.dists {
		c.bins[int(d)+1]++
	}
	for i := 1; i <= numBins; i++ {
		c.bins[i] += c.bins[i-1]
	}
	if cap(c.sorted) < len(c.ents) {
		c.sorted = make([]int, len(c.ents))
	}
	c.sorted = c.sorted[:len(c.ents)]
	for i, n := range c.ents {
		d := c.dists[i]
		c.sorted[c.bins[d]] = n
		c.bins[d]++
	}
	return c.sorted
}

// DefaultScore grows with the fourth root of distance relative to the
// entity's size and pushes entities behind the viewer to the back.
func DefaultScore(eye, forward mathx.Vec3, e *world.Edict) uint8 {
	var dist, size, ahead float32
	for i := 0; i < 3; i++ {
		lo, hi := e.V.AbsMin[i], e.V.AbsMax[i]
		d := mathx.Clamp(lo, eye[i], hi) - eye[i]
		dist += d * d
		s := hi - lo
		size += s * s

		far := hi
		if forward[i] < 0 {
			far = lo
		}
		ahead += (far - eye[i]) * forward[i]
	}
	score := DistanceScale * math.Sqrt(math.Sqrt(float64(dist/max(1, size))))
	d := uint8(math.Min(score, 255))
	if ahead < 0 {
		d |= BehindBit
	}
	return d
}
