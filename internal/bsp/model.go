// Package bsp holds the static level geometry used for visibility: the
// plane/node tree, the leaves it ends in and their potentially-visible sets.
package bsp

import (
	"errors"
	"fmt"

	"github.com/quakesync/server/internal/mathx"
)

// Leaf contents.
const (
	ContentsEmpty = -1
	ContentsSolid = -2
	ContentsWater = -3
	ContentsSlime = -4
	ContentsLava  = -5
	ContentsSky   = -6
)

// MaxEntLeafs bounds how many leaves an entity records. An entity that hits
// the bound is treated as visible from everywhere.
const MaxEntLeafs = 32

// Plane is a splitting plane. Points p with Dot(Normal, p) - Dist >= 0 are in front.
type Plane struct {
	Normal mathx.Vec3
	Dist   float32
}

// Node is an interior tree node. A non-negative child is a node index; a
// negative child c refers to leaf -(c+1).
type Node struct {
	Plane    int
	Children [2]int32
}

// Leaf is a convex region. Leaf 0 is the shared solid leaf and never has
// vis data; visibility bit n refers to leaf n+1.
type Leaf struct {
	Contents int32
	VisOfs   int // offset into Map.VisData, -1 for none
	Mins     mathx.Vec3
	Maxs     mathx.Vec3
}

// Map is a loaded level.
type Map struct {
	Name      string
	Planes    []Plane
	Nodes     []Node
	Leafs     []Leaf
	VisData   []byte
	Submodels int

	rows  [][]byte
	novis []byte
}

var ErrBadTree = errors.New("bsp: malformed tree")

// LeafChild encodes leaf index i as a node child reference.
func LeafChild(i int) int32 { return int32(-(i + 1)) }

// NumLeafs is the number of leaves that carry a visibility bit.
func (m *Map) NumLeafs() int {
	if len(m.Leafs) == 0 {
		return 0
	}
	return len(m.Leafs) - 1
}

// VisBytes is the size of one decompressed visibility row.
func (m *Map) VisBytes() int { return (m.NumLeafs() + 7) >> 3 }

// Prepare validates the tree and decompresses every visibility row once.
func (m *Map) Prepare() error {
	if len(m.Leafs) == 0 {
		return fmt.Errorf("%w: %s has no leaves", ErrBadTree, m.Name)
	}
	for i, n := range m.Nodes {
		if n.Plane < 0 || n.Plane >= len(m.Planes) {
			return fmt.Errorf("%w: node %d plane %d", ErrBadTree, i, n.Plane)
		}
		for _, c := range n.Children {
			if c >= 0 && int(c) >= len(m.Nodes) {
				return fmt.Errorf("%w: node %d child %d", ErrBadTree, i, c)
			}
			if c < 0 && int(-c-1) >= len(m.Leafs) {
				return fmt.Errorf("%w: node %d leaf child %d", ErrBadTree, i, -c-1)
			}
		}
	}

	numLeafs := m.NumLeafs()
	m.novis = make([]byte, m.VisBytes())
	for i := range m.novis {
		m.novis[i] = 0xff
	}
	m.rows = make([][]byte, len(m.Leafs))
	for i := 1; i < len(m.Leafs); i++ {
		ofs := m.Leafs[i].VisOfs
		if ofs < 0 || ofs >= len(m.VisData) {
			m.rows[i] = m.novis
			continue
		}
		m.rows[i] = DecompressVis(m.VisData[ofs:], numLeafs)
	}
	return nil
}

// LeafPVS returns the decompressed visibility row of leaf i. The solid leaf
// and leaves without vis data see everything.
func (m *Map) LeafPVS(i int) []byte {
	if i <= 0 || i >= len(m.rows) || m.rows[i] == nil {
		return m.novis
	}
	return m.rows[i]
}

// PointInLeaf returns the index of the leaf containing p.
func (m *Map) PointInLeaf(p mathx.Vec3) int {
	if len(m.Nodes) == 0 {
		return min(1, len(m.Leafs)-1)
	}
	node := int32(0)
	for node >= 0 {
		n := &m.Nodes[node]
		pl := &m.Planes[n.Plane]
		if mathx.Dot(p, pl.Normal)-pl.Dist >= 0 {
			node = n.Children[0]
		} else {
			node = n.Children[1]
		}
	}
	return int(-node - 1)
}

// BoxOnPlaneSide returns 1 if the box is in front of the plane, 2 if
// behind, 3 if it straddles.
func BoxOnPlaneSide(mins, maxs mathx.Vec3, p *Plane) int {
	var near, far mathx.Vec3
	for i := 0; i < 3; i++ {
		if p.Normal[i] >= 0 {
			near[i], far[i] = mins[i], maxs[i]
		} else {
			near[i], far[i] = maxs[i], mins[i]
		}
	}
	sides := 0
	if mathx.Dot(p.Normal, far) >= p.Dist {
		sides = 1
	}
	if mathx.Dot(p.Normal, near) < p.Dist {
		sides |= 2
	}
	return sides
}
