package bsp

import "github.com/quakesync/server/internal/mathx"

// FatMargin is how far from a splitting plane a viewpoint may sit before
// only one side is considered.
const FatMargin = 8

// VisSet is a bitset over leaf numbers.
type VisSet []byte

// Has reports whether leaf number n is set.
func (v VisSet) Has(n int32) bool {
	i := int(n) >> 3
	if n < 0 || i >= len(v) {
		return false
	}
	return v[i]&(1<<(n&7)) != 0
}

// Count returns the number of set bits.
func (v VisSet) Count() int {
	c := 0
	for _, b := range v {
		for ; b != 0; b &= b - 1 {
			c++
		}
	}
	return c
}

// Intersects reports whether any of an entity's recorded leaves is in set.
// A leaf list that reached MaxEntLeafs always intersects.
func Intersects(leafs []int32, set VisSet) bool {
	if len(leafs) >= MaxEntLeafs {
		return true
	}
	for _, n := range leafs {
		if set.Has(n) {
			return true
		}
	}
	return false
}

// FatPVS computes the union of the visibility rows of every leaf within
// FatMargin of a viewpoint. It owns its scratch buffer; the returned set is
// valid until the next Compute.
type FatPVS struct {
	buf []byte
}

// Compute returns the fat PVS for org. The buffer grows when a level with
// more leaves is loaded and is never shrunk.
func (f *FatPVS) Compute(org mathx.Vec3, m *Map) VisSet {
	n := m.VisBytes()
	if cap(f.buf) < n {
		f.buf = make([]byte, n)
	}
	f.buf = f.buf[:n]
	clear(f.buf)
	if len(m.Nodes) == 0 {
		f.addLeaf(m, m.PointInLeaf(org))
		return f.buf
	}
	f.add(org, 0, m)
	return f.buf
}

func (f *FatPVS) add(org mathx.Vec3, node int32, m *Map) {
	for {
		if node < 0 {
			f.addLeaf(m, int(-node-1))
			return
		}
		n := &m.Nodes[node]
		pl := &m.Planes[n.Plane]
		d := mathx.Dot(org, pl.Normal) - pl.Dist
		switch {
		case d > FatMargin:
			node = n.Children[0]
		case d < -FatMargin:
			node = n.Children[1]
		default:
			f.add(org, n.Children[0], m)
			node = n.Children[1]
		}
	}
}

func (f *FatPVS) addLeaf(m *Map, leaf int) {
	if leaf < 0 || leaf >= len(m.Leafs) || m.Leafs[leaf].Contents == ContentsSolid {
		return
	}
	row := m.LeafPVS(leaf)
	for i := range f.buf {
		f.buf[i] |= row[i]
	}
}
