package world

import (
	"github.com/quakesync/server/internal/bsp"
	"github.com/quakesync/server/internal/mathx"
)

// LinkEdict refreshes the absolute bounds and touched-leaf list of e.
func LinkEdict(e *Edict, m *bsp.Map) {
	if e.Free || e.Num == 0 {
		return
	}
	v := &e.V
	v.AbsMin = v.Origin.Add(v.Mins)
	v.AbsMax = v.Origin.Add(v.Maxs)

	// items are picked up from a little further away than their box
	if v.Flags&FlagItem != 0 {
		v.AbsMin[0] -= 15
		v.AbsMin[1] -= 15
		v.AbsMax[0] += 15
		v.AbsMax[1] += 15
	} else {
		v.AbsMin = v.AbsMin.Sub(mathx.Vec3{1, 1, 1})
		v.AbsMax = v.AbsMax.Add(mathx.Vec3{1, 1, 1})
	}

	e.Leafs = e.Leafs[:0]
	if m == nil {
		return
	}
	if len(m.Nodes) == 0 {
		touchLeaf(e, m, m.PointInLeaf(v.Origin))
		return
	}
	findTouchedLeafs(e, m, 0)
}

func findTouchedLeafs(e *Edict, m *bsp.Map, node int32) {
	for {
		if node < 0 {
			touchLeaf(e, m, int(-node-1))
			return
		}
		n := &m.Nodes[node]
		sides := bsp.BoxOnPlaneSide(e.V.AbsMin, e.V.AbsMax, &m.Planes[n.Plane])
		switch sides {
		case 1:
			node = n.Children[0]
		case 2:
			node = n.Children[1]
		default:
			findTouchedLeafs(e, m, n.Children[0])
			node = n.Children[1]
		}
	}
}

func touchLeaf(e *Edict, m *bsp.Map, leaf int) {
	if leaf <= 0 || leaf >= len(m.Leafs) || m.Leafs[leaf].Contents == bsp.ContentsSolid {
		return
	}
	if len(e.Leafs) >= bsp.MaxEntLeafs {
		return
	}
	e.Leafs = append(e.Leafs, int32(leaf-1))
}
