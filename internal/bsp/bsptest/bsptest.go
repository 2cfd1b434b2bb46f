// Package bsptest builds small hand-made levels for tests.
package bsptest

import (
	"github.com/quakesync/server/internal/bsp"
	"github.com/quakesync/server/internal/mathx"
)

// Corridor returns a level split along the x axis into three rooms:
//
//	leaf 2: x < 0      leaf 1: 0 <= x < 100      leaf 3: x >= 100
//
// Each room sees only itself unless a pair of leaves is passed in links.
func Corridor(links ...[2]int) *bsp.Map {
	m := &bsp.Map{
		Name: "corridor",
		Planes: []bsp.Plane{
			{Normal: mathx.Vec3{1, 0, 0}, Dist: 0},
			{Normal: mathx.Vec3{1, 0, 0}, Dist: 100},
		},
		Nodes: []bsp.Node{
			{Plane: 0, Children: [2]int32{1, bsp.LeafChild(2)}},
			{Plane: 1, Children: [2]int32{bsp.LeafChild(3), bsp.LeafChild(1)}},
		},
		Leafs: []bsp.Leaf{
			{Contents: bsp.ContentsSolid, VisOfs: -1},
			{Contents: bsp.ContentsEmpty, Mins: mathx.Vec3{0, -512, -512}, Maxs: mathx.Vec3{100, 512, 512}},
			{Contents: bsp.ContentsEmpty, Mins: mathx.Vec3{-512, -512, -512}, Maxs: mathx.Vec3{0, 512, 512}},
			{Contents: bsp.ContentsEmpty, Mins: mathx.Vec3{100, -512, -512}, Maxs: mathx.Vec3{612, 512, 512}},
		},
	}
	visible := map[int][]int{1: {0}, 2: {1}, 3: {2}}
	for _, l := range links {
		visible[l[0]] = append(visible[l[0]], l[1]-1)
		visible[l[1]] = append(visible[l[1]], l[0]-1)
	}
	for leaf := 1; leaf <= 3; leaf++ {
		m.Leafs[leaf].VisOfs = len(m.VisData)
		m.VisData = append(m.VisData, bsp.CompressVis(bsp.VisRow(3, visible[leaf]))...)
	}
	if err := m.Prepare(); err != nil {
		panic(err)
	}
	return m
}
