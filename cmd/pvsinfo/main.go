// pvsinfo prints the visibility statistics of a level file: the visible
// leaf count of every leaf, and the fat PVS at chosen points.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/quakesync/server/internal/bsp"
	"github.com/quakesync/server/internal/data"
	"github.com/quakesync/server/internal/mathx"
)

func main() {
	fs := flag.NewFlagSet("pvsinfo", flag.ExitOnError)
	dir := fs.String("maps", "maps", "directory holding level YAML files")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: pvsinfo [-maps dir] <map> [x,y,z ...]")
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])
	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}

	lvl, err := data.LoadLevel(*dir, fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	var points []mathx.Vec3
	for _, arg := range fs.Args()[1:] {
		p, err := parsePoint(arg)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		points = append(points, p)
	}
	report(os.Stdout, lvl.Map, points)
}

var errBadPoint = errors.New("point must be x,y,z")

func parsePoint(s string) (mathx.Vec3, error) {
	var p mathx.Vec3
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return p, fmt.Errorf("%q: %w", s, errBadPoint)
	}
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return p, fmt.Errorf("%q: %w", s, errBadPoint)
		}
		p[i] = float32(f)
	}
	return p, nil
}

func report(w io.Writer, m *bsp.Map, points []mathx.Vec3) {
	fmt.Fprintf(w, "%s: %d leafs, %d nodes, %d vis bytes per row\n\n", m.Name, m.NumLeafs(), len(m.Nodes), m.VisBytes())

	tw := tablewriter.NewWriter(w)
	tw.SetHeader([]string{"Leaf", "Contents", "Mins", "Maxs", "Visible"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	for i := 1; i < len(m.Leafs); i++ {
		leaf := m.Leafs[i]
		tw.Append([]string{
			strconv.Itoa(i),
			contentsName(leaf.Contents),
			formatVec(leaf.Mins),
			formatVec(leaf.Maxs),
			strconv.Itoa(bsp.VisSet(m.LeafPVS(i)).Count()),
		})
	}
	tw.Render()

	if len(points) == 0 {
		return
	}
	fmt.Fprintln(w)

	var fat bsp.FatPVS
	pw := tablewriter.NewWriter(w)
	pw.SetHeader([]string{"Point", "Leaf", "Fat PVS"})
	pw.SetBorder(true)
	for _, p := range points {
		set := fat.Compute(p, m)
		pw.Append([]string{
			formatVec(p),
			strconv.Itoa(m.PointInLeaf(p)),
			strconv.Itoa(set.Count()),
		})
	}
	pw.Render()
}

func contentsName(c int32) string {
	switch c {
	case bsp.ContentsEmpty:
		return "empty"
	case bsp.ContentsSolid:
		return "solid"
	case bsp.ContentsWater:
		return "water"
	case bsp.ContentsSlime:
		return "slime"
	case bsp.ContentsLava:
		return "lava"
	case bsp.ContentsSky:
		return "sky"
	}
	return strconv.Itoa(int(c))
}

func formatVec(v mathx.Vec3) string {
	return fmt.Sprintf("%g %g %g", v[0], v[1], v[2])
}
