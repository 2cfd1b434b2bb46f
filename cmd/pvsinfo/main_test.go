package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/quakesync/server/internal/bsp/bsptest"
	"github.com/quakesync/server/internal/mathx"
)

func TestParsePoint(t *testing.T) {
	p, err := parsePoint("1, -2.5,3")
	if err != nil {
		t.Fatal(err)
	}
	if p != (mathx.Vec3{1, -2.5, 3}) {
		t.Fatalf("p = %v", p)
	}
	for _, bad := range []string{"1,2", "a,b,c", ""} {
		if _, err := parsePoint(bad); !errors.Is(err, errBadPoint) {
			t.Fatalf("%q: err = %v", bad, err)
		}
	}
}

func TestReport(t *testing.T) {
	m := bsptest.Corridor([2]int{1, 2})
	var buf bytes.Buffer
	report(&buf, m, []mathx.Vec3{{50, 0, 0}, {300, 0, 0}})
	out := buf.String()

	if !strings.Contains(out, "corridor: 3 leafs") {
		t.Fatalf("missing summary:\n%s", out)
	}
	for _, want := range []string{"LEAF", "VISIBLE", "FAT PVS", "50 0 0", "300 0 0"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q:\n%s", want, out)
		}
	}
}

func TestContentsName(t *testing.T) {
	if contentsName(-1) != "empty" || contentsName(-2) != "solid" || contentsName(-99) != "-99" {
		t.Fatal("contents names")
	}
}
