package system

import (
	"strings"
	"testing"
	"time"
)

type recorder struct {
	name  string
	phase Phase
	log   *[]string
}

func (r recorder) Phase() Phase           { return r.phase }
func (r recorder) Update(_ time.Duration) { *r.log = append(*r.log, r.name) }

func TestRunnerOrdersByPhase(t *testing.T) {
	var log []string
	r := NewRunner()
	r.Register(recorder{"output", PhaseOutput, &log})
	r.Register(recorder{"input", PhaseInput, &log})
	r.Register(recorder{"cleanup", PhaseCleanup, &log})
	r.Register(recorder{"think", PhaseUpdate, &log})
	r.Register(recorder{"accept", PhaseInput, &log})

	r.Tick(100 * time.Millisecond)

	got := strings.Join(log, ",")
	want := "input,accept,think,output,cleanup"
	if got != want {
		t.Fatalf("order = %s, want %s", got, want)
	}
}

func TestTickPhase(t *testing.T) {
	var log []string
	r := NewRunner()
	r.Register(recorder{"input", PhaseInput, &log})
	r.Register(recorder{"output", PhaseOutput, &log})

	r.TickPhase(PhaseInput, 0)
	r.TickPhase(PhaseInput, 0)

	if len(log) != 2 || log[0] != "input" || log[1] != "input" {
		t.Fatalf("log = %v", log)
	}
	if r.Len() != 2 {
		t.Fatalf("len = %d", r.Len())
	}
}
