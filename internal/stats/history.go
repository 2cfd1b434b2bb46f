package stats

import (
	"fmt"
	"strconv"

	"github.com/quakesync/server/internal/net/packet"
	"github.com/quakesync/server/internal/world"
)

// Mode selects how an update travels.
type Mode int

const (
	ModeSlot       Mode = iota // svc_updatestat, base slots only
	ModeFloatText              // text command carrying a float
	ModeIntText                // text command carrying an int
	ModeStringText             // text command carrying a string
)

// Update is one changed stat.
type Update struct {
	Index int
	Mode  Mode
	I     int32
	F     float32
	S     string
}

// Write appends the update to a reliable message.
func (u Update) Write(w *packet.Writer) {
	switch u.Mode {
	case ModeSlot:
		w.PutByte(packet.SvcUpdateStat)
		w.PutByte(u.Index)
		w.PutLong(int(u.I))
	case ModeFloatText:
		w.PutByte(packet.SvcStuffText)
		w.PutString(fmt.Sprintf("//st %d %s\n", u.Index, formatFloat(u.F)))
	case ModeIntText:
		w.PutByte(packet.SvcStuffText)
		w.PutString(fmt.Sprintf("//st %d %d\n", u.Index, u.I))
	case ModeStringText:
		w.PutByte(packet.SvcStuffText)
		w.PutString(fmt.Sprintf("//sts %d \"%s\"\n", u.Index, u.S))
	}
}

// formatFloat renders f with six significant digits and no trailing zeros.
func formatFloat(f float32) string {
	return strconv.FormatFloat(float64(f), 'g', 6, 64)
}

// History is the last stat table a client acknowledged via the reliable
// channel.
type History struct {
	i [MaxStats]int32
	f [MaxStats]float32
	s [MaxStats]string
}

// Reset forgets everything sent, forcing a full resend.
func (h *History) Reset() { *h = History{} }

// Diff emits an update for every slot at or above first whose value
// changed, then records the new values. Diffing the same snapshot twice
// emits nothing the second time.
func (h *History) Diff(snap *Snapshot, first int, emit func(Update)) int {
	n := 0
	for i := 0; i < MaxStats; i++ {
		si, sf := snap.I[i], snap.F[i]
		if si == 0 {
			si = int32(sf)
		} else {
			sf = 0
		}

		if i >= first && (si != h.i[i] || sf != h.f[i]) {
			h.i[i] = si
			h.f[i] = sf
			switch {
			case float64(si) != float64(sf) && sf != 0:
				emit(Update{Index: i, Mode: ModeFloatText, F: sf})
			case i < MaxBaseStats:
				emit(Update{Index: i, Mode: ModeSlot, I: si})
			default:
				emit(Update{Index: i, Mode: ModeIntText, I: si})
			}
			n++
		}

		if snap.S[i] != h.s[i] {
			h.s[i] = snap.S[i]
			emit(Update{Index: i, Mode: ModeStringText, S: snap.S[i]})
			n++
		}
	}
	return n
}

// WriteUnderwater sends a pending underwater-tint override once.
func WriteUnderwater(w *packet.Writer, e *world.Edict) bool {
	if !e.SendForceWater {
		return false
	}
	e.SendForceWater = false
	w.PutByte(packet.SvcStuffText)
	w.PutString(fmt.Sprintf("//v_water %d\n", e.ForceWater))
	return true
}
