package packet

import (
	"encoding/binary"
	"math"

	"golang.org/x/text/encoding/charmap"

	"github.com/quakesync/server/internal/mathx"
)

// Writer is a bounded message buffer. All multi-byte writes are little-endian.
//
// A write that does not fit never lands partially. It marks the buffer
// overflowed; an overflow-tolerant writer additionally discards what it
// held so the owner can detect the condition and drop the peer.
type Writer struct {
	buf           []byte
	maxSize       int
	allowOverflow bool
	overflowed    bool
}

// NewWriter returns a writer that refuses writes past maxSize.
func NewWriter(maxSize int) *Writer {
	return &Writer{buf: make([]byte, 0, initialCap(maxSize)), maxSize: maxSize}
}

// NewOverflowWriter returns a writer that clears itself and records the
// overflow instead of refusing silently. Client reliable buffers use this.
func NewOverflowWriter(maxSize int) *Writer {
	w := NewWriter(maxSize)
	w.allowOverflow = true
	return w
}

func initialCap(maxSize int) int {
	if maxSize < 256 {
		return maxSize
	}
	return 256
}

func (w *Writer) reserve(n int) bool {
	if len(w.buf)+n <= w.maxSize {
		return true
	}
	w.overflowed = true
	if w.allowOverflow {
		w.buf = w.buf[:0]
	}
	return false
}

// PutByte writes the low 8 bits of v.
func (w *Writer) PutByte(v int) {
	if w.reserve(1) {
		w.buf = append(w.buf, byte(v))
	}
}

// PutChar writes v as a signed byte.
func (w *Writer) PutChar(v int) {
	if w.reserve(1) {
		w.buf = append(w.buf, byte(int8(v)))
	}
}

// PutShort writes the low 16 bits of v.
func (w *Writer) PutShort(v int) {
	if w.reserve(2) {
		w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(int16(v)))
	}
}

// PutLong writes the low 32 bits of v.
func (w *Writer) PutLong(v int) {
	if w.reserve(4) {
		w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(int32(v)))
	}
}

func (w *Writer) PutFloat(f float32) {
	if w.reserve(4) {
		w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(f))
	}
}

// PutString writes a NUL-terminated Latin-1 string.
func (w *Writer) PutString(s string) {
	raw := encodeLatin1(s)
	if w.reserve(len(raw) + 1) {
		w.buf = append(w.buf, raw...)
		w.buf = append(w.buf, 0)
	}
}

// PutBytes appends raw bytes.
func (w *Writer) PutBytes(b []byte) {
	if w.reserve(len(b)) {
		w.buf = append(w.buf, b...)
	}
}

// PutCoord writes a world coordinate in the encoding selected by flags.
func (w *Writer) PutCoord(f float32, flags uint32) {
	switch {
	case flags&PrflFloatCoord != 0:
		w.PutFloat(f)
	case flags&PrflInt32Coord != 0:
		w.PutLong(mathx.Rint(f * 16))
	case flags&Prfl24BitCoord != 0:
		w.PutShort(int(f))
		w.PutByte(int(f*255) % 255)
	default:
		w.PutShort(mathx.Rint(f * 8))
	}
}

// PutAngle writes an angle in degrees in the encoding selected by flags.
func (w *Writer) PutAngle(f float32, flags uint32) {
	switch {
	case flags&PrflFloatAngle != 0:
		w.PutFloat(f)
	case flags&PrflShortAngle != 0:
		w.PutShort(mathx.Rint(f*65536.0/360.0) & 65535)
	default:
		w.PutByte(mathx.Rint(f*256.0/360.0) & 255)
	}
}

// PutAngle16 writes an angle with at least 16 bits of precision.
func (w *Writer) PutAngle16(f float32, flags uint32) {
	if flags&PrflFloatAngle != 0 {
		w.PutFloat(f)
		return
	}
	w.PutShort(mathx.Rint(f*65536.0/360.0) & 65535)
}

// Bytes returns the written content. The slice is only valid until the
// next write or Clear.
func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) Len() int         { return len(w.buf) }
func (w *Writer) MaxSize() int     { return w.maxSize }
func (w *Writer) Overflowed() bool { return w.overflowed }

// Room reports how many bytes can still be written.
func (w *Writer) Room() int { return w.maxSize - len(w.buf) }

// SetMaxSize changes the bound; used when one scratch buffer serves peers
// with different MTUs.
func (w *Writer) SetMaxSize(n int) { w.maxSize = n }

// Clear empties the buffer and resets the overflow flag.
func (w *Writer) Clear() {
	w.buf = w.buf[:0]
	w.overflowed = false
}

func encodeLatin1(s string) []byte {
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return []byte(s)
	}
	encoded, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return encoded
}
