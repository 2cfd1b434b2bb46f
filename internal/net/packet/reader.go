package packet

import (
	"encoding/binary"
	"errors"
	"math"

	"golang.org/x/text/encoding/charmap"
)

// ErrShortRead is reported once a read ran past the end of the message.
var ErrShortRead = errors.New("packet: read past end of message")

// Reader walks a received message. Reads past the end return zero values
// and latch a bad-read flag that Err exposes.
type Reader struct {
	data []byte
	off  int
	bad  bool
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

func (r *Reader) take(n int) []byte {
	if r.off+n > len(r.data) {
		r.bad = true
		r.off = len(r.data)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

// GetByte reads one unsigned byte.
func (r *Reader) GetByte() int {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return int(b[0])
}

// GetChar reads one signed byte.
func (r *Reader) GetChar() int {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return int(int8(b[0]))
}

// GetShort reads a signed 16-bit value.
func (r *Reader) GetShort() int {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return int(int16(binary.LittleEndian.Uint16(b)))
}

// GetLong reads a signed 32-bit value.
func (r *Reader) GetLong() int {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return int(int32(binary.LittleEndian.Uint32(b)))
}

func (r *Reader) GetFloat() float32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// GetString reads a NUL-terminated Latin-1 string and returns UTF-8.
func (r *Reader) GetString() string {
	start := r.off
	for r.off < len(r.data) {
		if r.data[r.off] == 0 {
			raw := r.data[start:r.off]
			r.off++
			return decodeLatin1(raw)
		}
		r.off++
	}
	r.bad = true
	return decodeLatin1(r.data[start:r.off])
}

// GetCoord mirrors Writer.PutCoord.
func (r *Reader) GetCoord(flags uint32) float32 {
	switch {
	case flags&PrflFloatCoord != 0:
		return r.GetFloat()
	case flags&PrflInt32Coord != 0:
		return float32(r.GetLong()) * (1.0 / 16.0)
	case flags&Prfl24BitCoord != 0:
		return float32(r.GetShort()) + float32(r.GetByte())*(1.0/255.0)
	default:
		return float32(r.GetShort()) * (1.0 / 8.0)
	}
}

// GetAngle mirrors Writer.PutAngle.
func (r *Reader) GetAngle(flags uint32) float32 {
	switch {
	case flags&PrflFloatAngle != 0:
		return r.GetFloat()
	case flags&PrflShortAngle != 0:
		return float32(r.GetShort()) * (360.0 / 65536.0)
	default:
		return float32(r.GetChar()) * (360.0 / 256.0)
	}
}

// GetAngle16 mirrors Writer.PutAngle16.
func (r *Reader) GetAngle16(flags uint32) float32 {
	if flags&PrflFloatAngle != 0 {
		return r.GetFloat()
	}
	return float32(r.GetShort()) * (360.0 / 65536.0)
}

// GetBytes reads n raw bytes. The result aliases the message.
func (r *Reader) GetBytes(n int) []byte { return r.take(n) }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.off }

// Err returns ErrShortRead if any read ran out of data.
func (r *Reader) Err() error {
	if r.bad {
		return ErrShortRead
	}
	return nil
}

func decodeLatin1(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	ascii := true
	for _, b := range raw {
		if b >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return string(raw)
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(decoded)
}
