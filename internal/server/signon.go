package server

import (
	"errors"

	"github.com/quakesync/server/internal/net/packet"
)

// ErrSignonOverflow means the level's handshake data exceeds the buffer pool.
var ErrSignonOverflow = errors.New("server: signon buffer pool exhausted")

// SignonChain is the handshake data of a level, split into buffers small
// enough to be sent in one reliable message each. It is appended to while
// the level loads and only read afterwards.
type SignonChain struct {
	bufs []*packet.Writer
}

// NewSignonChain returns a chain with one empty buffer.
func NewSignonChain() *SignonChain {
	return &SignonChain{bufs: []*packet.Writer{packet.NewWriter(packet.SignonSize)}}
}

// Current is the buffer being appended to.
func (c *SignonChain) Current() *packet.Writer {
	return c.bufs[len(c.bufs)-1]
}

// Reserve guarantees n bytes of room in Current, starting a new buffer if
// needed.
func (c *SignonChain) Reserve(n int) error {
	if c.Current().Len()+n <= packet.SignonSize {
		return nil
	}
	if len(c.bufs) >= packet.MaxSignonBuffers {
		return ErrSignonOverflow
	}
	c.bufs = append(c.bufs, packet.NewWriter(packet.SignonSize))
	return nil
}

func (c *SignonChain) Len() int                   { return len(c.bufs) }
func (c *SignonChain) Buffer(i int) *packet.Writer { return c.bufs[i] }

// Size is the total number of bytes in the chain.
func (c *SignonChain) Size() int {
	n := 0
	for _, b := range c.bufs {
		n += b.Len()
	}
	return n
}
