package net

import "errors"

// LocalAddress is the address reported by in-process connections. Local
// peers receive full-size datagrams and the whole signon in one pass.
const LocalAddress = "LOCAL"

var (
	ErrClosed       = errors.New("net: connection closed")
	ErrBackpressure = errors.New("net: send queue full")
)

// Conn is one client connection as seen by the frame loop. All methods are
// called from the frame loop goroutine; implementations copy data they keep.
type Conn interface {
	Address() string
	// Credentials is what the peer presented when it connected.
	Credentials() string
	// Receive returns the next inbound message without blocking.
	Receive() ([]byte, bool)
	// CanSend reports whether a reliable message would be accepted now.
	CanSend() bool
	// SendReliable queues data for in-order delivery. An error means the
	// connection is no longer usable.
	SendReliable(data []byte) error
	// SendUnreliable may drop data; an error means the connection is gone.
	SendUnreliable(data []byte) error
	Close()
	IsClosed() bool
}

// Transport hands the frame loop new connections.
type Transport interface {
	// CheckNewConnections returns a pending connection, or nil.
	CheckNewConnections() Conn
	Close()
}
