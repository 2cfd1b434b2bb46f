package net

import "sync"

// Loopback is an in-process transport. Dial creates a connection the
// server picks up on its next CheckNewConnections.
type Loopback struct {
	mu      sync.Mutex
	pending []*LoopConn
	closed  bool
}

func NewLoopback() *Loopback {
	return &Loopback{}
}

// Dial queues a new connection from address presenting credentials.
func (l *Loopback) Dial(address, credentials string) *LoopConn {
	c := &LoopConn{address: address, credentials: credentials}
	l.mu.Lock()
	if !l.closed {
		l.pending = append(l.pending, c)
	}
	l.mu.Unlock()
	return c
}

func (l *Loopback) CheckNewConnections() Conn {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		return nil
	}
	c := l.pending[0]
	l.pending = l.pending[1:]
	return c
}

func (l *Loopback) Close() {
	l.mu.Lock()
	l.closed = true
	l.pending = nil
	l.mu.Unlock()
}

// LoopConn is both ends of a loopback connection. The server side uses the
// Conn methods; the peer side uses Send and the Take methods.
type LoopConn struct {
	mu          sync.Mutex
	address     string
	credentials string
	inbound     [][]byte
	reliable    [][]byte
	unreliable  [][]byte
	closed      bool

	// Blocked makes CanSend report false.
	Blocked bool
	// FailSends makes every send fail as if the peer vanished.
	FailSends bool
}

func (c *LoopConn) Address() string     { return c.address }
func (c *LoopConn) Credentials() string { return c.credentials }

func (c *LoopConn) Receive() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.inbound) == 0 {
		return nil, false
	}
	m := c.inbound[0]
	c.inbound = c.inbound[1:]
	return m, true
}

func (c *LoopConn) CanSend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && !c.Blocked
}

func (c *LoopConn) SendReliable(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.FailSends {
		return ErrClosed
	}
	c.reliable = append(c.reliable, clone(data))
	return nil
}

func (c *LoopConn) SendUnreliable(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.FailSends {
		return ErrClosed
	}
	c.unreliable = append(c.unreliable, clone(data))
	return nil
}

func (c *LoopConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *LoopConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Send delivers a client message to the server side.
func (c *LoopConn) Send(data []byte) {
	c.mu.Lock()
	c.inbound = append(c.inbound, clone(data))
	c.mu.Unlock()
}

// TakeReliable returns and clears everything the server sent reliably.
func (c *LoopConn) TakeReliable() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.reliable
	c.reliable = nil
	return out
}

// TakeUnreliable returns and clears every datagram the server sent.
func (c *LoopConn) TakeUnreliable() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.unreliable
	c.unreliable = nil
	return out
}
