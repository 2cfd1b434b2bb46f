package net

import (
	"net"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// StreamOptions sizes the per-connection queues.
type StreamOptions struct {
	InQueueSize      int
	OutQueueSize     int
	MaxPacketsPerSec int
	HelloTimeout     time.Duration
	WriteTimeout     time.Duration
}

// StreamTransport accepts TCP connections and hands them to the frame loop
// through a channel.
type StreamTransport struct {
	listener net.Listener
	nextID   atomic.Uint64
	newConns chan *Session
	opts     StreamOptions
	log      *zap.Logger
	closeCh  chan struct{}
}

func NewStreamTransport(bindAddr string, opts StreamOptions, log *zap.Logger) (*StreamTransport, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	if opts.HelloTimeout <= 0 {
		opts.HelloTimeout = 5 * time.Second
	}
	return &StreamTransport{
		listener: ln,
		newConns: make(chan *Session, 64),
		opts:     opts,
		log:      log,
		closeCh:  make(chan struct{}),
	}, nil
}

// AcceptLoop runs in its own goroutine until Close.
func (t *StreamTransport) AcceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			select {
			case <-t.closeCh:
				return
			default:
			}
			t.log.Error("accept failed", zap.Error(err))
			continue
		}
		go t.handshake(conn)
	}
}

// handshake reads the hello frame before the connection is announced, so a
// client that never speaks does not occupy a slot.
func (t *StreamTransport) handshake(conn net.Conn) {
	id := t.nextID.Add(1)
	sess := NewSession(conn, id, t.opts.InQueueSize, t.opts.OutQueueSize, t.opts.MaxPacketsPerSec, t.log)
	if t.opts.WriteTimeout > 0 {
		sess.writeTimeout = t.opts.WriteTimeout
	}

	conn.SetReadDeadline(time.Now().Add(t.opts.HelloTimeout))
	channel, payload, err := ReadFrame(conn)
	conn.SetReadDeadline(time.Time{})
	if err != nil || channel != ChannelHello {
		t.log.Debug("handshake failed", zap.String("ip", sess.IP), zap.Error(err))
		sess.Close()
		return
	}
	sess.credentials = string(payload)
	sess.Start()

	t.log.Info("connection accepted", zap.Uint64("session", id), zap.String("ip", sess.IP))

	select {
	case t.newConns <- sess:
	default:
		t.log.Warn("connection queue full, refusing")
		sess.Close()
	}
}

func (t *StreamTransport) CheckNewConnections() Conn {
	select {
	case s := <-t.newConns:
		return s
	default:
		return nil
	}
}

// Close stops accepting new connections.
func (t *StreamTransport) Close() {
	close(t.closeCh)
	t.listener.Close()
}

func (t *StreamTransport) Addr() net.Addr {
	return t.listener.Addr()
}
