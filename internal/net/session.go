package net

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type outFrame struct {
	channel byte
	data    []byte
}

// Session is one TCP client. Network I/O runs in dedicated goroutines;
// everything else is called from the frame loop.
type Session struct {
	ID   uint64
	conn net.Conn

	IP          string
	credentials string

	InQueue  chan []byte
	OutQueue chan outFrame

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	// Per-second inbound message limiter (readLoop goroutine only).
	pktPerSec  int
	pktCount   int
	pktResetAt int64

	writeTimeout time.Duration
	log          *zap.Logger
}

func NewSession(conn net.Conn, id uint64, inSize, outSize, pktPerSec int, log *zap.Logger) *Session {
	return &Session{
		ID:           id,
		conn:         conn,
		InQueue:      make(chan []byte, inSize),
		OutQueue:     make(chan outFrame, outSize),
		IP:           conn.RemoteAddr().String(),
		closeCh:      make(chan struct{}),
		pktPerSec:    pktPerSec,
		writeTimeout: 10 * time.Second,
		log:          log.With(zap.Uint64("session", id)),
	}
}

// Start launches the reader and writer goroutines.
func (s *Session) Start() {
	go s.readLoop()
	go s.writeLoop()
}

func (s *Session) Address() string     { return s.IP }
func (s *Session) Credentials() string { return s.credentials }

func (s *Session) Receive() ([]byte, bool) {
	select {
	case msg := <-s.InQueue:
		return msg, true
	default:
		return nil, false
	}
}

func (s *Session) CanSend() bool {
	return !s.closed.Load() && len(s.OutQueue) < cap(s.OutQueue)
}

// SendReliable queues a copy of data. A full queue means the peer is not
// keeping up; the session is closed rather than let reliable data be lost.
func (s *Session) SendReliable(data []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	select {
	case s.OutQueue <- outFrame{channel: ChannelReliable, data: clone(data)}:
		return nil
	default:
		s.log.Warn("send queue full, closing slow connection")
		s.Close()
		return ErrBackpressure
	}
}

// SendUnreliable queues a copy of data, dropping it if the queue is full.
func (s *Session) SendUnreliable(data []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	select {
	case s.OutQueue <- outFrame{channel: ChannelUnreliable, data: clone(data)}:
	default:
	}
	return nil
}

// Close shuts the session down once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.closeCh)
		s.conn.Close()
	})
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

func (s *Session) readLoop() {
	defer s.Close()

	for {
		channel, payload, err := ReadFrame(s.conn)
		if err != nil {
			if !s.closed.Load() {
				s.log.Debug("read error", zap.Error(err))
			}
			return
		}
		if channel == ChannelHello {
			continue
		}

		if s.pktPerSec > 0 {
			now := time.Now().Unix()
			if now != s.pktResetAt {
				s.pktCount = 0
				s.pktResetAt = now
			}
			s.pktCount++
			if s.pktCount > s.pktPerSec {
				s.log.Warn("inbound message rate exceeded, disconnecting", zap.Int("pps", s.pktCount))
				return
			}
		}

		// Blocking keeps client commands in order; it only stalls this peer.
		select {
		case s.InQueue <- payload:
		case <-s.closeCh:
			return
		}
	}
}

func (s *Session) writeLoop() {
	defer s.Close()

	for {
		select {
		case f := <-s.OutQueue:
			s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := WriteFrame(s.conn, f.channel, f.data); err != nil {
				if !s.closed.Load() {
					s.log.Debug("write error", zap.Error(err))
				}
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

func clone(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
