package net

import (
	"bytes"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, ChannelUnreliable, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if got := buf.Bytes(); got[0] != 6 || got[1] != 0 || got[2] != ChannelUnreliable {
		t.Fatalf("header % x", got[:3])
	}
	ch, payload, err := ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if ch != ChannelUnreliable || !bytes.Equal(payload, []byte{1, 2, 3}) {
		t.Fatalf("got %d % x", ch, payload)
	}
}

func TestFrameRejectsBadLength(t *testing.T) {
	if _, _, err := ReadFrame(bytes.NewReader([]byte{2, 0, 0})); err == nil {
		t.Fatal("accepted a length shorter than the header")
	}
	if err := WriteFrame(&bytes.Buffer{}, 0, make([]byte, maxFrame)); err == nil {
		t.Fatal("wrote an oversized frame")
	}
}

func TestLoopbackDelivery(t *testing.T) {
	lb := NewLoopback()
	peer := lb.Dial(LocalAddress, "secret")

	c := lb.CheckNewConnections()
	if c == nil || c.Address() != LocalAddress || c.Credentials() != "secret" {
		t.Fatalf("got %+v", c)
	}
	if lb.CheckNewConnections() != nil {
		t.Fatal("connection handed out twice")
	}

	peer.Send([]byte("hello"))
	if m, ok := c.Receive(); !ok || string(m) != "hello" {
		t.Fatalf("receive %q %v", m, ok)
	}
	if _, ok := c.Receive(); ok {
		t.Fatal("empty queue returned a message")
	}

	buf := []byte{9}
	c.SendReliable(buf)
	buf[0] = 0
	if got := peer.TakeReliable(); len(got) != 1 || got[0][0] != 9 {
		t.Fatalf("reliable %v", got)
	}

	peer.Blocked = true
	if c.CanSend() {
		t.Fatal("blocked peer accepts sends")
	}
	peer.FailSends = true
	if err := c.SendUnreliable([]byte{1}); err == nil {
		t.Fatal("failed send reported success")
	}
}

func TestStreamTransportHandshake(t *testing.T) {
	tr, err := NewStreamTransport("127.0.0.1:0", StreamOptions{InQueueSize: 4, OutQueueSize: 4}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()
	go tr.AcceptLoop()

	cc, err := net.Dial("tcp", tr.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer cc.Close()
	WriteFrame(cc, ChannelHello, []byte("pw"))
	WriteFrame(cc, ChannelReliable, []byte{4, 'x', 0})

	var conn Conn
	deadline := time.Now().Add(2 * time.Second)
	for conn == nil && time.Now().Before(deadline) {
		conn = tr.CheckNewConnections()
		time.Sleep(5 * time.Millisecond)
	}
	if conn == nil {
		t.Fatal("no connection")
	}
	if conn.Credentials() != "pw" {
		t.Fatalf("credentials %q", conn.Credentials())
	}

	var msg []byte
	for msg == nil && time.Now().Before(deadline) {
		msg, _ = conn.Receive()
		time.Sleep(5 * time.Millisecond)
	}
	if !bytes.Equal(msg, []byte{4, 'x', 0}) {
		t.Fatalf("message % x", msg)
	}

	if err := conn.SendUnreliable([]byte{7}); err != nil {
		t.Fatal(err)
	}
	cc.SetReadDeadline(time.Now().Add(2 * time.Second))
	ch, payload, err := ReadFrame(cc)
	if err != nil || ch != ChannelUnreliable || !bytes.Equal(payload, []byte{7}) {
		t.Fatalf("got %d % x %v", ch, payload, err)
	}
	conn.Close()
	if !conn.IsClosed() {
		t.Fatal("not closed")
	}
}
