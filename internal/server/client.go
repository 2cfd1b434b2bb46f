package server

import (
	gonet "github.com/quakesync/server/internal/net"
	"github.com/quakesync/server/internal/net/packet"
	"github.com/quakesync/server/internal/stats"
	"github.com/quakesync/server/internal/world"
)

// MaxNameLength bounds player names, terminator excluded.
const MaxNameLength = 15

// UserCmd is the latest movement command from a client.
type UserCmd struct {
	Time        float32
	ForwardMove float32
	SideMove    float32
	UpMove      float32
	Buttons     int
	Impulse     int
}

// Client is one player session. The slot is reused across connections;
// Parms survive level changes while the connection lasts.
type Client struct {
	Slot int
	Conn gonet.Conn
	Name string

	Active   bool
	Spawned  bool
	DropASAP bool
	Stage    packet.SignonStage

	// Message is the reliable data queued for the next flush.
	Message *packet.Writer

	LastMessage float64
	Parms       world.Parms
	Edict       *world.Edict
	Cmd         UserCmd
	Colors      int

	signonIdx  int
	freshParms bool
	oldFrags   float32
	history    stats.History
	snap       stats.Snapshot
}

func newClient(slot int) *Client {
	return &Client{Slot: slot, Message: packet.NewOverflowWriter(packet.MaxMessage)}
}

// reset prepares the slot for a new connection.
func (c *Client) reset(conn gonet.Conn) {
	msg := c.Message
	msg.Clear()
	*c = Client{
		Slot:    c.Slot,
		Conn:    conn,
		Name:    "unconnected",
		Active:  true,
		Message: msg,
		Edict:   c.Edict,
		Stage:   packet.StageNeedPrespawn,
	}
}

// Local reports whether the client runs in the server's process.
func (c *Client) Local() bool {
	return c.Conn != nil && c.Conn.Address() == gonet.LocalAddress
}

// SignonStage reports the handshake stage; used to gate client commands.
func (c *Client) SignonStage() packet.SignonStage { return c.Stage }

// Print queues text for the client's console.
func (c *Client) Print(text string) {
	c.Message.PutByte(packet.SvcPrint)
	c.Message.PutString(text)
}

// StuffText queues a console command for the client to execute.
func (c *Client) StuffText(text string) {
	c.Message.PutByte(packet.SvcStuffText)
	c.Message.PutString(text)
}
