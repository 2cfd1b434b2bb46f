package server

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/quakesync/server/internal/bsp/bsptest"
	"github.com/quakesync/server/internal/core/event"
	"github.com/quakesync/server/internal/data"
	"github.com/quakesync/server/internal/delta"
	"github.com/quakesync/server/internal/mathx"
	gonet "github.com/quakesync/server/internal/net"
	"github.com/quakesync/server/internal/net/packet"
	"github.com/quakesync/server/internal/stats"
	"github.com/quakesync/server/internal/world"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"
)

type levels map[string]*data.Level

func (l levels) LoadLevel(name string) (*data.Level, error) {
	lvl, ok := l[name]
	if !ok {
		return nil, fmt.Errorf("no level %q", name)
	}
	return lvl, nil
}

// testLevel puts n boxes in the middle room of a corridor whose middle
// room sees the left one.
func testLevel(n int) *data.Level {
	defs := []data.EntityDef{{"classname": "worldspawn", "message": "Test Level", "sounds": "3"}}
	for i := 0; i < n; i++ {
		defs = append(defs, data.EntityDef{
			"classname": "misc_box",
			"model":     "progs/box.mdl",
			"origin":    fmt.Sprintf("%d 0 0", 10+i%80),
		})
	}
	return &data.Level{
		Name:     "test",
		Message:  "Test Level",
		CDTrack:  3,
		Map:      bsptest.Corridor([2]int{1, 2}),
		Entities: defs,
		Models:   []string{PlayerModel, "progs/box.mdl"},
		Sounds:   []string{"misc/beep.wav"},
	}
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type harness struct {
	sv   *Server
	lb   *gonet.Loopback
	logs *observer.ObservedLogs
	clk  *clock
	bus  *event.Bus
}

func newHarness(t *testing.T, opts Options, lvl *data.Level) *harness {
	t.Helper()
	return newRulesHarness(t, opts, nil, levels{"test": lvl})
}

// newRulesHarness starts level "test" from lvls under the given rules.
func newRulesHarness(t *testing.T, opts Options, rules Rules, lvls levels) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	clk := &clock{t: time.Unix(1000, 0)}
	bus := event.NewBus()
	sv, err := New(opts, rules, lvls, zap.New(core), WithClock(clk.now), WithEventBus(bus))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sv.SpawnServer("test"); err != nil {
		t.Fatalf("SpawnServer: %v", err)
	}
	lb := gonet.NewLoopback()
	sv.AddTransport(lb)
	return &harness{sv: sv, lb: lb, logs: logs, clk: clk, bus: bus}
}

func (h *harness) frame() {
	h.sv.CheckForNewClients()
	h.sv.ReadAllClientMessages()
	h.sv.RunFrame(0.1)
	h.sv.SendClientMessages()
	h.sv.FlushFreed()
}

func stringCmd(s string) []byte {
	w := packet.NewWriter(256)
	w.PutByte(packet.ClcStringCmd)
	w.PutString(s)
	return w.Bytes()
}

func lastReliable(t *testing.T, conn *gonet.LoopConn) []byte {
	t.Helper()
	msgs := conn.TakeReliable()
	if len(msgs) != 1 {
		t.Fatalf("got %d reliable messages, want 1", len(msgs))
	}
	return msgs[0]
}

func TestHandshake(t *testing.T) {
	h := newHarness(t, DefaultOptions(), testLevel(4))
	conn := h.lb.Dial(gonet.LocalAddress, "")

	h.frame()
	c := h.sv.Client(0)
	if !c.Active {
		t.Fatal("client not connected")
	}
	info := lastReliable(t, conn)
	if info[0] != packet.SvcPrint {
		t.Fatalf("first opcode = %d, want print", info[0])
	}
	if !bytes.HasSuffix(info, []byte{packet.SvcSignonNum, 1}) {
		t.Fatalf("serverinfo does not end with signon 1: % x", info[len(info)-4:])
	}
	if !bytes.Contains(info, []byte("progs/box.mdl\x00")) {
		t.Fatal("model list missing from serverinfo")
	}
	if c.Stage != packet.StageNeedPrespawn {
		t.Fatalf("stage after serverinfo = %s", c.Stage)
	}

	conn.Send(stringCmd("name tester"))
	conn.Send(stringCmd("prespawn"))
	h.frame()
	signon := lastReliable(t, conn)
	if !bytes.HasSuffix(signon, []byte{packet.SvcSignonNum, 2}) {
		t.Fatal("signon data does not end with signon 2")
	}
	if c.Stage != packet.StageDone {
		t.Fatalf("stage after signon = %s", c.Stage)
	}
	if c.Name != "tester" {
		t.Fatalf("name = %q", c.Name)
	}

	conn.Send(stringCmd("spawn"))
	h.frame()
	spawn := lastReliable(t, conn)
	if spawn[0] != packet.SvcTime || !bytes.HasSuffix(spawn, []byte{packet.SvcSignonNum, 3}) {
		t.Fatalf("unexpected spawn message % x", spawn)
	}
	if len(conn.TakeUnreliable()) != 0 {
		t.Fatal("datagram sent before begin")
	}

	conn.Send(stringCmd("begin"))
	h.frame()
	if !c.Spawned {
		t.Fatal("client not spawned after begin")
	}
	dgrams := conn.TakeUnreliable()
	if len(dgrams) != 1 || dgrams[0][0] != packet.SvcTime {
		t.Fatalf("datagrams = %v", dgrams)
	}

	h.bus.SwapBuffers()
	var spawned []event.ClientSpawned
	event.Subscribe(h.bus, func(ev event.ClientSpawned) { spawned = append(spawned, ev) })
	h.bus.DispatchAll()
	if len(spawned) != 1 || spawned[0].Name != "tester" {
		t.Fatalf("spawn events = %v", spawned)
	}
}

func TestSignonSpillReplayOrder(t *testing.T) {
	h := newHarness(t, DefaultOptions(), testLevel(2500))
	if h.sv.Signon.Len() != 2 {
		t.Fatalf("signon buffers = %d, want 2", h.sv.Signon.Len())
	}
	var want []byte
	for i := 0; i < h.sv.Signon.Len(); i++ {
		want = append(want, h.sv.Signon.Buffer(i).Bytes()...)
	}
	want = append(want, packet.SvcSignonNum, 2)

	t.Run("remote", func(t *testing.T) {
		conn := h.lb.Dial("10.0.0.7:26000", "")
		h.frame()
		conn.TakeReliable()

		conn.Send(stringCmd("prespawn"))
		h.frame()
		first := lastReliable(t, conn)
		if !bytes.Equal(first, h.sv.Signon.Buffer(0).Bytes()) {
			t.Fatal("remote client did not get exactly the first buffer")
		}
		h.frame()
		second := lastReliable(t, conn)
		if got := append(first, second...); !bytes.Equal(got, want) {
			t.Fatal("replayed signon differs from the chain")
		}
	})

	t.Run("local", func(t *testing.T) {
		conn := h.lb.Dial(gonet.LocalAddress, "")
		h.frame()
		conn.TakeReliable()

		conn.Send(stringCmd("prespawn"))
		h.frame()
		if got := lastReliable(t, conn); !bytes.Equal(got, want) {
			t.Fatal("local client did not get the whole signon in one message")
		}
	})
}

func TestSignonPoolExhaustion(t *testing.T) {
	chain := NewSignonChain()
	chain.Current().PutBytes(make([]byte, packet.SignonSize))
	for chain.Len() < packet.MaxSignonBuffers {
		if err := chain.Reserve(1); err != nil {
			t.Fatalf("reserve with %d buffers: %v", chain.Len(), err)
		}
		chain.Current().PutBytes(make([]byte, packet.SignonSize))
	}
	if err := chain.Reserve(1); !errors.Is(err, ErrSignonOverflow) {
		t.Fatalf("err = %v, want ErrSignonOverflow", err)
	}
	if chain.Size() != packet.MaxSignonBuffers*packet.SignonSize {
		t.Fatalf("size = %d", chain.Size())
	}
}

func TestStartSoundUnprecached(t *testing.T) {
	h := newHarness(t, DefaultOptions(), testLevel(1))
	e := h.sv.Edicts.Get(h.sv.opts.MaxClients + 1)
	before := h.sv.Datagram.Len()

	h.sv.StartSound(e, 0, "misc/missing.wav", 255, 1)

	if h.sv.Datagram.Len() != before {
		t.Fatal("unprecached sound wrote bytes")
	}
	if h.logs.FilterMessage("sound not precached").Len() != 1 {
		t.Fatal("no diagnostic for unprecached sound")
	}
}

func TestStartSoundRejectsBadArguments(t *testing.T) {
	h := newHarness(t, DefaultOptions(), testLevel(1))
	e := h.sv.Edicts.Get(h.sv.opts.MaxClients + 1)

	cases := []struct {
		name    string
		channel int
		volume  int
		atten   float32
		msg     string
	}{
		{"volume", 0, 300, 1, "sound volume out of range"},
		{"attenuation", 0, 255, 4.5, "sound attenuation out of range"},
		{"channel", 9, 255, 1, "sound channel out of range"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h.sv.ClearDatagram()
			h.sv.StartSound(e, tc.channel, "misc/beep.wav", tc.volume, tc.atten)
			if h.sv.Datagram.Len() != 0 {
				t.Fatal("bytes written for invalid sound")
			}
			if h.logs.FilterMessage(tc.msg).Len() == 0 {
				t.Fatalf("missing %q", tc.msg)
			}
		})
	}
}

func TestStartSoundEncoding(t *testing.T) {
	h := newHarness(t, DefaultOptions(), testLevel(1))
	e := h.sv.Edicts.Get(h.sv.opts.MaxClients + 1)
	e.V.Origin = mathx.Vec3{8, 16, 24}
	h.sv.ClearDatagram()

	h.sv.StartSound(e, 2, "misc/beep.wav", 128, 2)

	r := packet.NewReader(h.sv.Datagram.Bytes())
	if op := r.GetByte(); op != packet.SvcSound {
		t.Fatalf("opcode = %d", op)
	}
	mask := r.GetByte()
	if mask != packet.SndVolume|packet.SndAttenuation {
		t.Fatalf("mask = %#x", mask)
	}
	if v := r.GetByte(); v != 128 {
		t.Fatalf("volume = %d", v)
	}
	if a := r.GetByte(); a != 128 {
		t.Fatalf("attenuation byte = %d", a)
	}
	if ch := r.GetShort(); ch != e.Num<<3|2 {
		t.Fatalf("entity/channel = %d", ch)
	}
	if n := r.GetByte(); n != 1 {
		t.Fatalf("sound index = %d", n)
	}
	for i, want := range []float32{8, 16, 24} {
		if got := r.GetCoord(h.sv.Flags); got != want {
			t.Fatalf("coord %d = %v, want %v", i, got, want)
		}
	}
	if r.Remaining() != 0 || r.Err() != nil {
		t.Fatalf("trailing bytes %d, err %v", r.Remaining(), r.Err())
	}
}

func TestLocalSoundLargeIndexNetQuake(t *testing.T) {
	lvl := testLevel(1)
	for i := 0; i < 300; i++ {
		lvl.Sounds = append(lvl.Sounds, fmt.Sprintf("gen/%d.wav", i))
	}
	opts := DefaultOptions()
	opts.Protocol = packet.ProtocolNetQuake
	h := newHarness(t, opts, lvl)
	c := h.sv.Client(0)

	h.sv.LocalSound(c, "gen/299.wav")
	if c.Message.Len() != 0 {
		t.Fatal("large sound index sent to a legacy client")
	}
	h.sv.LocalSound(c, "misc/beep.wav")
	if got := c.Message.Bytes(); !bytes.Equal(got, []byte{packet.SvcLocalSound, 0, 1}) {
		t.Fatalf("local sound = % x", got)
	}
}

func TestKeepaliveWhileConnecting(t *testing.T) {
	h := newHarness(t, DefaultOptions(), testLevel(1))
	conn := h.lb.Dial("10.0.0.7:26000", "")
	h.frame()
	conn.TakeReliable()

	h.clk.advance(2 * time.Second)
	h.frame()
	if n := len(conn.TakeUnreliable()); n != 0 {
		t.Fatalf("nop sent after 2s idle (%d)", n)
	}

	h.clk.advance(4 * time.Second)
	h.frame()
	got := conn.TakeUnreliable()
	if len(got) != 1 || !bytes.Equal(got[0], []byte{packet.SvcNop}) {
		t.Fatalf("keepalive = %v", got)
	}
}

func TestOverflowDropsOnlyThatClient(t *testing.T) {
	h := newHarness(t, DefaultOptions(), testLevel(1))
	a := h.lb.Dial("10.0.0.1:26000", "")
	b := h.lb.Dial("10.0.0.2:26000", "")
	h.frame()
	a.TakeReliable()
	b.TakeReliable()

	ca, cb := h.sv.Client(0), h.sv.Client(1)
	ca.Message.PutBytes(make([]byte, packet.MaxMessage+1))
	ca.Stage = packet.StageFlushing
	cb.Print("still here\n")
	cb.Stage = packet.StageFlushing
	h.frame()

	if ca.Active {
		t.Fatal("overflowed client still active")
	}
	if !a.IsClosed() {
		t.Fatal("overflowed connection not closed")
	}
	if !cb.Active {
		t.Fatal("other client dropped")
	}
	if h.sv.Stats.Drops != 1 {
		t.Fatalf("drops = %d", h.sv.Stats.Drops)
	}
	msgs := b.TakeReliable()
	if len(msgs) != 1 || !bytes.Contains(msgs[0], []byte("still here")) {
		t.Fatalf("survivor messages = %q", msgs)
	}
}

func TestSendFailureDropsClient(t *testing.T) {
	h := newHarness(t, DefaultOptions(), testLevel(1))
	conn := h.lb.Dial("10.0.0.1:26000", "")
	conn.FailSends = true
	h.frame()
	if h.sv.Client(0).Active {
		t.Fatal("client kept after failed send")
	}
}

func TestBlockedConnectionKeepsMessage(t *testing.T) {
	h := newHarness(t, DefaultOptions(), testLevel(1))
	conn := h.lb.Dial("10.0.0.1:26000", "")
	conn.Blocked = true
	h.frame()
	c := h.sv.Client(0)
	if c.Message.Len() == 0 {
		t.Fatal("pending serverinfo discarded while blocked")
	}
	if len(conn.TakeReliable()) != 0 {
		t.Fatal("sent while blocked")
	}

	conn.Blocked = false
	h.frame()
	if len(conn.TakeReliable()) != 1 {
		t.Fatal("serverinfo not flushed once unblocked")
	}
}

func TestPasswordCheck(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	opts := DefaultOptions()
	opts.PasswordHash = string(hash)
	h := newHarness(t, opts, testLevel(1))

	bad := h.lb.Dial("10.0.0.1:26000", "guess")
	good := h.lb.Dial("10.0.0.2:26000", "hunter2")
	h.frame()

	if !bad.IsClosed() {
		t.Fatal("wrong password accepted")
	}
	if good.IsClosed() || !h.sv.Client(0).Active {
		t.Fatal("right password rejected")
	}
	if h.logs.FilterMessage("connection rejected").Len() != 1 {
		t.Fatal("rejection not logged")
	}
}

func TestServerFull(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxClients = 1
	h := newHarness(t, opts, testLevel(1))
	h.lb.Dial("10.0.0.1:26000", "")
	extra := h.lb.Dial("10.0.0.2:26000", "")
	h.frame()
	if !extra.IsClosed() {
		t.Fatal("connection accepted with no free slot")
	}
	entries := h.logs.FilterMessage("connection rejected").All()
	if len(entries) != 1 || entries[0].ContextMap()["error"] != ErrNoFreeClient.Error() {
		t.Fatalf("entries = %v", entries)
	}
}

func TestFragsBroadcast(t *testing.T) {
	h := newHarness(t, DefaultOptions(), testLevel(1))
	a := h.lb.Dial("10.0.0.1:26000", "")
	b := h.lb.Dial("10.0.0.2:26000", "")
	h.frame()
	a.TakeReliable()
	b.TakeReliable()

	h.sv.Client(0).Edict.V.Frags = 3
	for _, c := range h.sv.Clients()[:2] {
		c.Stage = packet.StageFlushing
	}
	h.frame()

	want := []byte{packet.SvcUpdateFrags, 0, 3, 0}
	for i, conn := range []*gonet.LoopConn{a, b} {
		msgs := conn.TakeReliable()
		if len(msgs) != 1 || !bytes.Contains(msgs[0], want) {
			t.Fatalf("client %d did not get the frag update: %v", i, msgs)
		}
	}
}

func TestMuzzleFlashCleared(t *testing.T) {
	h := newHarness(t, DefaultOptions(), testLevel(1))
	e := h.sv.Edicts.Get(h.sv.opts.MaxClients + 1)
	e.V.Effects = world.EffectMuzzleFlash | world.EffectDimLight
	h.sv.SendClientMessages()
	if e.V.Effects != world.EffectDimLight {
		t.Fatalf("effects = %d", e.V.Effects)
	}
}

func TestDatagramRespectsMTU(t *testing.T) {
	h := newHarness(t, DefaultOptions(), testLevel(1500))
	conn := h.lb.Dial("10.0.0.1:26000", "")
	h.frame()
	for _, cmd := range []string{"prespawn", "spawn", "begin"} {
		conn.Send(stringCmd(cmd))
		h.frame()
		h.frame()
	}
	c := h.sv.Client(0)
	if !c.Spawned {
		t.Fatal("client did not finish the handshake")
	}
	conn.TakeUnreliable()

	c.Edict.V.Origin = mathx.Vec3{50, 0, 0}
	h.frame()
	dgrams := conn.TakeUnreliable()
	if len(dgrams) != 1 {
		t.Fatalf("got %d datagrams", len(dgrams))
	}
	if len(dgrams[0]) > packet.DatagramMTU {
		t.Fatalf("datagram is %d bytes", len(dgrams[0]))
	}
	if h.sv.Stats.Overflows == 0 {
		t.Fatal("overflow not counted")
	}
	if h.logs.FilterMessage("Packet overflow!").Len() == 0 {
		t.Fatal("overflow not logged")
	}
}

func TestDropClientNotifiesOthers(t *testing.T) {
	h := newHarness(t, DefaultOptions(), testLevel(1))
	a := h.lb.Dial("10.0.0.1:26000", "")
	b := h.lb.Dial("10.0.0.2:26000", "")
	h.frame()
	a.TakeReliable()
	b.TakeReliable()

	w := packet.NewWriter(4)
	w.PutByte(packet.ClcDisconnect)
	a.Send(w.Bytes())
	h.sv.Client(1).Stage = packet.StageFlushing
	h.frame()

	if h.sv.Client(0).Active {
		t.Fatal("client still active after disconnect")
	}
	msgs := b.TakeReliable()
	want := []byte{packet.SvcUpdateName, 0, 0}
	if len(msgs) != 1 || !bytes.Contains(msgs[0], want) {
		t.Fatalf("other client not told: %v", msgs)
	}
}

func TestVisibleToClient(t *testing.T) {
	h := newHarness(t, DefaultOptions(), testLevel(1))
	box := h.sv.Edicts.Get(h.sv.Options().MaxClients + 1)
	player := h.sv.Edicts.Get(1)

	cases := []struct {
		x    float32
		want bool
	}{
		{50, true},   // same room
		{-50, true},  // linked room
		{300, false}, // far room
	}
	for _, tc := range cases {
		player.V.Origin = mathx.Vec3{tc.x, 0, 0}
		if got := h.sv.VisibleToClient(player, box); got != tc.want {
			t.Errorf("player at x=%v: visible=%v, want %v", tc.x, got, tc.want)
		}
	}
}

// parmRules carries health across levels in parm 0 and records the parms
// each spawn receives.
type parmRules struct {
	NopRules
	spawned []world.Parms
}

func (r *parmRules) SetChangeParms(_ *Server, e *world.Edict) world.Parms {
	var p world.Parms
	p[0] = e.V.Health
	return p
}

func (r *parmRules) PutClientInServer(_ *Server, _ *world.Edict, parms world.Parms) {
	r.spawned = append(r.spawned, parms)
}

// joinLocal runs a loopback client through the whole handshake.
func joinLocal(t *testing.T, h *harness) (*gonet.LoopConn, *Client) {
	t.Helper()
	conn := h.lb.Dial(gonet.LocalAddress, "")
	h.frame()
	for _, cmd := range []string{"name tester", "prespawn", "spawn", "begin"} {
		conn.Send(stringCmd(cmd))
		h.frame()
	}
	c := h.sv.Client(0)
	if !c.Spawned {
		t.Fatalf("client stuck in stage %s", c.Stage)
	}
	conn.TakeReliable()
	conn.TakeUnreliable()
	return conn, c
}

func TestLevelChange(t *testing.T) {
	rules := &parmRules{}
	h := newRulesHarness(t, DefaultOptions(), rules, levels{"test": testLevel(2), "next": testLevel(3)})
	conn, c := joinLocal(t, h)
	oldLevel := h.sv.LevelID
	c.Edict.V.Health = 42

	h.sv.ChangeLevel("next")
	h.sv.ChangeLevel("test")
	if h.sv.PendingLevel() != "next" {
		t.Fatalf("pending = %q", h.sv.PendingLevel())
	}
	if err := h.sv.ApplyLevelChange(); err != nil {
		t.Fatal(err)
	}
	if h.sv.Name != "next" || h.sv.LevelID == oldLevel {
		t.Fatalf("level %q after change", h.sv.Name)
	}
	if c.Spawned || !c.Active || c.Parms[0] != 42 {
		t.Fatalf("spawned %v active %v parms %v", c.Spawned, c.Active, c.Parms)
	}

	reconnect := lastReliable(t, conn)
	if !bytes.Equal(reconnect, append([]byte{packet.SvcStuffText}, "reconnect\n\x00"...)) {
		t.Fatalf("first message % x", reconnect)
	}

	h.frame()
	info := lastReliable(t, conn)
	if !bytes.HasSuffix(info, []byte{packet.SvcSignonNum, 1}) {
		t.Fatal("serverinfo for the new level not sent")
	}
	if c.Stage != packet.StageNeedPrespawn {
		t.Fatalf("stage = %s", c.Stage)
	}

	for _, cmd := range []string{"prespawn", "spawn", "begin"} {
		conn.Send(stringCmd(cmd))
		h.frame()
	}
	if !c.Spawned {
		t.Fatal("client did not rejoin")
	}
	if n := len(rules.spawned); n != 2 || rules.spawned[1][0] != 42 {
		t.Fatalf("spawn parms = %v", rules.spawned)
	}
}

func TestLevelChangeMissingLevel(t *testing.T) {
	h := newHarness(t, DefaultOptions(), testLevel(1))
	h.sv.ChangeLevel("nowhere")
	if err := h.sv.ApplyLevelChange(); err == nil {
		t.Fatal("change to a missing level succeeded")
	}
	if h.sv.PendingLevel() != "" {
		t.Fatal("failed change left pending")
	}
	if err := h.sv.ApplyLevelChange(); err != nil {
		t.Fatalf("no-op change: %v", err)
	}
}

func moveCmd(forward int) []byte {
	w := packet.NewWriter(32)
	w.PutByte(packet.ClcMove)
	w.PutFloat(1)
	for i := 0; i < 3; i++ {
		w.PutAngle16(0, 0)
	}
	w.PutShort(forward)
	w.PutShort(0)
	w.PutShort(0)
	w.PutByte(1)
	w.PutByte(0)
	return w.Bytes()
}

func TestMoveBeforeSignonIgnored(t *testing.T) {
	h := newHarness(t, DefaultOptions(), testLevel(1))
	conn := h.lb.Dial("10.0.0.1:26000", "")
	h.frame()
	h.frame()
	c := h.sv.Client(0)
	if c.Stage != packet.StageNeedPrespawn {
		t.Fatalf("stage = %s", c.Stage)
	}

	conn.Send(append(moveCmd(200), stringCmd("name early")...))
	h.frame()
	if !c.Active || conn.IsClosed() {
		t.Fatal("client dropped for an early move")
	}
	if c.Cmd != (UserCmd{}) {
		t.Fatalf("early move applied: %+v", c.Cmd)
	}
	if c.Name != "early" {
		t.Fatalf("command after the move lost, name %q", c.Name)
	}
	if h.logs.FilterMessage("client command skipped in stage").Len() != 1 {
		t.Fatal("skip not logged")
	}
}

func TestMoveAppliedOnceSpawned(t *testing.T) {
	h := newHarness(t, DefaultOptions(), testLevel(1))
	conn, c := joinLocal(t, h)
	conn.Send(moveCmd(200))
	h.frame()
	if c.Cmd.ForwardMove != 200 || c.Cmd.Buttons != 1 {
		t.Fatalf("cmd = %+v", c.Cmd)
	}
}

func TestStatusCommand(t *testing.T) {
	opts := DefaultOptions()
	opts.Hostname = "frag palace"
	h := newHarness(t, opts, testLevel(1))
	conn, c := joinLocal(t, h)
	c.Edict.V.Frags = 5

	conn.Send(stringCmd("status"))
	h.frame()
	var text []byte
	for _, m := range conn.TakeReliable() {
		text = append(text, m...)
	}
	for _, want := range []string{"host:    frag palace\n", "map:     test\n", "players: 1 active (8 max)", "#1  tester"} {
		if !bytes.Contains(text, []byte(want)) {
			t.Errorf("status output lacks %q: %q", want, text)
		}
	}
	if entries := h.logs.FilterMessage("server spawned").All(); entries[0].ContextMap()["host"] != "frag palace" {
		t.Fatalf("spawn log = %v", entries[0].ContextMap())
	}
}

func TestWeaponBitsPatchOption(t *testing.T) {
	for _, enabled := range []bool{false, true} {
		opts := DefaultOptions()
		opts.WeaponBitsPatch = enabled
		h := newHarness(t, opts, testLevel(1))
		e := h.sv.Edicts.Get(1)
		e.V.Weapon = 1 << 12

		w := packet.NewWriter(packet.MaxDatagram)
		h.sv.writeClientData(e, w)
		r := packet.NewReader(w.Bytes())
		d, err := delta.DecodeClientData(r, h.sv.Protocol)
		if err != nil {
			t.Fatalf("enabled=%v: %v", enabled, err)
		}
		if d.ActiveWeapon != 12 {
			t.Fatalf("enabled=%v: active weapon byte %d", enabled, d.ActiveWeapon)
		}

		if !enabled {
			if r.Remaining() != 0 {
				t.Fatalf("patch written while disabled: % x", w.Bytes())
			}
			continue
		}
		if r.GetByte() != packet.SvcUpdateStat || r.GetByte() != stats.ActiveWeapon || r.GetLong() != 1<<12 {
			t.Fatalf("patch bytes % x", w.Bytes())
		}
		if r.Remaining() != 0 {
			t.Fatalf("%d trailing bytes", r.Remaining())
		}
	}
}

func TestHandshakeCommandsOutOfStage(t *testing.T) {
	h := newHarness(t, DefaultOptions(), testLevel(1))
	conn := h.lb.Dial(gonet.LocalAddress, "")
	h.frame()
	conn.TakeReliable()
	c := h.sv.Client(0)

	conn.Send(stringCmd("spawn"))
	h.frame()
	if c.Stage != packet.StageNeedPrespawn {
		t.Fatalf("spawn before prespawn ran, stage %s", c.Stage)
	}
	conn.Send(stringCmd("begin"))
	h.frame()
	if c.Spawned {
		t.Fatal("begin before the signon data spawned the client")
	}
	if got := h.logs.FilterMessage("client command out of stage").Len(); got != 2 {
		t.Fatalf("out of stage warnings = %d", got)
	}
	if !c.Active {
		t.Fatal("client dropped for an out of stage command")
	}

	conn.Send(stringCmd("prespawn"))
	h.frame()
	conn.Send(stringCmd("prespawn"))
	h.frame()
	if c.Stage != packet.StageDone || c.signonIdx != h.sv.Signon.Len() {
		t.Fatalf("repeated prespawn restarted the signon, stage %s", c.Stage)
	}
}
