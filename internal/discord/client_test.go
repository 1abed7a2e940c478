package discord

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/time/rate"

	"presence-bridge/internal/presence"
)

type received struct {
	cmd string
	pid int
	act *Activity
}

type fakeDiscord struct {
	rejectHandshake bool
	failCommands    bool
	got             chan received
	dials           int
}

func (f *fakeDiscord) dial(context.Context) (net.Conn, error) {
	f.dials++
	client, server := net.Pipe()
	go f.serve(server)
	return client, nil
}

func (f *fakeDiscord) serve(conn net.Conn) {
	defer conn.Close()
	if _, _, err := readFrame(conn); err != nil {
		return
	}
	if f.rejectHandshake {
		_ = writeFrame(conn, opClose, map[string]any{"code": 4000, "message": "Invalid Client ID"})
		return
	}
	_ = writeFrame(conn, opFrame, map[string]any{"cmd": "DISPATCH", "evt": "READY"})

	for {
		op, body, err := readFrame(conn)
		if err != nil || op == opClose {
			return
		}
		var cmd struct {
			Cmd   string       `json:"cmd"`
			Nonce string       `json:"nonce"`
			Args  activityArgs `json:"args"`
		}
		if err := sonic.Unmarshal(body, &cmd); err != nil {
			return
		}
		f.got <- received{cmd: cmd.Cmd, pid: cmd.Args.PID, act: cmd.Args.Activity}

		reply := map[string]any{"cmd": cmd.Cmd, "nonce": cmd.Nonce}
		if f.failCommands {
			reply["evt"] = "ERROR"
			reply["data"] = map[string]any{"code": 4002, "message": "bad activity"}
		}
		// Unrelated nonce first; the client must skip it.
		_ = writeFrame(conn, opFrame, map[string]any{"cmd": "DISPATCH", "nonce": "other"})
		_ = writeFrame(conn, opFrame, reply)
	}
}

func newTestClient(f *fakeDiscord) *Client {
	return NewClient("1234567890",
		WithDialer(f.dial),
		WithLimiter(rate.NewLimiter(rate.Inf, 1)),
		WithIOTimeout(2*time.Second),
	)
}

func TestClient_PublishAndClear(t *testing.T) {
	f := &fakeDiscord{got: make(chan received, 4)}
	c := newTestClient(f)
	defer c.Close()

	if c.Ready() {
		t.Fatalf("ready before connect")
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !c.Ready() {
		t.Fatalf("not ready after connect")
	}

	start := time.Unix(1700000000, 0)
	err := c.Publish(context.Background(), presence.Payload{
		Details:        "Playing Game A",
		LargeImageKey:  "0100",
		LargeImageText: "Game A",
		SmallImageText: "SwitchPresence-Rewritten",
		Start:          start,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	r := <-f.got
	if r.cmd != "SET_ACTIVITY" || r.pid == 0 || r.act == nil {
		t.Fatalf("received=%+v", r)
	}
	if r.act.Details != "Playing Game A" || r.act.Assets == nil || r.act.Assets.LargeImage != "0100" {
		t.Fatalf("activity=%+v", r.act)
	}
	if r.act.Timestamps == nil || r.act.Timestamps.Start != start.Unix() {
		t.Fatalf("timestamps=%+v", r.act.Timestamps)
	}

	if err := c.Clear(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if r := <-f.got; r.act != nil {
		t.Fatalf("clear sent activity=%+v", r.act)
	}
	if f.dials != 1 {
		t.Fatalf("dials=%d", f.dials)
	}
}

func TestClient_LazyConnectOnPublish(t *testing.T) {
	f := &fakeDiscord{got: make(chan received, 1)}
	c := newTestClient(f)
	defer c.Close()

	if err := c.Publish(context.Background(), presence.Payload{Details: "Playing x"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	<-f.got
	if !c.Ready() || f.dials != 1 {
		t.Fatalf("ready=%v dials=%d", c.Ready(), f.dials)
	}
}

func TestClient_HandshakeRejected(t *testing.T) {
	f := &fakeDiscord{rejectHandshake: true}
	c := newTestClient(f)
	err := c.Connect(context.Background())
	if !errors.Is(err, ErrHandshake) {
		t.Fatalf("err=%v", err)
	}
	if c.Ready() {
		t.Fatalf("ready after rejected handshake")
	}
}

func TestClient_CommandErrorKeepsConnection(t *testing.T) {
	f := &fakeDiscord{failCommands: true, got: make(chan received, 1)}
	c := newTestClient(f)
	defer c.Close()

	err := c.Publish(context.Background(), presence.Payload{Details: "Playing x"})
	if !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("err=%v", err)
	}
	<-f.got
	if !c.Ready() {
		t.Fatalf("connection dropped on command error")
	}
}

func TestClient_ClosedRejectsUse(t *testing.T) {
	f := &fakeDiscord{got: make(chan received, 1)}
	c := newTestClient(f)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	_ = c.Close()
	if c.Ready() {
		t.Fatalf("ready after close")
	}
	if err := c.Clear(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("err=%v", err)
	}
}

func TestClient_ClearNotBlockedByRateLimit(t *testing.T) {
	f := &fakeDiscord{got: make(chan received, 8)}
	c := NewClient("1234567890", WithDialer(f.dial), WithIOTimeout(2*time.Second))
	defer c.Close()

	for i := 0; i < 5; i++ {
		if err := c.Publish(context.Background(), presence.Payload{Details: "Playing Game A"}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
		<-f.got
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("clear after burst err=%v", err)
	}
	select {
	case r := <-f.got:
		if r.cmd != "SET_ACTIVITY" || r.act != nil {
			t.Fatalf("received=%+v", r)
		}
	case <-time.After(time.Second):
		t.Fatalf("clear not sent")
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel2()
	if err := c.Publish(ctx2, presence.Payload{Details: "Playing Game B"}); err == nil {
		t.Fatalf("publish after burst was not rate limited")
	}
}

func TestToActivity_OmitsEmptySections(t *testing.T) {
	a := toActivity(presence.Payload{Details: "Playing Game A"})
	if a.Assets != nil || a.Timestamps != nil || a.State != "" {
		t.Fatalf("activity=%+v", a)
	}
}

func TestFitField(t *testing.T) {
	if got := fitField("x"); got != "x " {
		t.Fatalf("short=%q", got)
	}
	if got := fitField(""); got != "" {
		t.Fatalf("empty=%q", got)
	}
	long := strings.Repeat("é", 100)
	got := fitField(long)
	if len(got) > maxFieldLen || !strings.HasPrefix(long, got) {
		t.Fatalf("long len=%d", len(got))
	}
}
