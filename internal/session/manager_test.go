package session

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"presence-bridge/internal/presence"
	"presence-bridge/internal/resolve"
)

type sinkFactory struct {
	rec *recorder
	err error

	mu    sync.Mutex
	sinks []*fakeSink
}

func (f *sinkFactory) New(context.Context, string) (presence.Sink, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s := &fakeSink{rec: f.rec}
	f.sinks = append(f.sinks, s)
	return s, nil
}

func managerRequest() Request {
	cfg := testConfig()
	return Request{ClientID: "1234567890", Config: cfg}
}

func TestManager_DisconnectTearsDownInOrder(t *testing.T) {
	rec := &recorder{}
	dialer := newFakeDialer(rec)
	factory := &sinkFactory{rec: rec}
	m := NewManager(Deps{Dialer: dialer}, factory.New)

	if err := m.Connect(context.Background(), managerRequest()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !m.Active() {
		t.Fatalf("not active")
	}

	c := <-dialer.conns
	defer c.Close()
	send(t, c, titleFrame("Game A", 0x0100))
	send(t, c, titleFrame("Game A", 0x0100))
	waitFor(t, "listening", func() bool { return m.Phase() == PhaseListening })

	if !m.Disconnect() {
		t.Fatalf("disconnect reported no session")
	}
	if m.Active() || m.Phase() != PhaseIdle {
		t.Fatalf("active=%v phase=%v", m.Active(), m.Phase())
	}
	events, _ := rec.snapshot()
	want := []string{"publish", "conn-close", "clear", "sink-close"}
	if len(events) != len(want) {
		t.Fatalf("events=%v", events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events=%v", events)
		}
	}
	if m.Disconnect() {
		t.Fatalf("second disconnect reported a session")
	}
}

func TestManager_ConnectReplacesActiveSession(t *testing.T) {
	rec := &recorder{}
	dialer := newFakeDialer(rec)
	factory := &sinkFactory{rec: rec}
	m := NewManager(Deps{Dialer: dialer}, factory.New)
	defer m.Disconnect()

	if err := m.Connect(context.Background(), managerRequest()); err != nil {
		t.Fatalf("connect 1: %v", err)
	}
	c1 := <-dialer.conns
	defer c1.Close()

	if err := m.Connect(context.Background(), managerRequest()); err != nil {
		t.Fatalf("connect 2: %v", err)
	}
	factory.mu.Lock()
	first := factory.sinks[0]
	n := len(factory.sinks)
	factory.mu.Unlock()
	if n != 2 {
		t.Fatalf("sinks=%d", n)
	}
	if first.Ready() {
		t.Fatalf("first session sink still open")
	}

	select {
	case c2 := <-dialer.conns:
		defer c2.Close()
	case <-time.After(2 * time.Second):
		t.Fatalf("second session did not dial")
	}
}

func TestManager_RejectsBadRequests(t *testing.T) {
	factory := &sinkFactory{rec: &recorder{}}
	m := NewManager(Deps{Dialer: newFakeDialer(&recorder{})}, factory.New)

	req := managerRequest()
	req.ClientID = "  "
	if err := m.Connect(context.Background(), req); !errors.Is(err, ErrNoCredential) {
		t.Fatalf("err=%v", err)
	}

	req = managerRequest()
	req.Config.Target = resolve.Target{}
	if err := m.Connect(context.Background(), req); !errors.Is(err, ErrNoTarget) {
		t.Fatalf("err=%v", err)
	}

	factory.err = errors.New("discord not running")
	if err := m.Connect(context.Background(), managerRequest()); !errors.Is(err, ErrServiceInit) {
		t.Fatalf("err=%v", err)
	}
	if m.Active() {
		t.Fatalf("active after failed connect")
	}
}

func TestManager_SessionOutlivesRequestContext(t *testing.T) {
	rec := &recorder{}
	dialer := newFakeDialer(rec)
	factory := &sinkFactory{rec: rec}
	m := NewManager(Deps{Dialer: dialer}, factory.New)
	defer m.Disconnect()

	ctx, cancel := context.WithCancel(context.Background())
	req := managerRequest()
	req.Config.Target = resolve.Target{IP: netip.MustParseAddr("127.0.0.1")}
	if err := m.Connect(ctx, req); err != nil {
		t.Fatalf("connect: %v", err)
	}
	cancel()

	c := <-dialer.conns
	defer c.Close()
	send(t, c, titleFrame("Game A", 0x0100))
	send(t, c, titleFrame("Game A", 0x0100))
	if !m.Refresh() {
		t.Fatalf("refresh reported no session")
	}
	if got := rec.count("publish"); got != 1 {
		t.Fatalf("publishes=%d", got)
	}
}
