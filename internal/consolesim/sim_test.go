package consolesim

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"presence-bridge/internal/presence"
	"presence-bridge/internal/proto"
	"presence-bridge/internal/resolve"
	"presence-bridge/internal/session"
)

func TestParseTitle(t *testing.T) {
	got, err := ParseTitle("0100152000022000:Mario Kart 8 Deluxe")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if got.ProgramID != 0x0100152000022000 || got.Name != "Mario Kart 8 Deluxe" || got.Magic != proto.TitleMagic {
		t.Fatalf("got=%+v", got)
	}

	got, err = ParseTitle("Beat Saber")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if got.ProgramID != uint64(proto.TitleMagic) || got.Name != "Beat Saber" {
		t.Fatalf("got=%+v", got)
	}

	got, _ = ParseTitle("Zelda: Breath of the Wild")
	if got.ProgramID != uint64(proto.TitleMagic) || got.Name != "Zelda: Breath of the Wild" {
		t.Fatalf("non-hex prefix got=%+v", got)
	}

	if _, err := ParseTitle("  "); err == nil {
		t.Fatalf("expected error for empty title")
	}
}

func TestStart_RejectsEmptyScript(t *testing.T) {
	if _, err := Start(context.Background(), Config{Addr: "127.0.0.1:0"}, "run", nil); err != ErrEmptyScript {
		t.Fatalf("err=%v", err)
	}
}

func readFrames(t *testing.T, c net.Conn, layout proto.Layout, n int) []proto.Frame {
	t.Helper()
	var out []proto.Frame
	for i := 0; i < n; i++ {
		b, err := proto.ReadFrame(context.Background(), c, proto.FrameSize, 2*time.Second)
		if err != nil {
			t.Fatalf("frame %d err=%v", i, err)
		}
		f, err := layout.Decode(b)
		if err != nil {
			t.Fatalf("decode %d err=%v", i, err)
		}
		out = append(out, f)
	}
	return out
}

func TestScriptThenTerminate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := Start(ctx, Config{
		Addr:      "127.0.0.1:0",
		Layout:    proto.AlignedLayout,
		Titles:    []proto.Title{{Magic: proto.TitleMagic, ProgramID: 1, Name: "A"}, {Magic: proto.TitleMagic, ProgramID: 2, Name: "B"}},
		Interval:  5 * time.Millisecond,
		Repeat:    2,
		Terminate: true,
	}, "run", nil)
	if err != nil {
		t.Fatalf("start err=%v", err)
	}
	c, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial err=%v", err)
	}
	defer c.Close()

	frames := readFrames(t, c, proto.AlignedLayout, 5)
	want := []string{"A", "A", "B", "B"}
	for i, name := range want {
		if frames[i].Kind != proto.KindTitle || frames[i].Title.Name != name {
			t.Fatalf("frame %d=%+v", i, frames[i])
		}
	}
	if frames[4].Kind != proto.KindTerminate {
		t.Fatalf("last frame=%+v", frames[4])
	}

	_, err = proto.ReadFrame(context.Background(), c, proto.FrameSize, 2*time.Second)
	if err == nil {
		t.Fatalf("expected close after terminate")
	}
}

func TestLastTitleRepeatsUntilCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	addr, err := Start(ctx, Config{
		Addr:     "127.0.0.1:0",
		Titles:   []proto.Title{{Magic: proto.TitleMagic, ProgramID: 7, Name: "Only"}},
		Interval: 5 * time.Millisecond,
		Repeat:   1,
	}, "run", nil)
	if err != nil {
		t.Fatalf("start err=%v", err)
	}
	c, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial err=%v", err)
	}
	defer c.Close()

	for i, f := range readFrames(t, c, proto.PackedLayout, 4) {
		if f.Kind != proto.KindTitle || f.Title.ProgramID != 7 {
			t.Fatalf("frame %d=%+v", i, f)
		}
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err := proto.ReadFrame(context.Background(), c, proto.FrameSize, time.Second)
		if err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("connection still open after cancel")
		}
	}
}

type recordingSink struct {
	mu       sync.Mutex
	payloads []presence.Payload
	clears   int
}

func (s *recordingSink) Publish(_ context.Context, p presence.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, p)
	return nil
}

func (s *recordingSink) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
	return nil
}

func (s *recordingSink) Ready() bool  { return true }
func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) snapshot() ([]presence.Payload, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]presence.Payload(nil), s.payloads...), s.clears
}

func TestSessionAgainstSimulator(t *testing.T) {
	simCtx, simCancel := context.WithCancel(context.Background())
	defer simCancel()

	addr, err := Start(simCtx, Config{
		Addr: "127.0.0.1:0",
		Titles: []proto.Title{
			{Magic: proto.TitleMagic, ProgramID: 0x0100152000022000, Name: "Mario Kart 8 Deluxe"},
			{Magic: proto.TitleMagic, ProgramID: 0x01007ef00011e000, Name: "Zelda"},
		},
		Interval:  5 * time.Millisecond,
		Repeat:    3,
		Terminate: true,
	}, "run", nil)
	if err != nil {
		t.Fatalf("start err=%v", err)
	}
	ap, err := netip.ParseAddrPort(addr.String())
	if err != nil {
		t.Fatalf("addr err=%v", err)
	}

	sink := &recordingSink{}
	s := session.New(session.Config{
		Target:  resolve.Target{IP: ap.Addr()},
		Port:    int(ap.Port()),
		Backoff: time.Hour,
		Display: presence.Options{ShowTimestamp: true},
	}, session.Deps{Sink: sink})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for {
		payloads, clears := sink.snapshot()
		if len(payloads) >= 2 && clears >= 1 && s.Phase() == session.PhaseBackoff {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("payloads=%d clears=%d phase=%v", len(payloads), clears, s.Phase())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	payloads, _ := sink.snapshot()
	if len(payloads) != 2 {
		t.Fatalf("payloads=%+v", payloads)
	}
	if payloads[0].Details != "Playing Mario Kart 8 Deluxe" || payloads[1].Details != "Playing Zelda" {
		t.Fatalf("details=%q %q", payloads[0].Details, payloads[1].Details)
	}
	if payloads[0].LargeImageKey != "0100152000022000" || payloads[1].LargeImageKey != "01007ef00011e000" {
		t.Fatalf("keys=%q %q", payloads[0].LargeImageKey, payloads[1].LargeImageKey)
	}
	if payloads[0].Start.IsZero() || payloads[1].Start.Before(payloads[0].Start) {
		t.Fatalf("starts=%v %v", payloads[0].Start, payloads[1].Start)
	}
}
