package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"sync/atomic"
	"time"

	"presence-bridge/internal/metrics"
	"presence-bridge/internal/override"
	"presence-bridge/internal/packetlog"
	"presence-bridge/internal/presence"
	"presence-bridge/internal/proto"
	"presence-bridge/internal/resolve"
)

const (
	DefaultConnectTimeout = 2 * time.Second
	DefaultBackoff        = 5 * time.Second
	DefaultResolveRetry   = time.Second
	DefaultHomeScreenName = "Home Menu"

	teardownTimeout = 2 * time.Second
	traceHeaderLen  = 16
)

// Status lines shown to the user.
const (
	StatusConnecting   = "Attempting to connect to server..."
	StatusConnected    = "Connected to the server!"
	StatusDisconnected = "Disconnected"
	StatusTerminated   = "Title stream ended by the device"
	StatusUnresolved   = "Device not found on the network, retrying..."
)

var errTerminated = errors.New("session: title stream terminated")

// Config is the per-session connection and display setup.
type Config struct {
	Target resolve.Target
	// Port defaults to proto.Port.
	Port   int
	Layout proto.Layout

	ReadTimeout    time.Duration
	ConnectTimeout time.Duration
	Backoff        time.Duration
	ResolveRetry   time.Duration

	HomeScreenName string
	ShowHomeScreen bool
	Display        presence.Options

	RunID string
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = proto.Port
	}
	if c.Layout == (proto.Layout{}) {
		c.Layout = proto.PackedLayout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = proto.DefaultReadTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Backoff <= 0 {
		c.Backoff = DefaultBackoff
	}
	if c.ResolveRetry <= 0 {
		c.ResolveRetry = DefaultResolveRetry
	}
	if c.HomeScreenName == "" {
		c.HomeScreenName = DefaultHomeScreenName
	}
	return c
}

// Dialer opens the device transport. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// AddressResolver maps a hardware address to the device's current IPv4.
type AddressResolver interface {
	Resolve(ctx context.Context, hw net.HardwareAddr) (netip.Addr, error)
	Forget(hw net.HardwareAddr)
}

// TitleResolver maps a title to its override data.
type TitleResolver interface {
	Resolve(t proto.Title) override.Resolution
}

// Reporter receives status updates from the loop goroutine.
type Reporter interface {
	SetStatus(msg string)
	SetPhase(phase string)
	SetConnected(connected bool)
	SetTitle(name string, programID uint64)
}

// Deps are the collaborators a Session uses. Only Sink is required.
type Deps struct {
	Dialer    Dialer
	Addresses AddressResolver
	Overrides TitleResolver
	Sink      presence.Sink
	Reporter  Reporter
	Trace     *packetlog.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// Session is one connect/listen/backoff loop. Run may be called once.
type Session struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	refresh atomic.Bool
	phase   atomic.Int32

	// Owned by the Run goroutine.
	conn     net.Conn
	lastName string
	start    time.Time
}

func New(cfg Config, deps Deps) *Session {
	cfg = cfg.withDefaults()
	if deps.Dialer == nil {
		deps.Dialer = &net.Dialer{}
	}
	if deps.Overrides == nil {
		deps.Overrides = (*override.Resolver)(nil)
	}
	if deps.Sink == nil {
		deps.Sink = nopSink{}
	}
	if deps.Reporter == nil {
		deps.Reporter = nopReporter{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Session{
		cfg:  cfg,
		deps: deps,
		log:  slog.With("target", cfg.Target.String()),
	}
}

// Refresh forces the next title frame to be published even if unchanged.
// Safe to call from any goroutine.
func (s *Session) Refresh() { s.refresh.Store(true) }

// Phase is safe to call from any goroutine.
func (s *Session) Phase() Phase { return Phase(s.phase.Load()) }

// Run loops until ctx is cancelled, then tears down and returns ctx.Err().
func (s *Session) Run(ctx context.Context) error {
	defer s.teardown()
	s.trace(packetlog.Record{Type: packetlog.TypeStartup, Message: "session start layout=" + layoutName(s.cfg.Layout)})

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.setPhase(PhaseConnecting)

		addr, err := s.address(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("device address unresolved", "err", err)
			s.deps.Reporter.SetStatus(StatusUnresolved)
			if !sleep(ctx, s.cfg.ResolveRetry) {
				return ctx.Err()
			}
			continue
		}

		s.deps.Reporter.SetStatus(StatusConnecting)
		conn, err := s.dial(ctx, addr)
		s.deps.Metrics.ConnectAttempt(err)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warn("device connect failed", "addr", addr, "err", err)
			s.deps.Reporter.SetStatus(fmt.Sprintf("Connection error: %v", err))
			s.clear(ctx)
			s.forgetAddress()
			if !s.backoff(ctx) {
				return ctx.Err()
			}
			continue
		}

		s.conn = conn
		s.log.Info("device connected", "addr", addr)
		s.deps.Reporter.SetConnected(true)
		s.deps.Reporter.SetStatus(StatusConnected)

		err = s.listen(ctx)
		s.closeConn()
		s.deps.Reporter.SetConnected(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch {
		case errors.Is(err, errTerminated):
			s.log.Info("device ended title stream")
			s.deps.Reporter.SetStatus(StatusTerminated)
		default:
			s.log.Warn("device transport failed", "err", err)
			s.deps.Reporter.SetStatus(fmt.Sprintf("Connection error: %v", err))
			s.forgetAddress()
		}
		if !s.backoff(ctx) {
			return ctx.Err()
		}
	}
}

func (s *Session) address(ctx context.Context) (string, error) {
	ip := s.cfg.Target.IP
	if s.cfg.Target.IsHardware() {
		if s.deps.Addresses == nil {
			return "", fmt.Errorf("no address resolver for %s", s.cfg.Target)
		}
		var err error
		ip, err = s.deps.Addresses.Resolve(ctx, s.cfg.Target.HW)
		if err != nil {
			if errors.Is(err, resolve.ErrNotFound) {
				s.deps.Metrics.ResolveMiss()
			}
			return "", err
		}
	}
	if !ip.IsValid() {
		return "", resolve.ErrInvalidTarget
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(s.cfg.Port)), nil
}

func (s *Session) forgetAddress() {
	if s.cfg.Target.IsHardware() && s.deps.Addresses != nil {
		s.deps.Addresses.Forget(s.cfg.Target.HW)
	}
}

func (s *Session) dial(ctx context.Context, addr string) (net.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	return s.deps.Dialer.DialContext(dctx, "tcp", addr)
}

// listen reads frames until the connection ends. Every return path has
// already cleared presence unless ctx was cancelled.
func (s *Session) listen(ctx context.Context) error {
	// Presence cleared on the previous drop must be republished.
	s.refresh.Store(true)
	s.setPhase(PhaseListening)

	for {
		buf, err := proto.ReadFrame(ctx, s.conn, proto.FrameSize, s.cfg.ReadTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.deps.Metrics.TransportError(transportReason(err))
			s.clear(ctx)
			return err
		}
		frame, err := s.cfg.Layout.Decode(buf)
		if err != nil {
			return err
		}
		s.traceFrame(frame, buf)
		s.deps.Metrics.Frame(frame.Kind.String())

		if frame.Kind == proto.KindTerminate {
			s.clear(ctx)
			return errTerminated
		}
		s.handleTitle(ctx, frame.Title)
	}
}

func (s *Session) handleTitle(ctx context.Context, t proto.Title) {
	changed := t.Name != s.lastName
	if !changed && !s.refresh.Load() {
		return
	}
	if changed {
		s.start = s.deps.Now()
	}
	s.refresh.Store(false)

	var err error
	if !s.cfg.ShowHomeScreen && t.Name == s.cfg.HomeScreenName {
		err = s.clear(ctx)
	} else {
		res := s.deps.Overrides.Resolve(t)
		p := presence.Build(t, res, s.start, s.cfg.Display)
		err = s.publish(ctx, p)
	}
	if err != nil {
		// Retry on the next frame.
		s.refresh.Store(true)
	}

	if changed {
		s.log.Info("title changed", "name", t.Name, "program_id", fmt.Sprintf("0x%016x", t.ProgramID))
	}
	s.lastName = t.Name
	s.deps.Reporter.SetTitle(t.Name, t.ProgramID)
}

func (s *Session) publish(ctx context.Context, p presence.Payload) error {
	err := s.deps.Sink.Publish(ctx, p)
	s.deps.Metrics.Update("publish", err)
	if err != nil {
		s.log.Warn("presence publish failed", "err", err)
	}
	s.trace(packetlog.Record{Type: packetlog.TypePublish, Name: p.Details, Message: errString(err)})
	return err
}

func (s *Session) clear(ctx context.Context) error {
	if !s.deps.Sink.Ready() {
		return nil
	}
	err := s.deps.Sink.Clear(ctx)
	s.deps.Metrics.Update("clear", err)
	if err != nil {
		s.log.Warn("presence clear failed", "err", err)
	}
	s.trace(packetlog.Record{Type: packetlog.TypeClear, Message: errString(err)})
	return err
}

func (s *Session) backoff(ctx context.Context) bool {
	s.setPhase(PhaseBackoff)
	return sleep(ctx, s.cfg.Backoff)
}

func (s *Session) closeConn() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// teardown runs after cancellation: transport first, then presence, then the
// service handle, then local state.
func (s *Session) teardown() {
	s.closeConn()

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	s.clear(ctx)
	cancel()
	if err := s.deps.Sink.Close(); err != nil {
		s.log.Debug("presence sink close failed", "err", err)
	}

	s.lastName = ""
	s.start = time.Time{}
	s.refresh.Store(false)
	s.setPhase(PhaseDisconnected)
	s.deps.Reporter.SetConnected(false)
	s.deps.Reporter.SetStatus(StatusDisconnected)
	s.log.Info("session stopped")
}

func (s *Session) setPhase(p Phase) {
	if Phase(s.phase.Swap(int32(p))) == p {
		return
	}
	s.deps.Reporter.SetPhase(p.String())
	s.deps.Metrics.SetPhase(p.String(), phaseNames)
	s.trace(packetlog.Record{Type: packetlog.TypeTransition, Phase: p.String()})
	s.log.Debug("session phase", "phase", p.String())
}

func (s *Session) trace(rec packetlog.Record) {
	if s.deps.Trace == nil {
		return
	}
	rec.RunID = s.cfg.RunID
	rec.Timestamp = proto.NowTS()
	rec.Remote = s.cfg.Target.String()
	s.deps.Trace.Log(rec)
}

func (s *Session) traceFrame(f proto.Frame, raw []byte) {
	rec := packetlog.Record{
		Type:   packetlog.TypeFrame,
		Kind:   f.Kind.String(),
		Magic:  fmt.Sprintf("0x%08x", f.Magic),
		Length: len(raw),
	}
	if f.Kind == proto.KindTitle {
		rec.ProgramID = fmt.Sprintf("0x%016x", f.Title.ProgramID)
		rec.Name = f.Title.Name
	} else {
		rec.Header = proto.ToHex(raw[:min(len(raw), traceHeaderLen)])
	}
	s.trace(rec)
}

func transportReason(err error) string {
	switch {
	case errors.Is(err, proto.ErrConnectionReset):
		return "reset"
	case errors.Is(err, proto.ErrTransportTimeout):
		return "timeout"
	default:
		return "io"
	}
}

func layoutName(l proto.Layout) string {
	if l == proto.AlignedLayout {
		return "aligned"
	}
	return "packed"
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// sleep waits for d or until ctx is done. It reports whether the full delay
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

type nopSink struct{}

func (nopSink) Publish(context.Context, presence.Payload) error { return nil }
func (nopSink) Clear(context.Context) error                     { return nil }
func (nopSink) Ready() bool                                     { return false }
func (nopSink) Close() error                                    { return nil }

type nopReporter struct{}

func (nopReporter) SetStatus(string)        {}
func (nopReporter) SetPhase(string)         {}
func (nopReporter) SetConnected(bool)       {}
func (nopReporter) SetTitle(string, uint64) {}
