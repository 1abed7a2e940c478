// Package control turns user intents into session operations. Intents are
// handled one at a time on the controller goroutine.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"

	"presence-bridge/internal/config"
	"presence-bridge/internal/resolve"
	"presence-bridge/internal/session"
)

type Kind int

const (
	Connect Kind = iota
	Disconnect
	Refresh
	ShowWindow
	Exit
)

func (k Kind) String() string {
	switch k {
	case Connect:
		return "connect"
	case Disconnect:
		return "disconnect"
	case Refresh:
		return "refresh"
	case ShowWindow:
		return "show_window"
	case Exit:
		return "exit"
	default:
		return "unknown"
	}
}

// Intent is one user request. Reply receives exactly one value.
type Intent struct {
	Kind  Kind
	Reply chan error
}

var (
	ErrStopped       = errors.New("control: controller stopped")
	ErrNotConnected  = errors.New("control: no active session")
	ErrInvalidTarget = errors.New("control: invalid IP or MAC address")
)

// Status lines shown for intent outcomes.
const (
	StatusNoClientID     = "Client ID cannot be empty"
	StatusInvalidAddress = "Invalid IP or MAC Address"
	StatusNoMAC          = "Can't convert to MAC Address! Sorry!"
	StatusServiceFailed  = "Unable to start the presence service"
	StatusSaveFailed     = "Settings could not be saved"
)

// Sessions is the session owner the controller drives.
type Sessions interface {
	Connect(ctx context.Context, req session.Request) error
	Disconnect() bool
	Refresh() bool
}

// Saver persists settings.
type Saver interface {
	Save(config.Settings) error
}

// MACLookup finds the hardware address for an IPv4 neighbour.
type MACLookup interface {
	LookupHardwareAddr(ctx context.Context, ip netip.Addr) (net.HardwareAddr, error)
}

// StatusSink receives user-facing status lines.
type StatusSink interface {
	SetStatus(msg string)
	SetTarget(target string)
}

type Controller struct {
	sessions Sessions
	saver    Saver
	macs     MACLookup
	status   StatusSink
	runID    string

	// OnShowWindow is invoked for ShowWindow intents.
	OnShowWindow func()

	intents chan Intent
	done    chan struct{}
	exited  chan struct{}
	once    sync.Once

	mu       sync.RWMutex
	settings config.Settings
}

func New(settings config.Settings, sessions Sessions, saver Saver, macs MACLookup, status StatusSink, runID string) *Controller {
	return &Controller{
		sessions: sessions,
		saver:    saver,
		macs:     macs,
		status:   status,
		runID:    runID,
		settings: settings,
		intents:  make(chan Intent),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
}

// Exited is closed once an Exit intent has been handled.
func (c *Controller) Exited() <-chan struct{} { return c.exited }

// Settings returns a copy of the current settings.
func (c *Controller) Settings() config.Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// UpdateSettings validates, stores and persists s. A running session keeps
// its old settings until the next Connect.
func (c *Controller) UpdateSettings(s config.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.settings = s
	c.mu.Unlock()
	return c.save(s)
}

func (c *Controller) save(s config.Settings) error {
	if c.saver == nil {
		return nil
	}
	if err := c.saver.Save(s); err != nil {
		slog.Warn("settings save failed", "err", err)
		return err
	}
	return nil
}

// Submit sends an intent and waits for its outcome.
func (c *Controller) Submit(ctx context.Context, k Kind) error {
	in := Intent{Kind: k, Reply: make(chan error, 1)}
	select {
	case c.intents <- in:
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-in.Reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run handles intents until ctx is done or an Exit intent is processed. Any
// active session is stopped before Run returns.
func (c *Controller) Run(ctx context.Context) error {
	defer c.once.Do(func() { close(c.done) })
	defer c.sessions.Disconnect()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in := <-c.intents:
			err := c.handle(ctx, in.Kind)
			slog.Debug("intent handled", "intent", in.Kind.String(), "err", err)
			in.Reply <- err
			if in.Kind == Exit {
				close(c.exited)
				return nil
			}
		}
	}
}

func (c *Controller) handle(ctx context.Context, k Kind) error {
	switch k {
	case Connect:
		return c.connect(ctx)
	case Disconnect:
		if !c.sessions.Disconnect() {
			return ErrNotConnected
		}
		return nil
	case Refresh:
		if !c.sessions.Refresh() {
			return ErrNotConnected
		}
		return nil
	case ShowWindow:
		if c.OnShowWindow != nil {
			c.OnShowWindow()
		}
		return nil
	case Exit:
		c.sessions.Disconnect()
		return c.save(c.Settings())
	default:
		return fmt.Errorf("control: unknown intent %d", k)
	}
}

func (c *Controller) connect(ctx context.Context) error {
	s := c.Settings()
	if s.Discord.ClientID == "" {
		c.status.SetStatus(StatusNoClientID)
		return session.ErrNoCredential
	}
	target, err := resolve.ParseTarget(s.Device.Address)
	if err != nil {
		c.status.SetStatus(StatusInvalidAddress)
		return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}

	if !target.IsHardware() && c.macs != nil {
		convert := s.Device.AutoConvertToMAC
		if !s.Device.SeenMACPrompt {
			s.Device.SeenMACPrompt = true
			s.Device.AutoConvertToMAC = true
			convert = true
		}
		if convert {
			target, s = c.convertToMAC(ctx, target, s)
		}
		c.mu.Lock()
		c.settings = s
		c.mu.Unlock()
		if err := c.save(s); err != nil {
			c.status.SetStatus(StatusSaveFailed)
		}
	}

	c.status.SetTarget(target.String())
	err = c.sessions.Connect(ctx, session.Request{
		ClientID: s.Discord.ClientID,
		Config:   s.SessionConfig(target, c.runID),
	})
	if errors.Is(err, session.ErrServiceInit) {
		c.status.SetStatus(StatusServiceFailed)
	}
	return err
}

// convertToMAC swaps an IP target for the device's hardware address so the
// connection survives DHCP address changes.
func (c *Controller) convertToMAC(ctx context.Context, target resolve.Target, s config.Settings) (resolve.Target, config.Settings) {
	hw, err := c.macs.LookupHardwareAddr(ctx, target.IP)
	if err != nil {
		slog.Warn("ip to mac conversion failed", "ip", target.IP.String(), "err", err)
		c.status.SetStatus(StatusNoMAC)
		return target, s
	}
	slog.Info("device address converted to mac", "ip", target.IP.String(), "mac", hw.String())
	s.Device.Address = hw.String()
	return resolve.Target{HW: hw}, s
}
