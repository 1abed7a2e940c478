package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"presence-bridge/internal/presence"
)

const (
	defaultIOTimeout = 5 * time.Second

	// Discord accepts 5 activity updates per 20 seconds.
	publishBurst    = 5
	publishInterval = 4 * time.Second
)

var (
	ErrNoIPC         = errors.New("discord: no ipc endpoint reachable")
	ErrHandshake     = errors.New("discord: handshake rejected")
	ErrCommandFailed = errors.New("discord: command failed")
	ErrClosed        = errors.New("discord: client closed")
)

// DialFunc opens a raw IPC stream.
type DialFunc func(ctx context.Context) (net.Conn, error)

type Option func(*Client)

// WithDialer replaces platform socket discovery.
func WithDialer(d DialFunc) Option { return func(c *Client) { c.dial = d } }

// WithLimiter replaces the default publish rate limit.
func WithLimiter(l *rate.Limiter) Option { return func(c *Client) { c.limiter = l } }

// WithIOTimeout bounds each request/response exchange.
func WithIOTimeout(d time.Duration) Option { return func(c *Client) { c.ioTimeout = d } }

// Client is a presence.Sink talking to the local Discord client.
// A dropped pipe is redialled on the next Publish or Clear.
type Client struct {
	clientID  string
	pid       int
	dial      DialFunc
	limiter   *rate.Limiter
	ioTimeout time.Duration

	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

var _ presence.Sink = (*Client)(nil)

func NewClient(clientID string, opts ...Option) *Client {
	c := &Client{
		clientID:  clientID,
		pid:       os.Getpid(),
		dial:      dialIPC,
		limiter:   rate.NewLimiter(rate.Every(publishInterval), publishBurst),
		ioTimeout: defaultIOTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect dials the IPC endpoint and performs the handshake.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	if c.closed {
		return ErrClosed
	}
	if c.conn != nil {
		return nil
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	_ = conn.SetDeadline(time.Now().Add(c.ioTimeout))
	if err := writeFrame(conn, opHandshake, handshake{V: 1, ClientID: c.clientID}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("discord: write handshake: %w", err)
	}
	op, body, err := readFrame(conn)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("discord: read handshake: %w", err)
	}
	var resp response
	_ = sonic.Unmarshal(body, &resp)
	if op != opFrame || resp.Evt != "READY" {
		_ = conn.Close()
		return fmt.Errorf("%w: op=%d code=%d message=%q", ErrHandshake, op, resp.Data.Code, resp.Data.Message)
	}
	_ = conn.SetDeadline(time.Time{})
	c.conn = conn
	slog.Debug("discord ipc connected", "client_id", c.clientID)
	return nil
}

// Publish sets the activity. It waits for the rate limiter.
func (c *Client) Publish(ctx context.Context, p presence.Payload) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.setActivity(ctx, toActivity(p))
}

// Clear removes the activity. It takes a limiter token when one is free but
// never waits, so a clear on disconnect is always sent.
func (c *Client) Clear(ctx context.Context) error {
	c.limiter.Allow()
	return c.setActivity(ctx, nil)
}

// Ready reports whether an IPC connection is currently established.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.closed
}

// Close releases the connection. The client cannot be reused.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil {
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(500 * time.Millisecond))
	_ = writeFrame(c.conn, opClose, struct{}{})
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) setActivity(ctx context.Context, a *Activity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(ctx); err != nil {
		return err
	}
	err := c.exchange(command{
		Cmd:   "SET_ACTIVITY",
		Nonce: uuid.NewString(),
		Args:  activityArgs{PID: c.pid, Activity: a},
	})
	if err != nil && !errors.Is(err, ErrCommandFailed) {
		// Transport broken; redial next time.
		_ = c.conn.Close()
		c.conn = nil
	}
	return err
}

func (c *Client) exchange(cmd command) error {
	_ = c.conn.SetDeadline(time.Now().Add(c.ioTimeout))
	defer func() {
		if c.conn != nil {
			_ = c.conn.SetDeadline(time.Time{})
		}
	}()

	if err := writeFrame(c.conn, opFrame, cmd); err != nil {
		return fmt.Errorf("discord: write %s: %w", cmd.Cmd, err)
	}
	for {
		op, body, err := readFrame(c.conn)
		if err != nil {
			return fmt.Errorf("discord: read %s: %w", cmd.Cmd, err)
		}
		switch op {
		case opPing:
			if err := writeRawFrame(c.conn, opPong, body); err != nil {
				return fmt.Errorf("discord: pong: %w", err)
			}
			continue
		case opClose:
			var resp response
			_ = sonic.Unmarshal(body, &resp)
			return fmt.Errorf("discord: closed by peer code=%d message=%q", resp.Data.Code, resp.Data.Message)
		case opFrame:
		default:
			continue
		}
		var resp response
		if err := sonic.Unmarshal(body, &resp); err != nil {
			return fmt.Errorf("discord: decode %s response: %w", cmd.Cmd, err)
		}
		if resp.Nonce != cmd.Nonce {
			continue
		}
		if resp.Evt == "ERROR" {
			return fmt.Errorf("%w: %s code=%d message=%q", ErrCommandFailed, cmd.Cmd, resp.Data.Code, resp.Data.Message)
		}
		return nil
	}
}

func toActivity(p presence.Payload) *Activity {
	a := &Activity{
		Details: fitField(p.Details),
		State:   fitField(p.State),
	}
	if !p.Start.IsZero() {
		a.Timestamps = &Timestamps{Start: p.Start.Unix()}
	}
	assets := Assets{
		LargeImage: p.LargeImageKey,
		LargeText:  fitField(p.LargeImageText),
		SmallImage: p.SmallImageKey,
		SmallText:  fitField(p.SmallImageText),
	}
	if assets != (Assets{}) {
		a.Assets = &assets
	}
	return a
}
