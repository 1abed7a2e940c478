package consolesim

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"presence-bridge/internal/packetlog"
	"presence-bridge/internal/proto"
)

const (
	DefaultInterval = time.Second
	DefaultRepeat   = 3

	// DefaultTerminateMagic is any value other than proto.TitleMagic.
	DefaultTerminateMagic uint32 = 0
)

var ErrEmptyScript = errors.New("consolesim: no titles to send")

type Config struct {
	Addr   string
	Layout proto.Layout
	Titles []proto.Title
	// Interval is the pause between frames.
	Interval time.Duration
	// Repeat is how many frames are sent for each title before moving on.
	Repeat int
	// Loop restarts the script instead of finishing it.
	Loop bool
	// Terminate sends a non-title frame and closes the connection once the
	// script is done. Otherwise the last title is repeated until the peer
	// goes away.
	Terminate      bool
	TerminateMagic uint32
}

func (c Config) withDefaults() Config {
	if c.Layout == (proto.Layout{}) {
		c.Layout = proto.PackedLayout
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Repeat <= 0 {
		c.Repeat = DefaultRepeat
	}
	if c.Terminate && c.TerminateMagic == proto.TitleMagic {
		c.TerminateMagic = DefaultTerminateMagic
	}
	return c
}

// ParseTitle reads "NAME" as a name-family title, or "HEXID:NAME" as an
// id-family title.
func ParseTitle(s string) (proto.Title, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return proto.Title{}, fmt.Errorf("consolesim: empty title")
	}
	if id, name, ok := strings.Cut(s, ":"); ok {
		raw := strings.TrimPrefix(strings.ToLower(id), "0x")
		if v, err := strconv.ParseUint(raw, 16, 64); err == nil {
			return proto.Title{Magic: proto.TitleMagic, ProgramID: v, Name: name}, nil
		}
	}
	return proto.Title{Magic: proto.TitleMagic, ProgramID: uint64(proto.TitleMagic), Name: s}, nil
}

// Start listens on cfg.Addr and serves every connection in its own
// goroutine until ctx is done. It returns the bound address.
func Start(ctx context.Context, cfg Config, runID string, log *packetlog.Logger) (net.Addr, error) {
	cfg = cfg.withDefaults()
	if len(cfg.Titles) == 0 {
		return nil, ErrEmptyScript
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}
	log.Log(packetlog.Record{
		RunID:     runID,
		Timestamp: proto.NowTS(),
		Type:      packetlog.TypeStartup,
		Message:   fmt.Sprintf("console simulator listening addr=%s titles=%d", ln.Addr(), len(cfg.Titles)),
	})

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(ctx, c, cfg, runID, log)
		}
	}()

	return ln.Addr(), nil
}

func serveConn(ctx context.Context, c net.Conn, cfg Config, runID string, log *packetlog.Logger) {
	defer c.Close()
	remote := c.RemoteAddr().String()

	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	send := func(frame []byte, kind string, t proto.Title) bool {
		_ = c.SetWriteDeadline(time.Now().Add(cfg.Interval + 5*time.Second))
		if _, err := c.Write(frame); err != nil {
			return false
		}
		log.Log(packetlog.Record{
			RunID:     runID,
			Timestamp: proto.NowTS(),
			Type:      packetlog.TypeFrame,
			Remote:    remote,
			Kind:      kind,
			Magic:     fmt.Sprintf("0x%08x", t.Magic),
			ProgramID: fmt.Sprintf("%016x", t.ProgramID),
			Name:      t.Name,
			Length:    len(frame),
		})
		return true
	}
	wait := func() bool {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(cfg.Interval):
			return true
		}
	}

	for {
		for _, t := range cfg.Titles {
			frame := cfg.Layout.Encode(t)
			for i := 0; i < cfg.Repeat; i++ {
				if !send(frame, "title", t) || !wait() {
					return
				}
			}
		}
		if cfg.Loop {
			continue
		}
		if cfg.Terminate {
			t := proto.Title{Magic: cfg.TerminateMagic}
			send(proto.TerminateFrame(cfg.TerminateMagic), "terminate", t)
			return
		}
		last := cfg.Titles[len(cfg.Titles)-1]
		frame := cfg.Layout.Encode(last)
		for send(frame, "title", last) && wait() {
		}
		return
	}
}
