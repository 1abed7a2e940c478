// Package presence builds Rich Presence payloads and defines the sink they
// are published to.
package presence

import (
	"context"
	"time"

	"presence-bridge/internal/override"
	"presence-bridge/internal/proto"
)

// Payload is one presence update. It is rebuilt for every publish.
type Payload struct {
	State          string
	Details        string
	LargeImageKey  string
	LargeImageText string
	SmallImageKey  string
	SmallImageText string
	// Start is the session start; zero means no timestamp.
	Start time.Time
}

// Options are the user-supplied display fields.
type Options struct {
	LargeImageKey  string
	LargeImageText string
	SmallImageKey  string
	State          string
	ShowTimestamp  bool
}

// Build maps a title and its resolution to a payload. It has no side effects.
func Build(t proto.Title, res override.Resolution, start time.Time, opts Options) Payload {
	p := Payload{
		State:          opts.State,
		Details:        res.Prefix + " " + t.Name,
		LargeImageKey:  res.Key,
		LargeImageText: t.Name,
		SmallImageKey:  opts.SmallImageKey,
		SmallImageText: res.SmallText(),
	}
	if opts.LargeImageKey != "" {
		p.LargeImageKey = opts.LargeImageKey
	}
	if opts.LargeImageText != "" {
		p.LargeImageText = opts.LargeImageText
	}
	if opts.ShowTimestamp {
		p.Start = start
	}
	return p
}

// Sink is the presence service handle. Implementations are used by a single
// session goroutine.
type Sink interface {
	Publish(ctx context.Context, p Payload) error
	Clear(ctx context.Context) error
	Ready() bool
	Close() error
}
