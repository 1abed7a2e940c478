package resolve

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	ttlworker "github.com/FloatTech/ttl"
	probing "github.com/prometheus-community/pro-bing"
)

const (
	DefaultCacheTTL    = 5 * time.Minute
	defaultPingTimeout = time.Second
)

// TableFunc returns the current neighbour table.
type TableFunc func(ctx context.Context) ([]Neighbor, error)

// PingFunc sends a probe so the kernel populates the neighbour entry for ip.
type PingFunc func(ctx context.Context, ip netip.Addr) error

type Option func(*Resolver)

func WithTable(f TableFunc) Option { return func(r *Resolver) { r.table = f } }

func WithPing(f PingFunc) Option { return func(r *Resolver) { r.ping = f } }

func WithCacheTTL(d time.Duration) Option { return func(r *Resolver) { r.cacheTTL = d } }

// Resolver maps hardware addresses to IPv4 through the neighbour table.
type Resolver struct {
	table    TableFunc
	ping     PingFunc
	cacheTTL time.Duration
	cache    *ttlworker.Cache[string, netip.Addr]
}

func New(opts ...Option) *Resolver {
	r := &Resolver{
		table:    systemNeighbors,
		ping:     icmpPing,
		cacheTTL: DefaultCacheTTL,
	}
	for _, o := range opts {
		o(r)
	}
	r.cache = ttlworker.NewCache[string, netip.Addr](r.cacheTTL)
	return r
}

// Resolve returns the IPv4 address currently bound to hw, or ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, hw net.HardwareAddr) (netip.Addr, error) {
	key := hw.String()
	if ip := r.cache.Get(key); ip.IsValid() {
		return ip, nil
	}
	entries, err := r.table(ctx)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("read neighbour table: %w", err)
	}
	for _, n := range entries {
		if bytes.Equal(n.HW, hw) {
			r.cache.Set(key, n.IP)
			return n.IP, nil
		}
	}
	return netip.Addr{}, ErrNotFound
}

// Forget drops a cached mapping, e.g. after the address stopped answering.
func (r *Resolver) Forget(hw net.HardwareAddr) {
	r.cache.Delete(hw.String())
}

// LookupHardwareAddr finds the hardware address for ip. The host is pinged
// first so a cold neighbour table has an entry to read.
func (r *Resolver) LookupHardwareAddr(ctx context.Context, ip netip.Addr) (net.HardwareAddr, error) {
	if r.ping != nil {
		if err := r.ping(ctx, ip); err != nil {
			slog.Debug("neighbour warm-up ping failed", "ip", ip.String(), "err", err)
		}
	}
	entries, err := r.table(ctx)
	if err != nil {
		return nil, fmt.Errorf("read neighbour table: %w", err)
	}
	for _, n := range entries {
		if n.IP == ip {
			r.cache.Set(n.HW.String(), n.IP)
			return n.HW, nil
		}
	}
	return nil, ErrNotFound
}

func icmpPing(ctx context.Context, ip netip.Addr) error {
	p, err := probing.NewPinger(ip.String())
	if err != nil {
		return err
	}
	p.Count = 1
	p.Timeout = defaultPingTimeout
	p.SetPrivileged(false)
	return p.RunWithContext(ctx)
}
