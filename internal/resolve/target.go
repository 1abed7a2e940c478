package resolve

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"regexp"
	"strings"
)

var (
	ErrNotFound      = errors.New("resolve: hardware address not in neighbour table")
	ErrInvalidTarget = errors.New("resolve: invalid IP or MAC address")
)

var macPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}$`)

// Target is what the user configured: exactly one of IP or HW is set.
type Target struct {
	IP netip.Addr
	HW net.HardwareAddr
}

func (t Target) IsHardware() bool { return len(t.HW) > 0 }

func (t Target) String() string {
	if t.IsHardware() {
		return t.HW.String()
	}
	return t.IP.String()
}

// ParseTarget accepts an IPv4 literal or a colon/dash separated MAC.
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if ip, err := netip.ParseAddr(s); err == nil {
		if !ip.Is4() {
			return Target{}, fmt.Errorf("%w: %q is not IPv4", ErrInvalidTarget, s)
		}
		return Target{IP: ip}, nil
	}
	if !macPattern.MatchString(s) {
		return Target{}, fmt.Errorf("%w: %q", ErrInvalidTarget, s)
	}
	hw, err := net.ParseMAC(strings.ReplaceAll(s, "-", ":"))
	if err != nil {
		return Target{}, fmt.Errorf("%w: %q: %v", ErrInvalidTarget, s, err)
	}
	return Target{HW: hw}, nil
}
