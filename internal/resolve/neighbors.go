package resolve

import (
	"bufio"
	"io"
	"net"
	"net/netip"
	"regexp"
	"strings"
)

// Neighbor is one IPv4 neighbour table entry.
type Neighbor struct {
	IP netip.Addr
	HW net.HardwareAddr
}

// parseProcNetARP reads the Linux /proc/net/arp format:
//
//	IP address       HW type     Flags       HW address            Mask     Device
//	192.168.1.20     0x1         0x2         aa:bb:cc:dd:ee:ff     *        wlan0
func parseProcNetARP(r io.Reader) []Neighbor {
	var out []Neighbor
	sc := bufio.NewScanner(r)
	first := true
	for sc.Scan() {
		if first {
			first = false
			continue
		}
		f := strings.Fields(sc.Text())
		if len(f) < 4 {
			continue
		}
		// Flags 0x0 is an incomplete entry.
		if f[2] == "0x0" {
			continue
		}
		n, ok := makeNeighbor(f[0], f[3])
		if ok {
			out = append(out, n)
		}
	}
	return out
}

var arpLine = regexp.MustCompile(`\(?(\d{1,3}(?:\.\d{1,3}){3})\)?\s+(?:at\s+)?([0-9A-Fa-f]{1,2}(?:[:-][0-9A-Fa-f]{1,2}){5})\b`)

// parseARPOutput reads `arp -a` output from Windows and BSD/macOS:
//
//	192.168.1.20          aa-bb-cc-dd-ee-ff     dynamic
//	? (192.168.1.20) at a:bb:cc:d:ee:ff on en0 ifscope [ethernet]
func parseARPOutput(s string) []Neighbor {
	var out []Neighbor
	for _, line := range strings.Split(s, "\n") {
		m := arpLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n, ok := makeNeighbor(m[1], m[2])
		if ok {
			out = append(out, n)
		}
	}
	return out
}

func makeNeighbor(ipStr, hwStr string) (Neighbor, bool) {
	ip, err := netip.ParseAddr(ipStr)
	if err != nil || !ip.Is4() {
		return Neighbor{}, false
	}
	hw, ok := normalizeMAC(hwStr)
	if !ok {
		return Neighbor{}, false
	}
	return Neighbor{IP: ip, HW: hw}, true
}

// normalizeMAC pads single-digit octets as printed by BSD arp and rejects the
// all-zero placeholder.
func normalizeMAC(s string) (net.HardwareAddr, bool) {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == '-' })
	if len(parts) != 6 {
		return nil, false
	}
	for i, p := range parts {
		if len(p) == 1 {
			parts[i] = "0" + p
		}
	}
	hw, err := net.ParseMAC(strings.Join(parts, ":"))
	if err != nil {
		return nil, false
	}
	zero := true
	for _, b := range hw {
		if b != 0 {
			zero = false
			break
		}
	}
	if zero {
		return nil, false
	}
	return hw, true
}
