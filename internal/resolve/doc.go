// Package resolve turns a device target into a dialable IPv4 address.
//
// Targets are either an IPv4 literal or a hardware (MAC) address. Hardware
// addresses are looked up in the host neighbour table; hits are cached for a
// short time and forgotten when the session reports a transport failure.
package resolve
