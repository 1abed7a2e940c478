// Package discord is a minimal Discord Rich Presence client speaking the
// local IPC protocol. It implements presence.Sink.
//
// Each IPC frame is an opcode and a payload length, both little-endian
// uint32, followed by a JSON body.
package discord
