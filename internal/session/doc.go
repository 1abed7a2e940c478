// Package session runs the device connection loop.
//
// A Session dials the device, reads fixed-size title frames, and turns title
// changes into presence publish or clear calls. Transport failures and
// terminate frames end the current connection and the loop reconnects after a
// fixed backoff until its context is cancelled. Manager keeps at most one
// Session running per process.
package session
