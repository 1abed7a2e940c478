// Package consolesim is a stand-in for the console side of the link. It
// accepts TCP connections and streams a scripted list of title frames to
// every client, optionally ending with a terminate frame.
package consolesim
