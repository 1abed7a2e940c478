// Package proto implements the fixed-size title protocol spoken by the console.
//
// Every unit on the wire is a 628-byte frame. ReadFrame pulls exactly one frame
// off a connected stream, and Layout.Decode turns it into either a Title or a
// terminate signal (any frame whose leading magic is not TitleMagic).
package proto
