package proto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	// FrameSize is the only frame shape the console emits.
	FrameSize = 628

	// TitleMagic marks a title frame. Anything else ends the title stream.
	TitleMagic uint32 = 0xffaadd23

	// Port is the TCP port the console listens on (0xCAFE).
	Port = 0xCAFE
)

var ErrFrameSize = errors.New("proto: frame size mismatch")

// Layout locates the identifier and name fields inside a frame. The magic is
// always the first four bytes; all integers are little-endian.
type Layout struct {
	IDOffset   int
	NameOffset int
}

var (
	// PackedLayout is the documented table: magic@0, id@4, name@12.
	PackedLayout = Layout{IDOffset: 4, NameOffset: 12}
	// AlignedLayout matches a natively aligned C struct: magic@0, pad, id@8, name@16.
	AlignedLayout = Layout{IDOffset: 8, NameOffset: 16}
)

// LayoutByName maps a config value to a layout.
func LayoutByName(name string) (Layout, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "packed":
		return PackedLayout, nil
	case "aligned":
		return AlignedLayout, nil
	default:
		return Layout{}, fmt.Errorf("proto: unknown frame layout %q", name)
	}
}

// NameLen is the size of the fixed name buffer for this layout.
func (l Layout) NameLen() int { return FrameSize - l.NameOffset }

type Title struct {
	Magic     uint32
	ProgramID uint64
	Name      string
}

type Kind int

const (
	KindTitle Kind = iota
	KindTerminate
)

func (k Kind) String() string {
	switch k {
	case KindTitle:
		return "title"
	case KindTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// Frame is one decoded wire unit. Title is only set for KindTitle.
type Frame struct {
	Kind  Kind
	Magic uint32
	Title Title
}

// Decode interprets exactly one frame. The only error is a length mismatch;
// a non-title magic is reported as KindTerminate.
func (l Layout) Decode(b []byte) (Frame, error) {
	if len(b) != FrameSize {
		return Frame{}, fmt.Errorf("%w: got %d want %d", ErrFrameSize, len(b), FrameSize)
	}
	magic := binary.LittleEndian.Uint32(b[0:4])
	if magic != TitleMagic {
		return Frame{Kind: KindTerminate, Magic: magic}, nil
	}
	return Frame{
		Kind:  KindTitle,
		Magic: magic,
		Title: Title{
			Magic:     magic,
			ProgramID: binary.LittleEndian.Uint64(b[l.IDOffset : l.IDOffset+8]),
			Name:      decodeName(b[l.NameOffset:]),
		},
	}, nil
}

// Encode builds a title frame. Names longer than the buffer are truncated,
// always leaving room for one NUL.
func (l Layout) Encode(t Title) []byte {
	b := make([]byte, FrameSize)
	binary.LittleEndian.PutUint32(b[0:4], t.Magic)
	binary.LittleEndian.PutUint64(b[l.IDOffset:l.IDOffset+8], t.ProgramID)
	name := []byte(t.Name)
	if max := l.NameLen() - 1; len(name) > max {
		name = name[:max]
	}
	copy(b[l.NameOffset:], name)
	return b
}

// TerminateFrame returns a frame carrying the given non-title magic.
func TerminateFrame(magic uint32) []byte {
	b := make([]byte, FrameSize)
	binary.LittleEndian.PutUint32(b[0:4], magic)
	return b
}

func decodeName(buf []byte) string {
	if i := bytes.IndexByte(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	s := strings.TrimRight(string(buf), " \x00")
	return strings.ToValidUTF8(s, "�")
}

