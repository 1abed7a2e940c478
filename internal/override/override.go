package override

import (
	"strconv"
	"strings"

	"presence-bridge/internal/proto"
)

const (
	DefaultPrefix = "Playing"

	NameFamilyTag = "QuestPresence"
	IDFamilyTag   = "SwitchPresence-Rewritten"
)

// Family selects which override table a title is looked up in.
type Family int

const (
	FamilyID Family = iota
	FamilyName
)

func (f Family) String() string {
	switch f {
	case FamilyName:
		return "name"
	case FamilyID:
		return "id"
	default:
		return "unknown"
	}
}

// Tag is the small-image text shown for titles of this family.
func (f Family) Tag() string {
	if f == FamilyName {
		return NameFamilyTag
	}
	return IDFamilyTag
}

// FamilyOf picks the table for a title. A program id equal to the frame
// sentinel marks a name-keyed title.
//
// NOTE: this reuses the frame magic constant as a family selector. Kept as
// observed on the wire; see DESIGN.md.
func FamilyOf(t proto.Title) Family {
	if t.ProgramID == uint64(proto.TitleMagic) {
		return FamilyName
	}
	return FamilyID
}

// Info is one table entry. Nil fields are absent and fall back to defaults;
// an empty string is a present value.
type Info struct {
	CustomName   *string `json:"CustomName,omitempty"`
	CustomPrefix *string `json:"CustomPrefix,omitempty"`
	CustomKey    *string `json:"CustomKey,omitempty"`
}

// Table is an immutable mapping from canonical key to Info.
type Table map[string]Info

// CanonicalKey normalises a raw table key or lookup key for a family.
// Name keys are exact. Identifier keys are hex with an optional 0x prefix and
// are re-emitted as lower-case hex behind a single leading zero, so "0100",
// "0x0100" and "100" all compare equal.
func CanonicalKey(f Family, raw string) string {
	if f == FamilyName {
		return raw
	}
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "0x")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return s
	}
	return IDKey(v)
}

// IDKey is the default image key for an identifier-keyed title.
func IDKey(id uint64) string {
	return "0" + strconv.FormatUint(id, 16)
}

// NameKey is the default image key for a name-keyed title.
func NameKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), " ", "")
}

func canonicalize(f Family, raw map[string]Info) Table {
	out := make(Table, len(raw))
	for k, v := range raw {
		out[CanonicalKey(f, k)] = v
	}
	return out
}
