package upsync

import (
	"fmt"
	"time"
)

// FlagValue is a tri-state boolean stored in the change log. FlagUnchanged
// marks an attribute that a log entry did not touch.
type FlagValue int8

const (
	FlagUnchanged FlagValue = -1
	FlagFalse     FlagValue = 0
	FlagTrue      FlagValue = 1
)

// FlagOf converts a bool into a FlagValue.
func FlagOf(b bool) FlagValue {
	if b {
		return FlagTrue
	}
	return FlagFalse
}

// IsSet reports whether v carries a value.
func (v FlagValue) IsSet() bool {
	return v != FlagUnchanged
}

func (v FlagValue) Bool() bool {
	return v == FlagTrue
}

// Ptr returns nil for FlagUnchanged, otherwise a pointer to the boolean value.
func (v FlagValue) Ptr() *bool {
	if !v.IsSet() {
		return nil
	}
	b := v.Bool()
	return &b
}

func (v FlagValue) String() string {
	switch v {
	case FlagUnchanged:
		return "unchanged"
	case FlagFalse:
		return "false"
	case FlagTrue:
		return "true"
	default:
		return fmt.Sprintf("FlagValue(%d)", int8(v))
	}
}

func (v FlagValue) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Valid reports whether v is one of the three defined values.
func (v FlagValue) Valid() bool {
	return v == FlagUnchanged || v == FlagFalse || v == FlagTrue
}

// Attribute is a tracked per-message flag.
type Attribute int

const (
	AttrRead Attribute = iota
	AttrFavorite

	attrCount
)

var attributes = [attrCount]Attribute{AttrRead, AttrFavorite}

// Attributes returns every tracked attribute in a fixed order.
func Attributes() []Attribute {
	return attributes[:]
}

func (a Attribute) String() string {
	switch a {
	case AttrRead:
		return "read"
	case AttrFavorite:
		return "favorite"
	default:
		return fmt.Sprintf("Attribute(%d)", int(a))
	}
}

// FlagChange is the before/after pair of a single attribute in one log entry.
type FlagChange struct {
	Old FlagValue
	New FlagValue
}

// Untouched is the FlagChange of an attribute a log entry knows nothing about.
var Untouched = FlagChange{Old: FlagUnchanged, New: FlagUnchanged}

// ChangeRecord is one row of the message change log.
type ChangeRecord struct {
	// LogID is assigned by the store on append and strictly increases per account.
	LogID     int64
	AccountID string
	ItemKey   int64
	// ServerRef is the server-side message id. Empty when the message was never upsynced.
	ServerRef string
	Changes   [attrCount]FlagChange
	CreatedAt time.Time
}

// NewChangeRecord returns a record with every attribute untouched.
func NewChangeRecord(accountID string, itemKey int64, serverRef string) *ChangeRecord {
	rec := &ChangeRecord{
		AccountID: accountID,
		ItemKey:   itemKey,
		ServerRef: serverRef,
	}
	for _, attr := range attributes {
		rec.Changes[attr] = Untouched
	}
	return rec
}

func (r *ChangeRecord) Change(attr Attribute) FlagChange {
	return r.Changes[attr]
}

// Set records a transition of attr from prev to next.
func (r *ChangeRecord) Set(attr Attribute, prev, next FlagValue) *ChangeRecord {
	r.Changes[attr] = FlagChange{Old: prev, New: next}
	return r
}

// Destination identifies the mailbox a change is upsynced under.
type Destination int64
