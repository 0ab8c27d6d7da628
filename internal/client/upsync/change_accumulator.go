package upsync

import (
	"errors"
	"fmt"
	"log/slog"
)

var ErrItemMismatch = errors.New("change record belongs to a different item")

type attrState struct {
	// old is the earliest known value before any pending change. Once set it never moves.
	old FlagValue
	// effective is the value after the most recent change folded in.
	effective FlagValue
}

// Accumulator folds the change records of one message into a single net change.
// Records are expected in ascending LogID order; anything else is logged and
// folded anyway, trusting the newer record.
type Accumulator struct {
	accountID  string
	itemKey    int64
	serverRef  string
	firstLogID int64
	lastLogID  int64
	logIDs     []int64
	attrs      [attrCount]attrState
	warnings   int
	log        *slog.Logger
}

func NewAccumulator(first *ChangeRecord, logger *slog.Logger) *Accumulator {
	if logger == nil {
		logger = slog.Default()
	}
	acc := &Accumulator{
		accountID:  first.AccountID,
		itemKey:    first.ItemKey,
		firstLogID: first.LogID,
		lastLogID:  first.LogID,
		log:        logger,
	}
	for i := range acc.attrs {
		acc.attrs[i] = attrState{old: FlagUnchanged, effective: FlagUnchanged}
	}
	acc.apply(first)
	return acc
}

// Fold applies the next record of the same item.
func (a *Accumulator) Fold(rec *ChangeRecord) error {
	if rec.ItemKey != a.itemKey {
		return fmt.Errorf("fold log id %d of item %d into item %d: %w", rec.LogID, rec.ItemKey, a.itemKey, ErrItemMismatch)
	}

	if rec.LogID <= a.lastLogID {
		a.warnings++
		a.log.Warn("change log not in ascending id order",
			"item", a.itemKey,
			"logId", rec.LogID,
			"lastLogId", a.lastLogID,
		)
	} else {
		a.lastLogID = rec.LogID
	}

	for _, attr := range attributes {
		st := a.attrs[attr]
		old := rec.Changes[attr].Old
		if old.IsSet() && st.effective.IsSet() && old != st.effective {
			a.warnings++
			a.log.Warn("existing change inconsistent with new change",
				"item", a.itemKey,
				"logId", rec.LogID,
				"attr", attr,
				"accumulated", st.effective,
				"recordOld", old,
			)
		}
	}

	a.apply(rec)
	return nil
}

func (a *Accumulator) apply(rec *ChangeRecord) {
	if rec.ServerRef != "" {
		a.serverRef = rec.ServerRef
	}
	a.logIDs = append(a.logIDs, rec.LogID)

	for _, attr := range attributes {
		ch := rec.Changes[attr]
		st := &a.attrs[attr]
		if !st.old.IsSet() && ch.Old.IsSet() {
			st.old = ch.Old
		}
		switch {
		case ch.New.IsSet():
			st.effective = ch.New
		case !st.effective.IsSet() && ch.Old.IsSet():
			st.effective = ch.Old
		}
	}
}

func (a *Accumulator) ItemKey() int64 {
	return a.itemKey
}

func (a *Accumulator) LastLogID() int64 {
	return a.lastLogID
}

// Warnings is the number of consistency warnings raised while folding.
func (a *Accumulator) Warnings() int {
	return a.warnings
}

// Net returns the collapsed change. An attribute whose effective value equals
// its original value, or whose original value is unknown, reports FlagUnchanged.
func (a *Accumulator) Net() *AccumulatedChange {
	change := &AccumulatedChange{
		AccountID:  a.accountID,
		ItemKey:    a.itemKey,
		ServerRef:  a.serverRef,
		FirstLogID: a.firstLogID,
		LastLogID:  a.lastLogID,
		LogIDs:     append([]int64(nil), a.logIDs...),
	}
	for _, attr := range attributes {
		st := a.attrs[attr]
		change.Old[attr] = st.old
		if !st.old.IsSet() || st.old == st.effective {
			change.New[attr] = FlagUnchanged
		} else {
			change.New[attr] = st.effective
		}
	}
	return change
}

// AccumulatedChange is the net delta of one message over all of its pending log entries.
type AccumulatedChange struct {
	AccountID  string
	ItemKey    int64
	ServerRef  string
	FirstLogID int64
	LastLogID  int64
	// LogIDs lists every log entry folded into this change, in fold order.
	LogIDs []int64
	// Old holds the original value per attribute, FlagUnchanged when unknown.
	Old [attrCount]FlagValue
	// New holds the net value per attribute, FlagUnchanged when there is nothing to upsync.
	New         [attrCount]FlagValue
	Destination Destination
}

// Flag returns the net value of attr.
func (c *AccumulatedChange) Flag(attr Attribute) FlagValue {
	return c.New[attr]
}

// HasDelta reports whether at least one attribute differs from its original value.
func (c *AccumulatedChange) HasDelta() bool {
	for _, attr := range attributes {
		if c.New[attr].IsSet() {
			return true
		}
	}
	return false
}

// Upsyncable reports whether the change has both a delta and a server reference.
func (c *AccumulatedChange) Upsyncable() bool {
	return c.ServerRef != "" && c.HasDelta()
}
