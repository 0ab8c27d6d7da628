package upsync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
)

var errStore = errors.New("store unavailable")

// memStore is an in-memory ChangeStore that keeps records in append order.
type memStore struct {
	mu      sync.Mutex
	records []*ChangeRecord
	nextID  int64

	readErr   error
	deleteErr error

	deleteCalls     int
	itemDeleteCalls int
}

func newMemStore() *memStore {
	return &memStore{nextID: 1}
}

func (s *memStore) add(rec *ChangeRecord) *ChangeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.LogID == 0 {
		rec.LogID = s.nextID
	}
	s.nextID = max(s.nextID, rec.LogID) + 1
	s.records = append(s.records, rec)
	return rec
}

func (s *memStore) PendingChanges(_ context.Context, accountID string) ([]*ChangeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	var out []*ChangeRecord
	for _, rec := range s.records {
		if rec.AccountID == accountID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) DeleteChanges(_ context.Context, accountID string, logIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls++
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.records = slices.DeleteFunc(s.records, func(rec *ChangeRecord) bool {
		return rec.AccountID == accountID && slices.Contains(logIDs, rec.LogID)
	})
	return nil
}

func (s *memStore) DeleteItemChanges(_ context.Context, accountID string, upTo map[int64]int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.itemDeleteCalls++
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.records = slices.DeleteFunc(s.records, func(rec *ChangeRecord) bool {
		last, ok := upTo[rec.ItemKey]
		return rec.AccountID == accountID && ok && rec.LogID <= last
	})
	return nil
}

func (s *memStore) itemLogIDs(itemKey int64) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for _, rec := range s.records {
		if rec.ItemKey == itemKey {
			ids = append(ids, rec.LogID)
		}
	}
	return ids
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// staticResolver maps item keys to destinations; missing keys are not found.
type staticResolver map[int64]Destination

func (r staticResolver) ResolveDestination(_ context.Context, itemKey int64) (Destination, error) {
	dest, ok := r[itemKey]
	if !ok {
		return 0, ErrDestinationNotFound
	}
	return dest, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingHandler counts records per level.
type countingHandler struct {
	mu     sync.Mutex
	counts map[slog.Level]int
}

func newCountingHandler() *countingHandler {
	return &countingHandler{counts: make(map[slog.Level]int)}
}

func (h *countingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *countingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counts[r.Level]++
	return nil
}

func (h *countingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *countingHandler) WithGroup(string) slog.Handler      { return h }

func (h *countingHandler) count(level slog.Level) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[level]
}

// rec builds a record for account "acct" touching only the given attribute.
func rec(logID, item int64, ref string, attr Attribute, prev, next FlagValue) *ChangeRecord {
	r := NewChangeRecord("acct", item, ref).Set(attr, prev, next)
	r.LogID = logID
	return r
}
