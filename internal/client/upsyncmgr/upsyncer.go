package upsyncmgr

import (
	"cmp"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"slices"

	"github.com/openmined/syftmail/internal/client/upsync"
)

// UpsyncItem is the wire form of one net flag change. Nil flags are unchanged.
type UpsyncItem struct {
	ItemKey   int64  `json:"itemKey"`
	ServerRef string `json:"serverRef"`
	Read      *bool  `json:"read,omitempty"`
	Favorite  *bool  `json:"favorite,omitempty"`
}

// UpsyncRequest is one batch of changes for a single destination mailbox.
type UpsyncRequest struct {
	AccountID   string
	PassID      string
	Destination upsync.Destination
	Changes     []*upsync.AccumulatedChange
}

// Items converts the changes to their wire form.
func (r *UpsyncRequest) Items() []UpsyncItem {
	items := make([]UpsyncItem, 0, len(r.Changes))
	for _, c := range r.Changes {
		items = append(items, UpsyncItem{
			ItemKey:   c.ItemKey,
			ServerRef: c.ServerRef,
			Read:      c.Flag(upsync.AttrRead).Ptr(),
			Favorite:  c.Flag(upsync.AttrFavorite).Ptr(),
		})
	}
	return items
}

// ID is derived from every (item, last log id) pair of the request, so only a
// resend of the exact same log entries is deduplicated by the transport.
func (r *UpsyncRequest) ID() string {
	entries := make([][2]int64, 0, len(r.Changes))
	for _, c := range r.Changes {
		entries = append(entries, [2]int64{c.ItemKey, c.LastLogID})
	}
	slices.SortFunc(entries, func(a, b [2]int64) int {
		return cmp.Or(cmp.Compare(a[0], b[0]), cmp.Compare(a[1], b[1]))
	})

	h := sha256.New()
	var buf [16]byte
	for _, e := range entries {
		binary.BigEndian.PutUint64(buf[:8], uint64(e[0]))
		binary.BigEndian.PutUint64(buf[8:], uint64(e[1]))
		h.Write(buf[:])
	}
	return fmt.Sprintf("upsync|%s|%d|%x", r.AccountID, r.Destination, h.Sum(nil))
}

// UpsyncOutcome reports which items of a request were not accepted.
type UpsyncOutcome struct {
	// Retry lists item keys that need another attempt. Every other item succeeded.
	Retry []int64
}

// Upsyncer hands a request to the transport. An error means the whole request needs a retry.
type Upsyncer interface {
	Upsync(ctx context.Context, req *UpsyncRequest) (*UpsyncOutcome, error)
}

// LogUpsyncer is used when no transport is configured. It logs every request
// and holds all of its items for retry, so nothing is retired from the change log.
type LogUpsyncer struct {
	log *slog.Logger
}

func NewLogUpsyncer(logger *slog.Logger) *LogUpsyncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogUpsyncer{log: logger}
}

func (u *LogUpsyncer) Upsync(_ context.Context, req *UpsyncRequest) (*UpsyncOutcome, error) {
	outcome := &UpsyncOutcome{Retry: make([]int64, 0, len(req.Changes))}
	for _, item := range req.Items() {
		u.log.Info("upsync (no transport)",
			"account", req.AccountID,
			"mailbox", req.Destination,
			"item", item.ItemKey,
			"serverRef", item.ServerRef,
			"read", flagAttr(item.Read),
			"favorite", flagAttr(item.Favorite),
		)
		outcome.Retry = append(outcome.Retry, item.ItemKey)
	}
	return outcome, nil
}

func flagAttr(b *bool) string {
	if b == nil {
		return "-"
	}
	if *b {
		return "true"
	}
	return "false"
}
