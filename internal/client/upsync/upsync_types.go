package upsync

import (
	"context"
	"errors"
	"log/slog"
)

var (
	// ErrDestinationNotFound is returned by a DestinationResolver when an item has no owning mailbox.
	ErrDestinationNotFound = errors.New("destination not found")
)

// ChangeStore is the persistence side of the change log. Deletes are bulk,
// idempotent and all-or-nothing.
type ChangeStore interface {
	// PendingChanges returns every pending record of the account in ascending LogID order.
	PendingChanges(ctx context.Context, accountID string) ([]*ChangeRecord, error)
	// DeleteChanges removes the given log ids. Unknown ids are ignored.
	DeleteChanges(ctx context.Context, accountID string, logIDs []int64) error
	// DeleteItemChanges removes, per item key, every record with a LogID up to and including the mapped value.
	DeleteItemChanges(ctx context.Context, accountID string, upTo map[int64]int64) error
}

// DestinationResolver maps a message to the mailbox its upsync is sent under.
type DestinationResolver interface {
	ResolveDestination(ctx context.Context, itemKey int64) (Destination, error)
}

// DestinationResolverFunc adapts a function to DestinationResolver.
type DestinationResolverFunc func(ctx context.Context, itemKey int64) (Destination, error)

func (f DestinationResolverFunc) ResolveDestination(ctx context.Context, itemKey int64) (Destination, error) {
	return f(ctx, itemKey)
}

// Diagnostics describes what a compaction pass saw and did.
type Diagnostics struct {
	PassID      string  `json:"passId" yaml:"pass_id"`
	AccountID   string  `json:"accountId" yaml:"account_id"`
	RecordsRead int     `json:"recordsRead" yaml:"records_read"`
	Items       int     `json:"items" yaml:"items"`
	NoOps       int     `json:"noOps" yaml:"no_ops"`
	Surviving   int     `json:"surviving" yaml:"surviving"`
	Warnings    int     `json:"warnings" yaml:"warnings"`
	// PrunedLogIDs are the log entries deleted because their item netted to a no-op.
	PrunedLogIDs []int64 `json:"prunedLogIds" yaml:"pruned_log_ids"`
	// Unresolved are item keys skipped because no destination could be resolved.
	Unresolved []int64 `json:"unresolved" yaml:"unresolved"`
}

// CompactResult is the output of one compaction pass.
type CompactResult struct {
	Changes     []*AccumulatedChange
	Batches     *Batches
	Diagnostics Diagnostics
}

// HasChanges is false for the "nothing to do" result.
func (r *CompactResult) HasChanges() bool {
	return r != nil && len(r.Changes) > 0
}

type options struct {
	logger *slog.Logger
}

// Option configures a Compactor, OutcomeRecorder or Engine.
type Option func(*options)

// WithLogger sets the logger used for consistency warnings and pass diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func buildOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}
