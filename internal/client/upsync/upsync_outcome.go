package upsync

import (
	"context"
	"fmt"
	"log/slog"

	mapset "github.com/deckarep/golang-set/v2"
)

// OutcomeRecorder applies the result of an upsync attempt back to the change log.
type OutcomeRecorder struct {
	store ChangeStore
	log   *slog.Logger
}

func NewOutcomeRecorder(store ChangeStore, opts ...Option) *OutcomeRecorder {
	o := buildOptions(opts)
	return &OutcomeRecorder{
		store: store,
		log:   o.logger,
	}
}

// RecordSuccess deletes the log entries of the upsynced changes. Entries of the
// same item appended after the pass read the log have a higher LogID and are kept.
func (r *OutcomeRecorder) RecordSuccess(ctx context.Context, accountID string, changes []*AccumulatedChange) error {
	if len(changes) == 0 {
		return nil
	}

	upTo := make(map[int64]int64, len(changes))
	for _, change := range changes {
		if change.LastLogID > upTo[change.ItemKey] {
			upTo[change.ItemKey] = change.LastLogID
		}
	}

	if err := r.store.DeleteItemChanges(ctx, accountID, upTo); err != nil {
		return fmt.Errorf("delete upsynced changes: %w", err)
	}

	r.log.Debug("upsync recorded", "account", accountID, "items", len(upTo))
	return nil
}

// RecordRetryNeeded leaves the changes in place so the next pass picks them up again.
func (r *OutcomeRecorder) RecordRetryNeeded(ctx context.Context, accountID string, changes []*AccumulatedChange) {
	if len(changes) == 0 {
		return
	}
	keys := mapset.NewThreadUnsafeSetWithSize[int64](len(changes))
	for _, change := range changes {
		keys.Add(change.ItemKey)
	}
	r.log.Info("upsync needs retry, changes kept", "account", accountID, "items", keys.Cardinality())
}
