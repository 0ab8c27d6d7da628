package upsync

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
)

// Compactor turns the pending change log of an account into net, upsyncable changes.
// It is not reentrant for a single account; callers serialize passes per account.
type Compactor struct {
	store    ChangeStore
	resolver DestinationResolver
	log      *slog.Logger
}

func NewCompactor(store ChangeStore, resolver DestinationResolver, opts ...Option) *Compactor {
	o := buildOptions(opts)
	return &Compactor{
		store:    store,
		resolver: resolver,
		log:      o.logger,
	}
}

// Compact reads the account's pending changes, folds them per item, deletes
// the entries of items that net to nothing, and groups the rest by destination.
//
// Store failures abort the pass and are returned. No-op entries are only
// deleted after every read succeeded, so a failed pass leaves the log as it was.
func (c *Compactor) Compact(ctx context.Context, accountID string) (*CompactResult, error) {
	passID := uuid.NewString()
	log := c.log.With("account", accountID, "pass", passID)

	records, err := c.store.PendingChanges(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("read pending changes: %w", err)
	}

	result := &CompactResult{
		Batches: GroupByDestination(nil),
		Diagnostics: Diagnostics{
			PassID:      passID,
			AccountID:   accountID,
			RecordsRead: len(records),
		},
	}
	if len(records) == 0 {
		return result, nil
	}

	accs, warnings, err := accumulate(records, log)
	if err != nil {
		return nil, err
	}
	diag := &result.Diagnostics
	diag.Items = len(accs)
	diag.Warnings = warnings

	var pruned []int64
	for _, acc := range accs {
		diag.Warnings += acc.Warnings()
		change := acc.Net()

		if change.ServerRef == "" {
			log.Debug("pruning change without server ref", "item", change.ItemKey, "entries", len(change.LogIDs))
			pruned = append(pruned, change.LogIDs...)
			diag.NoOps++
			continue
		}
		if !change.HasDelta() {
			log.Debug("pruning no-op change", "item", change.ItemKey, "entries", len(change.LogIDs))
			pruned = append(pruned, change.LogIDs...)
			diag.NoOps++
			continue
		}

		dest, err := c.resolver.ResolveDestination(ctx, change.ItemKey)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("resolve destination: %w", ctxErr)
			}
			if errors.Is(err, ErrDestinationNotFound) {
				log.Error("no destination for change, keeping it for a later pass", "item", change.ItemKey)
			} else {
				log.Error("resolve destination failed, keeping change for a later pass", "item", change.ItemKey, "error", err)
			}
			diag.Unresolved = append(diag.Unresolved, change.ItemKey)
			continue
		}

		change.Destination = dest
		result.Changes = append(result.Changes, change)
	}

	if len(pruned) > 0 {
		slices.Sort(pruned)
		if err := c.store.DeleteChanges(ctx, accountID, pruned); err != nil {
			return nil, fmt.Errorf("delete no-op changes: %w", err)
		}
		diag.PrunedLogIDs = pruned
	}

	diag.Surviving = len(result.Changes)
	result.Batches = GroupByDestination(result.Changes)

	log.Debug("compaction done",
		"records", diag.RecordsRead,
		"items", diag.Items,
		"noOps", diag.NoOps,
		"surviving", diag.Surviving,
		"unresolved", len(diag.Unresolved),
		"warnings", diag.Warnings,
	)
	return result, nil
}

// accumulate groups records by item and folds each group in ascending LogID order.
// Items come back ordered by their lowest LogID, which is first-seen order for
// well-ordered input.
func accumulate(records []*ChangeRecord, log *slog.Logger) ([]*Accumulator, int, error) {
	groups := make(map[int64][]*ChangeRecord)
	var order []int64
	ordered := true

	for i, rec := range records {
		if i > 0 && rec.LogID <= records[i-1].LogID {
			ordered = false
		}
		if _, ok := groups[rec.ItemKey]; !ok {
			order = append(order, rec.ItemKey)
		}
		groups[rec.ItemKey] = append(groups[rec.ItemKey], rec)
	}

	warnings := 0
	if !ordered {
		warnings++
		log.Warn("pending changes not in ascending id order, sorting per item")
		for _, key := range order {
			slices.SortStableFunc(groups[key], func(a, b *ChangeRecord) int {
				return cmp.Compare(a.LogID, b.LogID)
			})
		}
		slices.SortStableFunc(order, func(a, b int64) int {
			return cmp.Compare(groups[a][0].LogID, groups[b][0].LogID)
		})
	}

	accs := make([]*Accumulator, 0, len(order))
	for _, key := range order {
		group := groups[key]
		acc := NewAccumulator(group[0], log)
		for _, rec := range group[1:] {
			if err := acc.Fold(rec); err != nil {
				return nil, 0, err
			}
		}
		accs = append(accs, acc)
	}
	return accs, warnings, nil
}

// Engine bundles compaction and outcome recording over one store.
type Engine struct {
	*Compactor
	*OutcomeRecorder
}

func NewEngine(store ChangeStore, resolver DestinationResolver, opts ...Option) *Engine {
	return &Engine{
		Compactor:       NewCompactor(store, resolver, opts...),
		OutcomeRecorder: NewOutcomeRecorder(store, opts...),
	}
}
