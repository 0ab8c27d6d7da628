package upsync

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactor_EmptyInput(t *testing.T) {
	store := newMemStore()
	c := NewCompactor(store, staticResolver{}, WithLogger(discardLogger()))

	result, err := c.Compact(context.Background(), "acct")
	require.NoError(t, err)
	assert.False(t, result.HasChanges())
	assert.Equal(t, 0, result.Batches.Len())
	assert.Equal(t, 0, store.deleteCalls)
	assert.NotEmpty(t, result.Diagnostics.PassID)
}

func TestCompactor_NoOpIsPrunedAndIdempotent(t *testing.T) {
	store := newMemStore()
	store.add(rec(0, 1, "srv-1", AttrRead, FlagFalse, FlagTrue))
	store.add(rec(0, 1, "srv-1", AttrRead, FlagTrue, FlagFalse))
	c := NewCompactor(store, staticResolver{1: 10}, WithLogger(discardLogger()))

	first, err := c.Compact(context.Background(), "acct")
	require.NoError(t, err)
	assert.False(t, first.HasChanges())
	assert.Equal(t, 1, first.Diagnostics.NoOps)
	assert.Equal(t, []int64{1, 2}, first.Diagnostics.PrunedLogIDs)
	assert.Empty(t, store.itemLogIDs(1))

	second, err := c.Compact(context.Background(), "acct")
	require.NoError(t, err)
	assert.False(t, second.HasChanges())
	assert.Equal(t, 0, second.Diagnostics.RecordsRead)
}

func TestCompactor_MissingServerRefIsPruned(t *testing.T) {
	store := newMemStore()
	store.add(rec(0, 1, "", AttrFavorite, FlagFalse, FlagTrue))
	store.add(rec(0, 2, "srv-2", AttrFavorite, FlagFalse, FlagTrue))
	c := NewCompactor(store, staticResolver{1: 10, 2: 10}, WithLogger(discardLogger()))

	result, err := c.Compact(context.Background(), "acct")
	require.NoError(t, err)
	require.Len(t, result.Changes, 1)
	assert.Equal(t, int64(2), result.Changes[0].ItemKey)
	assert.Empty(t, store.itemLogIDs(1))
	assert.Equal(t, []int64{2}, store.itemLogIDs(2))

	items, ok := result.Batches.Get(10)
	require.True(t, ok)
	assert.Len(t, items, 1)
}

func TestCompactor_GroupingStability(t *testing.T) {
	store := newMemStore()
	store.add(rec(0, 3, "c", AttrRead, FlagFalse, FlagTrue))
	store.add(rec(0, 1, "a", AttrRead, FlagFalse, FlagTrue))
	store.add(rec(0, 2, "b", AttrRead, FlagFalse, FlagTrue))
	store.add(rec(0, 3, "c", AttrFavorite, FlagFalse, FlagTrue))
	c := NewCompactor(store, staticResolver{1: 20, 2: 10, 3: 20}, WithLogger(discardLogger()))

	result, err := c.Compact(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, []Destination{20, 10}, result.Batches.Destinations())

	items, ok := result.Batches.Get(20)
	require.True(t, ok)
	require.Len(t, items, 2)
	assert.Equal(t, int64(3), items[0].ItemKey)
	assert.Equal(t, int64(1), items[1].ItemKey)
	assert.Equal(t, Destination(20), items[0].Destination)
	assert.Equal(t, 3, result.Batches.Items())
}

func TestCompactor_UnorderedInputIsSorted(t *testing.T) {
	store := newMemStore()
	store.add(rec(4, 1, "a", AttrRead, FlagTrue, FlagFalse))
	store.add(rec(2, 1, "a", AttrRead, FlagFalse, FlagTrue))
	store.add(rec(3, 2, "b", AttrRead, FlagFalse, FlagTrue))

	handler := newCountingHandler()
	c := NewCompactor(store, staticResolver{1: 1, 2: 1}, WithLogger(slog.New(handler)))

	result, err := c.Compact(context.Background(), "acct")
	require.NoError(t, err)

	// item 1 folds 2 then 4 and collapses; item 2 survives.
	require.Len(t, result.Changes, 1)
	assert.Equal(t, int64(2), result.Changes[0].ItemKey)
	assert.Equal(t, []int64{2, 4}, result.Diagnostics.PrunedLogIDs)
	assert.Equal(t, 1, result.Diagnostics.Warnings)
	assert.Equal(t, 1, handler.count(slog.LevelWarn))
}

func TestCompactor_UnresolvedDestinationKeepsRecords(t *testing.T) {
	store := newMemStore()
	store.add(rec(0, 1, "a", AttrRead, FlagFalse, FlagTrue))
	store.add(rec(0, 2, "b", AttrRead, FlagFalse, FlagTrue))

	handler := newCountingHandler()
	c := NewCompactor(store, staticResolver{2: 5}, WithLogger(slog.New(handler)))

	result, err := c.Compact(context.Background(), "acct")
	require.NoError(t, err)
	require.Len(t, result.Changes, 1)
	assert.Equal(t, int64(2), result.Changes[0].ItemKey)
	assert.Equal(t, []int64{1}, result.Diagnostics.Unresolved)
	assert.Equal(t, []int64{1}, store.itemLogIDs(1))
	assert.Equal(t, 1, handler.count(slog.LevelError))
}

func TestCompactor_ResolverErrorOtherThanNotFoundIsSkipped(t *testing.T) {
	store := newMemStore()
	store.add(rec(0, 1, "a", AttrRead, FlagFalse, FlagTrue))

	resolver := DestinationResolverFunc(func(context.Context, int64) (Destination, error) {
		return 0, errors.New("lookup failed")
	})
	c := NewCompactor(store, resolver, WithLogger(discardLogger()))

	result, err := c.Compact(context.Background(), "acct")
	require.NoError(t, err)
	assert.False(t, result.HasChanges())
	assert.Equal(t, []int64{1}, result.Diagnostics.Unresolved)
	assert.Equal(t, 1, store.len())
}

func TestCompactor_CancelledContextAbortsWithoutDeleting(t *testing.T) {
	store := newMemStore()
	store.add(rec(0, 1, "", AttrRead, FlagFalse, FlagTrue))
	store.add(rec(0, 2, "b", AttrRead, FlagFalse, FlagTrue))

	ctx, cancel := context.WithCancel(context.Background())
	resolver := DestinationResolverFunc(func(ctx context.Context, _ int64) (Destination, error) {
		cancel()
		return 0, ctx.Err()
	})
	c := NewCompactor(store, resolver, WithLogger(discardLogger()))

	_, err := c.Compact(ctx, "acct")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, store.deleteCalls)
	assert.Equal(t, 2, store.len())
}

func TestCompactor_StoreErrors(t *testing.T) {
	t.Run("read", func(t *testing.T) {
		store := newMemStore()
		store.readErr = errStore
		c := NewCompactor(store, staticResolver{}, WithLogger(discardLogger()))

		_, err := c.Compact(context.Background(), "acct")
		assert.ErrorIs(t, err, errStore)
	})

	t.Run("delete", func(t *testing.T) {
		store := newMemStore()
		store.add(rec(0, 1, "", AttrRead, FlagFalse, FlagTrue))
		store.deleteErr = errStore
		c := NewCompactor(store, staticResolver{}, WithLogger(discardLogger()))

		_, err := c.Compact(context.Background(), "acct")
		assert.ErrorIs(t, err, errStore)
		assert.Equal(t, 1, store.len())
	})
}

func TestCompactor_AccountsAreIsolated(t *testing.T) {
	store := newMemStore()
	store.add(rec(0, 1, "a", AttrRead, FlagFalse, FlagTrue))
	other := NewChangeRecord("other", 1, "").Set(AttrRead, FlagFalse, FlagTrue)
	store.add(other)
	c := NewCompactor(store, staticResolver{1: 1}, WithLogger(discardLogger()))

	result, err := c.Compact(context.Background(), "acct")
	require.NoError(t, err)
	assert.Len(t, result.Changes, 1)
	assert.Equal(t, 2, store.len())
}

func TestEngine_RetryReproducesChange(t *testing.T) {
	store := newMemStore()
	store.add(rec(0, 1, "a", AttrFavorite, FlagFalse, FlagTrue))
	store.add(rec(0, 1, "a", AttrRead, FlagFalse, FlagTrue))
	e := NewEngine(store, staticResolver{1: 3}, WithLogger(discardLogger()))
	ctx := context.Background()

	first, err := e.Compact(ctx, "acct")
	require.NoError(t, err)
	require.Len(t, first.Changes, 1)

	e.RecordRetryNeeded(ctx, "acct", first.Changes)

	second, err := e.Compact(ctx, "acct")
	require.NoError(t, err)
	require.Len(t, second.Changes, 1)
	assert.Equal(t, first.Changes[0], second.Changes[0])
}

func TestEngine_SuccessRetiresChange(t *testing.T) {
	store := newMemStore()
	store.add(rec(0, 1, "a", AttrFavorite, FlagFalse, FlagTrue))
	store.add(rec(0, 2, "b", AttrFavorite, FlagFalse, FlagTrue))
	e := NewEngine(store, staticResolver{1: 3, 2: 3}, WithLogger(discardLogger()))
	ctx := context.Background()

	first, err := e.Compact(ctx, "acct")
	require.NoError(t, err)
	require.Len(t, first.Changes, 2)

	require.NoError(t, e.RecordSuccess(ctx, "acct", first.Changes[:1]))

	second, err := e.Compact(ctx, "acct")
	require.NoError(t, err)
	require.Len(t, second.Changes, 1)
	assert.Equal(t, int64(2), second.Changes[0].ItemKey)
}

func TestEngine_SuccessKeepsEntriesAppendedMidPass(t *testing.T) {
	store := newMemStore()
	store.add(rec(0, 1, "a", AttrRead, FlagFalse, FlagTrue))
	e := NewEngine(store, staticResolver{1: 3}, WithLogger(discardLogger()))
	ctx := context.Background()

	result, err := e.Compact(ctx, "acct")
	require.NoError(t, err)
	require.Len(t, result.Changes, 1)

	late := store.add(rec(0, 1, "a", AttrFavorite, FlagFalse, FlagTrue))
	require.NoError(t, e.RecordSuccess(ctx, "acct", result.Changes))
	assert.Equal(t, []int64{late.LogID}, store.itemLogIDs(1))
}

func TestOutcomeRecorder_EmptyInputIsNoOp(t *testing.T) {
	store := newMemStore()
	r := NewOutcomeRecorder(store, WithLogger(discardLogger()))

	require.NoError(t, r.RecordSuccess(context.Background(), "acct", nil))
	r.RecordRetryNeeded(context.Background(), "acct", nil)
	assert.Equal(t, 0, store.itemDeleteCalls)
}

func TestOutcomeRecorder_SuccessError(t *testing.T) {
	store := newMemStore()
	store.deleteErr = errStore
	r := NewOutcomeRecorder(store, WithLogger(discardLogger()))

	err := r.RecordSuccess(context.Background(), "acct", []*AccumulatedChange{{ItemKey: 1, LastLogID: 1}})
	assert.ErrorIs(t, err, errStore)
}
