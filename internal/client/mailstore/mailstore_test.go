package mailstore

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/openmined/syftmail/internal/client/upsync"
	"github.com/openmined/syftmail/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *upsync.ChangeJournal) {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	database, err := db.NewSqliteDB(db.WithPath(filepath.Join(t.TempDir(), "mail.db")), db.WithMaxOpenConns(1))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	journal, err := upsync.NewChangeJournal(database, upsync.WithJournalLogger(logger))
	require.NoError(t, err)
	require.NoError(t, journal.Open(ctx))

	store, err := New(database, journal, WithLogger(logger), WithCacheSize(4))
	require.NoError(t, err)
	require.NoError(t, store.Open(ctx))
	return store, journal
}

func ptr(b bool) *bool { return &b }

func TestStore_Mailboxes(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	inbox, err := s.UpsertMailbox(ctx, "acct", "INBOX", "Inbox")
	require.NoError(t, err)
	again, err := s.UpsertMailbox(ctx, "acct", "INBOX", "Incoming")
	require.NoError(t, err)
	assert.Equal(t, inbox.Key, again.Key)
	assert.Equal(t, "Incoming", again.DisplayName)

	got, err := s.Mailbox(ctx, inbox.Key)
	require.NoError(t, err)
	assert.Equal(t, "Incoming", got.DisplayName)

	_, err = s.UpsertMailbox(ctx, "other", "INBOX", "Inbox")
	require.NoError(t, err)
	boxes, err := s.Mailboxes(ctx, "acct")
	require.NoError(t, err)
	assert.Len(t, boxes, 1)

	_, err = s.Mailbox(ctx, 999)
	assert.ErrorIs(t, err, ErrMailboxNotFound)
}

func TestStore_SetFlagsCapturesChange(t *testing.T) {
	ctx := context.Background()
	s, journal := newTestStore(t)

	inbox, err := s.UpsertMailbox(ctx, "acct", "INBOX", "Inbox")
	require.NoError(t, err)
	msg := &Message{AccountID: "acct", MailboxKey: inbox.Key, ServerRef: "srv-1"}
	require.NoError(t, s.InsertMessage(ctx, msg))

	rec, err := s.SetFlags(ctx, msg.Key, FlagUpdate{Read: ptr(true)})
	require.NoError(t, err)
	assert.NotZero(t, rec.LogID)
	assert.Equal(t, upsync.FlagChange{Old: upsync.FlagFalse, New: upsync.FlagTrue}, rec.Change(upsync.AttrRead))
	assert.Equal(t, upsync.FlagChange{Old: upsync.FlagFalse, New: upsync.FlagUnchanged}, rec.Change(upsync.AttrFavorite))

	got, err := s.Message(ctx, msg.Key)
	require.NoError(t, err)
	assert.True(t, got.Read)
	assert.False(t, got.Favorite)

	// setting a flag to its current value is still logged
	_, err = s.SetFlags(ctx, msg.Key, FlagUpdate{Read: ptr(true), Favorite: ptr(false)})
	require.NoError(t, err)

	records, err := journal.PendingChanges(ctx, "acct")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "srv-1", records[1].ServerRef)
	assert.Equal(t, upsync.FlagChange{Old: upsync.FlagTrue, New: upsync.FlagTrue}, records[1].Change(upsync.AttrRead))
}

func TestStore_SetFlagsErrors(t *testing.T) {
	ctx := context.Background()
	s, journal := newTestStore(t)

	_, err := s.SetFlags(ctx, 1, FlagUpdate{})
	assert.ErrorIs(t, err, ErrNoFlags)

	_, err = s.SetFlags(ctx, 42, FlagUpdate{Favorite: ptr(true)})
	assert.ErrorIs(t, err, ErrMessageNotFound)

	count, err := journal.Count(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestStore_ResolveDestination(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	inbox, err := s.UpsertMailbox(ctx, "acct", "INBOX", "Inbox")
	require.NoError(t, err)
	archive, err := s.UpsertMailbox(ctx, "acct", "Archive", "Archive")
	require.NoError(t, err)

	msg := &Message{AccountID: "acct", MailboxKey: inbox.Key}
	require.NoError(t, s.InsertMessage(ctx, msg))
	orphan := &Message{AccountID: "acct"}
	require.NoError(t, s.InsertMessage(ctx, orphan))

	dest, err := s.ResolveDestination(ctx, msg.Key)
	require.NoError(t, err)
	assert.Equal(t, upsync.Destination(inbox.Key), dest)

	require.NoError(t, s.MoveMessage(ctx, msg.Key, archive.Key))
	dest, err = s.ResolveDestination(ctx, msg.Key)
	require.NoError(t, err)
	assert.Equal(t, upsync.Destination(archive.Key), dest)

	_, err = s.ResolveDestination(ctx, orphan.Key)
	assert.ErrorIs(t, err, upsync.ErrDestinationNotFound)

	_, err = s.ResolveDestination(ctx, 999)
	assert.ErrorIs(t, err, upsync.ErrDestinationNotFound)

	require.NoError(t, s.DeleteMailbox(ctx, archive.Key))
	_, err = s.ResolveDestination(ctx, msg.Key)
	assert.ErrorIs(t, err, upsync.ErrDestinationNotFound)
	assert.ErrorIs(t, s.DeleteMailbox(ctx, archive.Key), ErrMailboxNotFound)
}

func TestStore_MessageUpdates(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	msg := &Message{AccountID: "acct"}
	require.NoError(t, s.InsertMessage(ctx, msg))
	require.NoError(t, s.SetServerRef(ctx, msg.Key, "srv-9"))

	got, err := s.Message(ctx, msg.Key)
	require.NoError(t, err)
	assert.Equal(t, "srv-9", got.ServerRef)
	assert.Zero(t, got.MailboxKey)

	assert.ErrorIs(t, s.SetServerRef(ctx, 999, "x"), ErrMessageNotFound)
	assert.ErrorIs(t, s.MoveMessage(ctx, msg.Key, 999), ErrMailboxNotFound)
}

func TestStore_FlagChangesCompactEndToEnd(t *testing.T) {
	ctx := context.Background()
	s, journal := newTestStore(t)

	inbox, err := s.UpsertMailbox(ctx, "acct", "INBOX", "Inbox")
	require.NoError(t, err)
	a := &Message{AccountID: "acct", MailboxKey: inbox.Key, ServerRef: "a"}
	b := &Message{AccountID: "acct", MailboxKey: inbox.Key, ServerRef: "b"}
	require.NoError(t, s.InsertMessage(ctx, a))
	require.NoError(t, s.InsertMessage(ctx, b))

	_, err = s.SetFlags(ctx, a.Key, FlagUpdate{Read: ptr(true)})
	require.NoError(t, err)
	_, err = s.SetFlags(ctx, a.Key, FlagUpdate{Read: ptr(false)})
	require.NoError(t, err)
	_, err = s.SetFlags(ctx, b.Key, FlagUpdate{Favorite: ptr(true)})
	require.NoError(t, err)

	engine := upsync.NewEngine(journal, s, upsync.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	result, err := engine.Compact(ctx, "acct")
	require.NoError(t, err)
	require.Len(t, result.Changes, 1)
	assert.Equal(t, b.Key, result.Changes[0].ItemKey)
	assert.Equal(t, upsync.FlagTrue, result.Changes[0].Flag(upsync.AttrFavorite))
	assert.Equal(t, upsync.FlagUnchanged, result.Changes[0].Flag(upsync.AttrRead))
	assert.Equal(t, []upsync.Destination{upsync.Destination(inbox.Key)}, result.Batches.Destinations())
}
