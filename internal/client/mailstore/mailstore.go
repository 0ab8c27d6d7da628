package mailstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jmoiron/sqlx"
	"github.com/openmined/syftmail/internal/client/upsync"
	"github.com/openmined/syftmail/internal/db"
)

const schemaMailboxes = `
CREATE TABLE IF NOT EXISTS mailboxes (
    mailbox_key INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id TEXT NOT NULL,
    server_id TEXT NOT NULL,
    display_name TEXT NOT NULL DEFAULT '',
    UNIQUE(account_id, server_id)
)`

const schemaMessages = `
CREATE TABLE IF NOT EXISTS messages (
    message_key INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id TEXT NOT NULL,
    mailbox_key INTEGER REFERENCES mailboxes(mailbox_key) ON DELETE SET NULL,
    server_ref TEXT NOT NULL DEFAULT '',
    flag_read INTEGER NOT NULL DEFAULT 0,
    flag_favorite INTEGER NOT NULL DEFAULT 0
)`

const schemaMessagesIndex = `CREATE INDEX IF NOT EXISTS idx_messages_mailbox ON messages(mailbox_key)`

const defaultCacheSize = 256

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrMailboxNotFound = errors.New("mailbox not found")
	ErrNoFlags         = errors.New("no flags to set")
)

// Mailbox is a server folder the client mirrors.
type Mailbox struct {
	Key         int64  `db:"mailbox_key" json:"key"`
	AccountID   string `db:"account_id" json:"accountId"`
	ServerID    string `db:"server_id" json:"serverId"`
	DisplayName string `db:"display_name" json:"displayName"`
}

// Message is the locally stored state of one message.
type Message struct {
	Key       int64
	AccountID string
	// MailboxKey is zero when the message is not in any mailbox.
	MailboxKey int64
	// ServerRef is empty until the message exists on the server.
	ServerRef string
	Read      bool
	Favorite  bool
}

type dbMessage struct {
	Key        int64         `db:"message_key"`
	AccountID  string        `db:"account_id"`
	MailboxKey sql.NullInt64 `db:"mailbox_key"`
	ServerRef  string        `db:"server_ref"`
	Read       bool          `db:"flag_read"`
	Favorite   bool          `db:"flag_favorite"`
}

func (m *dbMessage) toMessage() *Message {
	return &Message{
		Key:        m.Key,
		AccountID:  m.AccountID,
		MailboxKey: m.MailboxKey.Int64,
		ServerRef:  m.ServerRef,
		Read:       m.Read,
		Favorite:   m.Favorite,
	}
}

// FlagUpdate is a local flag mutation. Nil fields are left as they are.
type FlagUpdate struct {
	Read     *bool
	Favorite *bool
}

func (u FlagUpdate) empty() bool {
	return u.Read == nil && u.Favorite == nil
}

// Appender writes change records inside the caller's transaction.
type Appender interface {
	AppendTx(ctx context.Context, ext sqlx.ExtContext, rec *upsync.ChangeRecord) error
}

// Option configures a Store.
type Option func(*Store)

// WithCacheSize sets the number of mailboxes kept in memory.
func WithCacheSize(n int) Option {
	return func(s *Store) {
		s.cacheSize = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.log = logger
	}
}

// Store holds mailboxes and messages and captures flag changes into the change log.
type Store struct {
	db        *sqlx.DB
	changes   Appender
	cache     *lru.Cache[int64, *Mailbox]
	cacheSize int
	log       *slog.Logger
}

var _ upsync.DestinationResolver = (*Store)(nil)

func New(database *sqlx.DB, changes Appender, opts ...Option) (*Store, error) {
	s := &Store{
		db:        database,
		changes:   changes,
		cacheSize: defaultCacheSize,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	cache, err := lru.New[int64, *Mailbox](s.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create mailbox cache: %w", err)
	}
	s.cache = cache
	return s, nil
}

// Open creates the mail tables if they do not exist.
func (s *Store) Open(ctx context.Context) error {
	if err := db.Migrate(ctx, s.db, schemaMailboxes, schemaMessages, schemaMessagesIndex); err != nil {
		return fmt.Errorf("initialize mail store schema: %w", err)
	}
	return nil
}

// UpsertMailbox creates the mailbox or updates its display name.
func (s *Store) UpsertMailbox(ctx context.Context, accountID, serverID, displayName string) (*Mailbox, error) {
	_, err := s.db.ExecContext(ctx, `INSERT INTO mailboxes (account_id, server_id, display_name) VALUES (?, ?, ?)
		ON CONFLICT(account_id, server_id) DO UPDATE SET display_name = excluded.display_name`,
		accountID, serverID, displayName)
	if err != nil {
		return nil, fmt.Errorf("upsert mailbox %s: %w", serverID, err)
	}

	var mb Mailbox
	err = s.db.GetContext(ctx, &mb, `SELECT mailbox_key, account_id, server_id, display_name
		FROM mailboxes WHERE account_id = ? AND server_id = ?`, accountID, serverID)
	if err != nil {
		return nil, fmt.Errorf("read mailbox %s: %w", serverID, err)
	}
	s.cache.Add(mb.Key, &mb)
	return &mb, nil
}

// Mailbox returns the mailbox with key, served from the cache when possible.
func (s *Store) Mailbox(ctx context.Context, key int64) (*Mailbox, error) {
	if mb, ok := s.cache.Get(key); ok {
		return mb, nil
	}

	var mb Mailbox
	err := s.db.GetContext(ctx, &mb, `SELECT mailbox_key, account_id, server_id, display_name
		FROM mailboxes WHERE mailbox_key = ?`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("mailbox %d: %w", key, ErrMailboxNotFound)
		}
		return nil, fmt.Errorf("read mailbox %d: %w", key, err)
	}
	s.cache.Add(key, &mb)
	return &mb, nil
}

// Mailboxes lists the mailboxes of an account.
func (s *Store) Mailboxes(ctx context.Context, accountID string) ([]*Mailbox, error) {
	var boxes []*Mailbox
	err := s.db.SelectContext(ctx, &boxes, `SELECT mailbox_key, account_id, server_id, display_name
		FROM mailboxes WHERE account_id = ? ORDER BY mailbox_key`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list mailboxes: %w", err)
	}
	return boxes, nil
}

// DeleteMailbox removes the mailbox. Its messages stay but no longer belong to a mailbox.
func (s *Store) DeleteMailbox(ctx context.Context, key int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE messages SET mailbox_key = NULL WHERE mailbox_key = ?`, key); err != nil {
		return fmt.Errorf("detach messages of mailbox %d: %w", key, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM mailboxes WHERE mailbox_key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete mailbox %d: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mailbox %d: %w", key, ErrMailboxNotFound)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.cache.Remove(key)
	return nil
}

// InsertMessage stores msg and sets its Key.
func (s *Store) InsertMessage(ctx context.Context, msg *Message) error {
	res, err := s.db.NamedExecContext(ctx, `INSERT INTO messages (account_id, mailbox_key, server_ref, flag_read, flag_favorite)
		VALUES (:account_id, :mailbox_key, :server_ref, :flag_read, :flag_favorite)`, toDBMessage(msg))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	key, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert message: last insert id: %w", err)
	}
	msg.Key = key
	return nil
}

func toDBMessage(msg *Message) dbMessage {
	return dbMessage{
		Key:        msg.Key,
		AccountID:  msg.AccountID,
		MailboxKey: sql.NullInt64{Int64: msg.MailboxKey, Valid: msg.MailboxKey != 0},
		ServerRef:  msg.ServerRef,
		Read:       msg.Read,
		Favorite:   msg.Favorite,
	}
}

// Message returns the message with key.
func (s *Store) Message(ctx context.Context, key int64) (*Message, error) {
	return getMessage(ctx, s.db, key)
}

func getMessage(ctx context.Context, q sqlx.QueryerContext, key int64) (*Message, error) {
	var row dbMessage
	err := sqlx.GetContext(ctx, q, &row, `SELECT message_key, account_id, mailbox_key, server_ref, flag_read, flag_favorite
		FROM messages WHERE message_key = ?`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %d: %w", key, ErrMessageNotFound)
		}
		return nil, fmt.Errorf("read message %d: %w", key, err)
	}
	return row.toMessage(), nil
}

// MoveMessage puts the message into another mailbox. Pending flag changes follow it.
func (s *Store) MoveMessage(ctx context.Context, key, mailboxKey int64) error {
	if _, err := s.Mailbox(ctx, mailboxKey); err != nil {
		return err
	}
	return s.updateMessage(ctx, key, `UPDATE messages SET mailbox_key = ? WHERE message_key = ?`, mailboxKey, key)
}

// SetServerRef records the server-side id once the message exists remotely.
func (s *Store) SetServerRef(ctx context.Context, key int64, serverRef string) error {
	return s.updateMessage(ctx, key, `UPDATE messages SET server_ref = ? WHERE message_key = ?`, serverRef, key)
}

func (s *Store) updateMessage(ctx context.Context, key int64, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update message %d: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %d: %w", key, ErrMessageNotFound)
	}
	return nil
}

// SetFlags applies update to the message and logs the transition in the same
// transaction. Every call is logged, even when a flag already has the requested value.
func (s *Store) SetFlags(ctx context.Context, key int64, update FlagUpdate) (*upsync.ChangeRecord, error) {
	if update.empty() {
		return nil, ErrNoFlags
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	msg, err := getMessage(ctx, tx, key)
	if err != nil {
		return nil, err
	}

	rec := upsync.NewChangeRecord(msg.AccountID, msg.Key, msg.ServerRef)
	read, favorite := msg.Read, msg.Favorite
	rec.Set(upsync.AttrRead, upsync.FlagOf(msg.Read), upsync.FlagUnchanged)
	rec.Set(upsync.AttrFavorite, upsync.FlagOf(msg.Favorite), upsync.FlagUnchanged)
	if update.Read != nil {
		read = *update.Read
		rec.Set(upsync.AttrRead, upsync.FlagOf(msg.Read), upsync.FlagOf(read))
	}
	if update.Favorite != nil {
		favorite = *update.Favorite
		rec.Set(upsync.AttrFavorite, upsync.FlagOf(msg.Favorite), upsync.FlagOf(favorite))
	}

	if _, err := tx.ExecContext(ctx, `UPDATE messages SET flag_read = ?, flag_favorite = ? WHERE message_key = ?`,
		read, favorite, key); err != nil {
		return nil, fmt.Errorf("update flags of message %d: %w", key, err)
	}
	if err := s.changes.AppendTx(ctx, tx, rec); err != nil {
		return nil, fmt.Errorf("log flag change: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	s.log.Debug("flags set", "account", msg.AccountID, "message", key, "read", read, "favorite", favorite, "logId", rec.LogID)
	return rec, nil
}

// ResolveDestination returns the mailbox the message currently lives in.
func (s *Store) ResolveDestination(ctx context.Context, itemKey int64) (upsync.Destination, error) {
	msg, err := s.Message(ctx, itemKey)
	if err != nil {
		if errors.Is(err, ErrMessageNotFound) {
			return 0, fmt.Errorf("message %d: %w", itemKey, upsync.ErrDestinationNotFound)
		}
		return 0, err
	}
	if msg.MailboxKey == 0 {
		return 0, fmt.Errorf("message %d has no mailbox: %w", itemKey, upsync.ErrDestinationNotFound)
	}
	if _, err := s.Mailbox(ctx, msg.MailboxKey); err != nil {
		if errors.Is(err, ErrMailboxNotFound) {
			return 0, fmt.Errorf("message %d: %w", itemKey, upsync.ErrDestinationNotFound)
		}
		return 0, err
	}
	return upsync.Destination(msg.MailboxKey), nil
}
