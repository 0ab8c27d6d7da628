package upsync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/syftmail/internal/db"
)

// DefaultJournalTable is the change log table used when no other name is configured.
const DefaultJournalTable = "message_change_log"

// createdAtLayout is RFC3339Nano with fixed-width fractions, so stored values sort as text.
const createdAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// maxDeleteBatch keeps IN lists below sqlite's host parameter limit.
const maxDeleteBatch = 500

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

var ErrInvalidTableName = errors.New("invalid table name")

// ValidTableName reports whether name can be used as a change log table.
func ValidTableName(name string) bool {
	return tableNameRe.MatchString(name)
}

func journalSchema(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
    log_id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id TEXT NOT NULL,
    item_key INTEGER NOT NULL,
    server_ref TEXT NOT NULL DEFAULT '',
    old_read INTEGER NOT NULL DEFAULT -1,
    new_read INTEGER NOT NULL DEFAULT -1,
    old_favorite INTEGER NOT NULL DEFAULT -1,
    new_favorite INTEGER NOT NULL DEFAULT -1,
    created_at TEXT NOT NULL -- UTC, fixed-width RFC3339Nano
)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_account ON %[1]s(account_id, log_id)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_item ON %[1]s(account_id, item_key, log_id)`, table),
	}
}

// dbChangeRecord is the row shape of the change log.
type dbChangeRecord struct {
	LogID       int64  `db:"log_id"`
	AccountID   string `db:"account_id"`
	ItemKey     int64  `db:"item_key"`
	ServerRef   string `db:"server_ref"`
	OldRead     int8   `db:"old_read"`
	NewRead     int8   `db:"new_read"`
	OldFavorite int8   `db:"old_favorite"`
	NewFavorite int8   `db:"new_favorite"`
	CreatedAt   string `db:"created_at"`
}

func toRow(rec *ChangeRecord) dbChangeRecord {
	return dbChangeRecord{
		AccountID:   rec.AccountID,
		ItemKey:     rec.ItemKey,
		ServerRef:   rec.ServerRef,
		OldRead:     int8(rec.Changes[AttrRead].Old),
		NewRead:     int8(rec.Changes[AttrRead].New),
		OldFavorite: int8(rec.Changes[AttrFavorite].Old),
		NewFavorite: int8(rec.Changes[AttrFavorite].New),
		CreatedAt:   rec.CreatedAt.UTC().Format(createdAtLayout),
	}
}

func (r *dbChangeRecord) toRecord() (*ChangeRecord, error) {
	rec := &ChangeRecord{
		LogID:     r.LogID,
		AccountID: r.AccountID,
		ItemKey:   r.ItemKey,
		ServerRef: r.ServerRef,
	}
	rec.Changes[AttrRead] = FlagChange{Old: FlagValue(r.OldRead), New: FlagValue(r.NewRead)}
	rec.Changes[AttrFavorite] = FlagChange{Old: FlagValue(r.OldFavorite), New: FlagValue(r.NewFavorite)}
	for _, attr := range attributes {
		if ch := rec.Changes[attr]; !ch.Old.Valid() || !ch.New.Valid() {
			return nil, fmt.Errorf("log id %d: invalid %s value %d/%d", r.LogID, attr, ch.Old, ch.New)
		}
	}

	createdAt, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("log id %d: parse created_at %q: %w", r.LogID, r.CreatedAt, err)
	}
	rec.CreatedAt = createdAt
	return rec, nil
}

// JournalSummary is a cheap overview of what is pending for an account.
type JournalSummary struct {
	AccountID string    `json:"accountId" yaml:"account_id"`
	Pending   int       `json:"pending" yaml:"pending"`
	Items     int       `json:"items" yaml:"items"`
	Oldest    time.Time `json:"oldest" yaml:"oldest"`
}

type journalOptions struct {
	table  string
	now    func() time.Time
	logger *slog.Logger
}

// JournalOption configures a ChangeJournal.
type JournalOption func(*journalOptions)

// WithTable sets the change log table name.
func WithTable(table string) JournalOption {
	return func(o *journalOptions) {
		o.table = table
	}
}

// WithClock overrides the clock used to stamp appended records.
func WithClock(now func() time.Time) JournalOption {
	return func(o *journalOptions) {
		o.now = now
	}
}

func WithJournalLogger(logger *slog.Logger) JournalOption {
	return func(o *journalOptions) {
		o.logger = logger
	}
}

// ChangeJournal is the sqlite-backed change log. It shares the database with
// the mail store so flag updates and their log entries commit together.
type ChangeJournal struct {
	db    *sqlx.DB
	table string
	now   func() time.Time
	log   *slog.Logger
}

var _ ChangeStore = (*ChangeJournal)(nil)

// NewChangeJournal wraps an open database. Call Open to create the schema.
func NewChangeJournal(database *sqlx.DB, opts ...JournalOption) (*ChangeJournal, error) {
	o := &journalOptions{
		table: DefaultJournalTable,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if !ValidTableName(o.table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTableName, o.table)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return &ChangeJournal{
		db:    database,
		table: o.table,
		now:   o.now,
		log:   o.logger,
	}, nil
}

// Open creates the change log table and its indexes if they do not exist.
func (j *ChangeJournal) Open(ctx context.Context) error {
	if j.db == nil {
		return fmt.Errorf("change journal has no database")
	}
	if err := db.Migrate(ctx, j.db, journalSchema(j.table)...); err != nil {
		return fmt.Errorf("initialize change journal schema: %w", err)
	}
	j.log.Debug("change journal open", "table", j.table)
	return nil
}

// Close is a no-op; the database belongs to the caller.
func (j *ChangeJournal) Close() error {
	return nil
}

func (j *ChangeJournal) Table() string {
	return j.table
}

// Append writes rec and sets its LogID and CreatedAt.
func (j *ChangeJournal) Append(ctx context.Context, rec *ChangeRecord) error {
	return j.AppendTx(ctx, j.db, rec)
}

// AppendTx writes rec through ext, which may be a transaction.
func (j *ChangeJournal) AppendTx(ctx context.Context, ext sqlx.ExtContext, rec *ChangeRecord) error {
	if rec == nil {
		return fmt.Errorf("cannot append nil change record")
	}
	if rec.AccountID == "" {
		return fmt.Errorf("append change for item %d: empty account id", rec.ItemKey)
	}
	for _, attr := range attributes {
		if ch := rec.Changes[attr]; !ch.Old.Valid() || !ch.New.Valid() {
			return fmt.Errorf("append change for item %d: invalid %s value", rec.ItemKey, attr)
		}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = j.now()
	}

	query := fmt.Sprintf(`INSERT INTO %s (account_id, item_key, server_ref, old_read, new_read, old_favorite, new_favorite, created_at)
	          VALUES (:account_id, :item_key, :server_ref, :old_read, :new_read, :old_favorite, :new_favorite, :created_at)`, j.table)
	res, err := sqlx.NamedExecContext(ctx, ext, query, toRow(rec))
	if err != nil {
		return fmt.Errorf("append change for item %d: %w", rec.ItemKey, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("append change for item %d: last insert id: %w", rec.ItemKey, err)
	}
	rec.LogID = id
	j.log.Debug("change appended", "account", rec.AccountID, "item", rec.ItemKey, "logId", id)
	return nil
}

// PendingChanges returns every record of the account ordered by log id.
func (j *ChangeJournal) PendingChanges(ctx context.Context, accountID string) ([]*ChangeRecord, error) {
	var rows []dbChangeRecord
	query := fmt.Sprintf(`SELECT log_id, account_id, item_key, server_ref, old_read, new_read, old_favorite, new_favorite, created_at
	          FROM %s WHERE account_id = ? ORDER BY log_id`, j.table)
	if err := j.db.SelectContext(ctx, &rows, query, accountID); err != nil {
		return nil, fmt.Errorf("query pending changes for %s: %w", accountID, err)
	}

	records := make([]*ChangeRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// DeleteChanges removes logIDs of the account in one transaction.
func (j *ChangeJournal) DeleteChanges(ctx context.Context, accountID string, logIDs []int64) error {
	if len(logIDs) == 0 {
		return nil
	}
	return j.inTx(ctx, func(tx *sqlx.Tx) error {
		for start := 0; start < len(logIDs); start += maxDeleteBatch {
			chunk := logIDs[start:min(start+maxDeleteBatch, len(logIDs))]
			query, args, err := sqlx.In(
				fmt.Sprintf(`DELETE FROM %s WHERE account_id = ? AND log_id IN (?)`, j.table),
				accountID, chunk,
			)
			if err != nil {
				return fmt.Errorf("build delete query: %w", err)
			}
			if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
				return fmt.Errorf("delete changes: %w", err)
			}
		}
		return nil
	})
}

// DeleteItemChanges removes, per item, every record with log_id <= upTo[item], in one transaction.
func (j *ChangeJournal) DeleteItemChanges(ctx context.Context, accountID string, upTo map[int64]int64) error {
	if len(upTo) == 0 {
		return nil
	}
	return j.inTx(ctx, func(tx *sqlx.Tx) error {
		stmt, err := tx.PreparexContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE account_id = ? AND item_key = ? AND log_id <= ?`, j.table))
		if err != nil {
			return fmt.Errorf("prepare item delete: %w", err)
		}
		defer stmt.Close()

		for item, last := range upTo {
			if _, err := stmt.ExecContext(ctx, accountID, item, last); err != nil {
				return fmt.Errorf("delete changes of item %d: %w", item, err)
			}
		}
		return nil
	})
}

func (j *ChangeJournal) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := j.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Count returns the number of pending records of the account.
func (j *ChangeJournal) Count(ctx context.Context, accountID string) (int, error) {
	var count int
	err := j.db.GetContext(ctx, &count, fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE account_id = ?`, j.table), accountID)
	if err != nil {
		return 0, fmt.Errorf("count changes: %w", err)
	}
	return count, nil
}

// Summary returns pending count, distinct items and the oldest entry time of the account.
func (j *ChangeJournal) Summary(ctx context.Context, accountID string) (*JournalSummary, error) {
	var row struct {
		Pending int            `db:"pending"`
		Items   int            `db:"items"`
		Oldest  sql.NullString `db:"oldest"`
	}
	query := fmt.Sprintf(`SELECT COUNT(*) AS pending, COUNT(DISTINCT item_key) AS items, MIN(created_at) AS oldest
	          FROM %s WHERE account_id = ?`, j.table)
	if err := j.db.GetContext(ctx, &row, query, accountID); err != nil {
		return nil, fmt.Errorf("summarize changes: %w", err)
	}

	summary := &JournalSummary{
		AccountID: accountID,
		Pending:   row.Pending,
		Items:     row.Items,
	}
	if row.Oldest.Valid {
		oldest, err := time.Parse(time.RFC3339Nano, row.Oldest.String)
		if err != nil {
			j.log.Warn("unparseable created_at in change log", "account", accountID, "value", row.Oldest.String, "error", err)
		} else {
			summary.Oldest = oldest
		}
	}
	return summary, nil
}

// Accounts lists the accounts with pending changes.
func (j *ChangeJournal) Accounts(ctx context.Context) ([]string, error) {
	var accounts []string
	err := j.db.SelectContext(ctx, &accounts, fmt.Sprintf(`SELECT DISTINCT account_id FROM %s ORDER BY account_id`, j.table))
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}
