package client

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/syftmail/internal/client/config"
	"github.com/openmined/syftmail/internal/client/mailstore"
	"github.com/openmined/syftmail/internal/client/upsync"
	"github.com/openmined/syftmail/internal/client/upsyncmgr"
	"github.com/openmined/syftmail/internal/db"
)

// Client owns the local mail database and everything built on top of it.
type Client struct {
	config   *config.Config
	db       *sqlx.DB
	journal  *upsync.ChangeJournal
	store    *mailstore.Store
	engine   *upsync.Engine
	upsyncer upsyncmgr.Upsyncer
	mgr      *upsyncmgr.Manager
	closers  []func() error
}

// New opens the database at cfg.DatabasePath and prepares the change log, the mail
// store and the upsync manager. Call Close when done.
func New(ctx context.Context, cfg *config.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := slog.Default()

	// one connection: sqlite serializes writers anyway
	database, err := db.NewSqliteDB(db.WithPath(cfg.DatabasePath()), db.WithMaxOpenConns(1))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	c := &Client{config: cfg, db: database}
	c.closers = append(c.closers, database.Close)

	if err := c.init(ctx, logger); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) init(ctx context.Context, logger *slog.Logger) error {
	journal, err := upsync.NewChangeJournal(c.db,
		upsync.WithTable(c.config.LogTable),
		upsync.WithJournalLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("create change journal: %w", err)
	}
	if err := journal.Open(ctx); err != nil {
		return err
	}

	store, err := mailstore.New(c.db, journal, mailstore.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create mail store: %w", err)
	}
	if err := store.Open(ctx); err != nil {
		return err
	}

	var upsyncer upsyncmgr.Upsyncer
	if c.config.NatsURL != "" {
		nu, err := upsyncmgr.DialNats(c.config.NatsURL, c.config.NatsStream, "", logger)
		if err != nil {
			return err
		}
		c.closers = append(c.closers, func() error { nu.Close(); return nil })
		upsyncer = nu
	} else {
		logger.Warn("no nats url configured, upsync batches are only logged")
		upsyncer = upsyncmgr.NewLogUpsyncer(logger)
	}

	engine := upsync.NewEngine(journal, store, upsync.WithLogger(logger))
	mgr, err := upsyncmgr.NewManager(upsyncmgr.Config{
		Accounts:    c.config.Accounts,
		LockDir:     c.config.LockDir(),
		BatchSize:   c.config.BatchSize,
		Concurrency: c.config.Concurrency,
		Interval:    c.config.UpsyncInterval.Std(),
	}, engine, upsyncer, logger)
	if err != nil {
		return err
	}

	c.journal = journal
	c.store = store
	c.engine = engine
	c.upsyncer = upsyncer
	c.mgr = mgr
	return nil
}

func (c *Client) Config() *config.Config {
	return c.config
}

func (c *Client) Journal() *upsync.ChangeJournal {
	return c.journal
}

func (c *Client) Store() *mailstore.Store {
	return c.store
}

func (c *Client) Manager() *upsyncmgr.Manager {
	return c.mgr
}

// Close releases the transport and the database, in reverse order of creation.
func (c *Client) Close() error {
	var firstErr error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.closers = nil
	return firstErr
}
