package upsyncmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gofrs/flock"
	"github.com/openmined/syftmail/internal/client/upsync"
	"github.com/openmined/syftmail/internal/utils"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval    = 30 * time.Second
	DefaultBatchSize   = 50
	DefaultConcurrency = 4
)

var (
	ErrPassAlreadyRunning = errors.New("upsync pass already running")
	ErrAccountLocked      = errors.New("account locked by another process")
	ErrUnknownAccount     = errors.New("unknown account")
)

// Engine is the compaction and outcome side of a pass.
type Engine interface {
	Compact(ctx context.Context, accountID string) (*upsync.CompactResult, error)
	RecordSuccess(ctx context.Context, accountID string, changes []*upsync.AccumulatedChange) error
	RecordRetryNeeded(ctx context.Context, accountID string, changes []*upsync.AccumulatedChange)
}

type Config struct {
	Accounts []string
	// LockDir holds one lock file per account; passes in other processes skip a locked account.
	LockDir     string
	BatchSize   int
	Concurrency int
	Interval    time.Duration
}

// Manager runs upsync passes: compact the change log, hand batches to the
// Upsyncer and record the outcome.
type Manager struct {
	cfg      Config
	engine   Engine
	upsyncer Upsyncer
	status   *passStatus
	log      *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	wg sync.WaitGroup
}

func NewManager(cfg Config, engine Engine, upsyncer Upsyncer, logger *slog.Logger) (*Manager, error) {
	if engine == nil || upsyncer == nil {
		return nil, fmt.Errorf("upsync manager needs an engine and an upsyncer")
	}
	if cfg.LockDir == "" {
		return nil, fmt.Errorf("upsync manager needs a lock directory")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Accounts = slices.Compact(slices.Sorted(slices.Values(cfg.Accounts)))

	return &Manager{
		cfg:      cfg,
		engine:   engine,
		upsyncer: upsyncer,
		status:   newPassStatus(cfg.Accounts),
		log:      logger,
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// Accounts returns the configured accounts in sorted order.
func (m *Manager) Accounts() []string {
	return slices.Clone(m.cfg.Accounts)
}

func (m *Manager) HasAccount(accountID string) bool {
	_, found := slices.BinarySearch(m.cfg.Accounts, accountID)
	return found
}

// Status returns the last known pass state of every account.
func (m *Manager) Status() []AccountStatus {
	return m.status.snapshot()
}

// Start runs a pass for all accounts every Interval until ctx is done.
func (m *Manager) Start(ctx context.Context) error {
	m.log.Info("upsync start", "accounts", len(m.cfg.Accounts), "interval", m.cfg.Interval)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		// timer, not ticker: a slow pass must not queue up ticks
		timer := time.NewTimer(m.cfg.Interval)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				if _, err := m.RunAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
					m.log.Error("upsync failed", "error", err)
				}
				timer.Reset(m.cfg.Interval)
			}
		}
	}()
	return nil
}

// Stop waits for the loop started by Start to return. Cancel its context first.
func (m *Manager) Stop() {
	m.wg.Wait()
	m.log.Info("upsync stop")
}

// RunAll runs one pass per account, Concurrency at a time. A failing account does
// not stop the others; their errors are joined. Accounts already in a pass are skipped.
func (m *Manager) RunAll(ctx context.Context) ([]*PassReport, error) {
	reports := make([]*PassReport, len(m.cfg.Accounts))
	errs := make([]error, len(m.cfg.Accounts))

	var g errgroup.Group
	g.SetLimit(m.cfg.Concurrency)
	for i, acct := range m.cfg.Accounts {
		g.Go(func() error {
			report, err := m.RunPass(ctx, acct)
			switch {
			case errors.Is(err, ErrPassAlreadyRunning), errors.Is(err, ErrAccountLocked):
				m.log.Debug("upsync skipped", "account", acct, "reason", err)
			case err != nil:
				errs[i] = fmt.Errorf("account %s: %w", acct, err)
			default:
				reports[i] = report
			}
			return nil
		})
	}
	g.Wait()

	return slices.DeleteFunc(reports, func(r *PassReport) bool { return r == nil }), errors.Join(errs...)
}

// RunPass runs one pass for an account.
func (m *Manager) RunPass(ctx context.Context, accountID string) (*PassReport, error) {
	return m.runPass(ctx, accountID, false)
}

// Preview compacts the account and reports what would be upsynced without
// sending anything. No-op entries are still pruned.
func (m *Manager) Preview(ctx context.Context, accountID string) (*PassReport, error) {
	return m.runPass(ctx, accountID, true)
}

func (m *Manager) runPass(ctx context.Context, accountID string, dryRun bool) (*PassReport, error) {
	if !m.HasAccount(accountID) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}

	mu := m.accountLock(accountID)
	if !mu.TryLock() {
		return nil, ErrPassAlreadyRunning
	}
	defer mu.Unlock()

	unlock, err := m.lockFile(accountID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	tStart := time.Now()
	m.status.start(accountID, tStart)

	report, err := m.pass(ctx, accountID, dryRun)
	tEnd := time.Now()
	if report != nil {
		report.Duration = tEnd.Sub(tStart)
	}
	m.status.finish(accountID, tEnd, report, err)
	if err != nil {
		return report, err
	}

	if report.Diagnostics.RecordsRead > 0 {
		m.log.Info("upsync pass",
			"account", accountID,
			"pass", report.Diagnostics.PassID,
			"records", report.Diagnostics.RecordsRead,
			"noOps", report.Diagnostics.NoOps,
			"surviving", report.Diagnostics.Surviving,
			"unresolved", len(report.Diagnostics.Unresolved),
			"requests", report.Requests,
			"upsynced", report.Upsynced,
			"retried", report.Retried,
			"dryRun", dryRun,
			"tsTotal", report.Duration,
		)
	}
	return report, nil
}

func (m *Manager) pass(ctx context.Context, accountID string, dryRun bool) (*PassReport, error) {
	result, err := m.engine.Compact(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("compact: %w", err)
	}

	report := &PassReport{
		AccountID:   accountID,
		DryRun:      dryRun,
		Diagnostics: result.Diagnostics,
	}
	if !result.HasChanges() || dryRun {
		return report, nil
	}

	var passErr error
	result.Batches.Each(func(dest upsync.Destination, _ []*upsync.AccumulatedChange) bool {
		for _, chunk := range result.Batches.Chunk(dest, m.cfg.BatchSize) {
			if err := ctx.Err(); err != nil {
				passErr = err
				return false
			}
			if err := m.upsyncChunk(ctx, report, dest, chunk); err != nil {
				passErr = err
				return false
			}
		}
		return true
	})
	return report, passErr
}

func (m *Manager) upsyncChunk(ctx context.Context, report *PassReport, dest upsync.Destination, chunk []*upsync.AccumulatedChange) error {
	req := &UpsyncRequest{
		AccountID:   report.AccountID,
		PassID:      report.Diagnostics.PassID,
		Destination: dest,
		Changes:     chunk,
	}
	report.Requests++

	outcome, err := m.upsyncer.Upsync(ctx, req)
	if err != nil {
		m.log.Warn("upsync request failed", "account", req.AccountID, "mailbox", dest, "items", len(chunk), "error", err)
		m.engine.RecordRetryNeeded(ctx, req.AccountID, chunk)
		report.Retried += len(chunk)
		return nil
	}

	succeeded, retry := splitOutcome(chunk, outcome)
	if err := m.engine.RecordSuccess(ctx, req.AccountID, succeeded); err != nil {
		return fmt.Errorf("record success: %w", err)
	}
	m.engine.RecordRetryNeeded(ctx, req.AccountID, retry)
	report.Upsynced += len(succeeded)
	report.Retried += len(retry)
	return nil
}

// splitOutcome partitions chunk into accepted changes and changes to retry.
func splitOutcome(chunk []*upsync.AccumulatedChange, outcome *UpsyncOutcome) (succeeded, retry []*upsync.AccumulatedChange) {
	if outcome == nil || len(outcome.Retry) == 0 {
		return chunk, nil
	}
	retrySet := mapset.NewThreadUnsafeSet(outcome.Retry...)
	for _, change := range chunk {
		if retrySet.Contains(change.ItemKey) {
			retry = append(retry, change)
		} else {
			succeeded = append(succeeded, change)
		}
	}
	return succeeded, retry
}

func (m *Manager) accountLock(accountID string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	mu, ok := m.locks[accountID]
	if !ok {
		mu = &sync.Mutex{}
		m.locks[accountID] = mu
	}
	return mu
}

func (m *Manager) lockFile(accountID string) (func(), error) {
	if err := utils.EnsureDir(m.cfg.LockDir); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	fl := flock.New(filepath.Join(m.cfg.LockDir, subjectTokenRe.ReplaceAllString(accountID, "_")+".lock"))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock account %s: %w", accountID, err)
	}
	if !locked {
		return nil, ErrAccountLocked
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			m.log.Warn("unlock account failed", "account", accountID, "error", err)
		}
	}, nil
}
