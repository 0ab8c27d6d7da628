package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/openmined/syftmail/internal/client/upsync"
	"github.com/openmined/syftmail/internal/utils"
)

var (
	home, _               = os.UserHomeDir()
	DefaultConfigPath     = filepath.Join(home, ".syftmail", "config.json")
	DefaultLogFilePath    = filepath.Join(home, ".syftmail", "logs", "syftmail.log")
	DefaultDataDir        = filepath.Join(home, ".syftmail", "data")
	DefaultHTTPAddr       = "localhost:7939"
	DefaultUpsyncInterval = 30 * time.Second
	DefaultBatchSize      = 50
	DefaultConcurrency    = 4
)

const databaseFileName = "mail.db"

var (
	ErrNoDataDir   = errors.New("data dir is required")
	ErrNoAccounts  = errors.New("at least one account is required")
	ErrBadAccount  = errors.New("invalid account id")
	ErrBadNatsURL  = errors.New("invalid nats url")
	ErrBadHTTPAddr = errors.New("invalid http addr")
)

// Duration is a time.Duration stored as text ("30s") in the config file.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

type Config struct {
	DataDir        string   `json:"data_dir"`
	Accounts       []string `json:"accounts"`
	UpsyncInterval Duration `json:"upsync_interval"`
	BatchSize      int      `json:"batch_size"`
	Concurrency    int      `json:"concurrency"`
	// NatsURL is the JetStream server upsync batches are handed to. Empty keeps changes local.
	NatsURL    string `json:"nats_url,omitempty"`
	NatsStream string `json:"nats_stream,omitempty"`
	HTTPAddr   string `json:"http_addr"`
	HTTPToken  string `json:"-"`

	// CORSOrigins limits browser access to the control plane. Empty allows any origin.
	CORSOrigins []string `json:"cors_origins,omitempty"`

	// LogTable is the change log table name.
	LogTable string `json:"log_table,omitempty"`
	Path     string `json:"-"`
}

// Validate normalizes paths and accounts, fills defaults and rejects invalid values.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return ErrNoDataDir
	}
	dataDir, err := utils.ResolvePath(c.DataDir)
	if err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	c.DataDir = dataDir

	if c.Path != "" {
		path, err := utils.ResolvePath(c.Path)
		if err != nil {
			return fmt.Errorf("config path: %w", err)
		}
		c.Path = path
	}

	accounts := make([]string, 0, len(c.Accounts))
	for _, acct := range c.Accounts {
		acct = strings.TrimSpace(acct)
		if acct == "" || strings.ContainsAny(acct, " \t\r\n/\\") {
			return fmt.Errorf("%w: %q", ErrBadAccount, acct)
		}
		accounts = append(accounts, acct)
	}
	slices.Sort(accounts)
	c.Accounts = slices.Compact(accounts)
	if len(c.Accounts) == 0 {
		return ErrNoAccounts
	}

	if c.UpsyncInterval <= 0 {
		c.UpsyncInterval = Duration(DefaultUpsyncInterval)
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
	if _, _, err := net.SplitHostPort(c.HTTPAddr); err != nil {
		return fmt.Errorf("%w %q: %w", ErrBadHTTPAddr, c.HTTPAddr, err)
	}

	if c.NatsURL != "" {
		u, err := url.Parse(c.NatsURL)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrBadNatsURL, err)
		}
		switch u.Scheme {
		case "nats", "tls", "ws", "wss":
		default:
			return fmt.Errorf("%w: unsupported scheme %q", ErrBadNatsURL, u.Scheme)
		}
	}

	if c.LogTable == "" {
		c.LogTable = upsync.DefaultJournalTable
	}
	if !upsync.ValidTableName(c.LogTable) {
		return fmt.Errorf("log table: %w: %q", upsync.ErrInvalidTableName, c.LogTable)
	}
	return nil
}

// DatabasePath is the sqlite file holding the mail store and the change log.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, databaseFileName)
}

// LockDir holds the per-account upsync lock files.
func (c *Config) LockDir() string {
	return filepath.Join(c.DataDir, "locks")
}

// Save writes the config as json to path, or to c.Path when path is empty.
func (c *Config) Save(path string) error {
	if path == "" {
		path = c.Path
	}
	if path == "" {
		return fmt.Errorf("config path not set")
	}
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func LoadClientConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.Path = path
	return &cfg, nil
}
