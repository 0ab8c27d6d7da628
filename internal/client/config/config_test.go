package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/syftmail/internal/client/upsync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate_NormalizesAndDefaults(t *testing.T) {
	tmp := t.TempDir()
	cfg := &Config{
		DataDir:  tmp,
		Accounts: []string{" bob@example.com", "alice@example.com", "bob@example.com"},
		Path:     filepath.Join(tmp, "config.json"),
	}

	require.NoError(t, cfg.Validate())
	assert.True(t, filepath.IsAbs(cfg.DataDir))
	assert.True(t, filepath.IsAbs(cfg.Path))
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, cfg.Accounts)
	assert.Equal(t, DefaultUpsyncInterval, cfg.UpsyncInterval.Std())
	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)
	assert.Equal(t, DefaultConcurrency, cfg.Concurrency)
	assert.Equal(t, DefaultHTTPAddr, cfg.HTTPAddr)
	assert.Equal(t, upsync.DefaultJournalTable, cfg.LogTable)
	assert.Equal(t, filepath.Join(tmp, "mail.db"), cfg.DatabasePath())
	assert.Equal(t, filepath.Join(tmp, "locks"), cfg.LockDir())
}

func TestConfig_Validate_ErrorsOnInvalidInputs(t *testing.T) {
	tmp := t.TempDir()
	valid := func() *Config {
		return &Config{DataDir: tmp, Accounts: []string{"alice@example.com"}}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		err    error
	}{
		{name: "no data dir", mutate: func(c *Config) { c.DataDir = "" }, err: ErrNoDataDir},
		{name: "no accounts", mutate: func(c *Config) { c.Accounts = nil }, err: ErrNoAccounts},
		{name: "blank account", mutate: func(c *Config) { c.Accounts = []string{"  "} }, err: ErrBadAccount},
		{name: "account with slash", mutate: func(c *Config) { c.Accounts = []string{"a/b"} }, err: ErrBadAccount},
		{name: "bad http addr", mutate: func(c *Config) { c.HTTPAddr = "localhost" }, err: ErrBadHTTPAddr},
		{name: "bad nats scheme", mutate: func(c *Config) { c.NatsURL = "http://localhost:4222" }, err: ErrBadNatsURL},
		{name: "bad log table", mutate: func(c *Config) { c.LogTable = "log; drop" }, err: upsync.ErrInvalidTableName},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), tc.err)
		})
	}

	cfg := valid()
	cfg.NatsURL = "nats://127.0.0.1:4222"
	assert.NoError(t, cfg.Validate())
}

func TestConfig_SaveAndLoad_Roundtrip(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "nested", "config.json")

	cfg := &Config{
		DataDir:        tmp,
		Accounts:       []string{"alice@example.com"},
		UpsyncInterval: Duration(90 * time.Second),
		NatsURL:        "nats://127.0.0.1:4222",
		HTTPToken:      "secret", // should not persist
		Path:           path,
	}
	require.NoError(t, cfg.Validate())
	require.NoError(t, cfg.Save(""))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"upsync_interval": "1m30s"`)
	assert.NotContains(t, string(raw), "secret")

	loaded, err := LoadClientConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.DataDir, loaded.DataDir)
	assert.Equal(t, cfg.Accounts, loaded.Accounts)
	assert.Equal(t, 90*time.Second, loaded.UpsyncInterval.Std())
	assert.Equal(t, cfg.NatsURL, loaded.NatsURL)
	assert.Empty(t, loaded.HTTPToken)
	assert.Equal(t, path, loaded.Path)
}

func TestLoadClientConfig_Errors(t *testing.T) {
	_, err := LoadClientConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"upsync_interval": "soon"}`), 0o600))
	_, err = LoadClientConfig(path)
	assert.Error(t, err)
}
