package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/openmined/syftmail/internal/client"
	"github.com/openmined/syftmail/internal/client/config"
	"github.com/openmined/syftmail/internal/utils"
	"github.com/openmined/syftmail/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// logFile is shared by the daemon and one-shot commands.
	logFile *os.File

	home, _        = os.UserHomeDir()
	configFileName = "config"
	envPrefix      = "SYFTMAIL"
)

var rootCmd = &cobra.Command{
	Use:     "syftmail",
	Short:   "Offline mail flag upsync",
	Version: version.Detailed(),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().SortFlags = false
	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultConfigPath, "syftmail config file")
	rootCmd.PersistentFlags().StringP("datadir", "d", config.DefaultDataDir, "Directory holding the mail database")
	rootCmd.PersistentFlags().StringSlice("accounts", nil, "Accounts to upsync (comma separated)")
	rootCmd.PersistentFlags().String("nats", "", "NATS url upsync batches are published to")
	addDaemonFlags(rootCmd)
}

func main() {
	// optional, values already in the environment win
	_ = godotenv.Load()

	file, err := openLogFile(config.DefaultLogFilePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()
	logFile = file

	stdoutHandler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      logLevel(),
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	})
	logInterceptor := utils.NewLogInterceptor(file)
	fileHandler := slog.NewTextHandler(logInterceptor, &slog.HandlerOptions{
		Level: slog.LevelDebug,
		// time is added by the log interceptor
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.Attr{}
			}
			return a
		},
	})

	logger := slog.New(utils.NewMultiLogHandler(stdoutHandler, fileHandler))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// openLogFile opens path for appending. Commands may run next to the daemon, so
// nothing but the daemon start ever truncates it.
func openLogFile(path string) (*os.File, error) {
	if err := utils.EnsureParent(path); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// resetLogFile empties the log at daemon start. Writers use O_APPEND, so
// their next write lands at the new end.
func resetLogFile(f *os.File) error {
	if f == nil {
		return nil
	}
	return f.Truncate(0)
}

func logLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(os.Getenv(envPrefix + "_LOG_LEVEL"))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// loadConfig merges the config file, the environment and the flags of cmd, in
// increasing order of precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()

	if path := configPathFlag(cmd); path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(filepath.Dir(config.DefaultConfigPath))
		v.AddConfigPath(filepath.Join(home, ".config", "syftmail"))
		v.SetConfigName(configFileName)
	}
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		var notFound viper.ConfigFileNotFoundError
		if !enoent && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	bindFlag(v, cmd, "data_dir", "datadir")
	bindFlag(v, cmd, "accounts", "accounts")
	bindFlag(v, cmd, "nats_url", "nats")
	bindFlag(v, cmd, "http_addr", "http-addr")
	bindFlag(v, cmd, "http_token", "http-token")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cfg := &config.Config{
		Path:           v.ConfigFileUsed(),
		DataDir:        v.GetString("data_dir"),
		Accounts:       splitAccounts(v.GetStringSlice("accounts")),
		UpsyncInterval: config.Duration(v.GetDuration("upsync_interval")),
		BatchSize:      v.GetInt("batch_size"),
		Concurrency:    v.GetInt("concurrency"),
		NatsURL:        v.GetString("nats_url"),
		NatsStream:     v.GetString("nats_stream"),
		HTTPAddr:       v.GetString("http_addr"),
		HTTPToken:      v.GetString("http_token"),
		LogTable:       v.GetString("log_table"),
		CORSOrigins:    v.GetStringSlice("cors_origins"),
	}
	if cfg.Path == "" {
		cfg.Path = config.DefaultConfigPath
	}
	return cfg, nil
}

func configPathFlag(cmd *cobra.Command) string {
	if f := cmd.Flag("config"); f != nil && f.Changed {
		return f.Value.String()
	}
	return os.Getenv(envPrefix + "_CONFIG_PATH")
}

// bindFlag binds key to the flag only when present on cmd, so defaults of
// unrelated commands never shadow the config file.
func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	if f := cmd.Flag(flag); f != nil {
		v.BindPFlag(key, f)
	}
}

// splitAccounts accepts both lists and comma separated values.
func splitAccounts(values []string) []string {
	var accounts []string
	for _, v := range values {
		for _, acct := range strings.Split(v, ",") {
			if acct = strings.TrimSpace(acct); acct != "" {
				accounts = append(accounts, acct)
			}
		}
	}
	return accounts
}

// openClient loads the config and opens the client. Callers must Close it.
func openClient(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	c, err := client.New(cmd.Context(), cfg)
	if err != nil {
		return nil, err
	}
	cmd.SilenceUsage = true
	return c, nil
}
