package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/openmined/syftmail/internal/client/config"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newInitCmd())
}

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "init",
		Short:   "Write a config file from flags and environment",
		Example: "  syftmail init --accounts alice@example.com --nats nats://127.0.0.1:4222",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			path := configPathFlag(cmd)
			if path == "" {
				path = config.DefaultConfigPath
			}
			cmd.SilenceUsage = true
			return initConfig(cmd.OutOrStdout(), cfg, path, force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config file")
	return cmd
}

// initConfig saves cfg to path unless a config already exists there.
func initConfig(w io.Writer, cfg *config.Config, path string, force bool) error {
	existing, err := config.LoadClientConfig(path)
	switch {
	case err == nil && !force:
		fmt.Fprintln(w, "syftmail already initialized, use --force to overwrite")
		printConfig(w, existing)
		return nil
	case err != nil && !errors.Is(err, fs.ErrNotExist) && !force:
		return fmt.Errorf("existing config %s: %w", path, err)
	}

	cfg.Path = path
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Save(""); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Fprintln(w, green.Render("syftmail initialized"))
	printConfig(w, cfg)
	return nil
}

func printConfig(w io.Writer, cfg *config.Config) {
	nats := cfg.NatsURL
	if nats == "" {
		nats = gray.Render("none, changes stay local")
	}
	fmt.Fprintf(w, "  %-9s %s\n", "config", cyan.Render(cfg.Path))
	fmt.Fprintf(w, "  %-9s %s\n", "data dir", cyan.Render(cfg.DataDir))
	fmt.Fprintf(w, "  %-9s %s\n", "accounts", cyan.Render(strings.Join(cfg.Accounts, ", ")))
	fmt.Fprintf(w, "  %-9s %s\n", "nats", nats)
}
