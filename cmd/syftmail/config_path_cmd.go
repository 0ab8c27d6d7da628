package main

import (
	"fmt"
	"path/filepath"

	"github.com/openmined/syftmail/internal/client/config"
	"github.com/openmined/syftmail/internal/utils"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newConfigPathCmd())
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config-path",
		Short: "Print the resolved config file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath(cmd))
			return err
		},
	}
}

// resolveConfigPath honors, in order, the --config flag, SYFTMAIL_CONFIG_PATH,
// an existing config in a known location and finally the default path.
func resolveConfigPath(cmd *cobra.Command) string {
	if path := configPathFlag(cmd); path != "" {
		return path
	}

	candidates := []string{
		config.DefaultConfigPath,
		filepath.Join(home, ".config", "syftmail", "config.json"),
	}
	for _, candidate := range candidates {
		if utils.FileExists(candidate) {
			return candidate
		}
	}
	return config.DefaultConfigPath
}
