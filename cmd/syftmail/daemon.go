package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/openmined/syftmail/internal/client"
	"github.com/openmined/syftmail/internal/client/config"
	"github.com/openmined/syftmail/internal/version"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newDaemonCmd())
}

func newDaemonCmd() *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run periodic upsync passes and the local control plane",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd)
		},
	}
	addDaemonFlags(daemonCmd)
	return daemonCmd
}

func addDaemonFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("http-addr", "a", config.DefaultHTTPAddr, "Address to bind the local http server")
	cmd.Flags().StringP("http-token", "t", "", "Access token for the local http server")
}

func runDaemon(cmd *cobra.Command) error {
	if err := resetLogFile(logFile); err != nil {
		slog.Warn("reset log file", "error", err)
	}
	slog.Info(version.AppName, "build", version.Get())

	c, err := openClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	showHeader(cmd.ErrOrStderr())

	daemon, err := client.NewClientDaemon(c)
	if err != nil {
		return err
	}

	defer slog.Info("Bye!")
	if err := daemon.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("daemon start", "error", err)
		return err
	}
	return nil
}
