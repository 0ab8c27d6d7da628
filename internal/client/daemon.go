package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openmined/syftmail/internal/client/controlplane"
	"golang.org/x/sync/errgroup"
)

// ClientDaemon runs the periodic upsync loop next to the control plane.
type ClientDaemon struct {
	client *Client
	cps    *controlplane.ControlPlaneServer
}

func NewClientDaemon(c *Client) (*ClientDaemon, error) {
	cfg := c.Config()
	cps, err := controlplane.NewControlPlaneServer(&controlplane.CPServerConfig{
		Addr:      cfg.HTTPAddr,
		AuthToken: cfg.HTTPToken,
		Logger:    slog.Default(),
		Origins:   cfg.CORSOrigins,
	}, &controlplane.RouteDeps{
		Status:  c.Manager(),
		Runner:  c.Manager(),
		Pending: c.Journal(),
	})
	if err != nil {
		return nil, err
	}
	return &ClientDaemon{
		client: c,
		cps:    cps,
	}, nil
}

func (d *ClientDaemon) Start(ctx context.Context) error {
	slog.Info("client daemon start", "datadir", d.client.Config().DataDir, "accounts", d.client.Config().Accounts)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if err := d.client.Manager().Start(egCtx); err != nil {
			return fmt.Errorf("failed to start upsync manager: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		if err := d.cps.Start(egCtx); err != nil {
			return fmt.Errorf("failed to start control plane: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		slog.Info("received interrupt signal, stopping daemon")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return d.Stop(shutdownCtx)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("client daemon failure", "error", err)
		return err
	}

	slog.Info("client daemon stopped")
	return nil
}

func (d *ClientDaemon) Stop(ctx context.Context) error {
	d.client.Manager().Stop()
	if err := d.cps.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop control plane: %w", err)
	}
	return nil
}
