package controlplane

import "log/slog"

// CPServerConfig contains configuration for the control plane server
type CPServerConfig struct {
	Addr      string       // Address to bind the control plane server
	AuthToken string       // Access token for the control plane server
	RateLimit int64        // Requests per second per client, 0 for the default
	Logger    *slog.Logger // Request logger, slog.Default() when nil
	Origins   []string     // CORS origins, all when empty
}
