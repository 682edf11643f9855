package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hlsgate/hlsgate/internal/config"
	internalhttp "github.com/hlsgate/hlsgate/internal/http"
	"github.com/hlsgate/hlsgate/internal/http/handlers"
	"github.com/hlsgate/hlsgate/internal/metrics"
	"github.com/hlsgate/hlsgate/internal/observability"
	"github.com/hlsgate/hlsgate/internal/proxy"
	"github.com/hlsgate/hlsgate/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hlsgate server",
	Long: `Start the hlsgate HTTP server.

The server provides:
- The playlist, segment, and subtitle proxy endpoints
- REST API for proxy state and cache management
- Health check endpoint and Prometheus metrics
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("public-url", "", "Externally reachable base URL used in rewritten playlists")
	serveCmd.Flags().Bool("cache-disabled", false, "Disable the segment cache (fail open to network)")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("server.public_url", serveCmd.Flags().Lookup("public-url"))
	mustBindPFlag("cache.disabled", serveCmd.Flags().Lookup("cache-disabled"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.ConfigFileUsed())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Re-apply flag-bound values on top of the file/env configuration.
	cfg.Server.Host = viper.GetString("server.host")
	cfg.Server.Port = viper.GetInt("server.port")
	cfg.Server.PublicURL = viper.GetString("server.public_url")
	cfg.Cache.Disabled = viper.GetBool("cache.disabled")

	logger := observability.NewLogger(cfg.Logging)
	observability.SetDefault(logger)

	metrics.Register(prometheus.DefaultRegisterer)

	svc := proxy.New(cfg, logger)
	if err := svc.Start(); err != nil {
		return fmt.Errorf("starting proxy service: %w", err)
	}
	defer svc.Stop()

	server := internalhttp.NewServer(cfg.Server, logger, version.Version)
	handlers.RegisterAll(server.API(), server.Router(), svc, logger, version.Version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting hlsgate server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("version", version.Version),
	)

	return server.ListenAndServe(ctx)
}
