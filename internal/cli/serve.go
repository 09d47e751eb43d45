package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/avezina/docent/internal/cache"
	"github.com/avezina/docent/internal/server"
	"github.com/avezina/docent/internal/util"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP research API",
	Long: `Serve exposes the research pipeline over HTTP:

  POST /api/v1/research  answer a question with cited sources
  GET  /health           liveness check

Example:
  docent serve
  docent serve --port 9090`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "bind address (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	logger, err := util.NewLogger(verbose)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	pipeline, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}

	var answers cache.Cache
	if cfg.Server.CacheTTL > 0 {
		ttl := time.Duration(cfg.Server.CacheTTL) * time.Second
		answers = cache.NewLayeredCache(ttl, cfg.Server.CacheDir, ttl)
		logger.Info("answer cache enabled",
			zap.String("dir", cfg.Server.CacheDir),
			zap.Int("ttl_seconds", cfg.Server.CacheTTL))
	}

	srv := server.NewServer(pipeline, answers, cfg.Server, cfg.Preprocess, logger)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Stop(ctx)
}
