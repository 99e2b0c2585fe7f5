package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jdziat/harvest-tasks/pkg/api"
	"github.com/jdziat/harvest-tasks/pkg/kv"
	"github.com/jdziat/harvest-tasks/pkg/node"
	"github.com/jdziat/harvest-tasks/pkg/queue"
)

const shutdownTimeout = 10 * time.Second

var (
	serveAddr     string
	purgeInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long:  "Serves the task and PSTAR routes and advertises this node with a heartbeat until interrupted.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", envOr("HARVEST_ADDR", ":8080"), "listen address (env HARVEST_ADDR)")
	serveCmd.Flags().DurationVar(&purgeInterval, "purge-interval", time.Minute, "how often expired keys are removed from SQL stores")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()

	s, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	templates, err := loadTemplates()
	if err != nil {
		return err
	}

	client := queue.New(s, templates, queue.WithLogger(logger))
	server := api.NewServer(client, templates, api.WithLogger(logger), api.WithVersion(Version))

	info := node.LocalInfo(node.RoleAPI, Version)
	info.Port = listenPort(serveAddr)
	hb, err := node.NewHeartbeat(s, info, node.WithLogger(logger))
	if err != nil {
		return err
	}
	go func() { _ = hb.Run(ctx) }()

	if gs, ok := s.(*kv.GormStore); ok {
		go purgeExpired(ctx, gs, purgeInterval, logger)
	}

	httpServer := &http.Server{
		Addr:              serveAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api listening", "addr", serveAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down api")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// listenPort returns the port of a listen address, or 0 when it has none.
func listenPort(addr string) int {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return 0
	}
	return p
}

func purgeExpired(ctx context.Context, s *kv.GormStore, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeExpired(ctx)
			if err != nil {
				logger.Warn("failed to purge expired keys", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("purged expired keys", "count", n)
			}
		}
	}
}
