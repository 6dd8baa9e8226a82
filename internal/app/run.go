package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Run starts the poller, the ops server and the optional watcher, and
// blocks until ctx is cancelled or one of them fails. Shutdown stops the
// poller first, then drains outbound parts, then closes the server.
// The caller still owns Cleanup.
func (b *BuildResult) Run(ctx context.Context, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	// A load failure is logged by the poller; it baselines on first tick.
	_ = b.Poller.Init(ctx)

	ln, err := net.Listen("tcp", b.Config.BindAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", b.Config.BindAddr, err)
	}
	httpServer := &http.Server{
		Handler:           b.API.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	pollerDone := make(chan struct{})

	g.Go(func() error {
		defer close(pollerDone)
		return b.Poller.Run(gctx)
	})
	if b.Watcher != nil {
		g.Go(func() error {
			return b.Watcher.Run(gctx)
		})
	}
	g.Go(func() error {
		logger.Info("ops server listening", zap.String("addr", ln.Addr().String()))
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		<-pollerDone

		shutdownCtx, cancel := context.WithTimeout(context.Background(), b.Config.ShutdownTimeout)
		defer cancel()

		pending := b.Dispatcher.Pending()
		if err := b.Dispatcher.Close(shutdownCtx); err != nil {
			logger.Warn("outbound queue not drained before shutdown deadline",
				zap.Int("pending_at_shutdown", pending),
				zap.Error(err),
			)
		}
		b.API.Close()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", zap.Error(err))
			_ = httpServer.Close()
		}
		return nil
	})

	return g.Wait()
}
