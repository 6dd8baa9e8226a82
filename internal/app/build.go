package app

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ent0n29/imsgrelay/internal/config"
	"github.com/ent0n29/imsgrelay/internal/cursor"
	"github.com/ent0n29/imsgrelay/internal/dispatch"
	"github.com/ent0n29/imsgrelay/internal/events"
	"github.com/ent0n29/imsgrelay/internal/httpapi"
	"github.com/ent0n29/imsgrelay/internal/observability"
	"github.com/ent0n29/imsgrelay/internal/poller"
	"github.com/ent0n29/imsgrelay/internal/transcript"
	"github.com/ent0n29/imsgrelay/internal/watch"
)

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Poller     *poller.Poller
	Dispatcher *dispatch.Dispatcher
	Store      cursor.Store
	Metrics    *observability.Metrics
	Bus        *events.Bus
	// Watcher is nil unless RELAY_WATCH_PATH is set.
	Watcher *watch.Watcher
	// Brain names the resolved reply backend, for startup logs.
	Brain string

	// Cleanup should be called on shutdown to release external resources (DB, watcher, etc).
	Cleanup func() error
}

// Options override pieces of the graph; tests use them to avoid the
// default registry and real processes.
type Options struct {
	Metrics *observability.Metrics
	Sender  dispatch.Sender
	Fetcher transcript.Fetcher
	Store   cursor.Store
}

func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*BuildResult, error) {
	return BuildWith(ctx, cfg, logger, Options{})
}

func BuildWith(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*BuildResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.NewMetrics(cfg.MetricsNamespace)
	}
	bus := events.NewBus(256)

	var closers []func() error
	fail := func(err error) (*BuildResult, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	store := opts.Store
	if store == nil {
		var err error
		store, err = cursor.NewStore(ctx, cursor.Config{
			DatabaseURL: cfg.DatabaseURL,
			Path:        cfg.CursorPath,
			Name:        cfg.CursorName,
			Ephemeral:   cfg.DryRun && strings.TrimSpace(cfg.CursorPath) == "" && strings.TrimSpace(cfg.DatabaseURL) == "",
		})
		if err != nil {
			return fail(fmt.Errorf("cursor store init failed: %w", err))
		}
	}
	closers = append(closers, store.Close)

	fetcher := opts.Fetcher
	if fetcher == nil {
		f, closeFetcher, err := newFetcher(cfg)
		if err != nil {
			return fail(err)
		}
		fetcher = f
		if closeFetcher != nil {
			closers = append(closers, closeFetcher)
		}
	}

	pol, brain, err := newPolicy(cfg)
	if err != nil {
		return fail(err)
	}
	router := newRouter(cfg, pol, logger, metrics)

	sender := opts.Sender
	if sender == nil {
		if cfg.DryRun {
			sender = dispatch.NewLogSender(logger.With(zap.String("component", "sender")))
		} else {
			sender = dispatch.NewIMsgSender(cfg.IMsgCLIPath, cfg.IMsgService)
		}
	}
	dispatcher := dispatch.New(sender, dispatch.Options{
		Destination: cfg.Destination,
		PartDelay:   cfg.PartDelay,
		SendTimeout: cfg.SendTimeout,
		Logger:      logger,
		Metrics:     metrics,
		Bus:         bus,
	})

	p := poller.New(fetcher, store, router, dispatcher, poller.Options{
		Interval:    cfg.PollInterval,
		Window:      cfg.FetchWindow,
		MaxWindow:   cfg.FetchWindowMax,
		MaxPartSize: cfg.MaxPartSize,
		Logger:      logger,
		Metrics:     metrics,
		Bus:         bus,
	})

	var watcher *watch.Watcher
	if path := strings.TrimSpace(cfg.WatchPath); path != "" {
		watcher, err = watch.New(path, watch.DefaultDebounce, p.Trigger, logger)
		if err != nil {
			// The interval keeps the relay correct without the watcher.
			logger.Warn("change watcher disabled", zap.Error(err))
			watcher = nil
		} else {
			closers = append(closers, watcher.Close)
		}
	}

	api := httpapi.New(cfg, p, dispatcher, bus, metrics, logger)

	cleanup := func() error {
		var errs []string
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Poller:     p,
		Dispatcher: dispatcher,
		Store:      store,
		Metrics:    metrics,
		Bus:        bus,
		Watcher:    watcher,
		Brain:      brain,
		Cleanup:    cleanup,
	}, nil
}

func newFetcher(cfg config.Config) (transcript.Fetcher, func() error, error) {
	switch cfg.TranscriptSource {
	case "chatdb":
		f, err := transcript.OpenChatDB(cfg.ChatDBPath, cfg.ChatID, cfg.FetchTimeout)
		if err != nil {
			return nil, nil, fmt.Errorf("chat database init failed: %w", err)
		}
		return f, f.Close, nil
	case "imsg", "":
		return transcript.NewIMsgFetcher(cfg.IMsgCLIPath, cfg.ChatID, cfg.FetchTimeout), nil, nil
	default:
		return nil, nil, fmt.Errorf("invalid TRANSCRIPT_SOURCE: %q (expected imsg|chatdb)", cfg.TranscriptSource)
	}
}
