package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ahmednasser93/stockly-backend-sub002/internal/alert"
	"github.com/ahmednasser93/stockly-backend-sub002/internal/config"
	"github.com/ahmednasser93/stockly-backend-sub002/internal/dispatch"
	"github.com/ahmednasser93/stockly-backend-sub002/internal/kv"
	"github.com/ahmednasser93/stockly-backend-sub002/internal/logging"
	"github.com/ahmednasser93/stockly-backend-sub002/internal/pipeline"
	"github.com/ahmednasser93/stockly-backend-sub002/internal/pricesource"
	"github.com/ahmednasser93/stockly-backend-sub002/internal/scheduler"
	"github.com/ahmednasser93/stockly-backend-sub002/internal/statecache"
	"github.com/ahmednasser93/stockly-backend-sub002/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logging.Component(logger, "app")}
}

func (a *App) newPriceSource() pricesource.Source {
	return pricesource.NewHTTPSource(pricesource.HTTPOptions{
		BaseURL:       a.Config.PriceSource.BaseURL,
		APIKey:        a.Config.PriceSource.APIKey,
		UserAgent:     a.Config.PriceSource.UserAgent,
		Timeout:       a.Config.PriceSource.RequestTimeout,
		MaxConcurrent: a.Config.PriceSource.MaxConcurrent,
	}, a.Logger)
}

func (a *App) newDispatcher() *dispatch.Dispatcher {
	provider := dispatch.NewExpoProvider(dispatch.ExpoOptions{
		BaseURL:     a.Config.Push.BaseURL,
		AccessToken: a.Config.Push.AccessToken,
		Timeout:     a.Config.Push.RequestTimeout,
	}, a.Logger)

	return dispatch.New(provider, dispatch.Options{
		MaxAttempts: a.Config.Dispatch.MaxRetries,
		RetryDelays: a.Config.Dispatch.RetryDelays,
	}, a.Logger)
}

func (a *App) newStateCache(ctx context.Context) (*statecache.Cache, func(), error) {
	store := kv.NewRedisStore(kv.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
		Prefix:   a.Config.Redis.KeyPrefix,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := store.Ping(pingCtx)
	cancel()
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}

	cache := statecache.New(store, statecache.Options{
		SnapshotTTL: a.Config.Alerts.StateTTL,
	}, a.Logger)

	closer := func() {
		if err := store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	return cache, closer, nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) pipelineConfig() pipeline.Config {
	return pipeline.Config{
		Params: alert.Params{
			ChangeThresholdPct: decimal.NewFromFloat(a.Config.Alerts.ChangeThresholdPct),
			RenotifyCooldown:   a.Config.Alerts.RenotifyCooldown,
		},
		FlushInterval:      a.Config.Alerts.KVWriteInterval,
		MaxConcurrentSends: a.Config.Dispatch.MaxConcurrentSends,
		AdvisoryLockKey:    a.Config.Scheduler.AdvisoryLockKey,
	}
}

func (a *App) buildPipeline(ctx context.Context) (*pipeline.Pipeline, *statecache.Cache, func(), error) {
	if a.Config.PriceSource.BaseURL == "" {
		return nil, nil, nil, errors.New("price_source.base_url 必须配置")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	if store == nil {
		if closeStore != nil {
			closeStore()
		}
		return nil, nil, nil, errors.New("database not configured; cannot run alert pipeline")
	}

	cache, closeCache, err := a.newStateCache(ctx)
	if err != nil {
		if closeStore != nil {
			closeStore()
		}
		return nil, nil, nil, err
	}
	closer := func() {
		closeCache()
		if closeStore != nil {
			closeStore()
		}
	}

	pipe := pipeline.New(store, a.newPriceSource(), cache, a.newDispatcher(), store, store, a.pipelineConfig(), a.Logger)
	return pipe, cache, closer, nil
}

// Run executes the long-running evaluation service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pipe, cache, closer, err := a.buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer closer()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToInterval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	a.Logger.Info().
		Dur("interval", a.Config.Scheduler.Interval).
		Dur("kv_write_interval", a.Config.Alerts.KVWriteInterval).
		Msg("starting alert evaluation service")

	err = sched.Run(ctx, func(tickCtx context.Context, _ time.Time) error {
		_, runErr := pipe.Run(tickCtx)
		return runErr
	})

	// Queued state must out-live the process; force a final write-back with
	// a fresh context because ctx is already cancelled at this point.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 15*time.Second)
	flushed := cache.Flush(flushCtx, 0)
	flushCancel()
	if flushed > 0 {
		a.Logger.Info().Int("flushed", flushed).Msg("final state flush on shutdown")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("alert evaluation service stopped")
	return nil
}

// ExportOptions hold parameters for exporting the delivery history.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// DeliveriesOptions configure the deliveries command.
type DeliveriesOptions struct {
	Limit int
}

// RetryOptions configure manual delivery replay.
type RetryOptions struct {
	AttemptID string
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
