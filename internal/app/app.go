package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"restake-risk-alerts/internal/alerting"
	"restake-risk-alerts/internal/bridge"
	"restake-risk-alerts/internal/config"
	"restake-risk-alerts/internal/fetcher"
	"restake-risk-alerts/internal/profile"
	"restake-risk-alerts/internal/realtime"
	"restake-risk-alerts/internal/risk"
	"restake-risk-alerts/internal/scheduler"
	"restake-risk-alerts/internal/server"
	"restake-risk-alerts/internal/service"
	"restake-risk-alerts/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newEngine() *risk.Engine {
	return risk.NewEngine(a.Config.Risk.Weights(), a.Config.Risk.Bands())
}

func (a *App) newFetchers() (fetcher.ChainScoreFetcher, fetcher.MarketScoreFetcher) {
	chain := fetcher.NewChain(fetcher.ChainOptions{
		RPCURL:        a.Config.Ethereum.RPCURL,
		OracleAddress: a.Config.Ethereum.OracleAddress,
		Timeout:       a.Config.Ethereum.RequestTimeout,
	}, a.Logger)

	market := fetcher.NewAggregator(fetcher.AggregatorOptions{
		BaseURL:   a.Config.Aggregator.BaseURL,
		Timeout:   a.Config.Aggregator.RequestTimeout,
		UserAgent: a.Config.Aggregator.UserAgent,
		APIKey:    a.Config.Aggregator.APIKey,
	}, a.Logger)

	return chain, market
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

// openBackend returns a persistence backend: PostgreSQL when a DSN is
// configured, an in-memory store otherwise.
func (a *App) openBackend(ctx context.Context) (storage.Backend, error) {
	if a.Config.Database.DSN == "" {
		a.Logger.Warn().Msg("database.dsn not configured; state is held in memory only")
		return storage.NewMemory(), nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	return storage.NewStore(pool), nil
}

// openPgStore returns the PostgreSQL store for commands that require durable
// history, failing when no DSN is configured.
func (a *App) openPgStore(ctx context.Context) (*storage.Store, error) {
	if a.Config.Database.DSN == "" {
		return nil, errors.New("database not configured; set database.dsn")
	}
	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, err
	}
	return storage.NewStore(pool), nil
}

func (a *App) newComponents(backend storage.Backend, notifier alerting.Notifier, chain fetcher.ChainScoreFetcher, market fetcher.MarketScoreFetcher) (*service.Service, *profile.Store, *alerting.Manager, *bridge.Tracker, *realtime.Hub) {
	engine := a.newEngine()

	profiles := profile.NewStore(backend, profile.Defaults{
		MaxRiskScore:   decimal.NewFromFloat(a.Config.Risk.DefaultMaxRiskScore),
		PreferredYield: decimal.NewFromFloat(a.Config.Risk.DefaultPreferredYield),
	}, a.Logger)

	var cooldown time.Duration
	var thresholds map[risk.Category]decimal.Decimal
	if a.Config.Alerting.Enabled {
		cooldown = a.Config.Alerting.Cooldown
		thresholds = a.Config.Risk.CategoryThresholds()
	}
	manager := alerting.NewManager(engine, alerting.Options{
		Cooldown:           cooldown,
		CategoryThresholds: thresholds,
	}, backend, a.Logger)

	tracker := bridge.NewTracker(backend, a.Config.Bridge.PendingTimeout, a.Logger)
	hub := realtime.NewHub(a.Config.Realtime.ClientQueueSize, a.Logger)

	svc := service.New(a.Config, engine, profiles, manager, tracker, hub, chain, market, backend, notifier, a.Logger)

	return svc, profiles, manager, tracker, hub
}

// Run executes the long-running risk engine: scheduler, HTTP API, and
// realtime hub.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backend, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer backend.Close()

	notifier := a.newNotifier()
	chain, market := a.newFetchers()
	svc, profiles, manager, tracker, hub := a.newComponents(backend, notifier, chain, market)

	sched := scheduler.New(scheduler.Options{
		GracePeriod: a.Config.Scheduler.GracePeriod,
	}, a.Logger)
	svc.RegisterTasks(sched, a.Config.Scheduler)

	ws := realtime.NewWSServer(hub, a.Logger)
	srv := server.New(a.Config.Server, svc, profiles, manager, tracker, ws, a.Logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	sched.Start(ctx)
	a.Logger.Info().
		Int("assets", len(a.Config.Assets.Watch)).
		Str("listen", a.Config.Server.ListenAddr).
		Msg("risk engine started")

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
		cancel()
	}

	sched.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error().Err(err).Msg("http server shutdown failed")
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		a.Logger.Error().Err(runErr).Msg("service terminated with error")
		return runErr
	}

	a.Logger.Info().Msg("risk engine stopped")
	return nil
}

// ExportOptions hold parameters for exporting score history.
type ExportOptions struct {
	Asset     string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Asset  string
	Limit  int
	Alerts bool
}

// RescoreOptions configure the rescore job.
type RescoreOptions struct {
	Asset  string
	From   time.Time
	To     time.Time
	DryRun bool
}
