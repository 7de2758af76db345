// Package service wires fetching, scoring, persistence, alerting, and
// realtime fan-out behind the scheduler's periodic tasks.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"restake-risk-alerts/internal/alerting"
	"restake-risk-alerts/internal/bridge"
	"restake-risk-alerts/internal/cache"
	"restake-risk-alerts/internal/config"
	"restake-risk-alerts/internal/fetcher"
	"restake-risk-alerts/internal/metrics"
	"restake-risk-alerts/internal/profile"
	"restake-risk-alerts/internal/realtime"
	"restake-risk-alerts/internal/risk"
	"restake-risk-alerts/internal/scheduler"
	"restake-risk-alerts/internal/storage"
)

// ErrNoMetrics indicates no score has been computed yet for an asset.
var ErrNoMetrics = errors.New("service: no metrics for asset")

// Service orchestrates the scoring pipeline.
type Service struct {
	engine   *risk.Engine
	profiles *profile.Store
	manager  *alerting.Manager
	tracker  *bridge.Tracker
	hub      *realtime.Hub
	chain    fetcher.ChainScoreFetcher
	market   fetcher.MarketScoreFetcher
	backend  storage.Backend
	notifier alerting.Notifier
	logger   zerolog.Logger

	cache  *cache.Cache[risk.SubScores]
	ttl    time.Duration
	assets []string

	lockKey int64

	mu       sync.RWMutex
	lastGood map[string]risk.Metrics

	now func() time.Time
}

// New constructs the service and wires the component hooks into metrics and
// realtime fan-out.
func New(cfg *config.Config, engine *risk.Engine, profiles *profile.Store, manager *alerting.Manager, tracker *bridge.Tracker, hub *realtime.Hub, chain fetcher.ChainScoreFetcher, market fetcher.MarketScoreFetcher, backend storage.Backend, notifier alerting.Notifier, logger zerolog.Logger) *Service {
	s := &Service{
		engine:   engine,
		profiles: profiles,
		manager:  manager,
		tracker:  tracker,
		hub:      hub,
		chain:    chain,
		market:   market,
		backend:  backend,
		notifier: notifier,
		logger:   logger.With().Str("component", "service").Logger(),
		cache:    cache.New[risk.SubScores](),
		ttl:      cfg.Cache.SubScoreTTL,
		assets:   cfg.Assets.Watch,
		lockKey:  cfg.Scheduler.AdvisoryLockKey,
		lastGood: make(map[string]risk.Metrics),
		now:      time.Now,
	}

	s.cache.OnEvent(
		func() { metrics.CacheHits.Inc() },
		func() { metrics.CacheMisses.Inc() },
		func() { metrics.CacheCoalesced.Inc() },
	)
	manager.OnAlert(s.handleAlert)
	manager.OnSuppressed(func() { metrics.AlertsSuppressed.Inc() })
	hub.OnDrop(func() { metrics.RealtimeDropped.Inc() })
	tracker.OnTransition(s.handleBridgeTransition)

	return s
}

// RegisterTasks installs the periodic work on the scheduler.
func (s *Service) RegisterTasks(sched *scheduler.Scheduler, cfg config.SchedulerConfig) {
	sched.Register(scheduler.Task{
		Name:         "risk_refresh",
		Interval:     cfg.RiskInterval,
		Jitter:       cfg.Jitter,
		StartupDelay: cfg.StartupDelay,
		Run:          s.instrument("risk_refresh", s.RefreshAll),
	})
	sched.Register(scheduler.Task{
		Name:     "analytics",
		Interval: cfg.AnalyticsInterval,
		Jitter:   cfg.Jitter,
		Run:      s.instrument("analytics", s.PublishMarketSnapshot),
	})
	sched.Register(scheduler.Task{
		Name:     "bridge_sweep",
		Interval: cfg.BridgeSweepInterval,
		Run:      s.instrument("bridge_sweep", s.SweepBridgeOperations),
	})
	sched.Register(scheduler.Task{
		Name:     "housekeeping",
		Interval: cfg.HousekeepInterval,
		Run:      s.instrument("housekeeping", s.Housekeep),
	})
}

func (s *Service) instrument(name string, run func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		err := run(ctx)
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.TaskRuns.WithLabelValues(name, status).Inc()
		return err
	}
}

// RefreshAll rescores every watched asset. A second engine instance sharing
// the database yields via the advisory lock instead of double-fetching.
func (s *Service) RefreshAll(ctx context.Context) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Msg("skip refresh because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	var errs []error
	for _, asset := range s.assets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.RefreshAsset(ctx, asset); err != nil {
			s.logger.Error().Err(err).Str("asset", asset).Msg("refresh failed")
			errs = append(errs, fmt.Errorf("%s: %w", asset, err))
		}
	}
	return errors.Join(errs...)
}

// RefreshAsset fetches sub-scores (through the cache), blends the composite,
// persists a sample, publishes the update, and evaluates alert thresholds.
func (s *Service) RefreshAsset(ctx context.Context, asset string) (risk.Metrics, error) {
	start := s.now()

	sub, err := s.cache.GetOrFetch(ctx, asset, s.ttl, func(ctx context.Context) (risk.SubScores, error) {
		return s.fetchSubScores(ctx, asset)
	})
	if err != nil {
		metrics.RiskRefreshes.WithLabelValues("error").Inc()
		return risk.Metrics{}, err
	}

	m := s.engine.Score(sub, s.now().UTC())

	s.mu.Lock()
	s.lastGood[asset] = m
	s.mu.Unlock()

	s.persistSample(ctx, asset, m)

	s.hub.Publish(realtime.RiskTopic(asset), m)
	s.hub.Publish(realtime.TopicAVSUpdates, assetUpdate{Asset: asset, Metrics: m})

	p, err := s.profiles.Get(ctx, asset)
	if err != nil {
		s.logger.Error().Err(err).Str("asset", asset).Msg("load profile for alert evaluation")
		p = profile.Profile{Address: asset, MaxRiskScore: decimal.NewFromInt(100)}
	}
	s.manager.Evaluate(ctx, asset, m, p.MaxRiskScore)

	metrics.RiskRefreshes.WithLabelValues("success").Inc()
	metrics.RiskRefreshDuration.Observe(s.now().Sub(start).Seconds())

	s.logger.Info().
		Str("asset", asset).
		Str("composite", m.CompositeRisk.String()).
		Str("severity", s.engine.Severity(m.CompositeRisk).String()).
		Msg("asset rescored")

	return m, nil
}

// Metrics returns the latest computed snapshot for an asset. The last good
// value is served even after the cache entry expires; a refresh is attempted
// only when nothing has ever been computed.
func (s *Service) Metrics(ctx context.Context, asset string) (risk.Metrics, error) {
	s.mu.RLock()
	m, ok := s.lastGood[asset]
	s.mu.RUnlock()
	if ok {
		return m, nil
	}

	m, err := s.RefreshAsset(ctx, asset)
	if err != nil {
		return risk.Metrics{}, fmt.Errorf("%w: %s", ErrNoMetrics, asset)
	}
	return m, nil
}

// PublishMarketSnapshot pushes an aggregate view of all scored assets to the
// market data topic.
func (s *Service) PublishMarketSnapshot(ctx context.Context) error {
	metrics.RealtimeClients.Set(float64(s.hub.ClientCount()))

	s.mu.RLock()
	snapshot := make([]assetUpdate, 0, len(s.lastGood))
	for asset, m := range s.lastGood {
		snapshot = append(snapshot, assetUpdate{Asset: asset, Metrics: m})
	}
	s.mu.RUnlock()

	if len(snapshot) == 0 {
		return nil
	}
	s.hub.Publish(realtime.TopicMarketData, marketSnapshot{
		GeneratedAt: s.now().UTC(),
		Assets:      snapshot,
	})
	return nil
}

// SweepBridgeOperations fails pending operations older than the configured
// timeout.
func (s *Service) SweepBridgeOperations(ctx context.Context) error {
	expired, err := s.tracker.ExpirePending(ctx)
	if err != nil {
		return err
	}
	if expired > 0 {
		s.logger.Warn().Int("expired", expired).Msg("bridge operations timed out")
	}
	return nil
}

// Housekeep drops expired cache entries and stale alert dedup state.
func (s *Service) Housekeep(ctx context.Context) error {
	swept := s.cache.Sweep()
	pruned := s.manager.Housekeep()
	s.logger.Debug().Int("cache_swept", swept).Int("dedup_pruned", pruned).Msg("housekeeping done")
	return nil
}

func (s *Service) fetchSubScores(ctx context.Context, asset string) (risk.SubScores, error) {
	chainScores, err := s.chain.FetchChainScores(ctx, asset)
	if err != nil {
		return risk.SubScores{}, fmt.Errorf("fetch chain scores: %w", err)
	}

	marketScores, err := s.market.FetchMarketScores(ctx, asset)
	if err != nil {
		return risk.SubScores{}, fmt.Errorf("fetch market scores: %w", err)
	}

	return risk.SubScores{
		Slashing:      chainScores.Slashing,
		SmartContract: chainScores.SmartContract,
		Liquidity:     marketScores.Liquidity,
		Market:        marketScores.Market,
	}, nil
}

func (s *Service) persistSample(ctx context.Context, asset string, m risk.Metrics) {
	if s.backend == nil {
		return
	}
	sample := storage.RiskSample{
		Asset:         asset,
		SampledAt:     m.LastUpdate,
		Slashing:      m.SlashingRisk,
		Liquidity:     m.LiquidityRisk,
		SmartContract: m.SmartContractRisk,
		Market:        m.MarketRisk,
		Composite:     m.CompositeRisk,
		Severity:      s.engine.Severity(m.CompositeRisk).String(),
		CreatedAt:     s.now().UTC(),
	}
	if err := s.backend.InsertSample(ctx, sample); err != nil {
		s.logger.Error().Err(err).Str("asset", asset).Msg("failed to persist sample")
	}
}

func (s *Service) handleAlert(a alerting.Alert) {
	metrics.AlertsRaised.WithLabelValues(a.Severity.String()).Inc()

	for _, asset := range a.RelatedAssets {
		s.hub.Publish(realtime.RiskTopic(asset), a)
	}
	s.hub.Publish(realtime.TopicAVSUpdates, a)

	if s.notifier != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.notifier.Notify(ctx, a); err != nil {
			s.logger.Error().Err(err).Str("alert_id", a.ID).Msg("failed to dispatch alert")
		}
	}
}

func (s *Service) handleBridgeTransition(op bridge.Operation) {
	metrics.BridgeTransitions.WithLabelValues(op.Status.String()).Inc()
	s.hub.Publish(realtime.PortfolioTopic(op.User), op)
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.backend == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.backend.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

type assetUpdate struct {
	Asset   string       `json:"asset"`
	Metrics risk.Metrics `json:"metrics"`
}

type marketSnapshot struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Assets      []assetUpdate `json:"assets"`
}
