package alerting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"restake-risk-alerts/internal/risk"
)

// Alert is a deduplicated, human-consumable risk notification. Identity is the
// ID; IsRead is the only field a consumer may change after creation.
type Alert struct {
	ID             string          `json:"id"`
	Severity       risk.Severity   `json:"severity"`
	Category       risk.Category   `json:"category"`
	Title          string          `json:"title"`
	Message        string          `json:"message"`
	Score          decimal.Decimal `json:"score"`
	Threshold      decimal.Decimal `json:"threshold"`
	Timestamp      time.Time       `json:"timestamp"`
	IsRead         bool            `json:"is_read"`
	ActionRequired bool            `json:"action_required"`
	RelatedAssets  []string        `json:"related_assets"`
}

// ErrNotFound reports an unknown alert id.
var ErrNotFound = errors.New("alerting: alert not found")

// Store is the optional persistence seam for the alert audit trail.
type Store interface {
	InsertAlert(ctx context.Context, a Alert) error
	MarkAlertRead(ctx context.Context, id string) error
}

// Options tune alert creation policy.
type Options struct {
	// Cooldown is the minimum time between duplicate alerts for the same
	// (category, assets, severity) tuple while the earlier one is unread.
	Cooldown time.Duration
	// CategoryThresholds fire sub-score alerts independently of the
	// profile-driven composite threshold. Categories without an entry are
	// evaluated only through the composite.
	CategoryThresholds map[risk.Category]decimal.Decimal
}

type dedupKey struct {
	category risk.Category
	severity risk.Severity
	assets   string
}

type dedupEntry struct {
	id string
	at time.Time
}

// Manager turns threshold crossings into deduplicated alerts. Creation is a
// single conditional insert under one lock, so two concurrent evaluation
// passes cannot both create a duplicate.
type Manager struct {
	engine *risk.Engine
	opts   Options
	store  Store
	logger zerolog.Logger
	now    func() time.Time

	mu      sync.Mutex
	alerts  map[string]*Alert
	ordered []*Alert
	dedup   map[dedupKey]dedupEntry

	onAlert      func(Alert)
	onSuppressed func()
}

// NewManager builds an alert manager. store may be nil for in-memory runs.
func NewManager(engine *risk.Engine, opts Options, store Store, logger zerolog.Logger) *Manager {
	if opts.Cooldown <= 0 {
		opts.Cooldown = 10 * time.Minute
	}
	return &Manager{
		engine: engine,
		opts:   opts,
		store:  store,
		logger: logger.With().Str("component", "alert_manager").Logger(),
		now:    time.Now,
		alerts: make(map[string]*Alert),
		dedup:  make(map[dedupKey]dedupEntry),
	}
}

// OnAlert installs an observer invoked for every newly created alert.
func (m *Manager) OnAlert(fn func(Alert)) {
	m.onAlert = fn
}

// OnSuppressed installs a counter hook for cooldown suppressions.
func (m *Manager) OnSuppressed(fn func()) {
	m.onSuppressed = fn
}

// Evaluate runs one tick for an address: the composite score against the
// profile threshold, and each sub-score against its configured category
// threshold. Crossings inside the cooldown window of an existing unread alert
// with the same (category, assets, severity) are suppressed. Newly created
// alerts are returned.
func (m *Manager) Evaluate(ctx context.Context, address string, metrics risk.Metrics, maxRiskScore decimal.Decimal) []Alert {
	var created []Alert

	if risk.CrossesThreshold(metrics, maxRiskScore) {
		if a, ok := m.raise(ctx, address, risk.CategoryComposite, metrics.CompositeRisk, maxRiskScore); ok {
			created = append(created, a)
		}
	}

	for cat, threshold := range m.opts.CategoryThresholds {
		score := metrics.SubScore(cat)
		if score.LessThan(threshold) {
			continue
		}
		if a, ok := m.raise(ctx, address, cat, score, threshold); ok {
			created = append(created, a)
		}
	}

	return created
}

// raise performs the conditional insert for one crossing.
func (m *Manager) raise(ctx context.Context, address string, cat risk.Category, score, threshold decimal.Decimal) (Alert, bool) {
	severity := m.engine.Severity(score)
	assets := []string{address}
	key := dedupKey{category: cat, severity: severity, assets: fingerprint(assets)}
	now := m.now().UTC()

	m.mu.Lock()
	if entry, ok := m.dedup[key]; ok {
		if existing, live := m.alerts[entry.id]; live && !existing.IsRead && now.Sub(entry.at) < m.opts.Cooldown {
			m.mu.Unlock()
			if m.onSuppressed != nil {
				m.onSuppressed()
			}
			m.logger.Debug().Str("address", address).Str("category", cat.String()).Msg("duplicate alert suppressed inside cooldown")
			return Alert{}, false
		}
	}

	alert := Alert{
		ID:             uuid.NewString(),
		Severity:       severity,
		Category:       cat,
		Title:          renderTitle(cat, severity),
		Message:        renderMessage(address, cat, score, threshold),
		Score:          score,
		Threshold:      threshold,
		Timestamp:      now,
		ActionRequired: actionRequired(cat, severity),
		RelatedAssets:  assets,
	}
	stored := alert
	m.alerts[alert.ID] = &stored
	m.ordered = append(m.ordered, &stored)
	m.dedup[key] = dedupEntry{id: alert.ID, at: now}
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.InsertAlert(ctx, alert); err != nil {
			m.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("failed to persist alert")
		}
	}
	if m.onAlert != nil {
		m.onAlert(alert)
	}

	m.logger.Info().
		Str("alert_id", alert.ID).
		Str("address", address).
		Str("category", cat.String()).
		Str("severity", severity.String()).
		Str("score", score.String()).
		Msg("alert raised")
	return alert, true
}

// MarkRead marks an alert read. Marking an already-read alert is a no-op,
// never an error; an unknown id yields ErrNotFound.
func (m *Manager) MarkRead(ctx context.Context, id string) error {
	m.mu.Lock()
	alert, ok := m.alerts[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	already := alert.IsRead
	alert.IsRead = true
	m.mu.Unlock()

	if already {
		return nil
	}
	if m.store != nil {
		if err := m.store.MarkAlertRead(ctx, id); err != nil {
			m.logger.Error().Err(err).Str("alert_id", id).Msg("failed to persist read mark")
		}
	}
	return nil
}

// List returns alerts touching the given address: unread criticals first
// (newest first), then the remainder newest-first, truncated to limit.
func (m *Manager) List(address string, limit int) []Alert {
	m.mu.Lock()
	matched := make([]Alert, 0)
	for _, a := range m.ordered {
		if touches(a, address) {
			matched = append(matched, *a)
		}
	}
	m.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		iHot := !matched[i].IsRead && matched[i].Severity == risk.SeverityCritical
		jHot := !matched[j].IsRead && matched[j].Severity == risk.SeverityCritical
		if iHot != jHot {
			return iHot
		}
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

// Housekeep prunes dedup entries older than the cooldown so the index stays
// bounded. Alerts themselves are retained.
func (m *Manager) Housekeep() int {
	cutoff := m.now().UTC().Add(-m.opts.Cooldown)
	m.mu.Lock()
	defer m.mu.Unlock()

	pruned := 0
	for key, entry := range m.dedup {
		if entry.at.Before(cutoff) {
			delete(m.dedup, key)
			pruned++
		}
	}
	return pruned
}

// actionRequired is true exactly for high/critical severities tied to the
// slashing or smart-contract dimensions.
func actionRequired(cat risk.Category, severity risk.Severity) bool {
	if severity != risk.SeverityHigh && severity != risk.SeverityCritical {
		return false
	}
	return cat == risk.CategorySlashing || cat == risk.CategorySmartContract
}

func touches(a *Alert, address string) bool {
	for _, asset := range a.RelatedAssets {
		if asset == address {
			return true
		}
	}
	return false
}

func fingerprint(assets []string) string {
	sorted := make([]string, len(assets))
	copy(sorted, assets)
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}

func renderTitle(cat risk.Category, severity risk.Severity) string {
	return fmt.Sprintf("%s %s risk", strings.ToUpper(severity.String()[:1])+severity.String()[1:], cat)
}

func renderMessage(address string, cat risk.Category, score, threshold decimal.Decimal) string {
	return fmt.Sprintf("%s risk for %s reached %s (threshold %s)", cat, address, score.StringFixed(2), threshold.StringFixed(2))
}
