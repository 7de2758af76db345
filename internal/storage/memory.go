package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"restake-risk-alerts/internal/alerting"
	"restake-risk-alerts/internal/bridge"
	"restake-risk-alerts/internal/profile"
)

// Memory is an in-process Backend. It backs DSN-less runs (simulations, local
// development) and tests. Advisory locks always succeed since there is no
// second process to contend with.
type Memory struct {
	mu       sync.Mutex
	profiles map[string]profile.Profile
	alerts   []alerting.Alert
	ops      map[string]bridge.Operation
	samples  map[string][]RiskSample
}

// NewMemory builds an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		profiles: make(map[string]profile.Profile),
		ops:      make(map[string]bridge.Operation),
		samples:  make(map[string][]RiskSample),
	}
}

// Close is a no-op.
func (m *Memory) Close() {}

// TryAdvisoryLock always acquires; single-process backends have no peers.
func (m *Memory) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	return func() {}, true, nil
}

func (m *Memory) GetProfile(ctx context.Context, address string) (profile.Profile, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[address]
	return p, ok, nil
}

func (m *Memory) UpsertProfile(ctx context.Context, p profile.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.Address] = p
	return nil
}

func (m *Memory) InsertAlert(ctx context.Context, a alerting.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
	return nil
}

func (m *Memory) MarkAlertRead(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.alerts {
		if m.alerts[i].ID == id {
			m.alerts[i].IsRead = true
			return nil
		}
	}
	return alerting.ErrNotFound
}

func (m *Memory) ListRecentAlerts(ctx context.Context, limit int) ([]alerting.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]alerting.Alert, len(m.alerts))
	copy(out, m.alerts)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) InsertOperation(ctx context.Context, op bridge.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ops[op.ID] = op
	return nil
}

func (m *Memory) GetOperation(ctx context.Context, id string) (bridge.Operation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[id]
	return op, ok, nil
}

func (m *Memory) UpdateOperation(ctx context.Context, op bridge.Operation, from bridge.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.ops[op.ID]
	if !ok {
		return bridge.ErrNotFound
	}
	if cur.Status != from {
		return bridge.ErrConflict
	}
	m.ops[op.ID] = op
	return nil
}

func (m *Memory) ListOperationsByStatus(ctx context.Context, status bridge.Status) ([]bridge.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]bridge.Operation, 0)
	for _, op := range m.ops {
		if op.Status == status {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) InsertSample(ctx context.Context, sample RiskSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sample.CreatedAt.IsZero() {
		sample.CreatedAt = time.Now().UTC()
	}
	m.samples[sample.Asset] = append(m.samples[sample.Asset], sample)
	return nil
}

func (m *Memory) ListSamplesBetween(ctx context.Context, asset string, from, to time.Time) ([]RiskSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]RiskSample, 0)
	for _, s := range m.samples[asset] {
		if !s.SampledAt.Before(from) && s.SampledAt.Before(to) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SampledAt.Before(out[j].SampledAt)
	})
	return out, nil
}

func (m *Memory) ListRecentSamples(ctx context.Context, asset string, limit int) ([]RiskSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]RiskSample, len(m.samples[asset]))
	copy(out, m.samples[asset])
	sort.Slice(out, func(i, j int) bool {
		return out[i].SampledAt.After(out[j].SampledAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpdateSampleScore(ctx context.Context, asset string, sampledAt time.Time, composite decimal.Decimal, severity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.samples[asset]
	for i := range list {
		if list[i].SampledAt.Equal(sampledAt) {
			list[i].Composite = composite
			list[i].Severity = severity
			return nil
		}
	}
	return ErrSampleNotFound
}

func (m *Memory) CountSamples(ctx context.Context, asset string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.samples[asset])), nil
}
