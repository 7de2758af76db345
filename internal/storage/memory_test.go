package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"restake-risk-alerts/internal/alerting"
	"restake-risk-alerts/internal/bridge"
	"restake-risk-alerts/internal/profile"
)

func TestMemoryProfileRoundTrip(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, ok, err := m.GetProfile(ctx, "0xabc"); err != nil || ok {
		t.Fatalf("GetProfile on empty store = ok=%v err=%v", ok, err)
	}

	p := profile.Profile{
		Address:      "0xabc",
		MaxRiskScore: decimal.NewFromInt(60),
		UpdatedAt:    time.Now().UTC(),
	}
	if err := m.UpsertProfile(ctx, p); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}

	got, ok, err := m.GetProfile(ctx, "0xabc")
	if err != nil || !ok {
		t.Fatalf("GetProfile = ok=%v err=%v", ok, err)
	}
	if !got.MaxRiskScore.Equal(decimal.NewFromInt(60)) {
		t.Errorf("MaxRiskScore = %v, want 60", got.MaxRiskScore)
	}
}

func TestMemoryAlertRead(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.InsertAlert(ctx, alerting.Alert{ID: "a-1", Timestamp: time.Now()}); err != nil {
		t.Fatalf("InsertAlert: %v", err)
	}
	if err := m.MarkAlertRead(ctx, "a-1"); err != nil {
		t.Fatalf("MarkAlertRead: %v", err)
	}
	if err := m.MarkAlertRead(ctx, "missing"); err != alerting.ErrNotFound {
		t.Errorf("MarkAlertRead(missing) = %v, want ErrNotFound", err)
	}

	alerts, err := m.ListRecentAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("ListRecentAlerts: %v", err)
	}
	if len(alerts) != 1 || !alerts[0].IsRead {
		t.Errorf("alerts = %+v, want one read alert", alerts)
	}
}

func TestMemoryOperationsByStatus(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"op-1", "op-2", "op-3"} {
		op := bridge.Operation{
			ID:        id,
			Status:    bridge.StatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if id == "op-2" {
			op.Status = bridge.StatusConfirmed
		}
		if err := m.InsertOperation(ctx, op); err != nil {
			t.Fatalf("InsertOperation(%s): %v", id, err)
		}
	}

	pending, err := m.ListOperationsByStatus(ctx, bridge.StatusPending)
	if err != nil {
		t.Fatalf("ListOperationsByStatus: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "op-1" || pending[1].ID != "op-3" {
		t.Errorf("pending = %+v, want op-1 then op-3", pending)
	}

	if err := m.UpdateOperation(ctx, bridge.Operation{ID: "missing"}, bridge.StatusPending); err != bridge.ErrNotFound {
		t.Errorf("UpdateOperation(missing) = %v, want ErrNotFound", err)
	}
}

func TestMemoryUpdateOperationGuardsStatus(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	op := bridge.Operation{ID: "op-1", Status: bridge.StatusFailed, CreatedAt: time.Now()}
	if err := m.InsertOperation(ctx, op); err != nil {
		t.Fatalf("InsertOperation: %v", err)
	}

	op.Status = bridge.StatusConfirmed
	if err := m.UpdateOperation(ctx, op, bridge.StatusPending); err != bridge.ErrConflict {
		t.Fatalf("UpdateOperation with stale from = %v, want ErrConflict", err)
	}

	got, ok, err := m.GetOperation(ctx, "op-1")
	if err != nil || !ok {
		t.Fatalf("GetOperation = ok=%v err=%v", ok, err)
	}
	if got.Status != bridge.StatusFailed {
		t.Errorf("status = %v, want failed to survive the stale write", got.Status)
	}
}

func TestMemorySampleHistory(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		sample := RiskSample{
			Asset:     "0xdef",
			SampledAt: base.Add(time.Duration(i) * time.Minute),
			Composite: decimal.NewFromInt(int64(40 + i)),
			Severity:  "low",
		}
		if err := m.InsertSample(ctx, sample); err != nil {
			t.Fatalf("InsertSample: %v", err)
		}
	}

	window, err := m.ListSamplesBetween(ctx, "0xdef", base.Add(time.Minute), base.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("ListSamplesBetween: %v", err)
	}
	if len(window) != 2 {
		t.Fatalf("window = %d samples, want 2", len(window))
	}

	recent, err := m.ListRecentSamples(ctx, "0xdef", 2)
	if err != nil {
		t.Fatalf("ListRecentSamples: %v", err)
	}
	if len(recent) != 2 || !recent[0].SampledAt.After(recent[1].SampledAt) {
		t.Errorf("recent = %+v, want 2 newest-first samples", recent)
	}

	if err := m.UpdateSampleScore(ctx, "0xdef", base, decimal.NewFromInt(77), "high"); err != nil {
		t.Fatalf("UpdateSampleScore: %v", err)
	}
	updated, _ := m.ListSamplesBetween(ctx, "0xdef", base, base.Add(time.Second))
	if len(updated) != 1 || !updated[0].Composite.Equal(decimal.NewFromInt(77)) || updated[0].Severity != "high" {
		t.Errorf("updated sample = %+v, want composite 77 severity high", updated)
	}

	if err := m.UpdateSampleScore(ctx, "0xdef", base.Add(time.Hour), decimal.Zero, "low"); err != ErrSampleNotFound {
		t.Errorf("UpdateSampleScore(missing) = %v, want ErrSampleNotFound", err)
	}
}
