package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
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
	"restake-risk-alerts/internal/service"
	"restake-risk-alerts/internal/storage"
)

const testAsset = "0x1111111111111111111111111111111111111111"

type staticChain struct{ scores fetcher.ChainScores }

func (f staticChain) FetchChainScores(ctx context.Context, asset string) (fetcher.ChainScores, error) {
	return f.scores, nil
}

type staticMarket struct{ scores fetcher.MarketScores }

func (f staticMarket) FetchMarketScores(ctx context.Context, asset string) (fetcher.MarketScores, error) {
	return f.scores, nil
}

func newTestServer(t *testing.T) (*Server, *bridge.Tracker) {
	t.Helper()

	logger := zerolog.Nop()
	cfg := &config.Config{
		Assets: config.AssetsConfig{Watch: []string{testAsset}},
		Cache:  config.CacheConfig{SubScoreTTL: time.Minute},
		Risk: config.RiskConfig{
			WeightSlashing:      0.35,
			WeightLiquidity:     0.25,
			WeightSmartContract: 0.25,
			WeightMarket:        0.15,
			BandCritical:        90,
			BandHigh:            75,
			BandMedium:          50,
		},
	}

	engine := risk.NewEngine(cfg.Risk.Weights(), cfg.Risk.Bands())
	backend := storage.NewMemory()
	profiles := profile.NewStore(backend, profile.Defaults{
		MaxRiskScore:   decimal.NewFromInt(70),
		PreferredYield: decimal.NewFromInt(5),
	}, logger)
	manager := alerting.NewManager(engine, alerting.Options{Cooldown: time.Minute}, backend, logger)
	tracker := bridge.NewTracker(backend, 30*time.Minute, logger)
	hub := realtime.NewHub(8, logger)
	ws := realtime.NewWSServer(hub, logger)

	chain := staticChain{scores: fetcher.ChainScores{
		Slashing:      decimal.NewFromInt(20),
		SmartContract: decimal.NewFromInt(20),
	}}
	market := staticMarket{scores: fetcher.MarketScores{
		Liquidity: decimal.NewFromInt(20),
		Market:    decimal.NewFromInt(20),
	}}

	svc := service.New(cfg, engine, profiles, manager, tracker, hub, chain, market, backend, nil, logger)
	return New(config.ServerConfig{ListenAddr: ":0"}, svc, profiles, manager, tracker, ws, logger), tracker
}

func doRequest(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestGetRiskMetrics(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/risk/metrics/"+testAsset, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var m risk.Metrics
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !m.CompositeRisk.Equal(decimal.NewFromInt(20)) {
		t.Errorf("composite = %v, want 20", m.CompositeRisk)
	}
}

func TestPutProfileValidation(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPut, "/api/v1/risk/profile/"+testAsset, `{"max_risk_score": 150}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodPut, "/api/v1/risk/profile/"+testAsset, `{"max_risk_score": 55}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var p profile.Profile
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !p.MaxRiskScore.Equal(decimal.NewFromInt(55)) {
		t.Errorf("max risk score = %v, want 55", p.MaxRiskScore)
	}
}

func TestMarkUnknownAlertRead(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPut, "/api/v1/risk/alerts/nonexistent/read", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", rec.Code, rec.Body.String())
	}
}

func TestBridgeOperationLifecycleOverHTTP(t *testing.T) {
	s, tracker := newTestServer(t)

	body := `{"user":"0xabc","token":"stETH","amount":"12.5","source_chain":"ethereum","target_chain":"arbitrum"}`
	rec := doRequest(t, s, http.MethodPost, "/api/v1/bridge/operations", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var op bridge.Operation
	if err := json.Unmarshal(rec.Body.Bytes(), &op); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if op.Status != bridge.StatusInitiated {
		t.Errorf("status = %v, want initiated", op.Status)
	}

	if _, err := tracker.Confirm(context.Background(), op.ID); err == nil {
		t.Error("expected confirm from initiated to fail")
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/bridge/operations/"+op.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodGet, "/api/v1/bridge/operations/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", rec.Code, rec.Body.String())
	}
}

func TestBridgeOperationRejectsBadAmount(t *testing.T) {
	s, _ := newTestServer(t)

	body := `{"user":"0xabc","token":"stETH","amount":"-3","source_chain":"ethereum","target_chain":"arbitrum"}`
	rec := doRequest(t, s, http.MethodPost, "/api/v1/bridge/operations", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
