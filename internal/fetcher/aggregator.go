package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"restake-risk-alerts/internal/risk"
)

// AggregatorOptions parameterise the off-chain aggregator fetcher.
type AggregatorOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	APIKey    string
}

// Aggregator fetches liquidity and market risk readings from the analytics
// aggregator HTTP API.
type Aggregator struct {
	opts    AggregatorOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewAggregator constructs an aggregator fetcher.
func NewAggregator(opts AggregatorOptions, logger zerolog.Logger) *Aggregator {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Aggregator{
		opts:    opts,
		logger:  logger.With().Str("component", "aggregator_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// FetchMarketScores retrieves the asset's liquidity and market sub-scores.
func (a *Aggregator) FetchMarketScores(ctx context.Context, asset string) (MarketScores, error) {
	if a.baseURL == "" {
		return MarketScores{}, &UpstreamError{Provider: "aggregator", Err: errors.New("aggregator base url not configured")}
	}
	if asset == "" {
		return MarketScores{}, &UpstreamError{Provider: "aggregator", Err: errors.New("asset is required")}
	}

	endpoint := fmt.Sprintf("%s/v1/assets/%s/risk", a.baseURL, asset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return MarketScores{}, &UpstreamError{Provider: "aggregator", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(a.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "restakewatch/1.0")
	}
	if a.opts.APIKey != "" {
		req.Header.Set("X-Api-Key", a.opts.APIKey)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return MarketScores{}, &UpstreamError{Provider: "aggregator", Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return MarketScores{}, &UpstreamError{Provider: "aggregator", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return MarketScores{}, &UpstreamError{Provider: "aggregator", Err: parseHTTPError(resp.StatusCode, payload)}
	}

	var body riskResponse
	if err := json.Unmarshal(payload, &body); err != nil {
		return MarketScores{}, &UpstreamError{Provider: "aggregator", Err: err}
	}

	liquidity, err := decimal.NewFromString(body.LiquidityRisk)
	if err != nil {
		return MarketScores{}, &UpstreamError{Provider: "aggregator", Err: fmt.Errorf("parse liquidity risk: %w", err)}
	}
	market, err := decimal.NewFromString(body.MarketRisk)
	if err != nil {
		return MarketScores{}, &UpstreamError{Provider: "aggregator", Err: fmt.Errorf("parse market risk: %w", err)}
	}

	return MarketScores{
		Liquidity: risk.Clamp(liquidity),
		Market:    risk.Clamp(market),
	}, nil
}

type riskResponse struct {
	Asset         string `json:"asset"`
	LiquidityRisk string `json:"liquidityRisk"`
	MarketRisk    string `json:"marketRisk"`
	AsOf          int64  `json:"asOf"`
}

type errorResponse struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Errorf("aggregator error (%d): %s", status, apiErr.Description)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("aggregator error (%d): %s", status, apiErr.Message)
		}
		if apiErr.ErrorType != "" {
			return fmt.Errorf("aggregator error (%d): %s", status, apiErr.ErrorType)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("aggregator error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("aggregator error (%d)", status)
}

var _ MarketScoreFetcher = (*Aggregator)(nil)
