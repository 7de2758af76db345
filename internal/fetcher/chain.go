package fetcher

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"restake-risk-alerts/internal/risk"
)

// The oracle exposes per-asset risk readings in basis points (0..10000).
const riskOracleABIJSON = `[{"inputs":[{"internalType":"address","name":"asset","type":"address"}],"name":"getRiskScores","outputs":[{"internalType":"uint256","name":"slashingBps","type":"uint256"},{"internalType":"uint256","name":"contractBps","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var riskOracleABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(riskOracleABIJSON))
	if err != nil {
		panic("failed to parse risk oracle ABI: " + err.Error())
	}
	riskOracleABI = parsed
}

// ChainOptions parameterise the on-chain fetcher.
type ChainOptions struct {
	RPCURL        string
	OracleAddress string
	Timeout       time.Duration
}

// Chain reads slashing and smart-contract risk from the oracle contract via
// Ethereum RPC.
type Chain struct {
	opts      ChainOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewChain builds a new on-chain score fetcher.
func NewChain(opts ChainOptions, logger zerolog.Logger) *Chain {
	return &Chain{opts: opts, logger: logger.With().Str("component", "chain_fetcher").Logger()}
}

// FetchChainScores calls getRiskScores for the asset and converts basis
// points to [0,100] scores.
func (c *Chain) FetchChainScores(ctx context.Context, asset string) (ChainScores, error) {
	if c.opts.RPCURL == "" {
		return ChainScores{}, &UpstreamError{Provider: "risk_oracle", Err: errors.New("ethereum rpc url not configured")}
	}
	if c.opts.OracleAddress == "" {
		return ChainScores{}, &UpstreamError{Provider: "risk_oracle", Err: errors.New("oracle contract address not configured")}
	}
	if !common.IsHexAddress(asset) {
		return ChainScores{}, &UpstreamError{Provider: "risk_oracle", Err: errors.New("asset is not a hex address")}
	}

	timeout := c.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := c.getClient(ctx)
	if err != nil {
		return ChainScores{}, &UpstreamError{Provider: "risk_oracle", Err: err}
	}

	oracle := common.HexToAddress(c.opts.OracleAddress)
	payload, err := riskOracleABI.Pack("getRiskScores", common.HexToAddress(asset))
	if err != nil {
		return ChainScores{}, &UpstreamError{Provider: "risk_oracle", Err: err}
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &oracle, Data: payload}, nil)
	if err != nil {
		return ChainScores{}, &UpstreamError{Provider: "risk_oracle", Err: err}
	}

	outputs, err := riskOracleABI.Unpack("getRiskScores", res)
	if err != nil {
		return ChainScores{}, &UpstreamError{Provider: "risk_oracle", Err: err}
	}
	if len(outputs) != 2 {
		return ChainScores{}, &UpstreamError{Provider: "risk_oracle", Err: errors.New("unexpected getRiskScores response")}
	}

	slashing, err := bpsToScore(outputs[0])
	if err != nil {
		return ChainScores{}, &UpstreamError{Provider: "risk_oracle", Err: err}
	}
	contract, err := bpsToScore(outputs[1])
	if err != nil {
		return ChainScores{}, &UpstreamError{Provider: "risk_oracle", Err: err}
	}

	return ChainScores{Slashing: slashing, SmartContract: contract}, nil
}

func (c *Chain) getClient(ctx context.Context) (*ethclient.Client, error) {
	c.clientMux.Lock()
	defer c.clientMux.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	client, err := ethclient.DialContext(ctx, c.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}

func bpsToScore(output any) (decimal.Decimal, error) {
	value, ok := output.(*big.Int)
	if !ok {
		return decimal.Decimal{}, errors.New("failed to decode oracle output")
	}
	// 10000 bps == score 100
	return risk.Clamp(decimal.NewFromBigInt(value, -2)), nil
}

var _ ChainScoreFetcher = (*Chain)(nil)
