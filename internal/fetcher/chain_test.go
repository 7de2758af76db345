package fetcher

import (
	"context"
	"errors"
	"testing"
)

func TestChainMissingConfig(t *testing.T) {
	c := NewChain(ChainOptions{}, noopLogger())
	_, err := c.FetchChainScores(context.Background(), "0x0000000000000000000000000000000000000001")
	var uerr *UpstreamError
	if !errors.As(err, &uerr) {
		t.Fatalf("missing rpc url should yield an UpstreamError, got %v", err)
	}

	c = NewChain(ChainOptions{RPCURL: "http://localhost"}, noopLogger())
	if _, err := c.FetchChainScores(context.Background(), "0x0000000000000000000000000000000000000001"); err == nil {
		t.Fatal("missing oracle address should error")
	}
}

func TestChainRejectsNonHexAsset(t *testing.T) {
	c := NewChain(ChainOptions{RPCURL: "http://localhost", OracleAddress: "0x0000000000000000000000000000000000000002"}, noopLogger())
	if _, err := c.FetchChainScores(context.Background(), "not-an-address"); err == nil {
		t.Fatal("non-hex asset should error before any RPC call")
	}
}
