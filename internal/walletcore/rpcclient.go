// Package walletcore is the process-wide binding of spec §4.2's
// derive_address/sign_native_transfer contract onto the three concrete
// chain adapters (internal/chainadapter/{ethereum,bitcoin,solana}),
// the RPC multiplexer (§4.4), and a single MnemonicKeySource (§4.2.2).
// It is the one place SPEC_FULL's narrower AddressDeriver/Signer/
// BalanceChecker/ConfirmationChecker/GasQuoter interfaces meet the
// teacher's richer ChainAdapter interface.
package walletcore

import (
	"context"
	"encoding/json"

	"github.com/veilswap/core/internal/chainadapter/rpc"
	"github.com/veilswap/core/internal/rpcmux"
)

// muxRPCClient adapts an *rpcmux.Multiplexer to rpc.RPCClient, so the
// teacher's per-chain adapters read through the same failover/circuit-
// breaker-gated transport as every other RPC consumer (spec §4.4) rather
// than owning their own endpoint list.
type muxRPCClient struct {
	mux *rpcmux.Multiplexer
}

func newMuxRPCClient(mux *rpcmux.Multiplexer) rpc.RPCClient {
	return &muxRPCClient{mux: mux}
}

func (c *muxRPCClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	return c.mux.Call(ctx, method, params)
}

func (c *muxRPCClient) CallBatch(ctx context.Context, requests []rpc.RPCRequest) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(requests))
	for i, req := range requests {
		result, err := c.mux.Call(ctx, req.Method, req.Params)
		if err != nil {
			return out, err
		}
		out[i] = result
	}
	return out, nil
}

func (c *muxRPCClient) Close() error { return nil }
