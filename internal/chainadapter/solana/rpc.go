// Package solana - RPC helper functions for the Solana adapter
package solana

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/veilswap/core/internal/chainadapter"
	"github.com/veilswap/core/internal/chainadapter/rpc"
)

// RPCHelper provides helper functions for Solana RPC operations.
type RPCHelper struct {
	client rpc.RPCClient
}

// NewRPCHelper creates a new Solana RPC helper.
func NewRPCHelper(client rpc.RPCClient) *RPCHelper {
	return &RPCHelper{client: client}
}

// GetLatestBlockhash retrieves the most recent blockhash, used as a
// transaction's nonce-equivalent (Solana has no account nonce; transactions
// instead reference a recent blockhash and expire ~150 blocks later).
func (r *RPCHelper) GetLatestBlockhash(ctx context.Context) (string, uint64, error) {
	result, err := r.client.Call(ctx, "getLatestBlockhash", []interface{}{
		map[string]interface{}{"commitment": "finalized"},
	})
	if err != nil {
		return "", 0, chainadapter.NewRetryableError(
			chainadapter.ErrCodeRPCUnavailable,
			fmt.Sprintf("getLatestBlockhash RPC failed: %s", err.Error()),
			nil,
			err,
		)
	}

	var resp struct {
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return "", 0, chainadapter.NewNonRetryableError(
			"ERR_RPC_PARSE",
			fmt.Sprintf("failed to parse getLatestBlockhash response: %s", err.Error()),
			err,
		)
	}

	return resp.Value.Blockhash, resp.Value.LastValidBlockHeight, nil
}

// GetBalance retrieves the lamport balance for an address.
func (r *RPCHelper) GetBalance(ctx context.Context, address string) (uint64, error) {
	result, err := r.client.Call(ctx, "getBalance", []interface{}{address})
	if err != nil {
		return 0, chainadapter.NewRetryableError(
			chainadapter.ErrCodeRPCUnavailable,
			fmt.Sprintf("getBalance RPC failed: %s", err.Error()),
			nil,
			err,
		)
	}

	var resp struct {
		Value uint64 `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return 0, chainadapter.NewNonRetryableError(
			"ERR_RPC_PARSE",
			fmt.Sprintf("failed to parse getBalance response: %s", err.Error()),
			err,
		)
	}

	return resp.Value, nil
}

// GetRecentPrioritizationFee retrieves the average prioritization fee (in
// micro-lamports per compute unit) observed over recent slots.
func (r *RPCHelper) GetRecentPrioritizationFee(ctx context.Context) (uint64, error) {
	result, err := r.client.Call(ctx, "getRecentPrioritizationFees", []interface{}{})
	if err != nil {
		return 0, chainadapter.NewRetryableError(
			chainadapter.ErrCodeRPCUnavailable,
			fmt.Sprintf("getRecentPrioritizationFees RPC failed: %s", err.Error()),
			nil,
			err,
		)
	}

	var samples []struct {
		Slot              uint64 `json:"slot"`
		PrioritizationFee uint64 `json:"prioritizationFee"`
	}
	if err := json.Unmarshal(result, &samples); err != nil {
		return 0, chainadapter.NewNonRetryableError(
			"ERR_RPC_PARSE",
			fmt.Sprintf("failed to parse getRecentPrioritizationFees response: %s", err.Error()),
			err,
		)
	}

	if len(samples) == 0 {
		return 0, nil
	}

	var sum uint64
	for _, s := range samples {
		sum += s.PrioritizationFee
	}
	return sum / uint64(len(samples)), nil
}

// SendTransaction broadcasts a base64-encoded signed transaction.
func (r *RPCHelper) SendTransaction(ctx context.Context, base64Tx string) (string, error) {
	result, err := r.client.Call(ctx, "sendTransaction", []interface{}{
		base64Tx,
		map[string]interface{}{
			"encoding":   "base64",
			"skipPreflight": false,
		},
	})
	if err != nil {
		return "", chainadapter.NewRetryableError(
			chainadapter.ErrCodeRPCUnavailable,
			fmt.Sprintf("sendTransaction RPC failed: %s", err.Error()),
			nil,
			err,
		)
	}

	var signature string
	if err := json.Unmarshal(result, &signature); err != nil {
		return "", chainadapter.NewNonRetryableError(
			"ERR_RPC_PARSE",
			fmt.Sprintf("failed to parse sendTransaction response: %s", err.Error()),
			err,
		)
	}

	return signature, nil
}

// SignatureStatus mirrors the Solana getSignatureStatuses RPC value entry.
type SignatureStatus struct {
	Slot               uint64  `json:"slot"`
	Confirmations      *uint64 `json:"confirmations"`
	ConfirmationStatus string  `json:"confirmationStatus"`
	Err                json.RawMessage `json:"err"`
}

// GetSignatureStatus retrieves the confirmation status of a transaction signature.
func (r *RPCHelper) GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error) {
	result, err := r.client.Call(ctx, "getSignatureStatuses", []interface{}{
		[]string{signature},
		map[string]interface{}{"searchTransactionHistory": true},
	})
	if err != nil {
		return nil, chainadapter.NewRetryableError(
			chainadapter.ErrCodeRPCUnavailable,
			fmt.Sprintf("getSignatureStatuses RPC failed: %s", err.Error()),
			nil,
			err,
		)
	}

	var resp struct {
		Value []*SignatureStatus `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, chainadapter.NewNonRetryableError(
			"ERR_RPC_PARSE",
			fmt.Sprintf("failed to parse getSignatureStatuses response: %s", err.Error()),
			err,
		)
	}

	if len(resp.Value) == 0 || resp.Value[0] == nil {
		return nil, nil
	}

	return resp.Value[0], nil
}

// GetSlot retrieves the current slot height, used to compute confirmation depth.
func (r *RPCHelper) GetSlot(ctx context.Context) (uint64, error) {
	result, err := r.client.Call(ctx, "getSlot", []interface{}{
		map[string]interface{}{"commitment": "confirmed"},
	})
	if err != nil {
		return 0, chainadapter.NewRetryableError(
			chainadapter.ErrCodeRPCUnavailable,
			fmt.Sprintf("getSlot RPC failed: %s", err.Error()),
			nil,
			err,
		)
	}

	var slot uint64
	if err := json.Unmarshal(result, &slot); err != nil {
		return 0, chainadapter.NewNonRetryableError(
			"ERR_RPC_PARSE",
			fmt.Sprintf("failed to parse getSlot response: %s", err.Error()),
			err,
		)
	}

	return slot, nil
}
