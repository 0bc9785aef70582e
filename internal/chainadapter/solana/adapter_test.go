// Package solana - Integration tests for Solana adapter
package solana

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/veilswap/core/internal/chainadapter"
	"github.com/veilswap/core/internal/chainadapter/rpc"
	"github.com/veilswap/core/internal/chainadapter/storage"
)

// MockRPCClient implements rpc.RPCClient for testing.
type MockRPCClient struct {
	responses map[string]interface{}
}

func NewMockRPCClient() *MockRPCClient {
	return &MockRPCClient{responses: make(map[string]interface{})}
}

func (m *MockRPCClient) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if response, ok := m.responses[method]; ok {
		data, _ := json.Marshal(response)
		return data, nil
	}
	return nil, chainadapter.NewRetryableError(
		chainadapter.ErrCodeRPCUnavailable,
		"mock RPC method not configured: "+method,
		nil,
		nil,
	)
}

func (m *MockRPCClient) CallBatch(ctx context.Context, requests []rpc.RPCRequest) ([]json.RawMessage, error) {
	return nil, nil
}

func (m *MockRPCClient) Close() error { return nil }

func (m *MockRPCClient) SetResponse(method string, response interface{}) {
	m.responses[method] = response
}

// MockSolanaKeySource implements chainadapter.KeySource + chainadapter.SolanaKeySource.
type MockSolanaKeySource struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func NewMockSolanaKeySource() *MockSolanaKeySource {
	pub, priv, _ := ed25519.GenerateKey(nil)
	return &MockSolanaKeySource{pub: pub, priv: priv}
}

func (m *MockSolanaKeySource) Type() chainadapter.KeySourceType {
	return chainadapter.KeySourceMnemonic
}

func (m *MockSolanaKeySource) GetPublicKey(path string) ([]byte, error) {
	return m.pub, nil
}

func (m *MockSolanaKeySource) GetSolanaKeypair(path string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return m.pub, m.priv, nil
}

func testAddresses() (string, string) {
	_, fromPriv, _ := ed25519.GenerateKey(nil)
	fromPub := fromPriv.Public().(ed25519.PublicKey)
	_, toPriv, _ := ed25519.GenerateKey(nil)
	toPub := toPriv.Public().(ed25519.PublicKey)
	return base58.Encode(fromPub), base58.Encode(toPub)
}

func TestSolanaAdapter_Build(t *testing.T) {
	ctx := context.Background()

	mockRPC := NewMockRPCClient()
	mockRPC.SetResponse("getLatestBlockhash", map[string]interface{}{
		"value": map[string]interface{}{
			"blockhash":            base58.Encode(make([]byte, 32)),
			"lastValidBlockHeight": 1000,
		},
	})
	mockRPC.SetResponse("getRecentPrioritizationFees", []map[string]interface{}{
		{"slot": 1, "prioritizationFee": 100},
	})

	adapter, err := NewSolanaAdapter(mockRPC, nil, "mainnet", nil)
	if err != nil {
		t.Fatalf("failed to create adapter: %v", err)
	}

	fromAddr, toAddr := testAddresses()

	req := &chainadapter.TransactionRequest{
		From:     fromAddr,
		To:       toAddr,
		Asset:    "SOL",
		Amount:   big.NewInt(1_000_000_000), // 1 SOL
		FeeSpeed: chainadapter.FeeSpeedNormal,
	}

	unsigned, err := adapter.Build(ctx, req)
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	if unsigned == nil {
		t.Fatal("Build() returned nil unsigned transaction")
	}
	if unsigned.ChainID != "solana" {
		t.Errorf("expected ChainID 'solana', got '%s'", unsigned.ChainID)
	}
	if len(unsigned.SigningPayload) == 0 {
		t.Error("SigningPayload is empty")
	}
	if unsigned.Nonce != nil {
		t.Error("Solana transactions must not have an account nonce")
	}
}

func TestSolanaAdapter_Derive(t *testing.T) {
	ctx := context.Background()

	mockRPC := NewMockRPCClient()
	adapter, err := NewSolanaAdapter(mockRPC, nil, "mainnet", nil)
	if err != nil {
		t.Fatalf("failed to create adapter: %v", err)
	}

	keySource := NewMockSolanaKeySource()

	testCases := []struct {
		name        string
		path        string
		expectError bool
	}{
		{"valid path", "m/44'/501'/0'/0'", false},
		{"valid path higher account", "m/44'/501'/3'/0'", false},
		{"wrong coin type", "m/44'/60'/0'/0'", true},
		{"non-hardened change", "m/44'/501'/0'/0", true},
		{"malformed path", "m/44/501/0/0", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			address, err := adapter.Derive(ctx, keySource, tc.path)
			if tc.expectError {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Derive() failed: %v", err)
			}
			if address.ChainID != "solana" {
				t.Errorf("expected ChainID 'solana', got '%s'", address.ChainID)
			}
			if address.Format != "base58-ed25519" {
				t.Errorf("expected format 'base58-ed25519', got '%s'", address.Format)
			}
			decoded, err := base58.Decode(address.Address)
			if err != nil || len(decoded) != 32 {
				t.Errorf("expected a valid 32-byte base58 address, got %q", address.Address)
			}
		})
	}
}

func TestSolanaAdapter_Derive_RejectsNonSolanaKeySource(t *testing.T) {
	ctx := context.Background()
	mockRPC := NewMockRPCClient()
	adapter, err := NewSolanaAdapter(mockRPC, nil, "mainnet", nil)
	if err != nil {
		t.Fatalf("failed to create adapter: %v", err)
	}

	// A key source that only implements GetPublicKey (secp256k1), not SolanaKeySource.
	keySource := &plainKeySource{}

	_, err = adapter.Derive(ctx, keySource, "m/44'/501'/0'/0'")
	if err == nil {
		t.Fatal("expected error when key source cannot derive Ed25519 keys")
	}
}

type plainKeySource struct{}

func (p *plainKeySource) Type() chainadapter.KeySourceType { return chainadapter.KeySourceMnemonic }
func (p *plainKeySource) GetPublicKey(path string) ([]byte, error) {
	return make([]byte, 33), nil
}

func TestSolanaAdapter_Capabilities(t *testing.T) {
	mockRPC := NewMockRPCClient()
	adapter, err := NewSolanaAdapter(mockRPC, nil, "mainnet", nil)
	if err != nil {
		t.Fatalf("failed to create adapter: %v", err)
	}

	caps := adapter.Capabilities()
	if caps.ChainID != "solana" {
		t.Errorf("expected ChainID 'solana', got '%s'", caps.ChainID)
	}
	if caps.SupportsEIP1559 {
		t.Error("Solana should not support EIP-1559")
	}
	if caps.SupportsRBF {
		t.Error("Solana should not support RBF")
	}
	if !caps.SupportsWebSocket {
		t.Error("Solana should support WebSocket (signatureSubscribe)")
	}
}

func TestSolanaAdapter_Sign(t *testing.T) {
	ctx := context.Background()

	mockRPC := NewMockRPCClient()
	mockRPC.SetResponse("getLatestBlockhash", map[string]interface{}{
		"value": map[string]interface{}{
			"blockhash":            base58.Encode(make([]byte, 32)),
			"lastValidBlockHeight": 1000,
		},
	})
	mockRPC.SetResponse("getRecentPrioritizationFees", []map[string]interface{}{})

	adapter, err := NewSolanaAdapter(mockRPC, nil, "mainnet", nil)
	if err != nil {
		t.Fatalf("failed to create adapter: %v", err)
	}

	pub, priv, _ := ed25519.GenerateKey(nil)
	fromAddr := base58.Encode(pub)
	_, toAddr := testAddresses()

	req := &chainadapter.TransactionRequest{
		From:     fromAddr,
		To:       toAddr,
		Asset:    "SOL",
		Amount:   big.NewInt(500_000_000),
		FeeSpeed: chainadapter.FeeSpeedNormal,
	}

	unsigned, err := adapter.Build(ctx, req)
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}

	signer, err := NewEd25519Signer(pub, priv)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	signed, err := adapter.Sign(ctx, unsigned, signer)
	if err != nil {
		t.Fatalf("Sign() failed: %v", err)
	}
	if len(signed.Signature) != ed25519.SignatureSize {
		t.Errorf("expected a 64-byte Ed25519 signature, got %d bytes", len(signed.Signature))
	}
	valid, err := VerifySignature(unsigned.SigningPayload, signed.Signature, fromAddr)
	if err != nil {
		t.Fatalf("VerifySignature() failed: %v", err)
	}
	if !valid {
		t.Error("expected signature to verify against the signing payload")
	}
}

func TestSolanaAdapter_Sign_RejectsAddressMismatch(t *testing.T) {
	ctx := context.Background()

	mockRPC := NewMockRPCClient()
	mockRPC.SetResponse("getLatestBlockhash", map[string]interface{}{
		"value": map[string]interface{}{
			"blockhash":            base58.Encode(make([]byte, 32)),
			"lastValidBlockHeight": 1000,
		},
	})
	mockRPC.SetResponse("getRecentPrioritizationFees", []map[string]interface{}{})

	adapter, err := NewSolanaAdapter(mockRPC, nil, "mainnet", nil)
	if err != nil {
		t.Fatalf("failed to create adapter: %v", err)
	}

	fromAddr, toAddr := testAddresses()
	req := &chainadapter.TransactionRequest{
		From:     fromAddr,
		To:       toAddr,
		Asset:    "SOL",
		Amount:   big.NewInt(1),
		FeeSpeed: chainadapter.FeeSpeedNormal,
	}

	unsigned, err := adapter.Build(ctx, req)
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}

	otherPub, otherPriv, _ := ed25519.GenerateKey(nil)
	signer, err := NewEd25519Signer(otherPub, otherPriv)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	_, err = adapter.Sign(ctx, unsigned, signer)
	if err == nil {
		t.Fatal("expected error when signer address does not match From")
	}
}

func TestSolanaAdapter_Broadcast_Idempotent(t *testing.T) {
	ctx := context.Background()

	mockRPC := NewMockRPCClient()
	txStore := storage.NewMemoryTxStore()
	adapter, err := NewSolanaAdapter(mockRPC, txStore, "mainnet", nil)
	if err != nil {
		t.Fatalf("failed to create adapter: %v", err)
	}

	signature := base58.Encode(make([]byte, 64))
	mockRPC.SetResponse("sendTransaction", signature)

	signed := &chainadapter.SignedTransaction{
		TxHash:       signature,
		SerializedTx: []byte("mock_serialized_tx"),
		SignedAt:     time.Now(),
	}

	receipt, err := adapter.Broadcast(ctx, signed)
	if err != nil {
		t.Fatalf("Broadcast() failed: %v", err)
	}
	if receipt.TxHash != signature {
		t.Errorf("expected TxHash '%s', got '%s'", signature, receipt.TxHash)
	}

	state, err := txStore.Get(signature)
	if err != nil {
		t.Fatalf("failed to get state: %v", err)
	}
	if state.RetryCount != 1 {
		t.Errorf("expected RetryCount 1, got %d", state.RetryCount)
	}

	receipt2, err := adapter.Broadcast(ctx, signed)
	if err != nil {
		t.Fatalf("second Broadcast() failed: %v", err)
	}
	if receipt2.TxHash != signature {
		t.Errorf("expected same TxHash on retry, got '%s'", receipt2.TxHash)
	}

	state2, _ := txStore.Get(signature)
	if state2.RetryCount != 1 {
		t.Errorf("expected RetryCount 1 (unchanged due to idempotency), got %d", state2.RetryCount)
	}
}

func TestSolanaAdapter_QueryStatus(t *testing.T) {
	ctx := context.Background()

	mockRPC := NewMockRPCClient()
	adapter, err := NewSolanaAdapter(mockRPC, nil, "mainnet", nil)
	if err != nil {
		t.Fatalf("failed to create adapter: %v", err)
	}

	signature := base58.Encode(make([]byte, 64))

	testCases := []struct {
		name           string
		value          []map[string]interface{}
		expectedStatus chainadapter.TxStatus
	}{
		{
			name:           "not found",
			value:          []map[string]interface{}{nil},
			expectedStatus: chainadapter.TxStatusPending,
		},
		{
			name: "confirmed",
			value: []map[string]interface{}{
				{"slot": 100, "confirmations": 1, "confirmationStatus": "confirmed"},
			},
			expectedStatus: chainadapter.TxStatusConfirmed,
		},
		{
			name: "finalized",
			value: []map[string]interface{}{
				{"slot": 100, "confirmations": nil, "confirmationStatus": "finalized"},
			},
			expectedStatus: chainadapter.TxStatusFinalized,
		},
		{
			name: "failed",
			value: []map[string]interface{}{
				{"slot": 100, "confirmationStatus": "confirmed", "err": map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}},
			},
			expectedStatus: chainadapter.TxStatusFailed,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mockRPC.SetResponse("getSignatureStatuses", map[string]interface{}{"value": tc.value})

			status, err := adapter.QueryStatus(ctx, signature)
			if err != nil {
				t.Fatalf("QueryStatus() failed: %v", err)
			}
			if status.Status != tc.expectedStatus {
				t.Errorf("expected status %s, got %s", tc.expectedStatus, status.Status)
			}
		})
	}
}

func TestSolanaAdapter_SubscribeStatus(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mockRPC := NewMockRPCClient()
	adapter, err := NewSolanaAdapter(mockRPC, nil, "mainnet", nil)
	if err != nil {
		t.Fatalf("failed to create adapter: %v", err)
	}

	signature := base58.Encode(make([]byte, 64))
	mockRPC.SetResponse("getSignatureStatuses", map[string]interface{}{
		"value": []map[string]interface{}{nil},
	})

	statusChan, err := adapter.SubscribeStatus(ctx, signature)
	if err != nil {
		t.Fatalf("SubscribeStatus() failed: %v", err)
	}

	select {
	case status := <-statusChan:
		if status.Status != chainadapter.TxStatusPending {
			t.Errorf("expected initial status pending, got %s", status.Status)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for initial status")
	}

	cancel()

	select {
	case _, ok := <-statusChan:
		if ok {
			t.Error("channel should be closed after context cancellation")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after context cancellation")
	}
}
