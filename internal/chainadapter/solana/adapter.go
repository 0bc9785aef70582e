// Package solana implements ChainAdapter for Solana (account-based, Ed25519).
package solana

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
	"github.com/veilswap/core/internal/chainadapter"
	"github.com/veilswap/core/internal/chainadapter/metrics"
	"github.com/veilswap/core/internal/chainadapter/rpc"
	"github.com/veilswap/core/internal/chainadapter/storage"
)

// SolanaAdapter implements ChainAdapter for the Solana blockchain.
type SolanaAdapter struct {
	rpcClient    rpc.RPCClient
	txStore      storage.TransactionStateStore
	chainID      string // "solana", "solana-devnet", "solana-testnet"
	builder      *TransactionBuilder
	rpcHelper    *RPCHelper
	feeEstimator *FeeEstimator
	metrics      metrics.ChainMetrics
}

// NewSolanaAdapter creates a new Solana ChainAdapter.
func NewSolanaAdapter(rpcClient rpc.RPCClient, txStore storage.TransactionStateStore, cluster string, metricsRecorder metrics.ChainMetrics) (*SolanaAdapter, error) {
	chainID := "solana"
	switch cluster {
	case "devnet":
		chainID = "solana-devnet"
	case "testnet":
		chainID = "solana-testnet"
	}

	if metricsRecorder != nil {
		rpcClient = rpc.NewMetricsRPCClient(rpcClient, metricsRecorder)
	}

	rpcHelper := NewRPCHelper(rpcClient)

	return &SolanaAdapter{
		rpcClient:    rpcClient,
		txStore:      txStore,
		chainID:      chainID,
		builder:      NewTransactionBuilder(),
		rpcHelper:    rpcHelper,
		feeEstimator: NewFeeEstimator(rpcHelper),
		metrics:      metricsRecorder,
	}, nil
}

// ChainID returns the unique identifier for this Solana cluster.
func (s *SolanaAdapter) ChainID() string {
	return s.chainID
}

// Capabilities returns the feature flags supported by the Solana adapter.
func (s *SolanaAdapter) Capabilities() *chainadapter.Capabilities {
	return &chainadapter.Capabilities{
		ChainID:               s.chainID,
		InterfaceVersion:      "1.0.0",
		SupportsEIP1559:       false,
		SupportsMemo:          true, // via SPL Memo program; not wired for plain SystemProgram transfers
		SupportsMultiSig:      false,
		SupportsFeeDelegation: false,
		SupportsWebSocket:     true,
		SupportsRBF:           false,
		MaxMemoLength:         0,
		MinConfirmations:      1, // Solana considers "finalized" after 1 confirmed slot is common enough for transfers
	}
}

// Build constructs an unsigned Solana transfer transaction from a standardized request.
func (s *SolanaAdapter) Build(ctx context.Context, req *chainadapter.TransactionRequest) (result *chainadapter.UnsignedTransaction, err error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordTransactionBuild(s.chainID, time.Since(start), err == nil)
		}
	}()

	blockhash, lastValidHeight, err := s.rpcHelper.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}

	priorityFee, err := s.rpcHelper.GetRecentPrioritizationFee(ctx)
	if err != nil {
		priorityFee = 0
	}

	unsigned, err := s.builder.Build(ctx, req, blockhash, lastValidHeight, priorityFee)
	if err != nil {
		return nil, err
	}

	unsigned.ChainID = s.chainID
	return unsigned, nil
}

// Estimate calculates fee estimates with confidence bounds for Solana.
func (s *SolanaAdapter) Estimate(ctx context.Context, req *chainadapter.TransactionRequest) (*chainadapter.FeeEstimate, error) {
	estimate, err := s.feeEstimator.Estimate(ctx, req)
	if err != nil {
		return nil, err
	}
	estimate.ChainID = s.chainID
	return estimate, nil
}

// Sign signs an unsigned Solana transaction using the provided signer.
//
// Contract:
// - MUST validate Signer.GetAddress() == UnsignedTransaction.From (fee payer)
// - Ed25519 signs the serialized message directly, not a hash of it
func (s *SolanaAdapter) Sign(ctx context.Context, unsigned *chainadapter.UnsignedTransaction, signer chainadapter.Signer) (result *chainadapter.SignedTransaction, err error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordTransactionSign(s.chainID, time.Since(start), err == nil)
		}
	}()

	if signer.GetAddress() != unsigned.From {
		return nil, chainadapter.NewNonRetryableError(
			chainadapter.ErrCodeInvalidAddress,
			fmt.Sprintf("address mismatch: signer controls %s, transaction from %s", signer.GetAddress(), unsigned.From),
			nil,
		)
	}

	if unsigned.ChainID != s.chainID {
		return nil, chainadapter.NewNonRetryableError(
			"ERR_CHAIN_MISMATCH",
			fmt.Sprintf("chain mismatch: unsigned tx for %s, adapter for %s", unsigned.ChainID, s.chainID),
			nil,
		)
	}

	if len(unsigned.SigningPayload) == 0 {
		return nil, chainadapter.NewNonRetryableError("ERR_INVALID_PAYLOAD", "SigningPayload is empty", nil)
	}

	signature, err := signer.Sign(unsigned.SigningPayload, unsigned.From)
	if err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_SIGNING_FAILED", fmt.Sprintf("signing failed: %v", err), err)
	}
	if len(signature) != 64 {
		return nil, chainadapter.NewNonRetryableError("ERR_SIGNING_FAILED", fmt.Sprintf("unexpected Ed25519 signature length: %d", len(signature)), nil)
	}

	// Wire format: compact-u16(signature count) || signatures || message
	serializedTx := make([]byte, 0, 1+64+len(unsigned.SigningPayload))
	serializedTx = append(serializedTx, 0x01) // 1 signature, fits in a single compact-u16 byte
	serializedTx = append(serializedTx, signature...)
	serializedTx = append(serializedTx, unsigned.SigningPayload...)

	txHash := base58EncodeSignature(signature)

	return &chainadapter.SignedTransaction{
		UnsignedTx:   unsigned,
		Signature:    signature,
		SignedBy:     signer.GetAddress(),
		TxHash:       txHash,
		SerializedTx: serializedTx,
		SignedAt:     unsigned.CreatedAt,
	}, nil
}

// Broadcast submits a signed Solana transaction to the cluster.
func (s *SolanaAdapter) Broadcast(ctx context.Context, signed *chainadapter.SignedTransaction) (result *chainadapter.BroadcastReceipt, err error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordTransactionBroadcast(s.chainID, time.Since(start), err == nil)
		}
	}()

	if signed == nil || len(signed.SerializedTx) == 0 {
		return nil, chainadapter.NewNonRetryableError("ERR_INVALID_INPUT", "signed transaction is empty", nil)
	}

	txHash := signed.TxHash

	if s.txStore != nil {
		if existing, getErr := s.txStore.Get(txHash); getErr == nil && existing != nil && existing.RetryCount > 0 {
			return &chainadapter.BroadcastReceipt{
				TxHash:      txHash,
				ChainID:     s.chainID,
				SubmittedAt: existing.LastRetry,
			}, nil
		}
	}

	base64Tx := encodeBase64(signed.SerializedTx)

	broadcastedSignature, err := s.rpcHelper.SendTransaction(ctx, base64Tx)
	if err != nil {
		if contains(err.Error(), "already") || contains(err.Error(), "This transaction has already been processed") {
			broadcastedSignature = txHash
		} else {
			return nil, err
		}
	}

	if broadcastedSignature != txHash {
		return nil, chainadapter.NewNonRetryableError(
			"ERR_HASH_MISMATCH",
			fmt.Sprintf("broadcasted signature %s doesn't match signed tx signature %s", broadcastedSignature, txHash),
			nil,
		)
	}

	if s.txStore != nil {
		now := time.Now()
		state := &storage.TxState{
			TxHash:     txHash,
			ChainID:    s.chainID,
			RawTx:      signed.SerializedTx,
			RetryCount: 1,
			FirstSeen:  now,
			LastRetry:  now,
			Status:     storage.TxStatusPending,
		}
		if existing, getErr := s.txStore.Get(txHash); getErr == nil && existing != nil {
			state.RetryCount = existing.RetryCount + 1
			state.FirstSeen = existing.FirstSeen
		}
		_ = s.txStore.Set(txHash, state)
	}

	return &chainadapter.BroadcastReceipt{
		TxHash:      txHash,
		ChainID:     s.chainID,
		SubmittedAt: time.Now(),
	}, nil
}

// QueryStatus retrieves the current status of a Solana transaction by signature.
func (s *SolanaAdapter) QueryStatus(ctx context.Context, txHash string) (*chainadapter.TransactionStatus, error) {
	status, err := s.rpcHelper.GetSignatureStatus(ctx, txHash)
	if err != nil {
		return nil, err
	}

	if status == nil {
		return &chainadapter.TransactionStatus{
			TxHash:        txHash,
			Status:        chainadapter.TxStatusPending,
			Confirmations: 0,
			UpdatedAt:     time.Now(),
		}, nil
	}

	var txStatus chainadapter.TxStatus
	var txErr *chainadapter.ChainError
	if len(status.Err) > 0 && string(status.Err) != "null" {
		txStatus = chainadapter.TxStatusFailed
		txErr = &chainadapter.ChainError{Code: "ERR_TX_FAILED", Message: string(status.Err)}
	} else {
		switch status.ConfirmationStatus {
		case "finalized":
			txStatus = chainadapter.TxStatusFinalized
		case "confirmed":
			txStatus = chainadapter.TxStatusConfirmed
		default:
			txStatus = chainadapter.TxStatusPending
		}
	}

	confirmations := 0
	if status.Confirmations != nil {
		confirmations = int(*status.Confirmations)
	}

	return &chainadapter.TransactionStatus{
		TxHash:        txHash,
		Status:        txStatus,
		Confirmations: confirmations,
		BlockNumber:   &status.Slot,
		UpdatedAt:     time.Now(),
		Error:         txErr,
	}, nil
}

// SubscribeStatus streams real-time Solana transaction status updates by polling.
//
// Contract:
// - MUST use HTTP polling (WebSocket signatureSubscribe can be added later)
// - MUST send initial status immediately
// - MUST close channel when context is cancelled
// - Poll interval: 1 second (Solana slot time ~400ms, confirmation ~1-2 slots)
func (s *SolanaAdapter) SubscribeStatus(ctx context.Context, txHash string) (<-chan *chainadapter.TransactionStatus, error) {
	statusChan := make(chan *chainadapter.TransactionStatus, 10)

	initialStatus, err := s.QueryStatus(ctx, txHash)
	if err != nil {
		close(statusChan)
		return statusChan, err
	}

	go func() {
		defer close(statusChan)

		select {
		case statusChan <- initialStatus:
		case <-ctx.Done():
			return
		}

		lastStatus := initialStatus.Status
		lastConfirmations := initialStatus.Confirmations
		pollInterval := 1 * time.Second
		maxPollInterval := 10 * time.Second
		errorBackoff := 1 * time.Second

		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				status, err := s.QueryStatus(ctx, txHash)
				if err != nil {
					ticker.Reset(errorBackoff)
					if errorBackoff < maxPollInterval {
						errorBackoff *= 2
					}
					continue
				}
				errorBackoff = 1 * time.Second

				if status.Status != lastStatus || status.Confirmations != lastConfirmations {
					lastStatus = status.Status
					lastConfirmations = status.Confirmations

					select {
					case statusChan <- status:
					case <-ctx.Done():
						return
					default:
					}

					if status.Status == chainadapter.TxStatusFinalized || status.Status == chainadapter.TxStatusFailed {
						ticker.Reset(maxPollInterval)
					}
				}
			}
		}
	}()

	return statusChan, nil
}

// Derive generates a Solana address from a key source and SLIP-10 derivation path.
//
// Contract:
// - MUST follow the Solana convention m/44'/501'/account'/0' (all hardened)
// - MUST return a base58-encoded Ed25519 public key
// - keySource MUST implement chainadapter.SolanaKeySource (Ed25519/SLIP-10
//   derivation is not possible from a watch-only secp256k1 xpub)
func (s *SolanaAdapter) Derive(ctx context.Context, keySource chainadapter.KeySource, path string) (*chainadapter.Address, error) {
	if err := validateSolanaPath(path); err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_INVALID_PATH", fmt.Sprintf("invalid Solana path: %s", err.Error()), err)
	}

	solanaSource, ok := keySource.(chainadapter.SolanaKeySource)
	if !ok {
		return nil, chainadapter.NewNonRetryableError(
			"ERR_UNSUPPORTED_KEY_SOURCE",
			"key source cannot derive Ed25519/SLIP-10 keys required for Solana",
			nil,
		)
	}

	pubKey, _, err := solanaSource.GetSolanaKeypair(path)
	if err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_KEY_DERIVATION", fmt.Sprintf("failed to derive Ed25519 key: %s", err.Error()), err)
	}

	address, err := pubKeyToBase58Address(pubKey)
	if err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_ADDRESS_ENCODING", fmt.Sprintf("failed to encode address: %s", err.Error()), err)
	}

	return &chainadapter.Address{
		Address:        address,
		ChainID:        s.chainID,
		DerivationPath: path,
		PublicKey:      pubKey,
		Format:         "base58-ed25519",
	}, nil
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func base58EncodeSignature(signature []byte) string {
	return base58.Encode(signature)
}

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
