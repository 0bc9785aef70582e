// Package solana - Transaction builder implementation
package solana

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/veilswap/core/internal/chainadapter"
)

// BaseFeeLamports is the fixed per-signature fee Solana charges (5000 lamports),
// independent of compute units consumed.
const BaseFeeLamports = 5000

// TransactionBuilder builds Solana transfer transactions from TransactionRequest.
type TransactionBuilder struct{}

// NewTransactionBuilder creates a new Solana transaction builder.
func NewTransactionBuilder() *TransactionBuilder {
	return &TransactionBuilder{}
}

// Build constructs an unsigned Solana SystemProgram.transfer transaction.
//
// Solana has no UTXO model and no account nonce; the transaction instead
// references a recent blockhash, which expires after ~150 slots (roughly
// one minute), and fee payer + all signers must pre-exist as accounts.
func (tb *TransactionBuilder) Build(
	ctx context.Context,
	req *chainadapter.TransactionRequest,
	recentBlockhash string,
	lastValidBlockHeight uint64,
	priorityFeeMicroLamports uint64,
) (*chainadapter.UnsignedTransaction, error) {
	if err := tb.validateRequest(req); err != nil {
		return nil, err
	}

	fromPub, err := solanago.PublicKeyFromBase58(req.From)
	if err != nil {
		return nil, chainadapter.NewNonRetryableError(
			chainadapter.ErrCodeInvalidAddress,
			fmt.Sprintf("invalid from address: %s", req.From),
			err,
		)
	}

	toPub, err := solanago.PublicKeyFromBase58(req.To)
	if err != nil {
		return nil, chainadapter.NewNonRetryableError(
			chainadapter.ErrCodeInvalidAddress,
			fmt.Sprintf("invalid to address: %s", req.To),
			err,
		)
	}

	blockhash, err := solanago.HashFromBase58(recentBlockhash)
	if err != nil {
		return nil, chainadapter.NewNonRetryableError(
			"ERR_INVALID_BLOCKHASH",
			fmt.Sprintf("invalid recent blockhash: %s", recentBlockhash),
			err,
		)
	}

	lamports := req.Amount.Uint64()

	instructions := []solanago.Instruction{
		system.NewTransferInstruction(lamports, fromPub, toPub).Build(),
	}

	tx, err := solanago.NewTransaction(instructions, blockhash, solanago.TransactionPayer(fromPub))
	if err != nil {
		return nil, chainadapter.NewNonRetryableError(
			chainadapter.ErrCodeInvalidTransaction,
			"failed to build transaction",
			err,
		)
	}

	msgBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, chainadapter.NewNonRetryableError(
			chainadapter.ErrCodeInvalidTransaction,
			"failed to serialize transaction message",
			err,
		)
	}

	txID := tb.generateTxID(msgBytes)
	fee := big.NewInt(BaseFeeLamports)

	unsigned := &chainadapter.UnsignedTransaction{
		ID:             txID,
		ChainID:        "solana", // overridden by adapter
		From:           req.From,
		To:             req.To,
		Amount:         req.Amount,
		Fee:            fee,
		Nonce:          nil, // Solana has no account nonce
		SigningPayload: msgBytes,
		HumanReadable:  tb.createHumanReadable(req, recentBlockhash, fee),
		ChainSpecific: map[string]interface{}{
			"recent_blockhash":            recentBlockhash,
			"last_valid_block_height":     lastValidBlockHeight,
			"lamports":                    lamports,
			"priority_fee_micro_lamports": priorityFeeMicroLamports,
		},
		CreatedAt: time.Now(),
	}

	return unsigned, nil
}

func (tb *TransactionBuilder) validateRequest(req *chainadapter.TransactionRequest) error {
	if req.From == "" {
		return chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress, "from address is required", nil)
	}
	if req.To == "" {
		return chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress, "to address is required", nil)
	}
	if req.Amount == nil || req.Amount.Cmp(big.NewInt(0)) <= 0 {
		return chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAmount, "amount must be positive", nil)
	}
	if req.Asset != "SOL" && req.Asset != "solana" {
		return chainadapter.NewNonRetryableError(
			chainadapter.ErrCodeUnsupportedAsset,
			fmt.Sprintf("unsupported asset: %s", req.Asset),
			nil,
		)
	}
	return nil
}

// generateTxID derives a deterministic pre-signature identifier from the
// message bytes, so the same request always maps to the same ID before a
// signature (and therefore the final transaction hash) exists.
func (tb *TransactionBuilder) generateTxID(msgBytes []byte) string {
	hash := sha256.Sum256(msgBytes)
	return hex.EncodeToString(hash[:])
}

func (tb *TransactionBuilder) createHumanReadable(req *chainadapter.TransactionRequest, recentBlockhash string, fee *big.Int) string {
	return fmt.Sprintf(`{
  "from": "%s",
  "to": "%s",
  "amount": %s lamports,
  "fee": %s lamports,
  "recent_blockhash": "%s",
  "memo": "%s"
}`, req.From, req.To, req.Amount.String(), fee.String(), recentBlockhash, req.Memo)
}
