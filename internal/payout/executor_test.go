package payout

import (
	"context"
	"testing"

	"github.com/veilswap/core/internal/store"
	"github.com/veilswap/core/internal/store/memstore"
)

type fakeBalance struct {
	balance float64
	err     error
}

func (f fakeBalance) GetBalance(ctx context.Context, network, address string) (float64, error) {
	return f.balance, f.err
}

type fakeSigner struct {
	txHash string
	err    error
	calls  int
}

func (f *fakeSigner) SignAndBroadcast(ctx context.Context, network string, addressIndex uint32, recipient string, amount float64) (string, error) {
	f.calls++
	return f.txHash, f.err
}

type noopEmitter struct{}

func (noopEmitter) Emit(ctx context.Context, eventType, swapID string, data interface{}) error { return nil }

// fakeUSD is a fixed conversion table mirroring cmd/veilswap/main.go's own
// placeholder usdConverter, used here so tests tier commission the same way
// production does until a live price oracle replaces both.
func fakeUSD(currency string, amount float64) float64 {
	switch currency {
	case "ETH":
		return amount * 3000
	default:
		return amount
	}
}

func seedSwapAndInfo(t *testing.T, swaps store.SwapStore, infos store.SwapAddressInfoStore, estimatedReceive, platformFee float64) {
	t.Helper()
	sw := &store.Swap{
		ID:               "swap-1",
		ToCurrency:       "ETH",
		ToNetwork:        "ethereum",
		EstimatedReceive: estimatedReceive,
		Fees:             store.Fees{Platform: platformFee},
		RecipientAddress: "0xrecipient",
		Status:           store.StatusFundsReceived,
	}
	if err := swaps.Create(sw); err != nil {
		t.Fatalf("seed swap: %v", err)
	}
	info := &store.SwapAddressInfo{
		SwapID:           "swap-1",
		OurAddress:       "0xour",
		AddressIndex:     1,
		BlockchainID:     "ethereum",
		RecipientAddress: "0xrecipient",
		Status:           store.PayoutPending,
	}
	if err := infos.Create(info); err != nil {
		t.Fatalf("seed info: %v", err)
	}
}

func TestProcessPayoutHappyPath(t *testing.T) {
	swaps := memstore.NewSwapStore()
	infos := memstore.NewSwapAddressInfoStore()
	seedSwapAndInfo(t, swaps, infos, 1.0, 0.02)

	signer := &fakeSigner{txHash: "0xtxhash"}
	exec := NewExecutor(swaps, infos, fakeBalance{balance: 1.05}, signer, fakeUSD, noopEmitter{}, nil)

	resp, err := exec.ProcessPayout(context.Background(), "swap-1")
	if err != nil {
		t.Fatalf("ProcessPayout() error = %v", err)
	}
	if resp.TxHash != "0xtxhash" {
		t.Errorf("TxHash = %s, want 0xtxhash", resp.TxHash)
	}
	if signer.calls != 1 {
		t.Errorf("signer called %d times, want 1", signer.calls)
	}

	sw, _ := swaps.Get("swap-1")
	if sw.Status != store.StatusCompleted {
		t.Errorf("swap status = %v, want completed", sw.Status)
	}
	info, _ := infos.Get("swap-1")
	if info.Status != store.PayoutSuccess || info.PayoutTxHash != "0xtxhash" {
		t.Errorf("info = %+v, want success with tx hash set", info)
	}

	// 1.05 ETH at the fixed fakeUSD rate (3000 USD/ETH) is a $3150 notional,
	// landing in the >=$2000 tier (0.4%): commission = 1.05 * 0.004.
	wantCommission := 1.05 * 0.004
	if diff := info.CommissionTaken - wantCommission; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("CommissionTaken = %v, want %v (tiered against USD notional, not the raw native amount)", info.CommissionTaken, wantCommission)
	}
}

func TestProcessPayoutRepeatedCallReturnsSameTxHash(t *testing.T) {
	swaps := memstore.NewSwapStore()
	infos := memstore.NewSwapAddressInfoStore()
	seedSwapAndInfo(t, swaps, infos, 1.0, 0.02)

	signer := &fakeSigner{txHash: "0xtxhash"}
	exec := NewExecutor(swaps, infos, fakeBalance{balance: 1.05}, signer, fakeUSD, noopEmitter{}, nil)

	first, err := exec.ProcessPayout(context.Background(), "swap-1")
	if err != nil {
		t.Fatalf("first ProcessPayout() error = %v", err)
	}
	second, err := exec.ProcessPayout(context.Background(), "swap-1")
	if err != nil {
		t.Fatalf("second ProcessPayout() error = %v", err)
	}
	if !second.AlreadyPaid {
		t.Error("second call AlreadyPaid = false, want true")
	}
	if second.TxHash != first.TxHash {
		t.Errorf("second TxHash = %s, want %s (same as first)", second.TxHash, first.TxHash)
	}
	if signer.calls != 1 {
		t.Errorf("signer called %d times across two ProcessPayout calls, want 1", signer.calls)
	}
}

func TestProcessPayoutInsufficientBalance(t *testing.T) {
	swaps := memstore.NewSwapStore()
	infos := memstore.NewSwapAddressInfoStore()
	seedSwapAndInfo(t, swaps, infos, 1.0, 0.02)

	signer := &fakeSigner{txHash: "0xtxhash"}
	exec := NewExecutor(swaps, infos, fakeBalance{balance: 0.5}, signer, fakeUSD, noopEmitter{}, nil)

	_, err := exec.ProcessPayout(context.Background(), "swap-1")
	if err == nil {
		t.Fatal("ProcessPayout() with insufficient balance returned nil error")
	}
	if signer.calls != 0 {
		t.Errorf("signer called %d times, want 0 (should fail before signing)", signer.calls)
	}

	sw, _ := swaps.Get("swap-1")
	if sw.Status != store.StatusFundsReceived {
		t.Errorf("swap status = %v, want unchanged funds_received", sw.Status)
	}
}
