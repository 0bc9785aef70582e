// Command veilswap boots the swap aggregator backend: it wires the
// lifecycle engine, payout executor, refund pipeline, webhook dispatcher,
// blockchain listener, gas estimator, and upstream client over one
// process-wide WalletCore and one RPC multiplexer per chain, then runs
// their background loops until an OS signal asks it to stop. Per spec §6
// the HTTP routing layer sits outside this module's scope; main exposes
// the Go-level operations such a layer would call.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/veilswap/core/internal/cache"
	"github.com/veilswap/core/internal/chainadapter/rpc"
	"github.com/veilswap/core/internal/gasestimator"
	"github.com/veilswap/core/internal/listener"
	"github.com/veilswap/core/internal/metrics"
	"github.com/veilswap/core/internal/payout"
	"github.com/veilswap/core/internal/platform"
	"github.com/veilswap/core/internal/refund"
	"github.com/veilswap/core/internal/rpcmux"
	"github.com/veilswap/core/internal/store"
	"github.com/veilswap/core/internal/store/memstore"
	"github.com/veilswap/core/internal/swap"
	"github.com/veilswap/core/internal/upstream"
	"github.com/veilswap/core/internal/walletcore"
	"github.com/veilswap/core/internal/webhook"
)

func main() {
	cfg, err := platform.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "veilswap: loading config: %v\n", err)
		os.Exit(1)
	}

	logger, err := platform.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "veilswap: building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Info("veilswap starting", zap.Any("config", cfg.Redacted()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewPrometheusCollector()

	muxes := map[string]*rpcmux.Multiplexer{
		"ethereum": buildMultiplexer("ethereum", cfg.RPC.Ethereum, cfg.RPC, logger),
		"bitcoin":  buildMultiplexer("bitcoin", cfg.RPC.Bitcoin, cfg.RPC, logger),
		"solana":   buildMultiplexer("solana", cfg.RPC.Solana, cfg.RPC, logger),
	}

	wallet, err := walletcore.New(cfg.WalletMnemonic, muxes, 1, "mainnet-beta", cfg.TxStateFilePath, metrics.NewChainAdapterBridge("ethereum", collector))
	if err != nil {
		logger.Fatal("veilswap: building wallet core", zap.Error(err))
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("veilswap: parsing REDIS_URL", zap.Error(err))
		}
		redisClient = redis.NewClient(opts)
	}
	tier, err := cache.NewTiered(4096, redisClient)
	if err != nil {
		logger.Fatal("veilswap: building tiered cache", zap.Error(err))
	}

	quoters := map[string]gasestimator.GasQuoter{
		"ethereum": wallet.GasQuoterFor("ethereum"),
		"bitcoin":  wallet.GasQuoterFor("bitcoin"),
	}
	estimator := gasestimator.NewEstimator(tier, quoters, logger)
	gasCost := gasCostEstimatorFunc(estimator)

	swapStore := memstore.NewSwapStore()
	infoStore := memstore.NewSwapAddressInfoStore()
	currencyStore := memstore.NewCurrencyStore()
	refundStore := memstore.NewRefundStore()
	webhookStore := memstore.NewWebhookStore()
	deliveryStore := memstore.NewWebhookDeliveryStore()
	circuitStore := memstore.NewCircuitBreakerStateStore()
	limiterStore := memstore.NewRateLimiterStateStore()

	httpClient := &http.Client{Timeout: 10 * time.Second}
	upstreamClient := upstream.NewClient(os.Getenv("TROCADOR_BASE_URL"), cfg.TrocadorAPIKey, httpClient)

	dispatcher := webhook.NewDispatcher(webhookStore, deliveryStore, circuitStore, limiterStore, httpClient, logger)

	engine := swap.NewEngine(swapStore, infoStore, currencyStore, upstreamClient, wallet, gasCost, dispatcher, logger)
	executor := payout.NewExecutor(swapStore, infoStore, wallet, wallet, usdConverter, dispatcher, logger)
	refundPipeline := refund.NewPipeline(swapStore, infoStore, refundStore, wallet, usdConverter, gasCost, dispatcher, logger)
	chainListener := listener.NewListener(swapStore, wallet, wallet, engine, logger)

	runLoop(ctx, logger, "listener", 15*time.Second, chainListener.Tick)
	runLoop(ctx, logger, "payout-executor", 15*time.Second, payoutTick(swapStore, executor, logger))
	runLoop(ctx, logger, "refund-pipeline", 30*time.Second, func(ctx context.Context) { refundPipeline.Tick(ctx) })
	runLoop(ctx, logger, "webhook-dispatcher", 5*time.Second, dispatcher.ProcessDue)

	<-ctx.Done()
	logger.Info("veilswap shutting down")
	shutdown(muxes, redisClient, logger)
}

// shutdown releases per-chain RPC connections and the Redis client,
// aggregating whatever errors come back instead of abandoning the rest of
// the teardown at the first failure.
func shutdown(muxes map[string]*rpcmux.Multiplexer, redisClient *redis.Client, logger *zap.Logger) {
	var err error
	for chain, mux := range muxes {
		if closeErr := mux.Close(); closeErr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", chain, closeErr))
		}
	}
	if redisClient != nil {
		err = multierr.Append(err, redisClient.Close())
	}
	if err != nil {
		logger.Warn("veilswap: errors during shutdown", zap.Error(err))
	}
}

// buildMultiplexer wires a chain's primary/fallback RPC endpoints into an
// rpcmux.Multiplexer, one rpc.HTTPRPCClient per endpoint (spec §4.4).
func buildMultiplexer(chain string, chainCfg platform.ChainRPCConfig, rpcCfg platform.RPCConfig, logger *zap.Logger) *rpcmux.Multiplexer {
	urls := []struct {
		url      string
		priority int
	}{
		{chainCfg.Primary, 1},
		{chainCfg.Fallback1, 2},
		{chainCfg.Fallback2, 3},
	}

	timeout := time.Duration(rpcCfg.TimeoutMS) * time.Millisecond
	var endpoints []*rpcmux.Endpoint
	clients := make(map[string]rpc.RPCClient)
	for _, u := range urls {
		if u.url == "" {
			continue
		}
		client, err := rpc.NewHTTPRPCClient([]string{u.url}, timeout, nil)
		if err != nil {
			logger.Warn("veilswap: building RPC client failed", zap.String("chain", chain), zap.String("url", u.url), zap.Error(err))
			continue
		}
		endpoints = append(endpoints, &rpcmux.Endpoint{URL: u.url, Priority: u.priority, Weight: 1, TimeoutMS: rpcCfg.TimeoutMS})
		clients[u.url] = client
	}
	return rpcmux.NewMultiplexer(chain, rpcmux.StrategyHealthScore, endpoints, clients)
}

// payoutTick drives the payout executor off the swap lifecycle engine's
// own state: every swap the listener has advanced to funds_received is
// eligible for ProcessPayout, which is itself idempotent (spec §4.3) so a
// swap already paid out on a prior tick is a no-op here.
func payoutTick(swaps store.SwapStore, executor *payout.Executor, logger *zap.Logger) func(context.Context) {
	return func(ctx context.Context) {
		pending, err := swaps.ListNonTerminal()
		if err != nil {
			logger.Warn("payout tick: listing non-terminal swaps failed", zap.Error(err))
			return
		}
		for _, sw := range pending {
			if sw.Status != store.StatusFundsReceived {
				continue
			}
			if _, err := executor.ProcessPayout(ctx, sw.ID); err != nil {
				logger.Warn("payout tick: processing payout failed", zap.String("swap_id", sw.ID), zap.Error(err))
			}
		}
	}
}

// gasCostEstimatorFunc adapts gasestimator.Estimator to swap.GasCostEstimator
// / refund.Pipeline's gasCost func, one native-unit total per chain family.
func gasCostEstimatorFunc(estimator *gasestimator.Estimator) func(ctx context.Context, network string) (float64, error) {
	return func(ctx context.Context, network string) (float64, error) {
		switch network {
		case "ethereum":
			return estimator.EstimateEVM(ctx, network, gasestimator.TxNativeTransfer)
		case "bitcoin":
			sats, err := estimator.EstimateBTC(ctx, 1, 2)
			if err != nil {
				return 0, err
			}
			return float64(sats) / 1e8, nil
		case "solana":
			return float64(estimator.EstimateSolana(ctx, 0)) / 1e9, nil
		default:
			return 0, fmt.Errorf("veilswap: unsupported network %s", network)
		}
	}
}

// usdConverter is a placeholder priced off a fixed table until the
// reference-data syncer (spec §4.9's Coin sync) populates live USD rates
// into store.Currency; swapped for a store-backed lookup once that syncer
// lands (TODO: wire to store.CurrencyStore once it carries USD rates).
func usdConverter(currency string, amount float64) float64 {
	switch currency {
	case "BTC":
		return amount * 60000
	case "ETH":
		return amount * 3000
	case "SOL":
		return amount * 150
	default:
		return amount
	}
}

// runLoop runs fn on a fixed interval until ctx is cancelled, recovering
// from panics so one bad tick never kills the process (spec §5's
// "background loops log at Warn on transient failure ... never panic").
func runLoop(ctx context.Context, logger *zap.Logger, name string, interval time.Duration, fn func(context.Context)) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				safeTick(logger, name, func() { fn(ctx) })
			}
		}
	}()
}

func safeTick(logger *zap.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("veilswap: background loop panicked", zap.String("loop", name), zap.Any("recover", r))
		}
	}()
	fn()
}
