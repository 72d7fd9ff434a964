package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"solana-copytrader/internal/aggregator"
	"solana-copytrader/internal/breaker"
	"solana-copytrader/internal/chain"
	"solana-copytrader/internal/config"
	"solana-copytrader/internal/executor"
	"solana-copytrader/internal/health"
	"solana-copytrader/internal/ingest"
	"solana-copytrader/internal/pipeline"
	"solana-copytrader/internal/position"
	"solana-copytrader/internal/risk"
	"solana-copytrader/internal/scheduler"
	"solana-copytrader/internal/statusview"
	"solana-copytrader/internal/store"
)

func main() {
	setupLogger()

	configPath := os.Getenv("COPYTRADER_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfgManager, err := config.NewManager(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	cfg := cfgManager.Get

	db, err := store.Open(cfg().Storage.SQLitePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer db.Close()

	rpc := chain.NewClient(cfgManager.GetPrimaryRPCURL(), cfgManager.GetFallbackRPCURL(), "")
	aggr := aggregator.NewClient(cfg().Aggregator.SlippageBps, aggregator.PriorityHigh,
		cfg().Trading.PriorityFeeLamports, time.Duration(cfg().Aggregator.TimeoutSeconds)*time.Second)

	pos := position.New(db)
	br := breaker.New(cfg)

	dryRun := cfg().Trading.DryRun
	if dryRun {
		if err := db.InitVirtualWallet(context.Background(), int64(cfg().Trading.VirtualStartingBalance)); err != nil {
			log.Warn().Err(err).Msg("virtual wallet already initialized")
		}
	}

	var exec pipeline.Executor
	var balance risk.BalanceSource
	var wallet *chain.Wallet
	var blockhashCache *chain.BlockhashCache

	if dryRun {
		exec = executor.NewSimulated(db, rpc, pos, "", cfg, true)
		balance = simBalanceSource{db: db}
	} else {
		wallet, err = chain.NewWallet(cfgManager.GetPrivateKey())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load wallet")
		}

		blockhashCache = chain.NewBlockhashCache(rpc, 2*time.Second, 60*time.Second)
		if err := blockhashCache.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to prime blockhash cache")
		}
		defer blockhashCache.Stop()

		signer := chain.NewSigner(wallet, blockhashCache, cfg().Trading.PriorityFeeLamports)
		tracker := chain.NewBalanceTracker(wallet, rpc)
		if err := tracker.Refresh(context.Background()); err != nil {
			log.Warn().Err(err).Msg("initial balance refresh failed")
		}
		balance = liveBalanceSource{tracker: tracker}

		exec = executor.New(db, rpc, aggr, signer, wallet, pos, cfg)
	}

	walletAddr := cfg().Wallet.UpstreamWallet
	ourWalletAddr := ""
	if wallet != nil {
		ourWalletAddr = wallet.Address()
	}

	riskEngine := risk.New(db, rpc, aggr, br, balance, pos, ourWalletAddr, walletAddr, cfg)
	pending := pipeline.NewPendingBuys()
	pl := pipeline.New(db, pending, riskEngine, exec, br, db, walletAddr)
	pl.Start()
	defer pl.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	producers := startProducers(ctx, cfg, rpc, pl, db, walletAddr)
	defer producers.stop()

	sched := scheduler.New(scheduler.DefaultTasks(db, pos, time.Duration(cfg().Storage.LedgerPruneHours)*time.Hour))
	sched.Start(ctx)
	defer sched.Stop()

	if tracker, ok := balance.(liveBalanceSource); ok {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					tracker.tracker.Refresh(ctx)
				}
			}
		}()
	}

	checker := health.NewChecker(rpc, aggr, br)
	checker.Start(ctx)

	if cfg().StatusView.Enabled {
		go func() {
			if err := statusview.Run(ctx, db, br, cfg); err != nil {
				log.Error().Err(err).Msg("status view exited")
			}
		}()
	}

	log.Info().Bool("dry_run", dryRun).Str("upstream_wallet", walletAddr).Msg("copytrader started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
}

func setupLogger() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()
}

// liveBalanceSource adapts chain.BalanceTracker to risk.BalanceSource.
type liveBalanceSource struct {
	tracker *chain.BalanceTracker
}

func (l liveBalanceSource) AvailableLamports(ctx context.Context) (uint64, error) {
	return l.tracker.BalanceLamports(), nil
}

// simBalanceSource adapts the virtual ledger to risk.BalanceSource for
// dry-run mode, where "available" funds are the simulated cash balance.
type simBalanceSource struct {
	db *store.DB
}

func (s simBalanceSource) AvailableLamports(ctx context.Context) (uint64, error) {
	wallet, err := s.db.GetVirtualWallet(ctx)
	if err != nil {
		return 0, err
	}
	if wallet == nil {
		return 0, fmt.Errorf("virtual wallet not initialized")
	}
	if wallet.CurrentCash < 0 {
		return 0, nil
	}
	return uint64(wallet.CurrentCash), nil
}

type runningProducers struct {
	push *ingest.PushSource
	sub  *ingest.SubscriptionSource
	poll *ingest.PollSource
}

func (r *runningProducers) stop() {
	if r.push != nil {
		r.push.Shutdown()
	}
	if r.sub != nil {
		r.sub.Stop()
	}
	if r.poll != nil {
		r.poll.Stop()
	}
}

// startProducers wires up the three redundant ingest sources: push
// (webhook), subscription (live log stream), and poll (periodic scan).
// A subscription failure is non-fatal — poll still catches everything the
// live stream misses, same redundancy spec.md requires.
func startProducers(ctx context.Context, cfg func() *config.Config, rpc *chain.Client, sink ingest.Sink, db *store.DB, upstreamWallet string) *runningProducers {
	ic := cfg().Ingest

	push := ingest.NewPushSource(ic.WebhookListenHost, ic.WebhookListenPort, sink,
		ic.WebhookRateLimitPerMin, time.Minute)
	go func() {
		if err := push.Start(); err != nil {
			log.Error().Err(err).Msg("push source failed")
		}
	}()

	var sub *ingest.SubscriptionSource
	if wsURL := cfg().WebSocket.URL; wsURL != "" {
		var err error
		sub, err = ingest.NewSubscriptionSource(wsURL, rpc, upstreamWallet, sink)
		if err != nil {
			log.Warn().Err(err).Msg("subscription source unavailable, relying on push and poll")
		} else if err := sub.Start(); err != nil {
			log.Warn().Err(err).Msg("subscription start failed, relying on push and poll")
			sub = nil
		}
	}

	poll := ingest.NewPollSource(rpc, upstreamWallet, sink, time.Duration(ic.PollIntervalSeconds)*time.Second)
	go poll.Start(ctx)

	return &runningProducers{push: push, sub: sub, poll: poll}
}
