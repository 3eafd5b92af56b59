// Command monitor streams the exchange ticker and, for every wallet with an
// open position, evaluates whether the position should be rebalanced. It
// only watches and reports; no transactions are sent.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Tox85/bsl-pengu-bot-sub001/internal/chain"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/config"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/dotenv"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/lppool"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/orchestrator"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/pricefeed"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/state"
)

const (
	poolRefreshInterval = 30 * time.Second
	// collectGasUnits is a nominal collect transaction's gas, used to price
	// the fee-versus-cost check.
	collectGasUnits = 150_000
)

func main() {
	log.SetFlags(0)

	var envFile, stateDir string
	flag.StringVar(&envFile, "env-file", "", "Env file to load (default ./.env).")
	flag.StringVar(&stateDir, "state-dir", "", "Checkpoint directory (default from STATE_DIR).")
	flag.Parse()

	if err := dotenv.LoadFrom(envFile); err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	if stateDir != "" {
		cfg.StateDir = stateDir
	}
	if cfg.PriceFeedWSURL == "" || cfg.PriceFeedSymbol == "" {
		log.Fatalf("[fatal] PRICE_FEED_WS_URL and PRICE_FEED_SYMBOL required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && ctx.Err() == nil {
		log.Fatalf("[fatal] %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	dst, err := chain.Dial(ctx, cfg.DestRPCURL, 0)
	if err != nil {
		return fmt.Errorf("dial destination chain: %w", err)
	}
	defer dst.Close()

	pool, err := lppool.NewPool(cfg.PoolAddress, dst)
	if err != nil {
		return err
	}
	store, err := state.NewStore(cfg.StateDir)
	if err != nil {
		return err
	}

	ticks, errs := pricefeed.Start(ctx, cfg.PriceFeedWSURL, []string{cfg.PriceFeedSymbol}, pricefeed.Options{})
	log.Printf("[cfg] watching %s via %s, pool %s", cfg.PriceFeedSymbol, cfg.PriceFeedWSURL, cfg.PoolAddress.Hex())

	var price *lppool.Price
	gasCost := decimal.Zero
	lastPoolRead := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			log.Printf("[warn] price feed: %v", err)
		case tick, ok := <-ticks:
			if !ok {
				return nil
			}
			if time.Since(lastPoolRead) > poolRefreshInterval {
				p, err := pool.CurrentPrice(ctx)
				if err != nil {
					log.Printf("[warn] pool read: %v", err)
					continue
				}
				gp, err := dst.GasPrice(ctx)
				if err != nil {
					log.Printf("[warn] gas price read: %v", err)
					continue
				}
				price = p
				gasCost = decimal.NewFromBigInt(gp, 0).Mul(decimal.NewFromInt(collectGasUnits))
				lastPoolRead = time.Now()
			}
			if price == nil {
				continue
			}
			if err := evaluate(store, cfg, price, gasCost, tick); err != nil {
				log.Printf("[warn] evaluate: %v", err)
			}
		}
	}
}

// evaluate runs the rebalance decision for every wallet holding a live
// position at the latest tick price.
func evaluate(store *state.Store, cfg *config.Config, price *lppool.Price, gasCost decimal.Decimal, tick pricefeed.Tick) error {
	states, err := store.List()
	if err != nil {
		return err
	}
	for _, st := range states {
		if st.Position == nil || !st.Position.Success {
			continue
		}
		last := decimal.Zero
		if st.Position.LastRebalancePrice != "" {
			if last, err = decimal.NewFromString(st.Position.LastRebalancePrice); err != nil {
				log.Printf("[warn] %s: bad recorded rebalance price %q", st.Address, st.Position.LastRebalancePrice)
				last = decimal.Zero
			}
		}
		// Fees recorded by the last collect, as a proxy for the accrual
		// rate. A live accrued figure needs a static collect call; the
		// watcher keeps to reads that are already on disk.
		fees := decimal.Zero
		if st.Collect != nil && st.Collect.Success && st.Collect.Fees0 != nil {
			fees = decimal.NewFromBigInt(st.Collect.Fees0.Big(), 0)
		}

		dec, err := orchestrator.DecideRebalance(orchestrator.RebalanceInput{
			CurrentTick:        price.Tick,
			LowerTick:          st.Position.LowerTick,
			UpperTick:          st.Position.UpperTick,
			LastRebalancePrice: last,
			CurrentPrice:       tick.Price,
			AccruedFees:        fees,
			EstGasCost:         gasCost,
			FeeMultiplier:      cfg.FeeMultiplier,
			DriftThresholdPct:  cfg.PriceDriftPct,
		})
		if err != nil {
			log.Printf("[warn] %s: %v", st.Address, err)
			continue
		}
		if dec.Rebalance {
			log.Printf("[info] %s position %s: rebalance (%s), drift %s%%, tick %d range [%d, %d]",
				st.Address, st.Position.TokenID, dec.Reason, dec.DriftPct, price.Tick,
				st.Position.LowerTick, st.Position.UpperTick)
		}
	}
	return nil
}
