// Command farm runs the whole pipeline: optionally withdraw from the
// exchange to the hub, fan the hub balance out to the derived satellites,
// then drive every satellite through bridge, swap, position open and fee
// collect with durable per-wallet checkpoints.
package main

import (
	"context"
	"crypto/ecdsa"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/Tox85/bsl-pengu-bot-sub001/internal/bridge"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/chain"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/config"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/distributor"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/dotenv"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/exchange"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/lppool"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/nonce"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/orchestrator"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/runlog"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/runner"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/state"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/swap"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/wallet"
)

const withdrawPollInterval = 20 * time.Second

type args struct {
	envFile     string
	wallets     int
	concurrency int
	wavePause   time.Duration
	stateDir    string
	out         string
	interval    time.Duration
	dryRun      bool
	resume      bool
	fresh       bool
	distribute  bool
}

func main() {
	log.SetFlags(0)

	var a args
	flag.StringVar(&a.envFile, "env-file", "", "Env file to load (default ./.env).")
	flag.IntVar(&a.wallets, "wallets", 0, "Satellite count (default from WALLET_COUNT).")
	flag.IntVar(&a.concurrency, "concurrency", 1, "Wallets in flight at once.")
	flag.DurationVar(&a.wavePause, "wave-pause", 2*time.Second, "Pause between concurrency waves.")
	flag.StringVar(&a.stateDir, "state-dir", "", "Checkpoint directory (default from STATE_DIR).")
	flag.StringVar(&a.out, "out", "", "JSONL run log path. Empty disables the log.")
	flag.DurationVar(&a.interval, "every", 0, "Re-run interval (e.g. 6h). 0 = run once.")
	flag.BoolVar(&a.dryRun, "dry-run", false, "Walk every decision without sending or persisting.")
	flag.BoolVar(&a.resume, "resume", false, "Continue wallets from their saved checkpoint.")
	flag.BoolVar(&a.fresh, "fresh", false, "Discard saved checkpoints and start over.")
	flag.BoolVar(&a.distribute, "distribute", false, "Fund satellites from the hub before running the pipeline.")
	flag.Parse()

	if a.resume && a.fresh {
		log.Fatalf("[fatal] --resume and --fresh are mutually exclusive")
	}

	if err := dotenv.LoadFrom(a.envFile); err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	if a.wallets > 0 {
		cfg.WalletCount = a.wallets
	}
	if a.stateDir != "" {
		cfg.StateDir = a.stateDir
	}
	if a.distribute && cfg.HubKeyHex == "" {
		log.Fatalf("[fatal] HUB_PRIVATE_KEY required with --distribute")
	}
	if cfg.EnableWithdrawal && cfg.HubKeyHex == "" {
		log.Fatalf("[fatal] HUB_PRIVATE_KEY required with ENABLE_WITHDRAWAL")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rl := runlog.Open(a.out)
	defer rl.Close()

	if a.interval <= 0 {
		if err := runOnce(ctx, cfg, a, rl); err != nil {
			log.Fatalf("[fatal] %v", err)
		}
		return
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		if err := runOnce(ctx, cfg, a, rl); err != nil {
			log.Printf("[warn] run failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Later rounds always continue from the checkpoints the first
			// round wrote.
			a.fresh = false
			a.resume = true
		}
	}
}

func runOnce(ctx context.Context, cfg *config.Config, a args, rl *runlog.Log) error {
	started := time.Now()
	runID := uuid.NewString()
	log.Printf("[cfg] run %s: %d satellites, concurrency %d, dry-run %v", runID, cfg.WalletCount, a.concurrency, a.dryRun)
	_ = rl.Append(runlog.Event{RunID: runID, Event: "start", DryRun: a.dryRun, Ok: true})

	src, err := chain.Dial(ctx, cfg.SourceRPCURL, 0)
	if err != nil {
		return fmt.Errorf("dial source chain: %w", err)
	}
	defer src.Close()
	dst, err := chain.Dial(ctx, cfg.DestRPCURL, 0)
	if err != nil {
		return fmt.Errorf("dial destination chain: %w", err)
	}
	defer dst.Close()

	var hubKey *ecdsa.PrivateKey
	if cfg.HubKeyHex != "" {
		hubKey, err = crypto.HexToECDSA(cfg.HubKeyHex)
		if err != nil {
			return fmt.Errorf("invalid HUB_PRIVATE_KEY: %v", err)
		}
	}

	if cfg.EnableWithdrawal {
		hub := crypto.PubkeyToAddress(hubKey.PublicKey)
		if err := withdrawToHub(ctx, cfg, hub, a.dryRun, rl, runID); err != nil {
			return fmt.Errorf("exchange withdrawal: %w", err)
		}
	}

	// Separate registries per chain: a satellite holds one key but two
	// independent nonce sequences, one on each chain it submits to.
	srcReg, err := wallet.NewRegistry(cfg.Mnemonic, src.PendingNonce)
	if err != nil {
		return err
	}
	dstReg, err := wallet.NewRegistry(cfg.Mnemonic, dst.PendingNonce)
	if err != nil {
		return err
	}
	sats, err := srcReg.DeriveWallets(uint32(cfg.WalletCount), 0)
	if err != nil {
		return err
	}

	if a.distribute {
		if err := fundSatellites(ctx, cfg, src, hubKey, sats, a.dryRun, rl, runID); err != nil {
			return fmt.Errorf("distribute: %w", err)
		}
	}

	store, err := state.NewStore(cfg.StateDir)
	if err != nil {
		return err
	}
	br, err := bridge.NewClient(cfg.BridgeAPIURL)
	if err != nil {
		return err
	}
	sw, err := swap.NewClient(cfg.SwapAPIURL, cfg.DestChain)
	if err != nil {
		return err
	}
	pool, err := lppool.NewPool(cfg.PoolAddress, dst)
	if err != nil {
		return err
	}

	orch, err := orchestrator.New(store, src, dst, br, sw, pool, srcReg, dstReg, orchestrator.Config{
		FromChain:       cfg.SourceChain,
		ToChain:         cfg.DestChain,
		TokenIn:         cfg.TokenIn,
		TokenOut:        cfg.TokenOut,
		PositionManager: cfg.PositionManager,
		PoolFee:         cfg.PoolFee,
		SlippageBps:     int(cfg.SlippageBps),
		RangeWidth:      cfg.RangeWidth,
		BridgeTimeout:   cfg.BridgeTimeout,
		ConfirmTimeout:  cfg.ConfirmTimeout,
		MaxRetries:      cfg.MaxRetries,
		BaseDelay:       cfg.BaseDelay,
		DryRun:          a.dryRun,
	})
	if err != nil {
		return err
	}

	results := runner.Run(ctx, sats, runner.Options{Concurrency: a.concurrency, WavePause: a.wavePause},
		func(ctx context.Context, w *wallet.Wallet) (*state.WalletState, error) {
			return orch.Run(ctx, w, a.resume, a.fresh)
		})

	for _, r := range results {
		ev := runlog.Event{RunID: runID, Event: "wallet_done", DryRun: a.dryRun, Wallet: r.Wallet.Address.Hex(), Ok: r.Err == nil}
		if r.State != nil {
			ev.Step = string(r.State.Step)
		}
		if r.Err != nil {
			ev.Error = r.Err.Error()
		}
		_ = rl.Append(ev)
	}

	succeeded, failed := runner.Report(results)
	_ = rl.Append(runlog.Event{
		RunID: runID, Event: "summary", DryRun: a.dryRun,
		Succeeded: succeeded, Failed: failed,
		Ok: failed == 0, UptimeMs: time.Since(started).Milliseconds(),
	})
	if failed > 0 {
		// Per-wallet failures are already reported and checkpointed; the
		// process only fails on configuration or infrastructure errors.
		log.Printf("[warn] %d of %d wallets failed; rerun with --resume after inspecting", failed, len(results))
	}
	return nil
}

// withdrawToHub pulls the configured amount off the exchange and waits
// for the withdrawal to leave, so distribution sees the funds on chain.
func withdrawToHub(ctx context.Context, cfg *config.Config, hub common.Address, dryRun bool, rl *runlog.Log, runID string) error {
	ex, err := exchange.NewClient(cfg.ExchangeAPIURL, exchange.Credentials{Key: cfg.ExchangeKey, Secret: cfg.ExchangeSecret})
	if err != nil {
		return err
	}

	bal, err := ex.Balance(ctx, cfg.WithdrawToken)
	if err != nil {
		return err
	}
	log.Printf("[cfg] exchange %s balance %s, withdrawing %s to hub %s", cfg.WithdrawToken, bal, cfg.WithdrawAmount, hub.Hex())
	if bal.LessThan(cfg.WithdrawAmount) {
		return fmt.Errorf("exchange balance %s below withdrawal amount %s", bal, cfg.WithdrawAmount)
	}
	if dryRun {
		log.Printf("[info] dry-run: would withdraw %s %s to %s", cfg.WithdrawAmount, cfg.WithdrawToken, hub.Hex())
		return nil
	}

	wd, err := ex.Withdraw(ctx, exchange.WithdrawRequest{
		Token:   cfg.WithdrawToken,
		Amount:  cfg.WithdrawAmount,
		Address: hub.Hex(),
		Network: cfg.ExchangeNetwork,
	})
	if err != nil {
		return err
	}
	log.Printf("[info] withdrawal %s submitted (%s %s)", wd.ID, cfg.WithdrawAmount, cfg.WithdrawToken)

	for {
		st, err := ex.WithdrawStatus(ctx, wd.ID)
		if err != nil {
			return err
		}
		switch strings.ToLower(st.Status) {
		case "completed", "success":
			log.Printf("[info] withdrawal %s completed, tx %s", wd.ID, st.TxHash)
			_ = rl.Append(runlog.Event{RunID: runID, Event: "withdraw", TxHash: st.TxHash, Ok: true})
			return nil
		case "failed", "cancelled", "rejected":
			_ = rl.Append(runlog.Event{RunID: runID, Event: "withdraw", Error: st.Status})
			return fmt.Errorf("withdrawal %s ended %s", wd.ID, st.Status)
		}
		log.Printf("[info] withdrawal %s still %s", wd.ID, st.Status)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(withdrawPollInterval):
		}
	}
}

func fundSatellites(ctx context.Context, cfg *config.Config, src *chain.Client, hubKey *ecdsa.PrivateKey, sats []*wallet.Wallet, dryRun bool, rl *runlog.Log, runID string) error {
	hub := crypto.PubkeyToAddress(hubKey.PublicKey)
	recipients := make([]common.Address, len(sats))
	for i, w := range sats {
		recipients[i] = w.Address
	}

	bal, err := src.NativeBalance(ctx, hub)
	if err != nil {
		return fmt.Errorf("hub balance: %w", err)
	}
	gasPrice, err := src.GasPrice(ctx)
	if err != nil {
		return fmt.Errorf("gas price: %w", err)
	}

	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	plan, err := distributor.BuildPlan(recipients, distributor.Params{
		Balance:        bal,
		GasPriceWei:    gasPrice,
		GasLimit:       cfg.TransferGas,
		MinTransferWei: cfg.MinTransferWei,
		VarianceMinBps: cfg.VarianceMinBps,
		VarianceMaxBps: cfg.VarianceMaxBps,
	}, rng)
	if err != nil {
		return fmt.Errorf("build plan: %w", err)
	}
	if plan.FundedCount == 0 {
		return fmt.Errorf("hub balance %s wei too low to fund any satellite (floor %s wei)", bal, plan.FloorWei)
	}
	log.Printf("[info] funding %d of %d satellites, total %s wei", plan.FundedCount, len(recipients), plan.TotalWei)

	startNonce, err := src.PendingNonce(ctx, hub)
	if err != nil {
		return fmt.Errorf("hub nonce: %w", err)
	}
	exec, err := distributor.NewExecutor(src, hubKey, nonce.NewManager(startNonce), distributor.ExecutorConfig{
		ConfirmTimeout: cfg.ConfirmTimeout,
		DryRun:         dryRun,
	})
	if err != nil {
		return err
	}

	res, err := exec.Execute(ctx, plan)
	if res != nil {
		log.Printf("[info] funded %d satellites, sent %s wei total", res.Funded, res.TotalSentWei)
		_ = rl.Append(runlog.Event{
			RunID: runID, Event: "distribute", DryRun: dryRun,
			Funded: res.Funded, AmountWei: res.TotalSentWei.String(),
			Ok: err == nil,
		})
	}
	return err
}
