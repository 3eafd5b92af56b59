// Command distribute fans the hub wallet's balance out to the derived
// satellite wallets using the randomized allocation plan.
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
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Tox85/bsl-pengu-bot-sub001/internal/chain"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/config"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/distributor"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/dotenv"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/nonce"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/wallet"
)

type args struct {
	envFile string
	wallets int
	dryRun  bool
}

func main() {
	log.SetFlags(0)

	var a args
	flag.StringVar(&a.envFile, "env-file", "", "Env file to load (default ./.env).")
	flag.IntVar(&a.wallets, "wallets", 0, "Satellite count (default from WALLET_COUNT).")
	flag.BoolVar(&a.dryRun, "dry-run", false, "Compute and log the plan without sending.")
	flag.Parse()

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
	if cfg.HubKeyHex == "" {
		log.Fatalf("[fatal] HUB_PRIVATE_KEY required")
	}
	hubKey, err := crypto.HexToECDSA(cfg.HubKeyHex)
	if err != nil {
		log.Fatalf("[fatal] invalid HUB_PRIVATE_KEY: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, hubKey, a.dryRun); err != nil {
		log.Fatalf("[fatal] %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, hubKey *ecdsa.PrivateKey, dryRun bool) error {
	hub := crypto.PubkeyToAddress(hubKey.PublicKey)

	src, err := chain.Dial(ctx, cfg.SourceRPCURL, 0)
	if err != nil {
		return fmt.Errorf("dial source chain: %w", err)
	}
	defer src.Close()

	reg, err := wallet.NewRegistry(cfg.Mnemonic, src.PendingNonce)
	if err != nil {
		return err
	}
	sats, err := reg.DeriveWallets(uint32(cfg.WalletCount), 0)
	if err != nil {
		return err
	}
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
	log.Printf("[cfg] hub %s balance %s wei, gas price %s wei, %d satellites",
		hub.Hex(), bal, gasPrice, len(recipients))

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
		log.Printf("[warn] balance too low to fund any satellite (floor %s wei), nothing to do", plan.FloorWei)
		return nil
	}
	for i, alloc := range plan.Allocations {
		log.Printf("[info] plan %d: %s <- %s wei", i, alloc.Recipient.Hex(), alloc.AmountWei)
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
	}
	return err
}
