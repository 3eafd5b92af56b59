// Command unstick diagnoses satellite nonce gaps. A pending nonce ahead of
// the latest mined nonce means transactions are sitting in the mempool;
// with --clear the gap slots are overwritten by zero-value self-transfers
// at a bumped gas price so the sequence can move again.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tox85/bsl-pengu-bot-sub001/internal/chain"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/config"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/dotenv"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/wallet"
)

func main() {
	log.SetFlags(0)

	var envFile string
	var wallets int
	var clear bool
	flag.StringVar(&envFile, "env-file", "", "Env file to load (default ./.env).")
	flag.IntVar(&wallets, "wallets", 0, "Satellite count (default from WALLET_COUNT).")
	flag.BoolVar(&clear, "clear", false, "Replace stuck slots with self-transfers at bumped gas.")
	flag.Parse()

	if err := dotenv.LoadFrom(envFile); err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	if wallets > 0 {
		cfg.WalletCount = wallets
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, clear); err != nil {
		log.Fatalf("[fatal] %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, clear bool) error {
	chains := []struct {
		name string
		url  string
	}{
		{"source", cfg.SourceRPCURL},
		{"destination", cfg.DestRPCURL},
	}

	stuck := 0
	for _, c := range chains {
		cl, err := chain.Dial(ctx, c.url, 0)
		if err != nil {
			return fmt.Errorf("dial %s chain: %w", c.name, err)
		}
		n, err := inspect(ctx, cfg, cl, c.name, clear)
		cl.Close()
		if err != nil {
			return err
		}
		stuck += n
	}

	if stuck == 0 {
		log.Printf("[info] no stuck transactions on either chain")
	} else if !clear {
		log.Printf("[warn] %d stuck slots found; re-run with --clear to replace them", stuck)
	}
	return nil
}

func inspect(ctx context.Context, cfg *config.Config, cl *chain.Client, name string, clear bool) (int, error) {
	reg, err := wallet.NewRegistry(cfg.Mnemonic, cl.PendingNonce)
	if err != nil {
		return 0, err
	}
	sats, err := reg.DeriveWallets(uint32(cfg.WalletCount), 0)
	if err != nil {
		return 0, err
	}

	gasPrice, err := cl.GasPrice(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s gas price: %w", name, err)
	}

	stuck := 0
	for _, w := range sats {
		pending, err := cl.PendingNonce(ctx, w.Address)
		if err != nil {
			return stuck, fmt.Errorf("%s pending nonce for %s: %w", name, w.Label, err)
		}
		latest, err := cl.LatestNonce(ctx, w.Address)
		if err != nil {
			return stuck, fmt.Errorf("%s latest nonce for %s: %w", name, w.Label, err)
		}
		if pending == latest {
			continue
		}
		stuck += int(pending - latest)
		log.Printf("[warn] %s %s on %s: latest %d, pending %d (%d in flight)",
			w.Label, w.Address.Hex(), name, latest, pending, pending-latest)

		if !clear {
			continue
		}
		bumped := chain.BumpGasPrice(gasPrice)
		for n := latest; n < pending; n++ {
			hash, err := cl.SendNative(ctx, w.Key, n, w.Address, new(big.Int), bumped)
			if err != nil {
				return stuck, fmt.Errorf("replace nonce %d for %s: %w", n, w.Label, err)
			}
			log.Printf("[info] %s nonce %d replaced with self-transfer %s", w.Label, n, hash.Hex())
			if _, err := cl.WaitMined(ctx, hash, 2*time.Minute); err != nil {
				return stuck, fmt.Errorf("replacement for %s nonce %d not mined: %w", w.Label, n, err)
			}
		}
		reg.ResetNonce(w.Address, pending)
	}
	return stuck, nil
}
