// Command balances reports the hub and satellite native balances on both
// chains, plus the bridged-token balances on the destination side.
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

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Tox85/bsl-pengu-bot-sub001/internal/chain"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/config"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/dotenv"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/wallet"
)

func main() {
	log.SetFlags(0)

	var envFile string
	var wallets int
	flag.StringVar(&envFile, "env-file", "", "Env file to load (default ./.env).")
	flag.IntVar(&wallets, "wallets", 0, "Satellite count (default from WALLET_COUNT).")
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

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("[fatal] %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
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

	reg, err := wallet.NewRegistry(cfg.Mnemonic, src.PendingNonce)
	if err != nil {
		return err
	}
	sats, err := reg.DeriveWallets(uint32(cfg.WalletCount), 0)
	if err != nil {
		return err
	}

	if cfg.HubKeyHex != "" {
		hubKey, err := crypto.HexToECDSA(cfg.HubKeyHex)
		if err != nil {
			return fmt.Errorf("invalid HUB_PRIVATE_KEY: %v", err)
		}
		hub := crypto.PubkeyToAddress(hubKey.PublicKey)
		if err := report(ctx, "hub", hub, src, dst, cfg); err != nil {
			return err
		}
	}

	totalSrc := new(big.Int)
	for _, w := range sats {
		if err := report(ctx, w.Label, w.Address, src, dst, cfg); err != nil {
			return err
		}
		bal, err := src.NativeBalance(ctx, w.Address)
		if err != nil {
			return err
		}
		totalSrc.Add(totalSrc, bal)
	}
	log.Printf("[info] satellites hold %s wei total on the source chain", totalSrc)
	return nil
}

func report(ctx context.Context, label string, addr common.Address, src, dst *chain.Client, cfg *config.Config) error {
	srcBal, err := src.NativeBalance(ctx, addr)
	if err != nil {
		return fmt.Errorf("%s source balance: %w", label, err)
	}
	dstBal, err := dst.NativeBalance(ctx, addr)
	if err != nil {
		return fmt.Errorf("%s destination balance: %w", label, err)
	}
	inBal, err := dst.TokenBalance(ctx, cfg.TokenIn, addr)
	if err != nil {
		return fmt.Errorf("%s token-in balance: %w", label, err)
	}
	outBal, err := dst.TokenBalance(ctx, cfg.TokenOut, addr)
	if err != nil {
		return fmt.Errorf("%s token-out balance: %w", label, err)
	}
	log.Printf("[info] %s %s: src=%s wei dst=%s wei in=%s out=%s",
		label, addr.Hex(), srcBal, dstBal, inBal, outBal)
	return nil
}
