package config

import (
	"strings"
	"testing"
	"time"
)

const testMnemonic = "test test test test test test test test test test test junk"

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SEED_PHRASE", testMnemonic)
	t.Setenv("SOURCE_RPC_URL", "https://rpc.src.example")
	t.Setenv("DEST_RPC_URL", "https://rpc.dst.example")
	t.Setenv("SOURCE_CHAIN_ID", "1")
	t.Setenv("DEST_CHAIN_ID", "42161")
}

func TestFromEnv_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.WalletCount != 5 {
		t.Fatalf("WalletCount default: %d", cfg.WalletCount)
	}
	if cfg.VarianceMinBps != 7000 || cfg.VarianceMaxBps != 13000 {
		t.Fatalf("variance defaults: [%d, %d]", cfg.VarianceMinBps, cfg.VarianceMaxBps)
	}
	if cfg.MinTransferWei.String() != "1000000000000000" {
		t.Fatalf("MinTransferWei default: %s", cfg.MinTransferWei)
	}
	if cfg.BridgeTimeout != 20*time.Minute {
		t.Fatalf("BridgeTimeout default: %s", cfg.BridgeTimeout)
	}
	if cfg.StateDir != "./state" {
		t.Fatalf("StateDir default: %s", cfg.StateDir)
	}
	if !cfg.PriceDriftPct.Equal(cfg.PriceDriftPct.Truncate(0)) || cfg.PriceDriftPct.String() != "5" {
		t.Fatalf("PriceDriftPct default: %s", cfg.PriceDriftPct)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("WALLET_COUNT", "12")
	t.Setenv("MIN_TRANSFER_WEI", "500000000000000000")
	t.Setenv("RETRY_BASE_DELAY", "2s")
	t.Setenv("REBALANCE_DRIFT_PCT", "2.5")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.WalletCount != 12 {
		t.Fatalf("WalletCount: %d", cfg.WalletCount)
	}
	if cfg.MinTransferWei.String() != "500000000000000000" {
		t.Fatalf("MinTransferWei: %s", cfg.MinTransferWei)
	}
	if cfg.BaseDelay != 2*time.Second {
		t.Fatalf("BaseDelay: %s", cfg.BaseDelay)
	}
	if cfg.PriceDriftPct.String() != "2.5" {
		t.Fatalf("PriceDriftPct: %s", cfg.PriceDriftPct)
	}
}

func TestFromEnv_RejectsBadMnemonic(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SEED_PHRASE", "definitely not a bip39 phrase")

	if _, err := FromEnv(); err == nil || !strings.Contains(err.Error(), "SEED_PHRASE") {
		t.Fatalf("want SEED_PHRASE error, got %v", err)
	}
}

func TestFromEnv_RejectsMalformedNumeric(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("WALLET_COUNT", "many")

	if _, err := FromEnv(); err == nil || !strings.Contains(err.Error(), "WALLET_COUNT") {
		t.Fatalf("want WALLET_COUNT error, got %v", err)
	}
}

func TestFromEnv_RejectsBadAddress(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("POOL_ADDRESS", "0xnothex")

	if _, err := FromEnv(); err == nil || !strings.Contains(err.Error(), "POOL_ADDRESS") {
		t.Fatalf("want POOL_ADDRESS error, got %v", err)
	}
}

func TestFromEnv_WithdrawalRequiresCreds(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("ENABLE_WITHDRAWAL", "true")

	if _, err := FromEnv(); err == nil || !strings.Contains(err.Error(), "exchange credentials") {
		t.Fatalf("want exchange credentials error, got %v", err)
	}

	t.Setenv("EXCHANGE_API_URL", "https://api.exchange.example")
	t.Setenv("EXCHANGE_API_KEY", "k")
	t.Setenv("EXCHANGE_API_SECRET", "s")
	t.Setenv("WITHDRAW_TOKEN", "ETH")
	t.Setenv("WITHDRAW_AMOUNT", "0.5")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv with creds: %v", err)
	}
	if !cfg.EnableWithdrawal || cfg.WithdrawAmount.String() != "0.5" {
		t.Fatalf("withdrawal config: %+v", cfg)
	}
}

func TestValidate_VarianceBand(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("VARIANCE_MIN_BPS", "9000")
	t.Setenv("VARIANCE_MAX_BPS", "8000")

	if _, err := FromEnv(); err == nil || !strings.Contains(err.Error(), "variance band") {
		t.Fatalf("want variance band error, got %v", err)
	}
}
