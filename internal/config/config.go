// Package config builds the validated run configuration from the
// environment. The rest of the codebase never reads env vars directly; main
// constructs a Config once and injects it.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/tyler-smith/go-bip39"
)

type Config struct {
	// Wallets.
	Mnemonic    string
	WalletCount int
	HubKeyHex   string

	// Chains.
	SourceRPCURL string
	DestRPCURL   string
	SourceChain  int64
	DestChain    int64

	// Tokens and contracts on the destination chain.
	TokenIn         common.Address
	TokenOut        common.Address
	PoolAddress     common.Address
	PositionManager common.Address

	// External services.
	BridgeAPIURL     string
	SwapAPIURL       string
	ExchangeAPIURL   string
	ExchangeKey      string
	ExchangeSecret   string
	ExchangeNetwork  string
	PriceFeedWSURL   string
	PriceFeedSymbol  string
	WithdrawToken    string
	WithdrawAmount   decimal.Decimal
	EnableWithdrawal bool

	// Distribution.
	MinTransferWei *big.Int
	TransferGas    uint64
	VarianceMinBps int
	VarianceMaxBps int

	// Swap/bridge.
	SlippageBps int64

	// LP position.
	PoolFee    uint32 // fee tier in hundredths of a bip, e.g. 3000
	RangeWidth int    // tick-spacing units each side of the current tick

	// Rebalance thresholds.
	PriceDriftPct decimal.Decimal // e.g. 5 means 5%
	FeeMultiplier decimal.Decimal // collect when fees >= multiplier * est. gas cost

	// Retry tuning.
	MaxRetries int
	BaseDelay  time.Duration

	// Timeouts.
	BridgeTimeout  time.Duration
	ConfirmTimeout time.Duration

	StateDir string
}

// FromEnv reads and validates every knob. Errors name the offending
// variable so a bad .env fails loud at startup.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Mnemonic:        strings.TrimSpace(os.Getenv("SEED_PHRASE")),
		HubKeyHex:       strings.TrimSpace(strings.TrimPrefix(os.Getenv("HUB_PRIVATE_KEY"), "0x")),
		SourceRPCURL:    strings.TrimSpace(os.Getenv("SOURCE_RPC_URL")),
		DestRPCURL:      strings.TrimSpace(os.Getenv("DEST_RPC_URL")),
		BridgeAPIURL:    strings.TrimSpace(os.Getenv("BRIDGE_API_URL")),
		SwapAPIURL:      strings.TrimSpace(os.Getenv("SWAP_API_URL")),
		ExchangeAPIURL:  strings.TrimSpace(os.Getenv("EXCHANGE_API_URL")),
		ExchangeKey:     strings.TrimSpace(os.Getenv("EXCHANGE_API_KEY")),
		ExchangeSecret:  strings.TrimSpace(os.Getenv("EXCHANGE_API_SECRET")),
		ExchangeNetwork: strings.TrimSpace(os.Getenv("EXCHANGE_NETWORK")),
		PriceFeedWSURL:  strings.TrimSpace(os.Getenv("PRICE_FEED_WS_URL")),
		PriceFeedSymbol: strings.TrimSpace(os.Getenv("PRICE_FEED_SYMBOL")),
		WithdrawToken:   strings.TrimSpace(os.Getenv("WITHDRAW_TOKEN")),
		StateDir:        strings.TrimSpace(os.Getenv("STATE_DIR")),
	}

	var err error
	if cfg.WalletCount, err = envInt("WALLET_COUNT", 5); err != nil {
		return nil, err
	}
	if cfg.SourceChain, err = envInt64("SOURCE_CHAIN_ID", 0); err != nil {
		return nil, err
	}
	if cfg.DestChain, err = envInt64("DEST_CHAIN_ID", 0); err != nil {
		return nil, err
	}
	if cfg.TokenIn, err = envAddress("TOKEN_IN"); err != nil {
		return nil, err
	}
	if cfg.TokenOut, err = envAddress("TOKEN_OUT"); err != nil {
		return nil, err
	}
	if cfg.PoolAddress, err = envAddress("POOL_ADDRESS"); err != nil {
		return nil, err
	}
	if cfg.PositionManager, err = envAddress("POSITION_MANAGER"); err != nil {
		return nil, err
	}
	if cfg.MinTransferWei, err = envBig("MIN_TRANSFER_WEI", big.NewInt(1_000_000_000_000_000)); err != nil { // 0.001 ETH
		return nil, err
	}
	if cfg.TransferGas, err = envUint64("TRANSFER_GAS_LIMIT", 21000); err != nil {
		return nil, err
	}
	if cfg.VarianceMinBps, err = envInt("VARIANCE_MIN_BPS", 7000); err != nil {
		return nil, err
	}
	if cfg.VarianceMaxBps, err = envInt("VARIANCE_MAX_BPS", 13000); err != nil {
		return nil, err
	}
	if cfg.SlippageBps, err = envInt64("SLIPPAGE_BPS", 50); err != nil {
		return nil, err
	}
	if cfg.RangeWidth, err = envInt("LP_RANGE_WIDTH", 5); err != nil {
		return nil, err
	}
	var poolFee uint64
	if poolFee, err = envUint64("POOL_FEE", 3000); err != nil {
		return nil, err
	}
	cfg.PoolFee = uint32(poolFee)
	if cfg.PriceDriftPct, err = envDecimal("REBALANCE_DRIFT_PCT", "5"); err != nil {
		return nil, err
	}
	if cfg.FeeMultiplier, err = envDecimal("REBALANCE_FEE_MULTIPLIER", "3"); err != nil {
		return nil, err
	}
	if cfg.WithdrawAmount, err = envDecimal("WITHDRAW_AMOUNT", "0"); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = envInt("MAX_RETRIES", 3); err != nil {
		return nil, err
	}
	if cfg.BaseDelay, err = envDuration("RETRY_BASE_DELAY", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.BridgeTimeout, err = envDuration("BRIDGE_TIMEOUT", 20*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ConfirmTimeout, err = envDuration("CONFIRM_TIMEOUT", 2*time.Minute); err != nil {
		return nil, err
	}
	if cfg.EnableWithdrawal, err = envBool("ENABLE_WITHDRAWAL", false); err != nil {
		return nil, err
	}

	if cfg.StateDir == "" {
		cfg.StateDir = "./state"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Mnemonic == "" {
		return fmt.Errorf("SEED_PHRASE required")
	}
	if !bip39.IsMnemonicValid(c.Mnemonic) {
		return fmt.Errorf("SEED_PHRASE is not a valid mnemonic")
	}
	if c.WalletCount <= 0 {
		return fmt.Errorf("WALLET_COUNT must be positive, got %d", c.WalletCount)
	}
	if c.SourceRPCURL == "" || c.DestRPCURL == "" {
		return fmt.Errorf("SOURCE_RPC_URL and DEST_RPC_URL required")
	}
	if c.SourceChain == 0 || c.DestChain == 0 {
		return fmt.Errorf("SOURCE_CHAIN_ID and DEST_CHAIN_ID required")
	}
	if c.VarianceMinBps <= 0 || c.VarianceMaxBps < c.VarianceMinBps {
		return fmt.Errorf("variance band [%d, %d] bps invalid", c.VarianceMinBps, c.VarianceMaxBps)
	}
	if c.SlippageBps < 0 || c.SlippageBps > 10_000 {
		return fmt.Errorf("SLIPPAGE_BPS %d out of range", c.SlippageBps)
	}
	if c.MinTransferWei == nil || c.MinTransferWei.Sign() <= 0 {
		return fmt.Errorf("MIN_TRANSFER_WEI must be positive")
	}
	if c.PriceDriftPct.Sign() <= 0 {
		return fmt.Errorf("REBALANCE_DRIFT_PCT must be positive, got %s", c.PriceDriftPct)
	}
	if c.FeeMultiplier.Sign() <= 0 {
		return fmt.Errorf("REBALANCE_FEE_MULTIPLIER must be positive, got %s", c.FeeMultiplier)
	}
	if c.EnableWithdrawal {
		if c.ExchangeAPIURL == "" || c.ExchangeKey == "" || c.ExchangeSecret == "" {
			return fmt.Errorf("exchange credentials required when ENABLE_WITHDRAWAL is set")
		}
		if c.WithdrawToken == "" || c.WithdrawAmount.Sign() <= 0 {
			return fmt.Errorf("WITHDRAW_TOKEN and positive WITHDRAW_AMOUNT required when ENABLE_WITHDRAWAL is set")
		}
	}
	return nil
}

func envInt(name string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return n, nil
}

func envInt64(name string, def int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return n, nil
}

func envUint64(name string, def uint64) (uint64, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return n, nil
}

func envBool(name string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return b, nil
}

func envDuration(name string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return d, nil
}

func envDecimal(name, def string) (decimal.Decimal, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		v = def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return d, nil
}

func envBig(name string, def *big.Int) (*big.Int, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return new(big.Int).Set(def), nil
	}
	n, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s %q: expected decimal integer", name, v)
	}
	return n, nil
}

func envAddress(name string) (common.Address, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("invalid %s %q: expected hex address", name, v)
	}
	return common.HexToAddress(v), nil
}
