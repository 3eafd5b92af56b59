package distributor

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Tox85/bsl-pengu-bot-sub001/internal/chain"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/nonce"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/retry"
)

// Chain is the slice of the chain client the executor needs. chain.Client
// satisfies it; tests substitute a fake.
type Chain interface {
	NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	SendNative(ctx context.Context, key *ecdsa.PrivateKey, nonceVal uint64, to common.Address, amount, gasPrice *big.Int) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error)
}

// Executor applies a Plan as signed transfers from the hub account. Strictly
// sequential: every transfer shares the hub's one nonce sequence, and no other
// component may submit from the hub while a distribution is in progress.
type Executor struct {
	chain          Chain
	key            *ecdsa.PrivateKey
	hub            common.Address
	nonces         *nonce.Manager
	maxGasBumps    int
	confirmTimeout time.Duration
	dryRun         bool
}

type ExecutorConfig struct {
	MaxGasBumps    int           // replacement-underpriced retries per transfer
	ConfirmTimeout time.Duration // per-transfer receipt wait
	DryRun         bool
}

func NewExecutor(c Chain, hubKey *ecdsa.PrivateKey, nonces *nonce.Manager, cfg ExecutorConfig) (*Executor, error) {
	if c == nil || hubKey == nil || nonces == nil {
		return nil, fmt.Errorf("chain, hub key and nonce manager required")
	}
	if cfg.MaxGasBumps <= 0 {
		cfg.MaxGasBumps = 3
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	return &Executor{
		chain:          c,
		key:            hubKey,
		hub:            crypto.PubkeyToAddress(hubKey.PublicKey),
		nonces:         nonces,
		maxGasBumps:    cfg.MaxGasBumps,
		confirmTimeout: cfg.ConfirmTimeout,
		dryRun:         cfg.DryRun,
	}, nil
}

// Result reports what a distribution actually did. Confirmed transfers stand
// even when a later one fails; there is no rollback on chain.
type Result struct {
	Funded       int
	TotalSentWei *big.Int
	TxHashes     []common.Hash
}

// Execute processes the plan in order. A transfer that still fails after the
// gas-bump ceiling aborts the whole call; the returned Result covers the
// transfers confirmed before the failure.
func (e *Executor) Execute(ctx context.Context, plan *Plan) (*Result, error) {
	if plan == nil {
		return nil, fmt.Errorf("plan required")
	}

	res := &Result{TotalSentWei: new(big.Int)}

	for i, alloc := range plan.Allocations {
		if alloc.AmountWei.Sign() == 0 {
			continue
		}

		amount := new(big.Int).Set(alloc.AmountWei)

		// Balances shift as the batch progresses; re-check and clamp so this
		// transfer still fits within balance minus the gas reserve.
		bal, err := e.chain.NativeBalance(ctx, e.hub)
		if err != nil {
			return res, fmt.Errorf("hub balance before transfer %d: %w", i, err)
		}
		maxSpend := new(big.Int).Sub(bal, plan.GasReserveWei)
		if amount.Cmp(maxSpend) > 0 {
			log.Printf("[distribute] clamping transfer %d to %s: %s -> %s", i, alloc.Recipient.Hex(), amount, maxSpend)
			amount.Set(maxSpend)
		}
		if amount.Sign() <= 0 {
			return res, retry.InsufficientFunds(fmt.Errorf("hub balance %s cannot cover transfer %d plus gas", bal, i))
		}

		if e.dryRun {
			log.Printf("[distribute] dry-run: would send %s wei to %s", amount, alloc.Recipient.Hex())
			res.Funded++
			res.TotalSentWei.Add(res.TotalSentWei, amount)
			continue
		}

		hash, err := e.sendWithBumps(ctx, alloc.Recipient, amount)
		if err != nil {
			return res, fmt.Errorf("transfer %d to %s: %w", i, alloc.Recipient.Hex(), err)
		}

		res.Funded++
		res.TotalSentWei.Add(res.TotalSentWei, amount)
		res.TxHashes = append(res.TxHashes, hash)
		log.Printf("[distribute] funded %s with %s wei (tx=%s)", alloc.Recipient.Hex(), amount, hash.Hex())
	}

	return res, nil
}

// sendWithBumps submits one transfer, retrying the same nonce at a +15% gas
// price when the slot is occupied by a competing pending transaction. That
// situation is the normal residue of an interrupted prior run, not an
// exceptional failure.
func (e *Executor) sendWithBumps(ctx context.Context, to common.Address, amount *big.Int) (common.Hash, error) {
	gasPrice, err := e.chain.GasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas price: %w", err)
	}

	n := e.nonces.Next()

	for bump := 0; ; bump++ {
		hash, err := e.chain.SendNative(ctx, e.key, n, to, amount, gasPrice)
		if err != nil {
			if retry.KindOf(err) != retry.KindReplacementUnderpriced {
				e.nonces.MarkFailed(n)
				return common.Hash{}, err
			}
			if bump >= e.maxGasBumps {
				e.nonces.MarkFailed(n)
				return common.Hash{}, fmt.Errorf("nonce %d still underpriced after %d bumps: %w", n, e.maxGasBumps, err)
			}
			gasPrice = chain.BumpGasPrice(gasPrice)
			log.Printf("[distribute] nonce %d occupied, bumping gas to %s", n, gasPrice)
			continue
		}

		if _, err := e.chain.WaitMined(ctx, hash, e.confirmTimeout); err != nil {
			// Submitted but unconfirmed: the chain slot may already be taken,
			// so the nonce stays pending. cmd/unstick resolves it.
			return common.Hash{}, err
		}
		e.nonces.MarkUsed(n)
		return hash, nil
	}
}
