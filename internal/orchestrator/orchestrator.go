// Package orchestrator drives one satellite wallet through the
// bridge → swap → lp-open → collect sequence. Progress is persisted after
// every transition so an interrupted run resumes at the first incomplete
// step instead of repeating (and double-spending) completed ones.
package orchestrator

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"

	"github.com/Tox85/bsl-pengu-bot-sub001/internal/bridge"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/lppool"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/retry"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/state"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/swap"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/wallet"
)

// BridgeClient quotes and tracks cross-chain transfers.
type BridgeClient interface {
	FetchQuote(ctx context.Context, p bridge.QuoteParams) (*bridge.Quote, error)
	WaitReceived(ctx context.Context, routeID string, txHash common.Hash, timeout, interval time.Duration) (*big.Int, error)
}

// SwapClient quotes same-chain token swaps.
type SwapClient interface {
	FetchQuote(ctx context.Context, p swap.QuoteParams) (*swap.Quote, error)
}

// PoolReader reads the target pool's current price and tick geometry.
type PoolReader interface {
	CurrentPrice(ctx context.Context) (*lppool.Price, error)
}

// Chain is the subset of the RPC client a step needs to submit and confirm.
type Chain interface {
	NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	SendCall(ctx context.Context, key *ecdsa.PrivateKey, nonce uint64, to common.Address, data []byte, value, gasPrice *big.Int) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error)
}

// Nonces is the per-address nonce bookkeeping the registry provides.
type Nonces interface {
	NextNonce(ctx context.Context, addr common.Address) (uint64, error)
	MarkNonceUsed(addr common.Address, n uint64)
	MarkNonceFailed(addr common.Address, n uint64)
}

type Config struct {
	FromChain int64
	ToChain   int64

	TokenIn  common.Address // bridged token on the destination chain
	TokenOut common.Address

	PositionManager common.Address
	PoolFee         uint32 // fee tier in hundredths of a bip, e.g. 3000

	SlippageBps int
	RangeWidth  int // tick-spacing units each side of the current tick

	// BridgeGas is the gas reserve (in gas units) held back on the source
	// chain so the bridge transaction itself can pay for inclusion.
	BridgeGas uint64

	BridgeTimeout  time.Duration
	PollInterval   time.Duration
	ConfirmTimeout time.Duration

	// MaxRetries and BaseDelay override the read-retry policy when set.
	// Submissions keep their own, more conservative schedule.
	MaxRetries int
	BaseDelay  time.Duration

	DryRun bool
}

func (c Config) withDefaults() Config {
	if c.BridgeGas == 0 {
		c.BridgeGas = 500_000
	}
	if c.BridgeTimeout <= 0 {
		c.BridgeTimeout = 20 * time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 2 * time.Minute
	}
	if c.RangeWidth < 1 {
		c.RangeWidth = 5
	}
	return c
}

type Orchestrator struct {
	store    *state.Store
	src, dst Chain
	bridge   BridgeClient
	swapper  SwapClient
	pool     PoolReader
	// Nonce sequences are per chain: the bridge spends a source-chain
	// nonce, everything after it a destination-chain one.
	srcNonces Nonces
	dstNonces Nonces
	cfg       Config

	reads  retry.Policy
	submit retry.Policy
}

func New(store *state.Store, src, dst Chain, br BridgeClient, sw SwapClient, pool PoolReader, srcNonces, dstNonces Nonces, cfg Config) (*Orchestrator, error) {
	if store == nil && !cfg.DryRun {
		return nil, fmt.Errorf("orchestrator: state store required")
	}
	if src == nil || dst == nil || br == nil || sw == nil || pool == nil || srcNonces == nil || dstNonces == nil {
		return nil, fmt.Errorf("orchestrator: all collaborators required")
	}
	reads := retry.Reads()
	if cfg.MaxRetries > 0 {
		reads.MaxRetries = cfg.MaxRetries
	}
	if cfg.BaseDelay > 0 {
		reads.BaseDelay = cfg.BaseDelay
	}
	return &Orchestrator{
		store:     store,
		src:       src,
		dst:       dst,
		bridge:    br,
		swapper:   sw,
		pool:      pool,
		srcNonces: srcNonces,
		dstNonces: dstNonces,
		cfg:       cfg.withDefaults(),
		reads:     reads,
		submit:    retry.Submit(),
	}, nil
}

// Run drives the wallet from its current step to collect_done. Exactly one
// of resume/fresh may be set when prior state exists; without either, an
// existing record is an error so stale state is never silently reused.
func (o *Orchestrator) Run(ctx context.Context, w *wallet.Wallet, resume, fresh bool) (*state.WalletState, error) {
	if resume && fresh {
		return nil, retry.Fatal(fmt.Errorf("resume and fresh are mutually exclusive"))
	}

	st, err := o.prepareState(w, resume, fresh)
	if err != nil {
		return nil, err
	}

	type stepDef struct {
		name    string
		done    func(*state.WalletState) bool
		pending state.Step
		run     func(context.Context, *wallet.Wallet, *state.WalletState) error
	}
	steps := []stepDef{
		{"bridge", bridgeDone, state.StepBridgePending, o.stepBridge},
		{"swap", swapDone, state.StepSwapPending, o.stepSwap},
		{"lp", lpDone, state.StepLPPending, o.stepLP},
		{"collect", collectDone, state.StepCollectPending, o.stepCollect},
	}

	for _, s := range steps {
		if s.done(st) {
			log.Printf("[info] %s: %s already done, skipping", w.Label, s.name)
			continue
		}
		if err := o.transition(st, s.pending); err != nil {
			return st, err
		}
		if err := s.run(ctx, w, st); err != nil {
			kind := retry.KindOf(err)
			log.Printf("[warn] %s: %s failed (%s): %v", w.Label, s.name, kind, err)
			recordStepError(st, s.name, err)
			if perr := o.transition(st, state.StepError); perr != nil {
				log.Printf("[warn] %s: persist error state: %v", w.Label, perr)
			}
			return st, fmt.Errorf("%s %s: %w", w.Label, s.name, err)
		}
	}
	return st, nil
}

func (o *Orchestrator) prepareState(w *wallet.Wallet, resume, fresh bool) (*state.WalletState, error) {
	addr := w.Address.Hex()
	if o.cfg.DryRun {
		// Dry runs never touch the store; decisions run against a scratch record.
		if o.store != nil && !fresh {
			if st, ok, err := o.store.Load(addr); err != nil {
				return nil, err
			} else if ok {
				return st, nil
			}
		}
		return &state.WalletState{Address: addr, Step: state.StepIdle}, nil
	}

	exists := o.store.Has(addr)
	switch {
	case fresh:
		if exists {
			if err := o.store.Delete(addr); err != nil {
				return nil, err
			}
		}
		return o.store.Create(addr)
	case resume:
		if st, ok, err := o.store.Load(addr); err != nil {
			return nil, err
		} else if ok {
			return st, nil
		}
		return o.store.Create(addr)
	default:
		if exists {
			return nil, retry.Fatal(fmt.Errorf("state already exists for %s: pass resume or fresh", addr))
		}
		return o.store.Create(addr)
	}
}

func (o *Orchestrator) transition(st *state.WalletState, step state.Step) error {
	st.Step = step
	if o.cfg.DryRun {
		return nil
	}
	return o.store.Update(st, func(s *state.WalletState) { s.Step = step })
}

func bridgeDone(st *state.WalletState) bool  { return st.Bridge != nil && st.Bridge.Success }
func swapDone(st *state.WalletState) bool    { return st.Swap != nil && st.Swap.Success }
func lpDone(st *state.WalletState) bool      { return st.Position != nil && st.Position.Success }
func collectDone(st *state.WalletState) bool { return st.Collect != nil && st.Collect.Success }

func recordStepError(st *state.WalletState, step string, err error) {
	msg := err.Error()
	switch step {
	case "bridge":
		if st.Bridge == nil {
			st.Bridge = &state.BridgeResult{}
		}
		st.Bridge.Error = msg
	case "swap":
		if st.Swap == nil {
			st.Swap = &state.SwapResult{}
		}
		st.Swap.Error = msg
	case "lp":
		if st.Position == nil {
			st.Position = &state.PositionResult{}
		}
		st.Position.Error = msg
	case "collect":
		if st.Collect == nil {
			st.Collect = &state.CollectResult{}
		}
		st.Collect.Error = msg
	}
}

// opID is the deterministic idempotence key for one financial action. The
// same wallet and step always map to the same ID, so a rerun can detect a
// submission from a crashed predecessor.
func opID(addr common.Address, step string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(addr.Hex()+"/"+step)).String()
}

// guardSubmission refuses to resubmit an action a prior run already started
// but whose outcome was never recorded. The earlier transaction may have
// landed; only an operator (or fresh) can safely decide. Recorded at the
// submission boundary only, so failures in the reads leading up to a send
// never trip it on resume.
func (o *Orchestrator) guardSubmission(st *state.WalletState, addr common.Address, step string) (string, error) {
	id := opID(addr, step)
	if st.HasExecuted(id) {
		return "", retry.Fatal(fmt.Errorf("%s was already submitted by a previous run for %s; inspect on-chain state before retrying", step, addr.Hex()))
	}
	st.RecordExecuted(id)
	if o.cfg.DryRun {
		return id, nil
	}
	return id, o.store.Update(st, func(s *state.WalletState) { s.RecordExecuted(id) })
}

// clearSubmission forgets a recorded operation whose failure was definitive:
// no transaction left the process, or the chain rejected it in a mined
// receipt. Resume may then retry the step from scratch.
func (o *Orchestrator) clearSubmission(st *state.WalletState, addr common.Address, step string) {
	id := opID(addr, step)
	st.ClearExecuted(id)
	if o.cfg.DryRun {
		return
	}
	if err := o.store.Update(st, func(s *state.WalletState) { s.ClearExecuted(id) }); err != nil {
		log.Printf("[warn] %s: persist cleared %s operation: %v", addr.Hex(), step, err)
	}
}
