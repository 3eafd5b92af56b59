package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/Tox85/bsl-pengu-bot-sub001/internal/bridge"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/chain"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/lppool"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/retry"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/state"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/swap"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/wallet"
)

const mintDeadlineSlack = 10 * time.Minute

// stepBridge moves the wallet's source-chain balance (minus a gas reserve)
// to the destination chain and waits until the funds arrive.
func (o *Orchestrator) stepBridge(ctx context.Context, w *wallet.Wallet, st *state.WalletState) error {
	bal, err := retry.Do(ctx, o.reads, "source balance", func(ctx context.Context) (*big.Int, error) {
		return o.src.NativeBalance(ctx, w.Address)
	})
	if err != nil {
		return fmt.Errorf("source balance: %w", err)
	}
	gasPrice, err := retry.Do(ctx, o.reads, "source gas price", func(ctx context.Context) (*big.Int, error) {
		return o.src.GasPrice(ctx)
	})
	if err != nil {
		return fmt.Errorf("source gas price: %w", err)
	}

	reserve := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(o.cfg.BridgeGas))
	amount := new(big.Int).Sub(bal, reserve)
	if amount.Sign() <= 0 {
		return retry.InsufficientFunds(fmt.Errorf("balance %s wei cannot cover gas reserve %s wei", bal, reserve))
	}

	quote, err := retry.Do(ctx, o.reads, "bridge quote", func(ctx context.Context) (*bridge.Quote, error) {
		return o.bridge.FetchQuote(ctx, bridge.QuoteParams{
			FromChain:   o.cfg.FromChain,
			ToChain:     o.cfg.ToChain,
			ToToken:     o.cfg.TokenIn,
			FromAddress: w.Address,
			AmountWei:   amount,
			SlippageBps: o.cfg.SlippageBps,
		})
	})
	if err != nil {
		return fmt.Errorf("bridge quote: %w", err)
	}

	if o.cfg.DryRun {
		log.Printf("[info] %s: dry-run, would bridge %s wei via route %s (min out %s)",
			w.Label, amount, quote.RouteID, quote.MinAmountOut)
		st.Bridge = &state.BridgeResult{
			Success:   true,
			RouteID:   quote.RouteID,
			AmountIn:  state.NewWei(amount),
			AmountOut: state.NewWei(quote.MinAmountOut),
			FromChain: o.cfg.FromChain,
			ToChain:   o.cfg.ToChain,
		}
		return o.transition(st, state.StepBridgeDone)
	}

	txHash, _, err := o.submitGuarded(ctx, o.src, o.srcNonces, w, st, "bridge", quote.TxTarget, quote.TxData, quote.TxValue, gasPrice)
	if err != nil {
		return fmt.Errorf("bridge submit: %w", err)
	}
	log.Printf("[info] %s: bridge tx %s confirmed on chain %d, awaiting arrival", w.Label, txHash.Hex(), o.cfg.FromChain)

	received, err := o.bridge.WaitReceived(ctx, quote.RouteID, txHash, o.cfg.BridgeTimeout, o.cfg.PollInterval)
	if err != nil {
		return fmt.Errorf("bridge arrival: %w", err)
	}
	log.Printf("[info] %s: bridge received %s wei on chain %d", w.Label, received, o.cfg.ToChain)

	st.Bridge = &state.BridgeResult{
		Success:   true,
		RouteID:   quote.RouteID,
		TxHash:    txHash.Hex(),
		AmountIn:  state.NewWei(amount),
		AmountOut: state.NewWei(received),
		FromChain: o.cfg.FromChain,
		ToChain:   o.cfg.ToChain,
	}
	return o.transition(st, state.StepBridgeDone)
}

// stepSwap converts half the bridged amount into the pool's other token so
// the position can be opened two-sided.
func (o *Orchestrator) stepSwap(ctx context.Context, w *wallet.Wallet, st *state.WalletState) error {
	if st.Bridge == nil || st.Bridge.AmountOut == nil {
		return retry.Fatal(fmt.Errorf("swap requires a completed bridge result"))
	}
	amountIn := new(big.Int).Div(st.Bridge.AmountOut.Big(), big.NewInt(2))
	if amountIn.Sign() <= 0 {
		return retry.InsufficientFunds(fmt.Errorf("bridged amount %s wei too small to swap", st.Bridge.AmountOut))
	}

	quote, err := retry.Do(ctx, o.reads, "swap quote", func(ctx context.Context) (*swap.Quote, error) {
		return o.swapper.FetchQuote(ctx, swap.QuoteParams{
			TokenIn:     o.cfg.TokenIn,
			TokenOut:    o.cfg.TokenOut,
			Recipient:   w.Address,
			AmountWei:   amountIn,
			SlippageBps: o.cfg.SlippageBps,
		})
	})
	if err != nil {
		return fmt.Errorf("swap quote: %w", err)
	}

	if o.cfg.DryRun {
		log.Printf("[info] %s: dry-run, would swap %s wei %s -> %s (min out %s)",
			w.Label, amountIn, o.cfg.TokenIn.Hex(), o.cfg.TokenOut.Hex(), quote.MinAmountOut)
		st.Swap = &state.SwapResult{
			Success:   true,
			TokenIn:   o.cfg.TokenIn.Hex(),
			TokenOut:  o.cfg.TokenOut.Hex(),
			AmountIn:  state.NewWei(amountIn),
			AmountOut: state.NewWei(quote.MinAmountOut),
		}
		return o.transition(st, state.StepSwapDone)
	}

	gasPrice, err := retry.Do(ctx, o.reads, "gas price", func(ctx context.Context) (*big.Int, error) {
		return o.dst.GasPrice(ctx)
	})
	if err != nil {
		return fmt.Errorf("dest gas price: %w", err)
	}

	// The router pulls TokenIn unless it rides along as native value.
	if quote.Value == nil || quote.Value.Sign() == 0 {
		if err := o.approve(ctx, w, o.cfg.TokenIn, quote.Target, amountIn, gasPrice); err != nil {
			return fmt.Errorf("swap approval: %w", err)
		}
	}

	txHash, _, err := o.submitGuarded(ctx, o.dst, o.dstNonces, w, st, "swap", quote.Target, quote.Calldata, quote.Value, gasPrice)
	if err != nil {
		return fmt.Errorf("swap submit: %w", err)
	}
	log.Printf("[info] %s: swap tx %s confirmed", w.Label, txHash.Hex())

	st.Swap = &state.SwapResult{
		Success:   true,
		TxHash:    txHash.Hex(),
		TokenIn:   o.cfg.TokenIn.Hex(),
		TokenOut:  o.cfg.TokenOut.Hex(),
		AmountIn:  state.NewWei(amountIn),
		AmountOut: state.NewWei(quote.MinAmountOut),
	}
	return o.transition(st, state.StepSwapDone)
}

// stepLP opens a concentrated-liquidity position centered on the current
// tick, depositing whatever the wallet holds of both pool tokens.
func (o *Orchestrator) stepLP(ctx context.Context, w *wallet.Wallet, st *state.WalletState) error {
	price, err := retry.Do(ctx, o.reads, "pool price", func(ctx context.Context) (*lppool.Price, error) {
		return o.pool.CurrentPrice(ctx)
	})
	if err != nil {
		return fmt.Errorf("pool price: %w", err)
	}
	lower, upper := lppool.RangeAroundTick(price.Tick, price.TickSpacing, o.cfg.RangeWidth)

	token0, token1 := o.cfg.TokenIn, o.cfg.TokenOut
	if bytes.Compare(token1.Bytes(), token0.Bytes()) < 0 {
		token0, token1 = token1, token0
	}

	bal0, bal1, err := o.pairBalances(ctx, w.Address, token0, token1)
	if err != nil {
		return err
	}
	if bal0.Sign() == 0 && bal1.Sign() == 0 {
		return retry.InsufficientFunds(fmt.Errorf("no %s or %s balance to deposit", token0.Hex(), token1.Hex()))
	}

	if o.cfg.DryRun {
		log.Printf("[info] %s: dry-run, would mint position in ticks [%d, %d] with %s / %s",
			w.Label, lower, upper, bal0, bal1)
		st.Position = &state.PositionResult{
			Success:            true,
			LowerTick:          lower,
			UpperTick:          upper,
			DepositedToken0:    state.NewWei(bal0),
			DepositedToken1:    state.NewWei(bal1),
			LastRebalancePrice: price.SqrtPriceX96.String(),
		}
		return o.transition(st, state.StepLPDone)
	}

	gasPrice, err := retry.Do(ctx, o.reads, "gas price", func(ctx context.Context) (*big.Int, error) {
		return o.dst.GasPrice(ctx)
	})
	if err != nil {
		return fmt.Errorf("dest gas price: %w", err)
	}

	if bal0.Sign() > 0 {
		if err := o.approve(ctx, w, token0, o.cfg.PositionManager, bal0, gasPrice); err != nil {
			return fmt.Errorf("token0 approval: %w", err)
		}
	}
	if bal1.Sign() > 0 {
		if err := o.approve(ctx, w, token1, o.cfg.PositionManager, bal1, gasPrice); err != nil {
			return fmt.Errorf("token1 approval: %w", err)
		}
	}

	calldata, err := lppool.MintCalldata(lppool.MintParams{
		Token0:         token0,
		Token1:         token1,
		Fee:            o.cfg.PoolFee,
		TickLower:      lower,
		TickUpper:      upper,
		Amount0Desired: bal0,
		Amount1Desired: bal1,
		Recipient:      w.Address,
		Deadline:       big.NewInt(time.Now().Add(mintDeadlineSlack).Unix()),
	})
	if err != nil {
		return retry.Fatal(fmt.Errorf("mint calldata: %w", err))
	}

	txHash, receipt, err := o.submitGuarded(ctx, o.dst, o.dstNonces, w, st, "lp", o.cfg.PositionManager, calldata, nil, gasPrice)
	if err != nil {
		return fmt.Errorf("mint submit: %w", err)
	}
	minted, err := lppool.ParseMintReceipt(receipt)
	if err != nil {
		return fmt.Errorf("mint receipt %s: %w", txHash.Hex(), err)
	}
	log.Printf("[info] %s: minted position %s in ticks [%d, %d]", w.Label, minted.TokenID, lower, upper)

	st.Position = &state.PositionResult{
		Success:            true,
		TxHash:             txHash.Hex(),
		TokenID:            state.NewWei(minted.TokenID),
		LowerTick:          lower,
		UpperTick:          upper,
		Liquidity:          state.NewWei(minted.Liquidity),
		DepositedToken0:    state.NewWei(minted.Amount0),
		DepositedToken1:    state.NewWei(minted.Amount1),
		LastRebalancePrice: price.SqrtPriceX96.String(),
	}
	return o.transition(st, state.StepLPDone)
}

// stepCollect harvests accrued fees. It runs even when the position is
// freshly minted and fees are zero, so a completed run always carries a
// collect result.
func (o *Orchestrator) stepCollect(ctx context.Context, w *wallet.Wallet, st *state.WalletState) error {
	if st.Position == nil || (!o.cfg.DryRun && st.Position.TokenID == nil) {
		return retry.Fatal(fmt.Errorf("collect requires an opened position"))
	}

	if o.cfg.DryRun {
		log.Printf("[info] %s: dry-run, would collect fees from position", w.Label)
		st.Collect = &state.CollectResult{Success: true}
		return o.transition(st, state.StepCollectDone)
	}

	tokenID := st.Position.TokenID.Big()
	calldata, err := lppool.CollectCalldata(lppool.CollectParams{TokenID: tokenID, Recipient: w.Address})
	if err != nil {
		return retry.Fatal(fmt.Errorf("collect calldata: %w", err))
	}

	gasPrice, err := retry.Do(ctx, o.reads, "gas price", func(ctx context.Context) (*big.Int, error) {
		return o.dst.GasPrice(ctx)
	})
	if err != nil {
		return fmt.Errorf("dest gas price: %w", err)
	}

	txHash, receipt, err := o.submitGuarded(ctx, o.dst, o.dstNonces, w, st, "collect", o.cfg.PositionManager, calldata, nil, gasPrice)
	if err != nil {
		return fmt.Errorf("collect submit: %w", err)
	}

	fees0, fees1 := new(big.Int), new(big.Int)
	if collected, err := lppool.ParseCollectReceipt(receipt, tokenID); err == nil {
		fees0, fees1 = collected.Amount0, collected.Amount1
	}
	log.Printf("[info] %s: collected %s / %s from position %s", w.Label, fees0, fees1, tokenID)

	st.Collect = &state.CollectResult{
		Success: true,
		TxHash:  txHash.Hex(),
		Fees0:   state.NewWei(fees0),
		Fees1:   state.NewWei(fees1),
	}
	return o.transition(st, state.StepCollectDone)
}

func (o *Orchestrator) pairBalances(ctx context.Context, owner, token0, token1 common.Address) (*big.Int, *big.Int, error) {
	bal0, err := retry.Do(ctx, o.reads, "token0 balance", func(ctx context.Context) (*big.Int, error) {
		return o.dst.TokenBalance(ctx, token0, owner)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("token0 balance: %w", err)
	}
	bal1, err := retry.Do(ctx, o.reads, "token1 balance", func(ctx context.Context) (*big.Int, error) {
		return o.dst.TokenBalance(ctx, token1, owner)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("token1 balance: %w", err)
	}
	return bal0, bal1, nil
}

func (o *Orchestrator) approve(ctx context.Context, w *wallet.Wallet, token, spender common.Address, amount, gasPrice *big.Int) error {
	_, _, err := o.submitAndWait(ctx, o.dst, o.dstNonces, w, token, chain.ApproveCalldata(spender, amount), nil, gasPrice)
	return err
}

// submitAndWait issues a nonce, sends the call and awaits the receipt.
// A send failure rewinds the nonce; a confirmation failure leaves it
// pending for the unstick tool to resolve.
func (o *Orchestrator) submitAndWait(ctx context.Context, ch Chain, nn Nonces, w *wallet.Wallet, to common.Address, data []byte, value, gasPrice *big.Int) (common.Hash, *types.Receipt, error) {
	n, err := nn.NextNonce(ctx, w.Address)
	if err != nil {
		return common.Hash{}, nil, fmt.Errorf("next nonce: %w", err)
	}

	txHash, err := retry.Do(ctx, o.submit, "send tx", func(ctx context.Context) (common.Hash, error) {
		return ch.SendCall(ctx, w.Key, n, to, data, value, gasPrice)
	})
	if err != nil {
		nn.MarkNonceFailed(w.Address, n)
		return common.Hash{}, nil, err
	}

	receipt, err := ch.WaitMined(ctx, txHash, o.cfg.ConfirmTimeout)
	if err != nil {
		return txHash, nil, err
	}
	nn.MarkNonceUsed(w.Address, n)
	return txHash, receipt, nil
}

// submitGuarded wraps submitAndWait with the replay guard for a step's main
// transaction. The step's operation ID is recorded just before the send and
// cleared again when the failure is definitive: nothing reached the chain, or
// the chain mined a revert. Only an unknown outcome (hash sent, receipt never
// seen) leaves the ID behind to block a blind resubmit.
func (o *Orchestrator) submitGuarded(ctx context.Context, ch Chain, nn Nonces, w *wallet.Wallet, st *state.WalletState, step string, to common.Address, data []byte, value, gasPrice *big.Int) (common.Hash, *types.Receipt, error) {
	if _, err := o.guardSubmission(st, w.Address, step); err != nil {
		return common.Hash{}, nil, err
	}
	txHash, receipt, err := o.submitAndWait(ctx, ch, nn, w, to, data, value, gasPrice)
	if err != nil {
		if txHash == (common.Hash{}) {
			o.clearSubmission(st, w.Address, step)
		}
		return txHash, nil, err
	}
	if receipt != nil && receipt.Status != types.ReceiptStatusSuccessful {
		o.clearSubmission(st, w.Address, step)
		return txHash, receipt, retry.Fatal(fmt.Errorf("tx %s reverted", txHash.Hex()))
	}
	return txHash, receipt, nil
}
