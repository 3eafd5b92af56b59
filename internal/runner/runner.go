// Package runner fans the per-wallet pipeline out across many satellites
// with a bounded concurrency and wave pacing, so a shared RPC endpoint is
// not hammered by every wallet at once.
package runner

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Tox85/bsl-pengu-bot-sub001/internal/retry"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/state"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/wallet"
)

// RunFunc executes the full pipeline for one wallet.
type RunFunc func(ctx context.Context, w *wallet.Wallet) (*state.WalletState, error)

type Result struct {
	Wallet *wallet.Wallet
	State  *state.WalletState
	Err    error
}

type Options struct {
	// Concurrency bounds in-flight wallets. <=0 means sequential.
	Concurrency int
	// WavePause is slept between full concurrency waves.
	WavePause time.Duration
}

// Run processes every wallet and returns one result per wallet in input
// order. A wallet's failure never aborts its siblings; only context
// cancellation stops the fan-out early, and the remaining wallets report
// the context error.
func Run(ctx context.Context, wallets []*wallet.Wallet, opts Options, fn RunFunc) []Result {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	results := make([]Result, len(wallets))
	for i, w := range wallets {
		results[i] = Result{Wallet: w}
	}

	for start := 0; start < len(wallets); start += opts.Concurrency {
		if ctx.Err() != nil {
			for i := start; i < len(wallets); i++ {
				results[i].Err = ctx.Err()
			}
			return results
		}

		end := start + opts.Concurrency
		if end > len(wallets) {
			end = len(wallets)
		}

		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				st, err := fn(gctx, wallets[i])
				results[i].State = st
				results[i].Err = err
				// Errors stay in the result so siblings keep running.
				return nil
			})
		}
		_ = g.Wait()

		if end < len(wallets) && opts.WavePause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(opts.WavePause):
			}
		}
	}
	return results
}

// Report logs the wallet-indexed outcome list and returns the counts.
func Report(results []Result) (succeeded, failed int) {
	for _, r := range results {
		label := ""
		if r.Wallet != nil {
			label = r.Wallet.Label + " " + r.Wallet.Address.Hex()
		}
		if r.Err != nil {
			failed++
			log.Printf("[warn] %s: failed (%s): %v", label, retry.KindOf(r.Err), r.Err)
			continue
		}
		succeeded++
		step := state.StepIdle
		if r.State != nil {
			step = r.State.Step
		}
		log.Printf("[info] %s: %s", label, step)
	}
	log.Printf("[info] wallets done: %d ok, %d failed", succeeded, failed)
	return succeeded, failed
}
