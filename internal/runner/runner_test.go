package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Tox85/bsl-pengu-bot-sub001/internal/state"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/wallet"
)

func makeWallets(n int) []*wallet.Wallet {
	ws := make([]*wallet.Wallet, n)
	for i := range ws {
		ws[i] = &wallet.Wallet{
			Label:   "satellite-" + string(rune('0'+i)),
			Index:   uint32(i),
			Address: common.BigToAddress(common.Big1),
		}
	}
	return ws
}

func TestRun_AllWalletsProcessedInOrder(t *testing.T) {
	ws := makeWallets(5)
	var calls int32

	results := Run(context.Background(), ws, Options{Concurrency: 2}, func(ctx context.Context, w *wallet.Wallet) (*state.WalletState, error) {
		atomic.AddInt32(&calls, 1)
		return &state.WalletState{Address: w.Address.Hex(), Step: state.StepCollectDone}, nil
	})

	if calls != 5 {
		t.Fatalf("calls: %d", calls)
	}
	if len(results) != 5 {
		t.Fatalf("results: %d", len(results))
	}
	for i, r := range results {
		if r.Wallet != ws[i] {
			t.Fatalf("result %d out of order", i)
		}
		if r.Err != nil || r.State == nil || r.State.Step != state.StepCollectDone {
			t.Fatalf("result %d: %+v", i, r)
		}
	}
}

func TestRun_FailureDoesNotAbortSiblings(t *testing.T) {
	ws := makeWallets(4)
	boom := errors.New("bridge blew up")

	results := Run(context.Background(), ws, Options{Concurrency: 4}, func(ctx context.Context, w *wallet.Wallet) (*state.WalletState, error) {
		if w.Index == 1 {
			return nil, boom
		}
		return &state.WalletState{Step: state.StepCollectDone}, nil
	})

	var failed, ok int
	for _, r := range results {
		if r.Err != nil {
			failed++
			if !errors.Is(r.Err, boom) {
				t.Fatalf("unexpected error: %v", r.Err)
			}
		} else {
			ok++
		}
	}
	if failed != 1 || ok != 3 {
		t.Fatalf("failed=%d ok=%d", failed, ok)
	}
}

func TestRun_ConcurrencyBound(t *testing.T) {
	ws := makeWallets(8)

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0

	Run(context.Background(), ws, Options{Concurrency: 3}, func(ctx context.Context, w *wallet.Wallet) (*state.WalletState, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil, nil
	})

	if maxInFlight > 3 {
		t.Fatalf("concurrency bound exceeded: %d", maxInFlight)
	}
}

func TestRun_SequentialDefault(t *testing.T) {
	ws := makeWallets(3)

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0

	Run(context.Background(), ws, Options{}, func(ctx context.Context, w *wallet.Wallet) (*state.WalletState, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil, nil
	})

	if maxInFlight != 1 {
		t.Fatalf("sequential run overlapped: %d", maxInFlight)
	}
}

func TestRun_CancelledContextMarksRemaining(t *testing.T) {
	ws := makeWallets(6)
	ctx, cancel := context.WithCancel(context.Background())

	var calls int32
	results := Run(ctx, ws, Options{Concurrency: 2}, func(ctx context.Context, w *wallet.Wallet) (*state.WalletState, error) {
		if atomic.AddInt32(&calls, 1) == 2 {
			cancel()
		}
		return nil, nil
	})

	var ctxErrs int
	for _, r := range results {
		if errors.Is(r.Err, context.Canceled) {
			ctxErrs++
		}
	}
	if ctxErrs == 0 {
		t.Fatalf("remaining wallets should carry the context error")
	}
	if calls > 4 {
		t.Fatalf("waves continued after cancel: %d calls", calls)
	}
}

func TestReport_Counts(t *testing.T) {
	ws := makeWallets(3)
	results := []Result{
		{Wallet: ws[0], State: &state.WalletState{Step: state.StepCollectDone}},
		{Wallet: ws[1], Err: errors.New("nope")},
		{Wallet: ws[2], State: &state.WalletState{Step: state.StepCollectDone}},
	}

	ok, failed := Report(results)
	if ok != 2 || failed != 1 {
		t.Fatalf("ok=%d failed=%d", ok, failed)
	}
}
