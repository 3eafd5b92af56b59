package main

import (
	"math/big"
	"testing"

	"github.com/Tox85/bsl-pengu-bot-sub001/internal/state"
)

func TestStatusLine_PositionWithTokenID(t *testing.T) {
	st := &state.WalletState{
		Address: "0xabc",
		Step:    state.StepCollectDone,
		Position: &state.PositionResult{
			Success: true,
			TokenID: state.NewWei(big.NewInt(42)),
		},
	}
	got := statusLine(st)
	want := "0xabc collect_done position=42"
	if got != want {
		t.Fatalf("line: got %q want %q", got, want)
	}
}

func TestStatusLine_PositionWithoutTokenID(t *testing.T) {
	// Dry-run checkpoints record a successful position with no minted token.
	st := &state.WalletState{
		Address:  "0xabc",
		Step:     state.StepLPDone,
		Position: &state.PositionResult{Success: true},
	}
	got := statusLine(st)
	want := "0xabc lp_done position=open"
	if got != want {
		t.Fatalf("line: got %q want %q", got, want)
	}
}

func TestStatusLine_ErrorShowsLatestStepError(t *testing.T) {
	st := &state.WalletState{
		Address: "0xabc",
		Step:    state.StepError,
		Bridge:  &state.BridgeResult{Success: true},
		Swap:    &state.SwapResult{Error: "swap quote: boom"},
	}
	got := statusLine(st)
	want := "0xabc error error=swap quote: boom"
	if got != want {
		t.Fatalf("line: got %q want %q", got, want)
	}
}
