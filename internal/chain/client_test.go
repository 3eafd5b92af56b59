package chain

import (
	"math/big"
	"testing"
)

func TestBumpGasPrice(t *testing.T) {
	cases := []struct {
		in   int64
		want int64
	}{
		{100, 115},
		{1_000_000_000, 1_150_000_000},
		{7, 8}, // floors, still strictly above the original
		{0, 0},
	}
	for _, tc := range cases {
		got := BumpGasPrice(big.NewInt(tc.in))
		if got.Int64() != tc.want {
			t.Fatalf("BumpGasPrice(%d): got %d want %d", tc.in, got.Int64(), tc.want)
		}
	}
}

func TestBumpGasPrice_DoesNotMutateInput(t *testing.T) {
	in := big.NewInt(200)
	_ = BumpGasPrice(in)
	if in.Int64() != 200 {
		t.Fatalf("input mutated: %d", in.Int64())
	}
}
