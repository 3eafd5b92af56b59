package distributor

import (
	"fmt"
	"math/big"
	"math/rand/v2"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func testRecipients(n int) []common.Address {
	out := make([]common.Address, n)
	for i := range out {
		out[i] = common.HexToAddress(fmt.Sprintf("0x%040x", i+1))
	}
	return out
}

func testRNG() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func eth(f string) *big.Int {
	// Parse an ETH amount given in wei as a decimal string.
	v, ok := new(big.Int).SetString(f, 10)
	if !ok {
		panic("bad test amount " + f)
	}
	return v
}

func defaultParams(balance *big.Int) Params {
	return Params{
		Balance:        balance,
		GasPriceWei:    big.NewInt(20_000_000_000), // 20 gwei
		GasLimit:       21000,
		MinTransferWei: eth("1000000000000000"), // 0.001 ETH
		VarianceMinBps: 8000,
		VarianceMaxBps: 12000,
	}
}

func TestBuildPlan_ScenarioOneEthFiveSatellites(t *testing.T) {
	// 1.0 ETH, 5 satellites, per-tx gas reserve 0.00042 ETH, floor 0.001 ETH:
	// all 5 funded, each >= floor, total + 5*reserve <= balance.
	balance := eth("1000000000000000000")
	p := defaultParams(balance)

	plan, err := BuildPlan(testRecipients(5), p, testRNG())
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}

	wantReserve := eth("420000000000000") // 0.00042 ETH
	if plan.GasReserveWei.Cmp(wantReserve) != 0 {
		t.Fatalf("gas reserve: got %s want %s", plan.GasReserveWei, wantReserve)
	}
	if plan.FundedCount != 5 {
		t.Fatalf("funded count: got %d want 5", plan.FundedCount)
	}

	floor := eth("1000000000000000")
	sum := new(big.Int)
	for i, a := range plan.Allocations {
		if a.AmountWei.Cmp(floor) < 0 {
			t.Fatalf("allocation %d below floor: %s", i, a.AmountWei)
		}
		sum.Add(sum, a.AmountWei)
	}

	spent := new(big.Int).Add(sum, new(big.Int).Mul(wantReserve, big.NewInt(5)))
	if spent.Cmp(balance) > 0 {
		t.Fatalf("plan overspends: %s > %s", spent, balance)
	}
}

func TestBuildPlan_TotalEqualsDistributableExactly(t *testing.T) {
	p := defaultParams(eth("1000000000000000000"))
	plan, err := BuildPlan(testRecipients(7), p, testRNG())
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}

	sum := new(big.Int)
	for _, a := range plan.Allocations {
		sum.Add(sum, a.AmountWei)
	}
	if sum.Cmp(plan.TotalWei) != 0 {
		t.Fatalf("rounding leaked: sum=%s total=%s", sum, plan.TotalWei)
	}

	distributable := new(big.Int).Sub(p.Balance, new(big.Int).Mul(plan.GasReserveWei, big.NewInt(int64(plan.FundedCount))))
	if plan.TotalWei.Cmp(distributable) != 0 {
		t.Fatalf("total %s != distributable %s", plan.TotalWei, distributable)
	}
}

func TestBuildPlan_InfeasibleIsAllZero(t *testing.T) {
	// Not even one satellite's reserve + floor fits.
	p := defaultParams(eth("1000000000000000")) // 0.001 ETH total
	plan, err := BuildPlan(testRecipients(5), p, testRNG())
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if plan.FundedCount != 0 {
		t.Fatalf("funded count: got %d want 0", plan.FundedCount)
	}
	for i, a := range plan.Allocations {
		if a.AmountWei.Sign() != 0 {
			t.Fatalf("allocation %d non-zero in infeasible plan: %s", i, a.AmountWei)
		}
	}
	if plan.TotalWei.Sign() != 0 {
		t.Fatalf("total non-zero: %s", plan.TotalWei)
	}
}

func TestBuildPlan_PartialEligibilityCutOff(t *testing.T) {
	// Enough for two satellites, not five. The plan funds exactly the largest
	// feasible prefix and zeroes out the rest.
	reserve := eth("420000000000000")
	floor := eth("1000000000000000")
	perSat := new(big.Int).Add(reserve, floor)
	balance := new(big.Int).Mul(perSat, big.NewInt(2))
	balance.Add(balance, eth("100000000000000")) // a little slack, short of a third

	plan, err := BuildPlan(testRecipients(5), defaultParams(balance), testRNG())
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	if plan.FundedCount != 2 {
		t.Fatalf("funded count: got %d want 2", plan.FundedCount)
	}
	for i := 2; i < 5; i++ {
		if plan.Allocations[i].AmountWei.Sign() != 0 {
			t.Fatalf("ineligible satellite %d funded: %s", i, plan.Allocations[i].AmountWei)
		}
	}
	for i := 0; i < 2; i++ {
		if plan.Allocations[i].AmountWei.Cmp(floor) < 0 {
			t.Fatalf("funded satellite %d below floor: %s", i, plan.Allocations[i].AmountWei)
		}
	}
}

func TestBuildPlan_FloorIsTwiceReserveWhenLarger(t *testing.T) {
	p := defaultParams(eth("1000000000000000000"))
	p.MinTransferWei = big.NewInt(1) // force the 2x-reserve branch
	plan, err := BuildPlan(testRecipients(3), p, testRNG())
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	want := eth("840000000000000") // 2 * 0.00042 ETH
	if plan.FloorWei.Cmp(want) != 0 {
		t.Fatalf("floor: got %s want %s", plan.FloorWei, want)
	}
}

func TestBuildPlan_DeterministicForSeededRNG(t *testing.T) {
	p := defaultParams(eth("3000000000000000000"))
	a, err := BuildPlan(testRecipients(9), p, rand.New(rand.NewPCG(7, 7)))
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	b, err := BuildPlan(testRecipients(9), p, rand.New(rand.NewPCG(7, 7)))
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	for i := range a.Allocations {
		if a.Allocations[i].AmountWei.Cmp(b.Allocations[i].AmountWei) != 0 {
			t.Fatalf("allocation %d differs across identical seeds", i)
		}
	}
}

func TestBuildPlan_VarianceBandBoundsShares(t *testing.T) {
	// With a tight band the largest share cannot dwarf the smallest: amounts
	// beyond the floor stay within roughly max/min of each other.
	p := defaultParams(eth("10000000000000000000")) // 10 ETH
	p.VarianceMinBps = 9000
	p.VarianceMaxBps = 11000

	plan, err := BuildPlan(testRecipients(10), p, testRNG())
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}

	min := new(big.Int)
	max := new(big.Int)
	for i, a := range plan.Allocations {
		extra := new(big.Int).Sub(a.AmountWei, plan.FloorWei)
		if i == 0 || extra.Cmp(min) < 0 {
			min.Set(extra)
		}
		if extra.Cmp(max) > 0 {
			max.Set(extra)
		}
	}

	// max/min <= maxBps/minBps, with one wei of slack for remainder spreading.
	lhs := new(big.Int).Mul(max, big.NewInt(int64(p.VarianceMinBps)))
	rhs := new(big.Int).Mul(new(big.Int).Add(min, big.NewInt(1)), big.NewInt(int64(p.VarianceMaxBps)))
	if lhs.Cmp(rhs) > 0 {
		t.Fatalf("share spread exceeds variance band: min=%s max=%s", min, max)
	}
}

func TestBuildPlan_ParameterValidation(t *testing.T) {
	p := defaultParams(eth("1000000000000000000"))

	if _, err := BuildPlan(nil, p, testRNG()); err == nil {
		t.Fatalf("no recipients accepted")
	}

	bad := p
	bad.VarianceMinBps = 0
	if _, err := BuildPlan(testRecipients(2), bad, testRNG()); err == nil {
		t.Fatalf("zero variance min accepted")
	}

	bad = p
	bad.VarianceMaxBps = bad.VarianceMinBps - 1
	if _, err := BuildPlan(testRecipients(2), bad, testRNG()); err == nil {
		t.Fatalf("inverted variance band accepted")
	}

	bad = p
	bad.GasLimit = 0
	if _, err := BuildPlan(testRecipients(2), bad, testRNG()); err == nil {
		t.Fatalf("zero gas limit accepted")
	}
}
