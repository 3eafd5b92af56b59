package distributor

import (
	"fmt"
	"math/big"
	"math/rand/v2"

	"github.com/ethereum/go-ethereum/common"
)

// Params are the budget constraints for one distribution cycle.
type Params struct {
	// Balance is the hub's spendable native balance.
	Balance *big.Int
	// GasPriceWei and GasLimit give the per-transfer gas reserve.
	GasPriceWei *big.Int
	GasLimit    uint64
	// MinTransferWei is the configured minimum viable transfer. The effective
	// floor is the larger of this and twice the per-transfer gas reserve.
	MinTransferWei *big.Int
	// VarianceMinBps/VarianceMaxBps bound the random weight drawn per funded
	// satellite, in basis points (10000 = 1.0x). Randomizing within the band
	// keeps funding amounts from being trivially correlatable.
	VarianceMinBps int
	VarianceMaxBps int
}

// Allocation is one satellite's share of the plan.
type Allocation struct {
	Recipient common.Address
	AmountWei *big.Int
}

// Plan is a computed spending plan. It is recomputed from live balances each
// cycle and never persisted.
type Plan struct {
	Allocations   []Allocation
	GasReserveWei *big.Int // per funded transfer
	FloorWei      *big.Int
	FundedCount   int
	TotalWei      *big.Int // sum of all amounts; exactly the distributable pool
}

// BuildPlan computes a spending plan for the given satellites.
//
// Policy: eligibility cutoff. The largest count n of satellites such that
// (balance - reserve*n)/n >= floor is funded; the rest receive exactly zero.
// Funded satellites get the floor plus a share of the remaining pool weighted
// by independent draws from the variance band. All arithmetic is integer;
// the flooring remainder is spread one wei at a time over the first
// allocations so the plan total equals the distributable pool exactly.
func BuildPlan(recipients []common.Address, p Params, rng *rand.Rand) (*Plan, error) {
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients")
	}
	if p.Balance == nil || p.GasPriceWei == nil || p.MinTransferWei == nil {
		return nil, fmt.Errorf("balance, gas price and min transfer required")
	}
	if p.GasLimit == 0 {
		return nil, fmt.Errorf("gas limit required")
	}
	if p.VarianceMinBps <= 0 || p.VarianceMaxBps < p.VarianceMinBps {
		return nil, fmt.Errorf("variance band [%d, %d] invalid", p.VarianceMinBps, p.VarianceMaxBps)
	}
	if rng == nil {
		return nil, fmt.Errorf("rng required")
	}

	reserve := new(big.Int).Mul(p.GasPriceWei, new(big.Int).SetUint64(p.GasLimit))

	floor := new(big.Int).Lsh(reserve, 1) // 2x gas reserve
	if p.MinTransferWei.Cmp(floor) > 0 {
		floor = new(big.Int).Set(p.MinTransferWei)
	}

	plan := &Plan{
		Allocations:   make([]Allocation, len(recipients)),
		GasReserveWei: reserve,
		FloorWei:      floor,
		TotalWei:      new(big.Int),
	}
	for i, r := range recipients {
		plan.Allocations[i] = Allocation{Recipient: r, AmountWei: new(big.Int)}
	}

	// Largest n with (balance - reserve*n) >= floor*n.
	n := 0
	for candidate := len(recipients); candidate >= 1; candidate-- {
		cnt := big.NewInt(int64(candidate))
		distributable := new(big.Int).Sub(p.Balance, new(big.Int).Mul(reserve, cnt))
		need := new(big.Int).Mul(floor, cnt)
		if distributable.Cmp(need) >= 0 {
			n = candidate
			break
		}
	}
	if n == 0 {
		// Infeasible: an all-zero plan, never a partial or negative one.
		return plan, nil
	}

	cnt := big.NewInt(int64(n))
	distributable := new(big.Int).Sub(p.Balance, new(big.Int).Mul(reserve, cnt))
	pool := new(big.Int).Sub(distributable, new(big.Int).Mul(floor, cnt))

	// Independent weight per funded satellite, bounded by the variance band.
	weights := make([]*big.Int, n)
	weightSum := new(big.Int)
	span := p.VarianceMaxBps - p.VarianceMinBps
	for i := 0; i < n; i++ {
		w := p.VarianceMinBps
		if span > 0 {
			w += rng.IntN(span + 1)
		}
		weights[i] = big.NewInt(int64(w))
		weightSum.Add(weightSum, weights[i])
	}

	allocated := new(big.Int)
	for i := 0; i < n; i++ {
		share := new(big.Int).Mul(pool, weights[i])
		share.Div(share, weightSum)
		plan.Allocations[i].AmountWei.Add(floor, share)
		allocated.Add(allocated, share)
	}

	// Flooring shortfall: strictly less than n wei. One extra wei to the first
	// allocations until the intended pool is matched exactly.
	remainder := new(big.Int).Sub(pool, allocated)
	one := big.NewInt(1)
	for i := 0; remainder.Sign() > 0; i = (i + 1) % n {
		plan.Allocations[i].AmountWei.Add(plan.Allocations[i].AmountWei, one)
		remainder.Sub(remainder, one)
	}

	plan.FundedCount = n
	plan.TotalWei.Set(distributable)
	return plan, nil
}
