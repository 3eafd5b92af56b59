package lppool

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Tox85/bsl-pengu-bot-sub001/internal/retry"
)

// CallReader is the read-only slice of the chain client the pool needs.
type CallReader interface {
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

var (
	slot0Selector       = crypto.Keccak256([]byte("slot0()"))[:4]
	tickSpacingSelector = crypto.Keccak256([]byte("tickSpacing()"))[:4]
)

// Price is a snapshot of the pool's current price state.
type Price struct {
	Tick         int
	TickSpacing  int
	SqrtPriceX96 *big.Int
}

// Pool reads price state from one concentrated-liquidity pool contract.
// Safe for concurrent use.
type Pool struct {
	addr   common.Address
	reader CallReader

	// tick spacing is immutable per pool; cached after the first read.
	// Guarded by mu: one Pool is shared across wallet goroutines.
	mu      sync.Mutex
	spacing int
}

func NewPool(addr common.Address, reader CallReader) (*Pool, error) {
	if (addr == common.Address{}) {
		return nil, fmt.Errorf("pool address required")
	}
	if reader == nil {
		return nil, fmt.Errorf("call reader required")
	}
	return &Pool{addr: addr, reader: reader}, nil
}

func (p *Pool) Address() common.Address { return p.addr }

// CurrentPrice reads slot0 and the pool's tick spacing.
func (p *Pool) CurrentPrice(ctx context.Context) (*Price, error) {
	out, err := p.reader.Call(ctx, p.addr, slot0Selector)
	if err != nil {
		return nil, fmt.Errorf("slot0: %w", err)
	}
	if len(out) < 64 {
		return nil, fmt.Errorf("slot0 returned %d bytes", len(out))
	}

	sqrtPrice := new(big.Int).SetBytes(out[:32])
	tick := signedWord(out[32:64])
	if !tick.IsInt64() {
		return nil, fmt.Errorf("slot0 tick out of range")
	}

	spacing, err := p.tickSpacing(ctx)
	if err != nil {
		return nil, err
	}

	return &Price{
		Tick:         int(tick.Int64()),
		TickSpacing:  spacing,
		SqrtPriceX96: sqrtPrice,
	}, nil
}

func (p *Pool) tickSpacing(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.spacing != 0 {
		return p.spacing, nil
	}
	out, err := p.reader.Call(ctx, p.addr, tickSpacingSelector)
	if err != nil {
		return 0, fmt.Errorf("tickSpacing: %w", err)
	}
	if len(out) < 32 {
		return 0, fmt.Errorf("tickSpacing returned %d bytes", len(out))
	}
	sp := signedWord(out[:32])
	if !sp.IsInt64() || sp.Sign() <= 0 {
		return 0, retry.Fatal(fmt.Errorf("pool tick spacing %s invalid", sp))
	}
	p.spacing = int(sp.Int64())
	return p.spacing, nil
}

// signedWord decodes a two's-complement int256 word.
func signedWord(b []byte) *big.Int {
	v := new(big.Int).SetBytes(b)
	if v.Bit(255) == 1 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	return v
}

// AlignTick rounds tick down to a multiple of spacing (floor, also for
// negative ticks).
func AlignTick(tick, spacing int) int {
	q := tick / spacing
	if tick%spacing != 0 && tick < 0 {
		q--
	}
	return q * spacing
}

// RangeAroundTick centers a position range on the current tick, widthSpacings
// tick-spacing units to each side, both bounds aligned to the spacing.
func RangeAroundTick(tick, spacing, widthSpacings int) (lower, upper int) {
	if widthSpacings < 1 {
		widthSpacings = 1
	}
	center := AlignTick(tick, spacing)
	lower = center - widthSpacings*spacing
	upper = center + widthSpacings*spacing
	return lower, upper
}

// InRange reports whether tick sits inside [lower, upper].
func InRange(tick, lower, upper int) bool {
	return tick >= lower && tick <= upper
}
