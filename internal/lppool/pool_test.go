package lppool

import (
	"bytes"
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func TestAlignTick(t *testing.T) {
	cases := []struct {
		tick, spacing, want int
	}{
		{100, 10, 100},
		{105, 10, 100},
		{109, 10, 100},
		{-105, 10, -110},
		{-100, 10, -100},
		{-1, 10, -10},
		{0, 60, 0},
		{59, 60, 0},
		{-59, 60, -60},
	}
	for _, tc := range cases {
		if got := AlignTick(tc.tick, tc.spacing); got != tc.want {
			t.Fatalf("AlignTick(%d, %d): got %d want %d", tc.tick, tc.spacing, got, tc.want)
		}
	}
}

func TestRangeAroundTick(t *testing.T) {
	lower, upper := RangeAroundTick(105, 10, 5)
	if lower != 50 || upper != 150 {
		t.Fatalf("got [%d, %d] want [50, 150]", lower, upper)
	}
	if lower >= upper {
		t.Fatalf("inverted range")
	}
	if lower%10 != 0 || upper%10 != 0 {
		t.Fatalf("range not aligned: [%d, %d]", lower, upper)
	}

	lower, upper = RangeAroundTick(-7, 60, 2)
	if lower != -180 || upper != 60 {
		t.Fatalf("negative tick: got [%d, %d] want [-180, 60]", lower, upper)
	}
}

func TestInRange(t *testing.T) {
	if !InRange(0, -60, 60) || !InRange(-60, -60, 60) || !InRange(60, -60, 60) {
		t.Fatalf("boundary ticks must count as in range")
	}
	if InRange(61, -60, 60) || InRange(-61, -60, 60) {
		t.Fatalf("out-of-range tick accepted")
	}
}

type fakeReader struct {
	slot0   []byte
	spacing []byte
	calls   int
}

func (f *fakeReader) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	f.calls++
	if bytes.Equal(data, slot0Selector) {
		return f.slot0, nil
	}
	return f.spacing, nil
}

func encodeWord(v *big.Int) []byte {
	neg := v.Sign() < 0
	w := new(big.Int).Set(v)
	if neg {
		w.Add(w, new(big.Int).Lsh(big.NewInt(1), 256))
	}
	return common.LeftPadBytes(w.Bytes(), 32)
}

func TestPool_CurrentPriceDecodesNegativeTick(t *testing.T) {
	sqrt := new(big.Int).Lsh(big.NewInt(1), 96) // price 1.0 in Q96
	out := append(encodeWord(sqrt), encodeWord(big.NewInt(-887220))...)
	// slot0 has trailing fields; pad a few extra words.
	out = append(out, make([]byte, 32*5)...)

	fr := &fakeReader{slot0: out, spacing: encodeWord(big.NewInt(60))}
	p, err := NewPool(common.HexToAddress("0x9"), fr)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	price, err := p.CurrentPrice(context.Background())
	if err != nil {
		t.Fatalf("CurrentPrice: %v", err)
	}
	if price.Tick != -887220 {
		t.Fatalf("tick: got %d", price.Tick)
	}
	if price.TickSpacing != 60 {
		t.Fatalf("spacing: got %d", price.TickSpacing)
	}
	if price.SqrtPriceX96.Cmp(sqrt) != 0 {
		t.Fatalf("sqrt price: got %s", price.SqrtPriceX96)
	}

	// Spacing is cached: a second read costs one call, not two.
	before := fr.calls
	if _, err := p.CurrentPrice(context.Background()); err != nil {
		t.Fatalf("second CurrentPrice: %v", err)
	}
	if fr.calls != before+1 {
		t.Fatalf("tick spacing not cached: %d extra calls", fr.calls-before)
	}
}

// lockedReader is safe for concurrent Call, unlike fakeReader.
type lockedReader struct {
	mu      sync.Mutex
	slot0   []byte
	spacing []byte
}

func (f *lockedReader) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if bytes.Equal(data, slot0Selector) {
		return f.slot0, nil
	}
	return f.spacing, nil
}

func TestPool_CurrentPriceConcurrent(t *testing.T) {
	out := append(encodeWord(big.NewInt(1)), encodeWord(big.NewInt(120))...)
	out = append(out, make([]byte, 32*5)...)
	fr := &lockedReader{slot0: out, spacing: encodeWord(big.NewInt(10))}
	p, err := NewPool(common.HexToAddress("0x9"), fr)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	// One Pool is shared across wallet goroutines; overlapping first reads
	// must not corrupt the spacing cache.
	var wg sync.WaitGroup
	results := make([]*Price, 4)
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.CurrentPrice(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < 4; i++ {
		if errs[i] != nil {
			t.Fatalf("CurrentPrice %d: %v", i, errs[i])
		}
		if results[i].Tick != 120 || results[i].TickSpacing != 10 {
			t.Fatalf("result %d: tick %d spacing %d", i, results[i].Tick, results[i].TickSpacing)
		}
	}
}

func TestMintCalldata_RejectsInvertedRange(t *testing.T) {
	_, err := MintCalldata(MintParams{TickLower: 60, TickUpper: -60})
	if err == nil {
		t.Fatalf("inverted range accepted")
	}
}

func TestMintCalldata_PacksSelector(t *testing.T) {
	data, err := MintCalldata(MintParams{
		Token0:         common.HexToAddress("0x1"),
		Token1:         common.HexToAddress("0x2"),
		Fee:            3000,
		TickLower:      -120,
		TickUpper:      120,
		Amount0Desired: big.NewInt(1000),
		Amount1Desired: big.NewInt(2000),
		Recipient:      common.HexToAddress("0x3"),
		Deadline:       big.NewInt(1_700_000_000),
	})
	if err != nil {
		t.Fatalf("MintCalldata: %v", err)
	}
	wantSel := positionManagerABI.Methods["mint"].ID
	if !bytes.Equal(data[:4], wantSel) {
		t.Fatalf("selector: got %x want %x", data[:4], wantSel)
	}
	// selector + 11 words of tuple
	if len(data) != 4+11*32 {
		t.Fatalf("calldata length %d", len(data))
	}
}

func TestCollectCalldata_UsesMaxUint128(t *testing.T) {
	data, err := CollectCalldata(CollectParams{TokenID: big.NewInt(7), Recipient: common.HexToAddress("0x3")})
	if err != nil {
		t.Fatalf("CollectCalldata: %v", err)
	}
	wantSel := positionManagerABI.Methods["collect"].ID
	if !bytes.Equal(data[:4], wantSel) {
		t.Fatalf("selector mismatch")
	}
	// amount0Max occupies the third tuple word.
	word := new(big.Int).SetBytes(data[4+2*32 : 4+3*32])
	if word.Cmp(MaxUint128) != 0 {
		t.Fatalf("amount0Max: got %s", word)
	}
}

func TestParseMintReceipt(t *testing.T) {
	tokenID := big.NewInt(12345)
	data := append(encodeWord(big.NewInt(999)), encodeWord(big.NewInt(111))...)
	data = append(data, encodeWord(big.NewInt(222))...)

	receipt := &types.Receipt{Logs: []*types.Log{
		{Topics: []common.Hash{{0x01}}}, // unrelated event
		{
			Topics: []common.Hash{increaseLiquidityTopic, common.BigToHash(tokenID)},
			Data:   data,
		},
	}}

	out, err := ParseMintReceipt(receipt)
	if err != nil {
		t.Fatalf("ParseMintReceipt: %v", err)
	}
	if out.TokenID.Cmp(tokenID) != 0 {
		t.Fatalf("token id: %s", out.TokenID)
	}
	if out.Liquidity.Int64() != 999 || out.Amount0.Int64() != 111 || out.Amount1.Int64() != 222 {
		t.Fatalf("amounts: %s/%s/%s", out.Liquidity, out.Amount0, out.Amount1)
	}
}

func TestParseMintReceipt_MissingEvent(t *testing.T) {
	if _, err := ParseMintReceipt(&types.Receipt{}); err == nil {
		t.Fatalf("empty receipt accepted")
	}
}

func TestParseCollectReceipt_MatchesTokenID(t *testing.T) {
	mk := func(id int64, a0, a1 int64) *types.Log {
		data := append(encodeWord(common.HexToAddress("0x3").Big()), encodeWord(big.NewInt(a0))...)
		data = append(data, encodeWord(big.NewInt(a1))...)
		return &types.Log{
			Topics: []common.Hash{collectTopic, common.BigToHash(big.NewInt(id))},
			Data:   data,
		}
	}
	receipt := &types.Receipt{Logs: []*types.Log{mk(1, 10, 20), mk(2, 30, 40)}}

	out, err := ParseCollectReceipt(receipt, big.NewInt(2))
	if err != nil {
		t.Fatalf("ParseCollectReceipt: %v", err)
	}
	if out.Amount0.Int64() != 30 || out.Amount1.Int64() != 40 {
		t.Fatalf("amounts: %s/%s", out.Amount0, out.Amount1)
	}
}
