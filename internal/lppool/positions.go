package lppool

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const positionManagerABIJSON = `[
  {"inputs":[{"components":[
    {"internalType":"address","name":"token0","type":"address"},
    {"internalType":"address","name":"token1","type":"address"},
    {"internalType":"uint24","name":"fee","type":"uint24"},
    {"internalType":"int24","name":"tickLower","type":"int24"},
    {"internalType":"int24","name":"tickUpper","type":"int24"},
    {"internalType":"uint256","name":"amount0Desired","type":"uint256"},
    {"internalType":"uint256","name":"amount1Desired","type":"uint256"},
    {"internalType":"uint256","name":"amount0Min","type":"uint256"},
    {"internalType":"uint256","name":"amount1Min","type":"uint256"},
    {"internalType":"address","name":"recipient","type":"address"},
    {"internalType":"uint256","name":"deadline","type":"uint256"}
  ],"internalType":"struct INonfungiblePositionManager.MintParams","name":"params","type":"tuple"}],
  "name":"mint","outputs":[
    {"internalType":"uint256","name":"tokenId","type":"uint256"},
    {"internalType":"uint128","name":"liquidity","type":"uint128"},
    {"internalType":"uint256","name":"amount0","type":"uint256"},
    {"internalType":"uint256","name":"amount1","type":"uint256"}
  ],"stateMutability":"payable","type":"function"},
  {"inputs":[{"components":[
    {"internalType":"uint256","name":"tokenId","type":"uint256"},
    {"internalType":"address","name":"recipient","type":"address"},
    {"internalType":"uint128","name":"amount0Max","type":"uint128"},
    {"internalType":"uint128","name":"amount1Max","type":"uint128"}
  ],"internalType":"struct INonfungiblePositionManager.CollectParams","name":"params","type":"tuple"}],
  "name":"collect","outputs":[
    {"internalType":"uint256","name":"amount0","type":"uint256"},
    {"internalType":"uint256","name":"amount1","type":"uint256"}
  ],"stateMutability":"payable","type":"function"}
]`

var (
	positionManagerABI abi.ABI

	increaseLiquidityTopic = crypto.Keccak256Hash([]byte("IncreaseLiquidity(uint256,uint128,uint256,uint256)"))
	collectTopic           = crypto.Keccak256Hash([]byte("Collect(uint256,address,uint256,uint256)"))

	// MaxUint128 is the sentinel for "collect everything".
	MaxUint128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(positionManagerABIJSON))
	if err != nil {
		panic(fmt.Sprintf("lppool: parse position manager abi: %v", err))
	}
	positionManagerABI = parsed
}

type MintParams struct {
	Token0         common.Address
	Token1         common.Address
	Fee            uint32 // pool fee tier in hundredths of a bip
	TickLower      int
	TickUpper      int
	Amount0Desired *big.Int
	Amount1Desired *big.Int
	Amount0Min     *big.Int
	Amount1Min     *big.Int
	Recipient      common.Address
	Deadline       *big.Int
}

// MintCalldata encodes a mint call for the position manager.
func MintCalldata(p MintParams) ([]byte, error) {
	if p.TickLower >= p.TickUpper {
		return nil, fmt.Errorf("tick range [%d, %d] inverted", p.TickLower, p.TickUpper)
	}
	arg := struct {
		Token0         common.Address
		Token1         common.Address
		Fee            *big.Int
		TickLower      *big.Int
		TickUpper      *big.Int
		Amount0Desired *big.Int
		Amount1Desired *big.Int
		Amount0Min     *big.Int
		Amount1Min     *big.Int
		Recipient      common.Address
		Deadline       *big.Int
	}{
		Token0:         p.Token0,
		Token1:         p.Token1,
		Fee:            big.NewInt(int64(p.Fee)),
		TickLower:      big.NewInt(int64(p.TickLower)),
		TickUpper:      big.NewInt(int64(p.TickUpper)),
		Amount0Desired: orZero(p.Amount0Desired),
		Amount1Desired: orZero(p.Amount1Desired),
		Amount0Min:     orZero(p.Amount0Min),
		Amount1Min:     orZero(p.Amount1Min),
		Recipient:      p.Recipient,
		Deadline:       orZero(p.Deadline),
	}
	return positionManagerABI.Pack("mint", arg)
}

type CollectParams struct {
	TokenID   *big.Int
	Recipient common.Address
}

// CollectCalldata encodes a collect-everything call for the position.
func CollectCalldata(p CollectParams) ([]byte, error) {
	if p.TokenID == nil {
		return nil, fmt.Errorf("token id required")
	}
	arg := struct {
		TokenId    *big.Int
		Recipient  common.Address
		Amount0Max *big.Int
		Amount1Max *big.Int
	}{
		TokenId:    p.TokenID,
		Recipient:  p.Recipient,
		Amount0Max: MaxUint128,
		Amount1Max: MaxUint128,
	}
	return positionManagerABI.Pack("collect", arg)
}

// MintOutcome is the minted position read back from the receipt logs.
type MintOutcome struct {
	TokenID   *big.Int
	Liquidity *big.Int
	Amount0   *big.Int
	Amount1   *big.Int
}

// ParseMintReceipt extracts the IncreaseLiquidity event the mint emitted. The
// return data of the call is not available off-chain, so the receipt is the
// source of truth for the minted token id.
func ParseMintReceipt(receipt *types.Receipt) (*MintOutcome, error) {
	if receipt == nil {
		return nil, fmt.Errorf("receipt required")
	}
	for _, lg := range receipt.Logs {
		if lg == nil || len(lg.Topics) < 2 || lg.Topics[0] != increaseLiquidityTopic {
			continue
		}
		if len(lg.Data) < 96 {
			continue
		}
		return &MintOutcome{
			TokenID:   new(big.Int).SetBytes(lg.Topics[1].Bytes()),
			Liquidity: new(big.Int).SetBytes(lg.Data[:32]),
			Amount0:   new(big.Int).SetBytes(lg.Data[32:64]),
			Amount1:   new(big.Int).SetBytes(lg.Data[64:96]),
		}, nil
	}
	return nil, fmt.Errorf("no IncreaseLiquidity event in receipt")
}

// CollectOutcome is the fee amounts actually collected.
type CollectOutcome struct {
	TokenID *big.Int
	Amount0 *big.Int
	Amount1 *big.Int
}

// ParseCollectReceipt extracts the Collect event for the given token id.
func ParseCollectReceipt(receipt *types.Receipt, tokenID *big.Int) (*CollectOutcome, error) {
	if receipt == nil {
		return nil, fmt.Errorf("receipt required")
	}
	for _, lg := range receipt.Logs {
		if lg == nil || len(lg.Topics) < 2 || lg.Topics[0] != collectTopic {
			continue
		}
		id := new(big.Int).SetBytes(lg.Topics[1].Bytes())
		if tokenID != nil && id.Cmp(tokenID) != 0 {
			continue
		}
		if len(lg.Data) < 96 {
			continue
		}
		return &CollectOutcome{
			TokenID: id,
			Amount0: new(big.Int).SetBytes(lg.Data[32:64]),
			Amount1: new(big.Int).SetBytes(lg.Data[64:96]),
		}, nil
	}
	return nil, fmt.Errorf("no Collect event for token %s in receipt", tokenID)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
