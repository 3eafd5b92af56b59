package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var approveSelector = crypto.Keccak256([]byte("approve(address,uint256)"))[:4]

// ApproveCalldata encodes erc20.approve(spender, amount).
func ApproveCalldata(spender common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 4+64)
	data = append(data, approveSelector...)
	data = append(data, common.LeftPadBytes(spender.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}
