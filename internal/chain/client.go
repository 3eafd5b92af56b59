package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/Tox85/bsl-pengu-bot-sub001/internal/retry"
)

const (
	// NativeTransferGas is the intrinsic gas of a plain value transfer.
	NativeTransferGas = uint64(21000)

	receiptPollInterval = 2 * time.Second
)

var erc20BalanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]

// Client wraps one chain's RPC endpoint. All calls pass through a shared rate
// limiter so a burst of wallet work cannot trip the provider's throttling.
type Client struct {
	ec      *ethclient.Client
	chainID *big.Int
	limiter *rate.Limiter
}

func Dial(ctx context.Context, rpcURL string, rps float64) (*Client, error) {
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return nil, fmt.Errorf("rpc url required")
	}
	if !strings.HasPrefix(rpcURL, "http") && !strings.HasPrefix(rpcURL, "wss") {
		return nil, fmt.Errorf("rpc url must be http(s) or wss, got %q", rpcURL)
	}

	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	chainID, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("chain id: %w", err)
	}

	if rps <= 0 {
		rps = 10
	}
	return &Client{
		ec:      ec,
		chainID: chainID,
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}, nil
}

func (c *Client) Close()            { c.ec.Close() }
func (c *Client) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

func (c *Client) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// NativeBalance returns the native-coin balance of addr.
func (c *Client) NativeBalance(ctx context.Context, addr common.Address) (*big.Int, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.ec.BalanceAt(ctx, addr, nil)
}

// TokenBalance returns the ERC20 balance of owner.
func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	data := make([]byte, 0, 4+32)
	data = append(data, erc20BalanceOfSelector...)
	data = append(data, common.LeftPadBytes(owner.Bytes(), 32)...)

	out, err := c.Call(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("balanceOf(%s): %w", owner.Hex(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("balanceOf returned empty result")
	}
	return new(big.Int).SetBytes(out), nil
}

// Call performs a read-only eth_call against to.
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.ec.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
}

func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.ec.SuggestGasPrice(ctx)
}

// PendingNonce returns the chain's view of the next nonce for addr, including
// transactions still in the mempool.
func (c *Client) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	return c.ec.PendingNonceAt(ctx, addr)
}

// LatestNonce returns the confirmed nonce for addr, excluding the mempool.
func (c *Client) LatestNonce(ctx context.Context, addr common.Address) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	return c.ec.NonceAt(ctx, addr, nil)
}

// SendNative signs and submits a plain value transfer at the given nonce.
func (c *Client) SendNative(ctx context.Context, key *ecdsa.PrivateKey, nonceVal uint64, to common.Address, amount, gasPrice *big.Int) (common.Hash, error) {
	tx := types.NewTransaction(nonceVal, to, amount, NativeTransferGas, gasPrice, nil)
	return c.signAndSend(ctx, key, tx)
}

// SendCall signs and submits a contract call. Gas is estimated with a 20%
// buffer; estimation failure is treated as fatal since the call would revert.
func (c *Client) SendCall(ctx context.Context, key *ecdsa.PrivateKey, nonceVal uint64, to common.Address, data []byte, value, gasPrice *big.Int) (common.Hash, error) {
	from := crypto.PubkeyToAddress(key.PublicKey)

	if err := c.wait(ctx); err != nil {
		return common.Hash{}, err
	}
	gasLimit, err := c.ec.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Data:  data,
		Value: value,
	})
	if err != nil {
		return common.Hash{}, retry.Fatal(fmt.Errorf("estimate gas: %w", err))
	}
	gasLimit = gasLimit * 120 / 100

	tx := types.NewTransaction(nonceVal, to, value, gasLimit, gasPrice, data)
	return c.signAndSend(ctx, key, tx)
}

func (c *Client) signAndSend(ctx context.Context, key *ecdsa.PrivateKey, tx *types.Transaction) (common.Hash, error) {
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), key)
	if err != nil {
		return common.Hash{}, retry.Fatal(fmt.Errorf("sign tx: %w", err))
	}
	if err := c.wait(ctx); err != nil {
		return common.Hash{}, err
	}
	if err := c.ec.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send tx nonce=%d: %w", tx.Nonce(), err)
	}
	return signed.Hash(), nil
}

// WaitMined polls for the receipt of hash until it lands or timeout elapses.
// A reverted transaction is an error; exceeding the deadline is a
// timeout-kind error, not a hang.
func (c *Client) WaitMined(ctx context.Context, hash common.Hash, timeout time.Duration) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, retry.Timeout(fmt.Errorf("waiting for tx %s: %w", hash.Hex(), ctx.Err()))
		case <-ticker.C:
			receipt, err := c.ec.TransactionReceipt(ctx, hash)
			if err != nil || receipt == nil {
				continue
			}
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, retry.Fatal(fmt.Errorf("tx %s reverted", hash.Hex()))
			}
			return receipt, nil
		}
	}
}

// BumpGasPrice returns p raised by 15%, the minimum the mempool accepts for a
// replacement transaction.
func BumpGasPrice(p *big.Int) *big.Int {
	out := new(big.Int).Mul(p, big.NewInt(115))
	return out.Div(out, big.NewInt(100))
}
