package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/Tox85/bsl-pengu-bot-sub001/internal/retry"
)

const DefaultURL = "https://li.quest/v1"

// Client talks to the bridge aggregator's REST API: quote a cross-chain route,
// then poll the route status until funds land on the destination chain.
type Client struct {
	host       string
	httpClient *http.Client
}

func NewClient(host string) (*Client, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		host = DefaultURL
	}
	host = strings.TrimRight(host, "/")

	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("bridge api url parse %q: %w", host, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("bridge api url must be http(s), got %q", host)
	}

	return &Client{
		host:       host,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}, nil
}

type QuoteParams struct {
	FromChain   int64
	ToChain     int64
	FromToken   common.Address
	ToToken     common.Address
	FromAddress common.Address
	AmountWei   *big.Int
	SlippageBps int
}

// Quote is an executable route: submit TxData to TxTarget with TxValue
// attached, then await RouteID.
type Quote struct {
	RouteID      string
	MinAmountOut *big.Int
	TxTarget     common.Address
	TxData       []byte
	TxValue      *big.Int
}

type quoteResp struct {
	ID       string `json:"id"`
	Estimate struct {
		ToAmountMin string `json:"toAmountMin"`
	} `json:"estimate"`
	TransactionRequest struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
	} `json:"transactionRequest"`
}

func (c *Client) FetchQuote(ctx context.Context, p QuoteParams) (*Quote, error) {
	if p.AmountWei == nil || p.AmountWei.Sign() <= 0 {
		return nil, retry.Fatal(fmt.Errorf("bridge amount must be positive"))
	}
	if p.FromChain == p.ToChain {
		return nil, retry.Fatal(fmt.Errorf("bridge from and to chain are both %d", p.FromChain))
	}

	q := url.Values{}
	q.Set("fromChain", strconv.FormatInt(p.FromChain, 10))
	q.Set("toChain", strconv.FormatInt(p.ToChain, 10))
	q.Set("fromToken", p.FromToken.Hex())
	q.Set("toToken", p.ToToken.Hex())
	q.Set("fromAddress", p.FromAddress.Hex())
	q.Set("fromAmount", p.AmountWei.String())
	q.Set("slippage", strconv.FormatFloat(float64(p.SlippageBps)/10000, 'f', -1, 64))

	var resp quoteResp
	if err := c.doJSON(ctx, "/quote", q, &resp); err != nil {
		return nil, err
	}

	minOut, ok := new(big.Int).SetString(resp.Estimate.ToAmountMin, 10)
	if !ok {
		return nil, fmt.Errorf("quote toAmountMin %q not a decimal amount", resp.Estimate.ToAmountMin)
	}
	data, err := hexutil.Decode(resp.TransactionRequest.Data)
	if err != nil {
		return nil, fmt.Errorf("quote tx data: %w", err)
	}
	value := new(big.Int)
	if v := strings.TrimSpace(resp.TransactionRequest.Value); v != "" {
		parsed, err := hexutil.DecodeBig(v)
		if err != nil {
			return nil, fmt.Errorf("quote tx value %q: %w", v, err)
		}
		value = parsed
	}

	return &Quote{
		RouteID:      resp.ID,
		MinAmountOut: minOut,
		TxTarget:     common.HexToAddress(resp.TransactionRequest.To),
		TxData:       data,
		TxValue:      value,
	}, nil
}

type statusResp struct {
	Status    string `json:"status"`
	Substatus string `json:"substatus"`
	Receiving struct {
		Amount string `json:"amount"`
	} `json:"receiving"`
}

// Status returns the aggregator's view of the route: PENDING, DONE or FAILED,
// plus the received amount once known.
func (c *Client) Status(ctx context.Context, routeID string, txHash common.Hash) (string, *big.Int, error) {
	q := url.Values{}
	q.Set("txHash", txHash.Hex())
	if routeID != "" {
		q.Set("routeId", routeID)
	}

	var resp statusResp
	if err := c.doJSON(ctx, "/status", q, &resp); err != nil {
		return "", nil, err
	}

	var received *big.Int
	if a := strings.TrimSpace(resp.Receiving.Amount); a != "" {
		if v, ok := new(big.Int).SetString(a, 10); ok {
			received = v
		}
	}
	return resp.Status, received, nil
}

// WaitReceived polls the route until funds arrive on the destination chain.
// The wait is bounded: exceeding timeout is a timeout-kind error, and a FAILED
// status is fatal.
func (c *Client) WaitReceived(ctx context.Context, routeID string, txHash common.Hash, timeout, interval time.Duration) (*big.Int, error) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	deadline := time.Now().Add(timeout)

	for {
		status, received, err := c.Status(ctx, routeID, txHash)
		if err == nil {
			switch status {
			case "DONE":
				return received, nil
			case "FAILED":
				return nil, retry.Fatal(fmt.Errorf("bridge route %s failed", routeID))
			}
		}
		// Transient status errors fall through to the next poll.

		if time.Now().After(deadline) {
			return nil, retry.Timeout(fmt.Errorf("bridge route %s not received after %s", routeID, timeout))
		}
		select {
		case <-ctx.Done():
			return nil, retry.Timeout(fmt.Errorf("bridge route %s: %w", routeID, ctx.Err()))
		case <-time.After(interval):
		}
	}
}

func (c *Client) doJSON(ctx context.Context, path string, params url.Values, out any) error {
	u := c.host + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return retry.RateLimited(fmt.Errorf("bridge %s: status 429", path))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("bridge GET %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode %s response: %w (body=%s)", path, err, strings.TrimSpace(string(b)))
	}
	return nil
}
