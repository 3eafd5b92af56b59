package swap

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

// Client fetches executable swap routes from the aggregator's REST API. The
// swap itself is submitted on-chain by the caller; this client only quotes.
type Client struct {
	host       string
	chainID    int64
	httpClient *http.Client
}

func NewClient(host string, chainID int64) (*Client, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, fmt.Errorf("swap api url required")
	}
	host = strings.TrimRight(host, "/")
	if !strings.HasPrefix(host, "http") {
		return nil, fmt.Errorf("swap api url must be http(s), got %q", host)
	}
	if chainID <= 0 {
		return nil, fmt.Errorf("chain id required")
	}
	return &Client{
		host:       host,
		chainID:    chainID,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

type QuoteParams struct {
	TokenIn     common.Address
	TokenOut    common.Address
	Recipient   common.Address
	AmountWei   *big.Int
	SlippageBps int
}

// Quote is an executable swap: submit Calldata to Target with Value attached.
type Quote struct {
	MinAmountOut *big.Int
	Target       common.Address
	Calldata     []byte
	Value        *big.Int
}

type quoteResp struct {
	OutAmountMin string `json:"outAmountMin"`
	Tx           struct {
		To    string `json:"to"`
		Data  string `json:"data"`
		Value string `json:"value"`
	} `json:"tx"`
}

func (c *Client) FetchQuote(ctx context.Context, p QuoteParams) (*Quote, error) {
	if p.AmountWei == nil || p.AmountWei.Sign() <= 0 {
		return nil, retry.Fatal(fmt.Errorf("swap amount must be positive"))
	}
	if p.TokenIn == p.TokenOut {
		return nil, retry.Fatal(fmt.Errorf("swap token in and out are both %s", p.TokenIn.Hex()))
	}

	q := url.Values{}
	q.Set("chainId", strconv.FormatInt(c.chainID, 10))
	q.Set("tokenIn", p.TokenIn.Hex())
	q.Set("tokenOut", p.TokenOut.Hex())
	q.Set("recipient", p.Recipient.Hex())
	q.Set("amount", p.AmountWei.String())
	q.Set("slippageBps", strconv.Itoa(p.SlippageBps))

	u := c.host + "/quote?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, retry.RateLimited(fmt.Errorf("swap quote: status 429"))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("swap GET /quote: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var out quoteResp
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode quote response: %w (body=%s)", err, strings.TrimSpace(string(b)))
	}

	minOut, ok := new(big.Int).SetString(out.OutAmountMin, 10)
	if !ok {
		return nil, fmt.Errorf("quote outAmountMin %q not a decimal amount", out.OutAmountMin)
	}
	data, err := hexutil.Decode(out.Tx.Data)
	if err != nil {
		return nil, fmt.Errorf("quote tx data: %w", err)
	}
	value := new(big.Int)
	if v := strings.TrimSpace(out.Tx.Value); v != "" {
		parsed, err := hexutil.DecodeBig(v)
		if err != nil {
			return nil, fmt.Errorf("quote tx value %q: %w", v, err)
		}
		value = parsed
	}

	return &Quote{
		MinAmountOut: minOut,
		Target:       common.HexToAddress(out.Tx.To),
		Calldata:     data,
		Value:        value,
	}, nil
}
