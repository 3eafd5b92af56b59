// Package exchange is the withdrawal-side client for the centralized
// exchange holding the funding balance. Requests are HMAC-SHA256 signed
// over timestamp + method + path + body.
package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Tox85/bsl-pengu-bot-sub001/internal/retry"
)

// Failure kinds the caller must be able to tell apart. Insufficient balance
// means top up the exchange account; not-whitelisted means fix the withdrawal
// address allowlist. Neither is retryable.
var (
	ErrInsufficientBalance   = errors.New("exchange: insufficient balance")
	ErrAddressNotWhitelisted = errors.New("exchange: address not whitelisted")
)

type Credentials struct {
	Key    string
	Secret string
}

type Client struct {
	host       string
	httpClient *http.Client
	creds      Credentials

	now func() time.Time // overridable in tests
}

func NewClient(host string, creds Credentials) (*Client, error) {
	host = strings.TrimRight(host, "/")
	if !strings.HasPrefix(host, "http") {
		return nil, fmt.Errorf("exchange host must be http(s), got %q", host)
	}
	if creds.Key == "" || creds.Secret == "" {
		return nil, fmt.Errorf("exchange api key and secret required")
	}
	return &Client{
		host:       host,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		creds:      creds,
		now:        time.Now,
	}, nil
}

// WithdrawRequest asks the exchange to send `Amount` of `Token` to `Address`
// on `Network` (the exchange's network label, e.g. "ETH", "ARBITRUM").
type WithdrawRequest struct {
	Token   string
	Amount  decimal.Decimal
	Address string
	Network string
}

type Withdrawal struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	TxHash string `json:"txHash,omitempty"`
}

// Withdraw submits a withdrawal. Insufficient balance and non-whitelisted
// addresses come back as the package sentinels wrapped fatal; they cannot be
// fixed by retrying.
func (c *Client) Withdraw(ctx context.Context, req WithdrawRequest) (*Withdrawal, error) {
	if req.Token == "" || req.Address == "" || req.Network == "" {
		return nil, retry.Fatal(fmt.Errorf("exchange withdraw: token, address and network required"))
	}
	if req.Amount.Sign() <= 0 {
		return nil, retry.Fatal(fmt.Errorf("exchange withdraw: amount %s must be positive", req.Amount))
	}

	body, err := json.Marshal(map[string]string{
		"coin":    req.Token,
		"amount":  req.Amount.String(),
		"address": req.Address,
		"network": req.Network,
	})
	if err != nil {
		return nil, err
	}

	var out Withdrawal
	if err := c.doJSON(ctx, http.MethodPost, "/v1/withdraw", nil, body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, fmt.Errorf("exchange withdraw: response missing withdrawal id")
	}
	return &out, nil
}

// WithdrawStatus looks up a previously submitted withdrawal by id.
func (c *Client) WithdrawStatus(ctx context.Context, id string) (*Withdrawal, error) {
	if id == "" {
		return nil, retry.Fatal(fmt.Errorf("exchange: withdrawal id required"))
	}
	params := url.Values{}
	params.Set("id", id)
	var out Withdrawal
	if err := c.doJSON(ctx, http.MethodGet, "/v1/withdraw", params, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type balanceResp struct {
	Coin string `json:"coin"`
	Free string `json:"free"`
}

// Balance returns the free (withdrawable) balance of the token.
func (c *Client) Balance(ctx context.Context, token string) (decimal.Decimal, error) {
	if token == "" {
		return decimal.Zero, retry.Fatal(fmt.Errorf("exchange: token required"))
	}
	params := url.Values{}
	params.Set("coin", token)
	var out balanceResp
	if err := c.doJSON(ctx, http.MethodGet, "/v1/balance", params, nil, &out); err != nil {
		return decimal.Zero, err
	}
	bal, err := decimal.NewFromString(out.Free)
	if err != nil {
		return decimal.Zero, fmt.Errorf("exchange: parse balance %q: %w", out.Free, err)
	}
	return bal, nil
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Exchange-side failure codes per the withdrawal API docs.
const (
	codeInsufficientBalance = 4001
	codeNotWhitelisted      = 4002
)

func (c *Client) doJSON(ctx context.Context, method, path string, params url.Values, body []byte, out any) error {
	u := c.host + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	ts := c.now().UnixMilli()
	req.Header.Set("X-API-Key", c.creds.Key)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Signature", sign(c.creds.Secret, ts, method, path, body))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return retry.RateLimited(fmt.Errorf("exchange %s %s: status 429: %s", method, path, strings.TrimSpace(string(b))))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return classifyAPIError(method, path, resp.StatusCode, b)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("exchange: decode %s response: %w (body=%s)", path, err, strings.TrimSpace(string(b)))
	}
	return nil
}

func classifyAPIError(method, path string, status int, body []byte) error {
	var ae apiError
	if err := json.Unmarshal(body, &ae); err == nil && ae.Code != 0 {
		switch ae.Code {
		case codeInsufficientBalance:
			return retry.Fatal(fmt.Errorf("%w: %s", ErrInsufficientBalance, ae.Msg))
		case codeNotWhitelisted:
			return retry.Fatal(fmt.Errorf("%w: %s", ErrAddressNotWhitelisted, ae.Msg))
		}
		if status >= 400 && status < 500 {
			return retry.Fatal(fmt.Errorf("exchange %s %s: code %d: %s", method, path, ae.Code, ae.Msg))
		}
		return fmt.Errorf("exchange %s %s: code %d: %s", method, path, ae.Code, ae.Msg)
	}
	if status >= 400 && status < 500 {
		return retry.Fatal(fmt.Errorf("exchange %s %s: status %d: %s", method, path, status, strings.TrimSpace(string(body))))
	}
	return fmt.Errorf("exchange %s %s: status %d: %s", method, path, status, strings.TrimSpace(string(body)))
}

// sign computes the request signature: hex HMAC-SHA256 of
// timestamp + method + path + body under the api secret.
func sign(secret string, timestamp int64, method, path string, body []byte) string {
	var sb strings.Builder
	sb.Grow(24 + len(method) + len(path) + len(body))
	sb.WriteString(strconv.FormatInt(timestamp, 10))
	sb.WriteString(method)
	sb.WriteString(path)
	sb.Write(body)

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(sb.String()))
	return hex.EncodeToString(mac.Sum(nil))
}
