package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Tox85/bsl-pengu-bot-sub001/internal/retry"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(srv.URL, Credentials{Key: "k", Secret: "s"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestWithdraw_SignsRequest(t *testing.T) {
	var gotKey, gotTS, gotSig string
	var gotBody []byte
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotTS = r.Header.Get("X-Timestamp")
		gotSig = r.Header.Get("X-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		io.WriteString(w, `{"id":"w-1","status":"PROCESSING"}`)
	})
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }

	wd, err := c.Withdraw(context.Background(), WithdrawRequest{
		Token:   "ETH",
		Amount:  decimal.RequireFromString("0.5"),
		Address: "0xabc",
		Network: "ARBITRUM",
	})
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if wd.ID != "w-1" || wd.Status != "PROCESSING" {
		t.Fatalf("withdrawal: %+v", wd)
	}
	if gotKey != "k" || gotTS != "1700000000000" {
		t.Fatalf("auth headers: key=%q ts=%q", gotKey, gotTS)
	}

	mac := hmac.New(sha256.New, []byte("s"))
	mac.Write([]byte("1700000000000" + "POST" + "/v1/withdraw"))
	mac.Write(gotBody)
	if want := hex.EncodeToString(mac.Sum(nil)); gotSig != want {
		t.Fatalf("signature: got %s want %s", gotSig, want)
	}
}

func TestWithdraw_InsufficientBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"code":4001,"msg":"balance too low"}`)
	})

	_, err := c.Withdraw(context.Background(), WithdrawRequest{
		Token: "ETH", Amount: decimal.NewFromInt(1), Address: "0xabc", Network: "ETH",
	})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("want ErrInsufficientBalance, got %v", err)
	}
	if retry.KindOf(err) != retry.KindFatal {
		t.Fatalf("kind: %v", retry.KindOf(err))
	}
}

func TestWithdraw_AddressNotWhitelisted(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"code":4002,"msg":"address not on allowlist"}`)
	})

	_, err := c.Withdraw(context.Background(), WithdrawRequest{
		Token: "ETH", Amount: decimal.NewFromInt(1), Address: "0xabc", Network: "ETH",
	})
	if !errors.Is(err, ErrAddressNotWhitelisted) {
		t.Fatalf("want ErrAddressNotWhitelisted, got %v", err)
	}
	if errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("sentinels must be distinguishable")
	}
}

func TestWithdraw_RateLimited(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Withdraw(context.Background(), WithdrawRequest{
		Token: "ETH", Amount: decimal.NewFromInt(1), Address: "0xabc", Network: "ETH",
	})
	if retry.KindOf(err) != retry.KindRateLimited {
		t.Fatalf("kind: %v (%v)", retry.KindOf(err), err)
	}
}

func TestWithdraw_BadParamsFatalWithoutRequest(t *testing.T) {
	called := false
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	if _, err := c.Withdraw(context.Background(), WithdrawRequest{Token: "ETH", Address: "0xabc", Network: "ETH"}); err == nil {
		t.Fatalf("zero amount accepted")
	} else if retry.KindOf(err) != retry.KindFatal {
		t.Fatalf("kind: %v", retry.KindOf(err))
	}
	if called {
		t.Fatalf("request sent despite invalid params")
	}
}

func TestBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("coin"); got != "ETH" {
			t.Errorf("coin param: %q", got)
		}
		io.WriteString(w, `{"coin":"ETH","free":"1.2345"}`)
	})

	bal, err := c.Balance(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if !bal.Equal(decimal.RequireFromString("1.2345")) {
		t.Fatalf("balance: %s", bal)
	}
}

func TestWithdrawStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("id"); got != "w-9" {
			t.Errorf("id param: %q", got)
		}
		io.WriteString(w, `{"id":"w-9","status":"DONE","txHash":"0xdead"}`)
	})

	wd, err := c.WithdrawStatus(context.Background(), "w-9")
	if err != nil {
		t.Fatalf("WithdrawStatus: %v", err)
	}
	if wd.Status != "DONE" || wd.TxHash != "0xdead" {
		t.Fatalf("withdrawal: %+v", wd)
	}
}

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient("ftp://x", Credentials{Key: "k", Secret: "s"}); err == nil {
		t.Fatalf("non-http host accepted")
	}
	if _, err := NewClient("https://x", Credentials{}); err == nil {
		t.Fatalf("empty credentials accepted")
	}
}
