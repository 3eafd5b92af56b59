// Package pricefeed streams spot prices over a WebSocket ticker channel.
// The rebalance monitor consumes it to watch for price drift without
// polling the pool contract on every check.
package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const DefaultPingInterval = 15 * time.Second

type subscribeRequest struct {
	Op   string   `json:"op"`
	Args []string `json:"args"`
}

// Tick is one decoded ticker update.
type Tick struct {
	Symbol    string
	Price     decimal.Decimal
	Timestamp time.Time
}

// tickerMessage matches the feed's wire envelope. Price arrives as a string.
type tickerMessage struct {
	Channel string `json:"channel"`
	Symbol  string `json:"symbol"`
	Price   string `json:"price"`
	TS      int64  `json:"ts"` // unix millis
}

type Options struct {
	PingInterval time.Duration

	BackoffMin time.Duration
	BackoffMax time.Duration

	OutBuffer int
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 15 * time.Second
	}
	if o.OutBuffer <= 0 {
		o.OutBuffer = 64
	}
	return o
}

// Start connects to the ticker WebSocket and emits decoded ticks for the
// given symbols. It reconnects with backoff until ctx is cancelled; both
// channels close on final shutdown. Slow consumers lose ticks rather than
// stalling the read loop.
func Start(ctx context.Context, url string, symbols []string, opts Options) (<-chan Tick, <-chan error) {
	opts = opts.withDefaults()

	out := make(chan Tick, opts.OutBuffer)
	errs := make(chan error, 16)

	go func() {
		defer close(out)
		defer close(errs)

		if url == "" || len(symbols) == 0 {
			emitErrNonBlocking(errs, fmt.Errorf("pricefeed: url and at least one symbol required"))
			return
		}

		backoff := opts.BackoffMin
		for {
			if ctx.Err() != nil {
				return
			}

			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			if err != nil {
				emitErrNonBlocking(errs, fmt.Errorf("pricefeed dial: %w", err))
				sleepWithJitter(ctx, backoff)
				backoff = nextBackoff(backoff, opts.BackoffMax)
				continue
			}

			backoff = opts.BackoffMin

			if err := runSession(ctx, conn, symbols, opts.PingInterval, out, errs); err != nil && ctx.Err() == nil {
				emitErrNonBlocking(errs, err)
			}

			_ = conn.Close()
			if ctx.Err() != nil {
				return
			}
			sleepWithJitter(ctx, backoff)
			backoff = nextBackoff(backoff, opts.BackoffMax)
		}
	}()

	return out, errs
}

func runSession(
	ctx context.Context,
	conn *websocket.Conn,
	symbols []string,
	pingInterval time.Duration,
	out chan<- Tick,
	errs chan<- error,
) error {
	if conn == nil {
		return fmt.Errorf("pricefeed session: nil conn")
	}

	reqBytes, err := json.Marshal(subscribeRequest{Op: "subscribe", Args: tickerArgs(symbols)})
	if err != nil {
		return fmt.Errorf("pricefeed subscribe marshal: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, reqBytes); err != nil {
		return fmt.Errorf("pricefeed subscribe write: %w", err)
	}

	var writeMu sync.Mutex
	stop := make(chan struct{})
	var stopOnce sync.Once
	stopAll := func() { stopOnce.Do(func() { close(stop) }) }

	go func() {
		defer stopAll()
		t := time.NewTicker(pingInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-t.C:
				writeMu.Lock()
				_ = conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
				werr := conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"ping"}`))
				writeMu.Unlock()
				if werr != nil {
					emitErrNonBlocking(errs, fmt.Errorf("pricefeed ping: %w", werr))
					_ = conn.Close()
					return
				}
			}
		}
	}()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			stopAll()
			if errors.Is(err, websocket.ErrCloseSent) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("pricefeed read: %w", err)
		}

		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		if len(msg) == 0 {
			continue
		}

		var m tickerMessage
		if err := json.Unmarshal(msg, &m); err != nil {
			emitErrNonBlocking(errs, fmt.Errorf("pricefeed json decode: %w", err))
			continue
		}
		if m.Channel != "ticker" || m.Symbol == "" {
			continue
		}

		price, err := decimal.NewFromString(m.Price)
		if err != nil {
			emitErrNonBlocking(errs, fmt.Errorf("pricefeed price %q for %s: %w", m.Price, m.Symbol, err))
			continue
		}

		tick := Tick{
			Symbol:    m.Symbol,
			Price:     price,
			Timestamp: time.UnixMilli(m.TS),
		}
		select {
		case out <- tick:
		default:
		}
	}
}

func tickerArgs(symbols []string) []string {
	args := make([]string, 0, len(symbols))
	for _, s := range symbols {
		args = append(args, "ticker."+strings.ToUpper(s))
	}
	return args
}

func emitErrNonBlocking(ch chan<- error, err error) {
	if err == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func sleepWithJitter(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	j := int64(d) / 7
	if j > 0 {
		d = time.Duration(int64(d) + rand.Int64N(2*j+1) - j)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
