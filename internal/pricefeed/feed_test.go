package pricefeed

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSubscribeRequest_JSONShape(t *testing.T) {
	b, err := json.Marshal(subscribeRequest{Op: "subscribe", Args: tickerArgs([]string{"ethusdt", "PENGUUSDT"})})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got, ok := m["op"].(string); !ok || got != "subscribe" {
		t.Fatalf("op mismatch: %#v", m["op"])
	}
	args, ok := m["args"].([]any)
	if !ok || len(args) != 2 {
		t.Fatalf("args mismatch: %#v", m["args"])
	}
	if args[0] != "ticker.ETHUSDT" || args[1] != "ticker.PENGUUSDT" {
		t.Fatalf("args contents: %#v", args)
	}
}

func TestTickerMessage_Decode(t *testing.T) {
	var m tickerMessage
	raw := `{"channel":"ticker","symbol":"ETHUSDT","price":"3421.57","ts":1700000000123}`
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m.Channel != "ticker" || m.Symbol != "ETHUSDT" || m.Price != "3421.57" {
		t.Fatalf("decoded: %+v", m)
	}
	if got := time.UnixMilli(m.TS); got.UnixMilli() != 1700000000123 {
		t.Fatalf("ts: %v", got)
	}
}

func TestOptions_WithDefaults(t *testing.T) {
	o := (Options{}).withDefaults()
	if o.PingInterval != DefaultPingInterval {
		t.Fatalf("PingInterval: got=%s want=%s", o.PingInterval, DefaultPingInterval)
	}
	if o.BackoffMin <= 0 || o.BackoffMax <= 0 {
		t.Fatalf("backoff defaults missing: %#v", o)
	}
	if o.OutBuffer <= 0 {
		t.Fatalf("OutBuffer default missing: %#v", o)
	}
}

func TestNextBackoff_CapsAtMax(t *testing.T) {
	if got := nextBackoff(2*time.Second, 3*time.Second); got != 3*time.Second {
		t.Fatalf("got=%s want=%s", got, 3*time.Second)
	}
	if got := nextBackoff(250*time.Millisecond, 3*time.Second); got != 500*time.Millisecond {
		t.Fatalf("got=%s want=%s", got, 500*time.Millisecond)
	}
}
