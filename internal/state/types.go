package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// Step is the orchestrator's progress marker for one wallet.
type Step string

const (
	StepIdle           Step = "idle"
	StepBridgePending  Step = "bridge_pending"
	StepBridgeDone     Step = "bridge_done"
	StepSwapPending    Step = "swap_pending"
	StepSwapDone       Step = "swap_done"
	StepLPPending      Step = "lp_pending"
	StepLPDone         Step = "lp_done"
	StepCollectPending Step = "collect_pending"
	StepCollectDone    Step = "collect_done"
	StepError          Step = "error"
)

// Wei is a big.Int that serializes as a decimal string so wei-level amounts
// survive the JSON round trip without precision loss.
type Wei struct {
	big.Int
}

func NewWei(v *big.Int) *Wei {
	if v == nil {
		return nil
	}
	w := &Wei{}
	w.Set(v)
	return w
}

func WeiFromUint64(v uint64) *Wei {
	w := &Wei{}
	w.SetUint64(v)
	return w
}

// Big returns a copy as *big.Int; nil-safe.
func (w *Wei) Big() *big.Int {
	if w == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(&w.Int)
}

func (w Wei) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.String())
}

func (w *Wei) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	s := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	if _, ok := w.SetString(s, 10); !ok {
		return fmt.Errorf("invalid wei amount %q", s)
	}
	return nil
}

// BridgeResult records a completed (or failed) cross-chain bridge step.
type BridgeResult struct {
	Success   bool   `json:"success"`
	RouteID   string `json:"route_id,omitempty"`
	TxHash    string `json:"tx_hash,omitempty"`
	AmountIn  *Wei   `json:"amount_in,omitempty"`
	AmountOut *Wei   `json:"amount_out,omitempty"`
	FromChain int64  `json:"from_chain,omitempty"`
	ToChain   int64  `json:"to_chain,omitempty"`
	Error     string `json:"error,omitempty"`
}

// SwapResult records the token swap on the destination chain.
type SwapResult struct {
	Success   bool   `json:"success"`
	TxHash    string `json:"tx_hash,omitempty"`
	TokenIn   string `json:"token_in,omitempty"`
	TokenOut  string `json:"token_out,omitempty"`
	AmountIn  *Wei   `json:"amount_in,omitempty"`
	AmountOut *Wei   `json:"amount_out,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PositionResult records the opened concentrated-liquidity position.
type PositionResult struct {
	Success            bool   `json:"success"`
	TxHash             string `json:"tx_hash,omitempty"`
	TokenID            *Wei   `json:"token_id,omitempty"`
	LowerTick          int    `json:"lower_tick"`
	UpperTick          int    `json:"upper_tick"`
	Liquidity          *Wei   `json:"liquidity,omitempty"`
	DepositedToken0    *Wei   `json:"deposited_token0,omitempty"`
	DepositedToken1    *Wei   `json:"deposited_token1,omitempty"`
	LastRebalancePrice string `json:"last_rebalance_price,omitempty"`
	Error              string `json:"error,omitempty"`
}

// CollectResult records a fee collection on the open position.
type CollectResult struct {
	Success bool   `json:"success"`
	TxHash  string `json:"tx_hash,omitempty"`
	Fees0   *Wei   `json:"fees0,omitempty"`
	Fees1   *Wei   `json:"fees1,omitempty"`
	Error   string `json:"error,omitempty"`
}

// WalletState is one wallet's durable progress record. Mutated only by that
// wallet's orchestrator instance and persisted after every transition.
type WalletState struct {
	Address string `json:"address"`
	Step    Step   `json:"current_step"`

	Bridge   *BridgeResult   `json:"bridge_result,omitempty"`
	Swap     *SwapResult     `json:"swap_result,omitempty"`
	Position *PositionResult `json:"position_result,omitempty"`
	Collect  *CollectResult  `json:"collect_result,omitempty"`

	// Executed lists operation IDs already applied, consulted before any
	// financial action is resubmitted.
	Executed []string `json:"executed_operations,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasExecuted reports whether the operation ID is already in the applied set.
func (s *WalletState) HasExecuted(opID string) bool {
	for _, id := range s.Executed {
		if id == opID {
			return true
		}
	}
	return false
}

// RecordExecuted appends opID if absent.
func (s *WalletState) RecordExecuted(opID string) {
	if !s.HasExecuted(opID) {
		s.Executed = append(s.Executed, opID)
	}
}

// ClearExecuted removes the operation ID from the applied set, used when a
// recorded operation failed definitively without reaching the chain.
func (s *WalletState) ClearExecuted(opID string) {
	for i, id := range s.Executed {
		if id == opID {
			s.Executed = append(s.Executed[:i], s.Executed[i+1:]...)
			return
		}
	}
}
