// Command status prints every wallet checkpoint in the state directory:
// which step each satellite reached, whether it holds a position, and when
// it last moved.
package main

import (
	"flag"
	"log"
	"sort"

	"github.com/Tox85/bsl-pengu-bot-sub001/internal/config"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/dotenv"
	"github.com/Tox85/bsl-pengu-bot-sub001/internal/state"
)

func main() {
	log.SetFlags(0)

	var envFile, stateDir string
	flag.StringVar(&envFile, "env-file", "", "Env file to load (default ./.env).")
	flag.StringVar(&stateDir, "state-dir", "", "Checkpoint directory (default from STATE_DIR).")
	flag.Parse()

	if stateDir == "" {
		if err := dotenv.LoadFrom(envFile); err != nil {
			log.Fatalf("[fatal] %v", err)
		}
		cfg, err := config.FromEnv()
		if err != nil {
			log.Fatalf("[fatal] %v", err)
		}
		stateDir = cfg.StateDir
	}

	store, err := state.NewStore(stateDir)
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	states, err := store.List()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}
	if len(states) == 0 {
		log.Printf("[info] no wallet state under %s", stateDir)
		return
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Address < states[j].Address })

	for _, st := range states {
		log.Printf("[info] %s updated=%s", statusLine(st), st.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	log.Printf("[info] %d wallets tracked", len(states))
}

// statusLine renders one wallet's checkpoint. A dry-run position carries no
// token ID, so it is reported without one.
func statusLine(st *state.WalletState) string {
	line := st.Address + " " + string(st.Step)
	if st.Position != nil && st.Position.Success {
		if st.Position.TokenID != nil {
			line += " position=" + st.Position.TokenID.String()
		} else {
			line += " position=open"
		}
	}
	if st.Step == state.StepError {
		if msg := lastError(st); msg != "" {
			line += " error=" + msg
		}
	}
	return line
}

// lastError returns the most recent step error recorded on the state.
func lastError(st *state.WalletState) string {
	for _, msg := range []string{
		collectErr(st), positionErr(st), swapErr(st), bridgeErr(st),
	} {
		if msg != "" {
			return msg
		}
	}
	return ""
}

func bridgeErr(st *state.WalletState) string {
	if st.Bridge != nil {
		return st.Bridge.Error
	}
	return ""
}

func swapErr(st *state.WalletState) string {
	if st.Swap != nil {
		return st.Swap.Error
	}
	return ""
}

func positionErr(st *state.WalletState) string {
	if st.Position != nil {
		return st.Position.Error
	}
	return ""
}

func collectErr(st *state.WalletState) string {
	if st.Collect != nil {
		return st.Collect.Error
	}
	return ""
}
