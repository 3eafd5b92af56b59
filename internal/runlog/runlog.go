// Package runlog appends the machine-readable run record: one JSON object
// per line, one line per pipeline event. The file is append-only so
// consecutive runs build a single auditable history.
package runlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Event is one pipeline occurrence. Zero-valued fields are omitted so
// start/summary events stay compact.
type Event struct {
	TsMs   int64  `json:"ts_ms"`
	RunID  string `json:"run_id"`
	Event  string `json:"event"` // start, withdraw, distribute, wallet_step, wallet_done, summary
	DryRun bool   `json:"dry_run,omitempty"`

	Wallet string `json:"wallet,omitempty"`
	Step   string `json:"step,omitempty"`
	TxHash string `json:"tx_hash,omitempty"`

	AmountWei string `json:"amount_wei,omitempty"`
	Funded    int    `json:"funded,omitempty"`
	Succeeded int    `json:"succeeded,omitempty"`
	Failed    int    `json:"failed,omitempty"`

	Ok       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
	UptimeMs int64  `json:"uptime_ms,omitempty"`
}

// Log appends events to a JSONL file. Safe for concurrent use; a nil *Log
// drops every event so callers never need to branch on "logging enabled".
type Log struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *bufio.Writer
}

// Open returns a log appending to path, or nil when path is blank.
func Open(path string) *Log {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	return &Log{path: path}
}

// Append writes ev as one line and flushes, so tailers see it immediately.
func (l *Log) Append(ev Event) error {
	if l == nil {
		return nil
	}
	if ev.TsMs == 0 {
		ev.TsMs = time.Now().UnixMilli()
	}
	if ev.Event == "" {
		return fmt.Errorf("runlog: event name required")
	}

	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureOpenLocked(); err != nil {
		return err
	}

	if _, err := l.w.Write(b); err != nil {
		return err
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return err
	}
	return l.w.Flush()
}

func (l *Log) ensureOpenLocked() error {
	if l.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	l.file = f
	l.w = bufio.NewWriterSize(f, 64*1024)
	return nil
}

// Close flushes buffered events and closes the file.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	if l.w != nil {
		if err := l.w.Flush(); err != nil {
			firstErr = err
		}
	}
	if l.file != nil {
		if err := l.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.w = nil
	l.file = nil

	if firstErr != nil && errors.Is(firstErr, os.ErrClosed) {
		return nil
	}
	return firstErr
}
