package retry

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure for retry and reporting decisions.
type Kind int

const (
	// KindTransient is the default: no definitive application-level verdict,
	// safe to retry.
	KindTransient Kind = iota
	// KindFatal covers bad credentials and malformed parameters. Never retried.
	KindFatal
	// KindInsufficientFunds: the balance cannot change by retrying.
	KindInsufficientFunds
	// KindRateLimited: the remote asked us to back off. Retried.
	KindRateLimited
	// KindReplacementUnderpriced: a competing pending transaction holds the
	// nonce slot. Handled by the gas-bump path, not by generic retries.
	KindReplacementUnderpriced
	// KindTimeout: a bounded wait exceeded its deadline. Operators should check
	// the explorer rather than blindly retry, so it is distinct from Transient.
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindFatal:
		return "fatal"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindRateLimited:
		return "rate_limited"
	case KindReplacementUnderpriced:
		return "replacement_underpriced"
	case KindTimeout:
		return "timeout"
	default:
		return "transient"
	}
}

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return fmt.Sprintf("%s: %v", e.kind, e.err) }
func (e *kindError) Unwrap() error { return e.err }

// Classify tags err with an explicit kind, overriding string sniffing.
func Classify(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

func Fatal(err error) error             { return Classify(KindFatal, err) }
func InsufficientFunds(err error) error { return Classify(KindInsufficientFunds, err) }
func RateLimited(err error) error       { return Classify(KindRateLimited, err) }
func Timeout(err error) error           { return Classify(KindTimeout, err) }

func ReplacementUnderpriced(err error) error {
	return Classify(KindReplacementUnderpriced, err)
}

// KindOf returns the classification of err. Explicit tags win; otherwise the
// error text is matched against the well-known node/API phrasings.
func KindOf(err error) Kind {
	if err == nil {
		return KindTransient
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "replacement transaction underpriced"):
		return KindReplacementUnderpriced
	case strings.Contains(msg, "insufficient funds"):
		return KindInsufficientFunds
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"), strings.Contains(msg, "status 429"):
		return KindRateLimited
	case strings.Contains(msg, "nonce too low"), strings.Contains(msg, "invalid sender"):
		return KindFatal
	default:
		return KindTransient
	}
}

// Retryable reports whether the generic retry loop should try again.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindRateLimited:
		return true
	default:
		return false
	}
}
