// Package errs defines the typed error kinds propagated across the
// backtest and screener pipelines. Each kind carries a distinct recovery
// policy: DataGapError and FetchError are logged and cause the affected
// symbol/day to be skipped; ConfigError and InvariantViolation abort the
// run; RateLimitBackoff signals the caller to retry after Wait.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies which of the five error categories an error belongs to.
type Kind int

const (
	KindDataGap Kind = iota
	KindFetch
	KindConfig
	KindInvariant
	KindRateLimit
)

func (k Kind) String() string {
	switch k {
	case KindDataGap:
		return "data_gap"
	case KindFetch:
		return "fetch"
	case KindConfig:
		return "config"
	case KindInvariant:
		return "invariant_violation"
	case KindRateLimit:
		return "rate_limit_backoff"
	default:
		return "unknown"
	}
}

// Error is the concrete typed error wrapped around a cause. Use errors.As
// to recover it and inspect Kind.
type Error struct {
	Kind    Kind
	Symbol  string
	Wait    time.Duration // only meaningful for KindRateLimit
	Cause   error
}

func (e *Error) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("%s [%s]: %v", e.Kind, e.Symbol, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// DataGap wraps cause as a point-in-time gap in a BarSeries (missing bar,
// stale cache past tolerance, NaN price on a day the calendar expects one).
func DataGap(symbol string, cause error) error {
	return &Error{Kind: KindDataGap, Symbol: symbol, Cause: cause}
}

// Fetch wraps cause as a failure to retrieve data from a BarSource.
func Fetch(symbol string, cause error) error {
	return &Error{Kind: KindFetch, Symbol: symbol, Cause: cause}
}

// Config wraps cause as an invalid or missing configuration value.
func Config(cause error) error {
	return &Error{Kind: KindConfig, Cause: cause}
}

// Invariant wraps cause as a violated internal invariant (non-monotone
// BarSeries, negative cash, weights summing above tolerance). Always
// run-fatal.
func Invariant(cause error) error {
	return &Error{Kind: KindInvariant, Cause: cause}
}

// RateLimit wraps cause as a provider rate-limit signal; callers should
// back off for Wait before retrying.
func RateLimit(symbol string, wait time.Duration, cause error) error {
	return &Error{Kind: KindRateLimit, Symbol: symbol, Wait: wait, Cause: cause}
}

// Is reports whether err (or any error it wraps) is of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// Fatal reports whether err should abort the enclosing run rather than
// being degraded to a per-symbol skip.
func Fatal(err error) bool {
	return Is(err, KindConfig) || Is(err, KindInvariant)
}
