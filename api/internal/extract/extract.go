// Package extract turns a card photo into a card.Record.
//
// Engines return either a record, ErrQuotaExceeded, or an *Error carrying a
// Kind. Callers branch on errors.Is(err, ErrQuotaExceeded) and KindOf(err).
package extract

import (
	"context"
	"errors"
	"fmt"

	"card-ledger/api/internal/card"
)

// Extractor converts an image into a card.Record.
type Extractor interface {
	Extract(ctx context.Context, image []byte) (card.Record, error)
}

// ErrQuotaExceeded is returned when the inference service rate limit is hit.
var ErrQuotaExceeded = errors.New("extraction quota exceeded")

type Kind string

const (
	KindInvalidImage  Kind = "invalid_image"
	KindAuth          Kind = "auth"
	KindBadRequest    Kind = "bad_request"
	KindBadResponse   Kind = "bad_response"
	KindEmptyResponse Kind = "empty_response"
	KindNetwork       Kind = "network"
	KindTimeout       Kind = "timeout"
	KindUnavailable   Kind = "unavailable"
	KindUnknown       Kind = "unknown"
)

// Error is an extraction failure other than quota exhaustion.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "extract: " + string(e.Kind)
	}
	return fmt.Sprintf("extract: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fail wraps err with kind.
func Fail(kind Kind, err error) error {
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the failure kind of err. Quota errors report "quota_exceeded",
// nil reports "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return "quota_exceeded"
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
