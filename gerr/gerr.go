package gerr

import (
	"errors"
	"fmt"
)

// Kind classifies an operation failure into the client's error taxonomy.
// Handlers use it to decide how a failure is surfaced; none of the kinds
// are retried automatically.
type Kind int

const (
	// KindValidation is bad user input. Surfaced immediately, no side effects.
	KindValidation Kind = iota + 1
	// KindRemoteUnavailable is a backend network failure. The operation is
	// aborted and state stays at the pre-operation snapshot.
	KindRemoteUnavailable
	// KindContractRevert is an on-chain rejection, surfaced verbatim.
	KindContractRevert
	// KindPartialData marks one of several parallel queries failing; the
	// failed source is treated as empty and siblings proceed.
	KindPartialData
	// KindMalformedPayload is a JSON parse failure on drag data or metadata;
	// only the affected item is skipped.
	KindMalformedPayload
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindRemoteUnavailable:
		return "remote_unavailable"
	case KindContractRevert:
		return "contract_revert"
	case KindPartialData:
		return "partial_data"
	case KindMalformedPayload:
		return "malformed_payload"
	}
	return "unknown"
}

// Error is a classified operation failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind and the failing operation name.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation builds a KindValidation error from a message.
func Validation(op, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: errors.New(msg)}
}

// Remote wraps a backend failure.
func Remote(op string, err error) *Error {
	return &Error{Kind: KindRemoteUnavailable, Op: op, Err: err}
}

// Revert wraps an on-chain rejection.
func Revert(op string, err error) *Error {
	return &Error{Kind: KindContractRevert, Op: op, Err: err}
}

// Malformed wraps a payload parse failure.
func Malformed(op string, err error) *Error {
	return &Error{Kind: KindMalformedPayload, Op: op, Err: err}
}

// KindOf extracts the Kind from err, or 0 if err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
