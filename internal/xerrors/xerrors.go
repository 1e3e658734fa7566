// Package xerrors classifies the error kinds enumerated in the error
// handling design: DoesNotExist, Io, Timeout, Protocol, and Crypto.
// Decompression failures are classified as Protocol; Protocol and Crypto
// are both terminal, non-retryable session errors. Classifying errors this
// way lets callers decide, by kind
// rather than by string-matching, whether a failure is locally recoverable
// (emit a GONE record, bump a counter), retryable after backoff (Io,
// Timeout), or must close the session without retrying the same frame
// (Protocol, Crypto).
package xerrors

import "github.com/pkg/errors"

// Kind identifies the broad category of a driftmirror error.
type Kind int

const (
	// KindDoesNotExist indicates a scan or transfer found its target gone.
	KindDoesNotExist Kind = iota
	// KindIO indicates a read/write/stat/socket error.
	KindIO
	// KindTimeout indicates a call or receive exceeded its deadline.
	KindTimeout
	// KindProtocol indicates a decoded message violated the schema or a
	// frame failed to decompress.
	KindProtocol
	// KindCrypto indicates an AEAD failure.
	KindCrypto
)

func (k Kind) String() string {
	switch k {
	case KindDoesNotExist:
		return "does-not-exist"
	case KindIO:
		return "io"
	case KindTimeout:
		return "timeout"
	case KindProtocol:
		return "protocol"
	case KindCrypto:
		return "crypto"
	default:
		return "unknown"
	}
}

// kindError wraps an underlying error with a Kind tag.
type kindError struct {
	kind  Kind
	cause error
}

func (e *kindError) Error() string {
	return e.cause.Error()
}

func (e *kindError) Unwrap() error {
	return e.cause
}

// Wrap annotates err with the given kind and a message, in the style of
// errors.Wrap. A nil err yields a nil result.
func Wrap(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, cause: errors.Wrap(err, message)}
}

// New creates a new error carrying the given kind.
func New(kind Kind, message string) error {
	return &kindError{kind: kind, cause: errors.New(message)}
}

// KindOf extracts the Kind from err, walking the cause chain. If err carries
// no Kind, KindIO is returned as the conservative default (retry, don't
// escalate) since most unclassified failures in this system originate from
// socket or filesystem I/O.
func KindOf(err error) Kind {
	for err != nil {
		if ke, ok := err.(*kindError); ok {
			return ke.kind
		}
		cause := errors.Unwrap(err)
		if cause == nil {
			break
		}
		err = cause
	}
	return KindIO
}

// Retryable reports whether the session-level recovery discipline of §7
// calls for a retry after backoff (Io, Timeout, DoesNotExist) versus a
// terminal close without retry (Protocol, Crypto).
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindProtocol, KindCrypto:
		return false
	default:
		return true
	}
}
