package errors

import (
	"errors"
	"fmt"
)

// Kind is the machine-readable classification carried by every failure that
// crosses a component boundary. The set is closed; handlers and webhooks only
// ever surface one of these values.
type Kind string

const (
	KindFileNotFound      Kind = "FileNotFound"
	KindFileTooLarge      Kind = "FileTooLarge"
	KindDurationTooLong   Kind = "DurationTooLong"
	KindInvalidCodec      Kind = "InvalidCodec"
	KindInvalidContainer  Kind = "InvalidContainer"
	KindVideoCorrupted    Kind = "VideoCorrupted"
	KindDownloadFailed    Kind = "DownloadFailed"
	KindDownloadRejected  Kind = "DownloadRejected"
	KindTranscodeFailed   Kind = "TranscodeFailed"
	KindBrokerUnavailable Kind = "BrokerUnavailable"
	KindUnauthorized      Kind = "Unauthorized"
	KindValidationError   Kind = "ValidationError"
	KindRateLimited       Kind = "RateLimited"
	KindInternalError     Kind = "InternalError"
)

// fatalKinds short-circuit the pipeline: retrying would deterministically fail again.
var fatalKinds = map[Kind]bool{
	KindFileNotFound:     true,
	KindFileTooLarge:     true,
	KindDurationTooLong:  true,
	KindInvalidCodec:     true,
	KindInvalidContainer: true,
	KindVideoCorrupted:   true,
	KindDownloadRejected: true,
	KindValidationError:  true,
}

func (k Kind) IsFatal() bool {
	return fatalKinds[k]
}

type kindError struct {
	kind Kind
	err  error
}

func (e kindError) Error() string {
	return fmt.Sprintf("%s: %s", e.kind, e.err)
}

func (e kindError) Unwrap() error {
	return e.err
}

// E tags err with a Kind. Fatal kinds are also marked unretriable so the
// broker does not schedule another attempt.
func E(kind Kind, err error) error {
	tagged := kindError{kind: kind, err: err}
	if kind.IsFatal() {
		return Unretriable(tagged)
	}
	return tagged
}

// Ef is E with fmt.Errorf-style formatting.
func Ef(kind Kind, format string, args ...interface{}) error {
	return E(kind, fmt.Errorf(format, args...))
}

// KindOf extracts the Kind from an error chain, defaulting to InternalError.
func KindOf(err error) Kind {
	var ke kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindInternalError
}
