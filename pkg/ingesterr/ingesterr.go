// Package ingesterr defines the error kinds an ingest run can fail with and
// how each kind maps to a process exit code.
package ingesterr

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Kind classifies a failure.
type Kind string

const (
	KindConfig        Kind = "config"
	KindConnectivity  Kind = "connectivity"
	KindDataIntegrity Kind = "data_integrity"
	KindProvider      Kind = "provider"
	KindValidation    Kind = "validation"
	KindConflict      Kind = "conflict"
)

// Error is a classified failure. Op names the operation that failed, e.g.
// "preflight.store" or "embeddings.batch".
type Error struct {
	Kind Kind
	Op   string
	Err  error

	// Permanent errors are never retried, regardless of the retry budget.
	Permanent bool
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	b.WriteString(" error")
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with a kind and operation name.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a classified error from a format string. %w is supported.
func Newf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Permanentf is Newf for errors that must not be retried.
func Permanentf(kind Kind, op string, format string, args ...any) *Error {
	e := Newf(kind, op, format, args...)
	e.Permanent = true
	return e
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsPermanent reports whether any classified error in the chain is permanent.
func IsPermanent(err error) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Permanent {
			return true
		}
		err = e.Err
	}
	return false
}

// ExitCode maps err to the process exit code. nil maps to 0 and
// unclassified errors to 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	kind, ok := KindOf(err)
	if !ok {
		return 1
	}
	switch kind {
	case KindConfig:
		return 2
	case KindConnectivity:
		return 3
	case KindDataIntegrity:
		return 4
	case KindProvider:
		return 5
	case KindValidation:
		return 6
	case KindConflict:
		return 7
	default:
		return 1
	}
}

var (
	reURLPassword = regexp.MustCompile(`(://[^:/@\s]+:)[^@\s]+@`)
	reKVPassword  = regexp.MustCompile(`(password=)\S+`)
	reAPIKey      = regexp.MustCompile(`sk-[A-Za-z0-9_\-]{8,}`)
)

// Redact masks credentials in msg: URL passwords, key=value passwords,
// OpenAI style keys and every explicitly given secret.
func Redact(msg string, secrets ...string) string {
	for _, s := range secrets {
		if len(s) < 4 {
			continue
		}
		msg = strings.ReplaceAll(msg, s, "***")
	}
	msg = reURLPassword.ReplaceAllString(msg, "${1}***@")
	msg = reKVPassword.ReplaceAllString(msg, "${1}***")
	msg = reAPIKey.ReplaceAllString(msg, "sk-***")
	return msg
}
