package providers

import (
	"errors"
	"fmt"
)

// ErrBackendUnavailable marks transport-level failures: the completion
// service could not be reached at all. The agent loop treats this as fatal
// for the session (no silent retries in the core).
var ErrBackendUnavailable = errors.New("completion backend unavailable")

// MalformedProposalError reports a backend response that could not be parsed
// into a tool-call proposal or an answer. The loop treats it as recoverable:
// it may re-prompt a bounded number of times before aborting.
type MalformedProposalError struct {
	Provider string
	Raw      string // offending payload excerpt, for diagnostics
	Err      error
}

func (e *MalformedProposalError) Error() string {
	return fmt.Sprintf("%s: malformed proposal: %v", e.Provider, e.Err)
}

func (e *MalformedProposalError) Unwrap() error { return e.Err }

// IsMalformedProposal reports whether err is a MalformedProposalError.
func IsMalformedProposal(err error) bool {
	var mp *MalformedProposalError
	return errors.As(err, &mp)
}

// unavailable wraps a transport error as ErrBackendUnavailable.
func unavailable(provider string, err error) error {
	return fmt.Errorf("%s: %w: %v", provider, ErrBackendUnavailable, err)
}

// excerpt truncates a payload for inclusion in error messages.
func excerpt(b []byte) string {
	const max = 500
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
