package llm

import (
	"context"
	"errors"
	"net"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	openai "github.com/openai/openai-go"
)

// IsTransient reports whether the error is worth retrying: rate limits,
// overloaded upstreams, request timeouts, and network-level failures.
// Everything else (auth failures, invalid requests) is fatal for the call.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// The caller's deadline, not the provider's problem.
		return false
	}

	if status, ok := statusCode(err); ok {
		switch {
		case status == 408, status == 425, status == 429:
			return true
		case status >= 500:
			return true
		default:
			return false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// IsFatal reports whether the error must propagate to the process boundary
// instead of being retried or degraded around (invalid credentials and
// similar configuration-level failures).
func IsFatal(err error) bool {
	if status, ok := statusCode(err); ok {
		return status == 401 || status == 403
	}
	return errors.Is(err, ErrNotConfigured)
}

func statusCode(err error) (int, bool) {
	var aerr *anthropic.Error
	if errors.As(err, &aerr) && aerr != nil {
		return aerr.StatusCode, true
	}
	var oerr *openai.Error
	if errors.As(err, &oerr) && oerr != nil {
		return oerr.StatusCode, true
	}
	return 0, false
}
