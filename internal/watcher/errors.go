package watcher

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	utilnet "k8s.io/apimachinery/pkg/util/net"
)

// ErrTerminal marks faults that reconnecting cannot fix.
var ErrTerminal = errors.New("unrecoverable watch fault")

type TerminalError struct {
	Selector string
	Err      error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("watch on %q failed: %v", e.Selector, e.Err)
}

func (e *TerminalError) Unwrap() []error {
	return []error{ErrTerminal, e.Err}
}

type faultKind int

const (
	faultTransient faultKind = iota
	faultExpired
	faultTerminal
)

func (k faultKind) String() string {
	switch k {
	case faultTransient:
		return "transient"
	case faultExpired:
		return "expired"
	case faultTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

func classifyError(err error) faultKind {
	if isExpired(err) {
		return faultExpired
	}
	if isRetryableError(err) {
		return faultTransient
	}

	var status apierrors.APIStatus
	if errors.As(err, &status) {
		return faultTerminal
	}

	// Anything that is not a server verdict is a transport problem.
	return faultTransient
}

func isExpired(err error) bool {
	if apierrors.IsResourceExpired(err) || apierrors.IsGone(err) {
		return true
	}

	var status apierrors.APIStatus
	return errors.As(err, &status) && status.Status().Code == http.StatusGone
}

func isRetryableError(err error) bool {
	switch {
	case apierrors.IsTimeout(err),
		apierrors.IsServerTimeout(err),
		apierrors.IsServiceUnavailable(err),
		apierrors.IsTooManyRequests(err),
		apierrors.IsInternalError(err):
		return true
	case utilnet.IsConnectionRefused(err),
		utilnet.IsConnectionReset(err),
		utilnet.IsProbableEOF(err):
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
