package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Kind classifies why a backend call did not produce a response.
type Kind string

const (
	KindTimeout           Kind = "timeout"
	KindConnectionRefused Kind = "connection_refused"
	KindProtocol          Kind = "protocol_error"
	// KindCanceled means the inbound caller went away and the call was abandoned.
	KindCanceled Kind = "canceled"
)

// UpstreamError is returned by Send when no complete response was received.
type UpstreamError struct {
	Kind    Kind
	Backend string
	Cause   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %s: %v", e.Backend, e.Kind, e.Cause)
}

func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// Timeout reports whether the call ran out of time.
func (e *UpstreamError) Timeout() bool {
	return e.Kind == KindTimeout
}

func newUpstreamError(backend string, err error) *UpstreamError {
	return &UpstreamError{Kind: classify(err), Backend: backend, Cause: err}
}

// classify maps transport errors onto a Kind. Caller cancellation is checked
// first so that an abandoned call is never reported as a backend timeout.
func classify(err error) Kind {
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return KindConnectionRefused
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindConnectionRefused
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return KindConnectionRefused
	}
	return KindProtocol
}
