// Package errors holds the sentinel errors shared across the client.
// The dispatcher and transports classify every failure into one of the
// outcome errors so callers can branch with errors.Is.
package errors

import "fmt"

var (
	// ErrTransport marks a retryable connectivity failure (connection
	// down, request failed). The dispatcher falls back or reports it.
	ErrTransport = fmt.Errorf("transport failure")

	// ErrRejected marks a server-side validation rejection. Retrying
	// without user correction is pointless.
	ErrRejected = fmt.Errorf("rejected by server")

	// ErrUnauthorized marks an expired or invalid credential. It
	// crosses into session handling and forces a logout.
	ErrUnauthorized = fmt.Errorf("unauthorized")

	// ErrConnectivity marks exhaustion of both the realtime path and
	// the fallback transport.
	ErrConnectivity = fmt.Errorf("no connectivity")

	// ErrNoSession is returned by operations that need a logged-in
	// session when none is present.
	ErrNoSession = fmt.Errorf("no active session")

	ErrEmptyWords = fmt.Errorf("no words have been found")
)
