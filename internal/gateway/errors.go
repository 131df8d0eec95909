package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthRejected indicates a handshake with a missing or wrong bearer token.
	ErrAuthRejected = errors.New("gateway: authorization rejected")
	// ErrNoActiveConnection indicates the account has no open connection.
	ErrNoActiveConnection = errors.New("gateway: no active connection")
	// ErrSendTimeout indicates no response arrived before the send deadline.
	ErrSendTimeout = errors.New("gateway: send timeout")
	// ErrLivenessTimeout indicates a connection idle past the liveness limit.
	ErrLivenessTimeout = errors.New("gateway: liveness timeout")
	// ErrConnectionReplaced indicates a newer connection took over the account.
	ErrConnectionReplaced = errors.New("gateway: connection replaced")
	// ErrAccountStopped indicates the account's monitor was stopped.
	ErrAccountStopped = errors.New("gateway: account stopped")
	// ErrServerClosed indicates the gateway was shut down.
	ErrServerClosed = errors.New("gateway: server closed")
)

// ActionError is a non-zero retcode reported by the gateway for an action.
type ActionError struct {
	Action  string
	Code    int
	Message string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("gateway: %s failed (retcode %d): %s", e.Action, e.Code, e.Message)
}
