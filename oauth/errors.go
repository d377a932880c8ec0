package oauth

import (
	"errors"
	"fmt"
)

var (
	// ErrCSRFMismatch is returned when the callback state is missing, unknown,
	// already used or different from the browser-bound state.
	ErrCSRFMismatch = errors.New("oauth: csrf state mismatch")
	// ErrProviderExchange is returned when the provider rejects the code or
	// its response cannot be verified.
	ErrProviderExchange = errors.New("oauth: provider exchange failed")
	// ErrPrincipalNotFound is returned when no local principal matches the
	// provider identity.
	ErrPrincipalNotFound = errors.New("oauth: principal not found")
	// ErrPrincipalInactive is returned when the matched principal is disabled.
	ErrPrincipalInactive = errors.New("oauth: principal inactive")
	// ErrStateStorage wraps state store failures.
	ErrStateStorage = errors.New("oauth: state storage unavailable")
	// ErrDirectoryUnavailable wraps directory failures.
	ErrDirectoryUnavailable = errors.New("oauth: directory unavailable")
)

// FlowState is a step of the login handshake.
type FlowState int

const (
	StateStart FlowState = iota
	StateAwaitingCallback
	StateValidated
	StateRejected
	StateProviderTokenObtained
	StateSessionCreated
	StateFailed
)

func (s FlowState) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateAwaitingCallback:
		return "awaiting_callback"
	case StateValidated:
		return "state_validated"
	case StateRejected:
		return "state_rejected"
	case StateProviderTokenObtained:
		return "provider_token_obtained"
	case StateSessionCreated:
		return "session_created"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("flow_state(%d)", int(s))
	}
}

// FlowError records the state a handshake stopped in and why.
type FlowError struct {
	State FlowState
	Err   error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("oauth flow %s: %v", e.State, e.Err)
}

func (e *FlowError) Unwrap() error { return e.Err }

func fail(state FlowState, err error) *FlowError {
	return &FlowError{State: state, Err: err}
}
