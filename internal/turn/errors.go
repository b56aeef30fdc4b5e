// Package turn implements a TURN (RFC 5766/8656) client: Allocate, Refresh,
// CreatePermission and ChannelBind transactions, long-term credential retry,
// permission and channel-binding lifecycle, and ChannelData framing. It is
// used by pkg/juice to gather and use relayed candidates.
package turn

import "github.com/pkg/errors"

// Sentinel errors a caller can match with errors.Is after unwrapping the
// pkg/errors-wrapped chain this package returns.
var (
	// ErrAuthFailed indicates the server rejected long-term credentials a
	// second time after a 401/438 retry, or returned a 401/438 with no
	// REALM/NONCE to retry with.
	ErrAuthFailed = errors.New("turn: authentication failed")

	// ErrAllocationMismatch indicates a 437 Allocation Mismatch response:
	// the five-tuple already has an allocation the client doesn't know
	// about, or a non-Allocate request referenced an allocation that does
	// not exist.
	ErrAllocationMismatch = errors.New("turn: allocation mismatch")

	// ErrQuotaReached indicates a 486 Allocation Quota Reached response.
	ErrQuotaReached = errors.New("turn: allocation quota reached")

	// ErrNoRelayedAddress indicates a successful Allocate response that
	// did not carry XOR-RELAYED-ADDRESS.
	ErrNoRelayedAddress = errors.New("turn: no relayed address in response")

	// ErrUnexpectedResponse indicates a response of the wrong method or
	// class, or one missing an attribute the transaction requires.
	ErrUnexpectedResponse = errors.New("turn: unexpected response")

	// ErrChannelNumbersExhausted indicates every channel number in the
	// 0x4000-0x7FFE range is already bound.
	ErrChannelNumbersExhausted = errors.New("turn: no channel numbers available")

	// ErrNotAllocated indicates an operation that requires an active
	// allocation (CreatePermission, ChannelBind, Send) was attempted
	// before Allocate succeeded, or after the allocation expired.
	ErrNotAllocated = errors.New("turn: no active allocation")
)

// serverError carries the ERROR-CODE code/reason-phrase of a STUN error
// response, per spec.md §4.2.
type serverError struct {
	code   int
	reason string
}

func (e *serverError) Error() string {
	return e.reason
}

// classify maps a STUN/TURN numeric error code to the sentinel a caller
// would want to errors.Is against, falling back to ErrUnexpectedResponse.
func classify(code int) error {
	switch code {
	case 437:
		return ErrAllocationMismatch
	case 486:
		return ErrQuotaReached
	default:
		return ErrUnexpectedResponse
	}
}
