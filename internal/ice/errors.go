package ice

import "github.com/pkg/errors"

// Sentinel errors matching spec.md §7's taxonomy for the connectivity-check
// state machine. Callers match these with errors.Is.
var (
	// errNotConnected is returned by SendData when no pair has been
	// nominated yet, so there is nowhere to send application data.
	errNotConnected = errors.New("ice: not connected")
)
