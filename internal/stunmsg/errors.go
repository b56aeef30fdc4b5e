package stunmsg

import "fmt"

// Sentinel errors matching the wire-level subset of spec.md §7's taxonomy
// that this codec alone can detect.
var (
	// ErrMalformed indicates the buffer is not a well-formed STUN message:
	// short length, bad magic cookie, a body length that is not a multiple
	// of 4, or an attribute that overruns the body. Per spec.md §7, the
	// caller drops the datagram silently and logs at warning level.
	ErrMalformed = fmt.Errorf("stun: malformed message")

	// ErrIntegrityMissing indicates MESSAGE-INTEGRITY was required but is
	// absent from the decoded message.
	ErrIntegrityMissing = fmt.Errorf("stun: message-integrity missing")

	// ErrIntegrityMismatch indicates MESSAGE-INTEGRITY was present but did
	// not verify against the supplied key.
	ErrIntegrityMismatch = fmt.Errorf("stun: message-integrity mismatch")

	// ErrFingerprintMismatch indicates a FINGERPRINT attribute was present
	// but its CRC-32 did not match.
	ErrFingerprintMismatch = fmt.Errorf("stun: fingerprint mismatch")

	// ErrFingerprintMissing indicates the caller asked to verify FINGERPRINT
	// but the message does not carry one.
	ErrFingerprintMissing = fmt.Errorf("stun: fingerprint missing")
)

// UnknownRequiredError is returned by Decode when one or more
// comprehension-required attributes (type < 0x8000) are not recognized by
// this codec. Per spec.md §4.1, the caller must respond 420 listing the
// offending types in UNKNOWN-ATTRIBUTES, then drop the request.
type UnknownRequiredError struct {
	Types []AttrType
}

func (e *UnknownRequiredError) Error() string {
	return fmt.Sprintf("stun: %d unknown comprehension-required attribute(s)", len(e.Types))
}
