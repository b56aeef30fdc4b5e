package stunmsg

import (
	"encoding/binary"

	"github.com/AltFreq07/libjuice/internal/cryptoprim"
)

// VerifyFingerprint recomputes the CRC-32 over the virtually rewritten
// prefix ending at FINGERPRINT and compares it against the decoded value.
// FINGERPRINT must be the final attribute in the message; a decoded
// message that has attributes after it is rejected as malformed here even
// though Decode itself does not enforce attribute ordering.
func VerifyFingerprint(m *Message, crc cryptoprim.CRC32) error {
	if m.fpOffset < 0 {
		return ErrFingerprintMissing
	}
	if m.fpOffset+8 != len(m.raw) {
		return ErrMalformed
	}

	fpVal, ok := fingerprintValue(m)
	if !ok || len(fpVal) != 4 {
		return ErrFingerprintMissing
	}

	prefix := make([]byte, m.fpOffset)
	copy(prefix, m.raw[:m.fpOffset])
	virtualLen := uint16(m.fpOffset - HeaderSize + 4 + 4)
	binary.BigEndian.PutUint16(prefix[2:4], virtualLen)

	want := binary.BigEndian.Uint32(fpVal)
	got := crc.Checksum(prefix) ^ fingerprintXor
	if got != want {
		return ErrFingerprintMismatch
	}
	return nil
}

func fingerprintValue(m *Message) ([]byte, bool) {
	for _, a := range m.Attributes {
		if a.Type == AttrFingerprint {
			return a.Value, true
		}
	}
	return nil, false
}
