package stunmsg

import (
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // RFC 5389 §15.4 fixes MD5 for the long-term credential key
	"encoding/binary"

	"github.com/AltFreq07/libjuice/internal/cryptoprim"
)

// ShortTermKey returns the MESSAGE-INTEGRITY key for short-term credentials
// (ICE connectivity checks): simply the peer's password, UTF-8 encoded.
func ShortTermKey(password string) []byte {
	return []byte(password)
}

// LongTermKey returns the MESSAGE-INTEGRITY key for long-term credentials
// (TURN): MD5("username:realm:password"), per RFC 5389 §15.4.
func LongTermKey(username, realm, password string) []byte {
	sum := md5.Sum([]byte(username + ":" + realm + ":" + password)) //nolint:gosec
	return sum[:]
}

// VerifyMessageIntegrity recomputes the HMAC-SHA1 over the virtually
// rewritten prefix ending at MESSAGE-INTEGRITY (excluding any subsequent
// FINGERPRINT) and compares it in constant time against the attribute
// value that was decoded. It returns ErrIntegrityMissing if the message
// carried no MESSAGE-INTEGRITY attribute at all.
func VerifyMessageIntegrity(m *Message, key []byte, mac cryptoprim.HMAC) error {
	if m.miOffset < 0 {
		return ErrIntegrityMissing
	}

	attrVal, ok := miValue(m)
	if !ok {
		return ErrIntegrityMissing
	}

	prefix := make([]byte, m.miOffset)
	copy(prefix, m.raw[:m.miOffset])
	virtualLen := uint16(m.miOffset - HeaderSize + 4 + 20)
	binary.BigEndian.PutUint16(prefix[2:4], virtualLen)

	computed := mac.Sum(key, prefix)
	if !hmac.Equal(computed, attrVal) {
		return ErrIntegrityMismatch
	}
	return nil
}

func miValue(m *Message) ([]byte, bool) {
	for _, a := range m.Attributes {
		if a.Type == AttrMessageIntegrity {
			return a.Value, true
		}
	}
	return nil, false
}
