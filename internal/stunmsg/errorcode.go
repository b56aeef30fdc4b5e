package stunmsg

// EncodeErrorCode builds an ERROR-CODE attribute value (RFC 5389 §15.6):
// two reserved bytes, a byte whose low 3 bits hold the error class (1-6),
// a byte holding the number within the class (0-99), followed by the UTF-8
// reason phrase.
func EncodeErrorCode(class, number int, reason string) []byte {
	out := make([]byte, 4+len(reason))
	out[2] = byte(class & 0x07)
	out[3] = byte(number)
	copy(out[4:], reason)
	return out
}

// DecodeErrorCode reverses EncodeErrorCode. The returned code is
// class*100+number, matching conventional STUN/TURN error code numbering
// (401, 420, 437, 438, 486, ...).
func DecodeErrorCode(value []byte) (code int, reason string, err error) {
	if len(value) < 4 {
		return 0, "", ErrMalformed
	}
	class := int(value[2] & 0x07)
	number := int(value[3])
	return class*100 + number, string(value[4:]), nil
}
