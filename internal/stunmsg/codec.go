package stunmsg

import (
	"encoding/binary"

	"github.com/AltFreq07/libjuice/internal/cryptoprim"
)

// align4 rounds n up to the next multiple of 4.
func align4(n int) int {
	if r := n % 4; r != 0 {
		return n + (4 - r)
	}
	return n
}

// Encode serializes the message's header and attributes (in the order they
// were Added), then — per spec.md §4.1's encoding contract — appends
// MESSAGE-INTEGRITY when integrityKey is non-nil, and always appends
// FINGERPRINT last. The header length field is virtually rewritten twice:
// once to cover MESSAGE-INTEGRITY's own TLV before computing its HMAC, and
// again to cover FINGERPRINT's TLV before computing its CRC.
func Encode(m *Message, prim cryptoprim.Primitives, integrityKey []byte) ([]byte, error) {
	bodyLen := 0
	for _, a := range m.Attributes {
		bodyLen += 4 + align4(len(a.Value))
	}

	buf := make([]byte, HeaderSize+bodyLen)
	writeHeader(buf, m, uint16(bodyLen))
	offset := HeaderSize
	for _, a := range m.Attributes {
		offset = writeAttr(buf, offset, a.Type, a.Value)
	}

	if integrityKey != nil {
		virtualLen := uint16(offset - HeaderSize + 4 + 20)
		binary.BigEndian.PutUint16(buf[2:4], virtualLen)
		mac := prim.HMAC.Sum(integrityKey, buf[:offset])

		buf = append(buf, make([]byte, 4+20)...)
		offset = writeAttr(buf, offset, AttrMessageIntegrity, mac)
	}

	virtualLen := uint16(offset - HeaderSize + 4 + 4)
	binary.BigEndian.PutUint16(buf[2:4], virtualLen)
	crc := prim.CRC32.Checksum(buf[:offset]) ^ fingerprintXor
	fp := make([]byte, 4)
	binary.BigEndian.PutUint32(fp, crc)

	buf = append(buf, make([]byte, 8)...)
	offset = writeAttr(buf, offset, AttrFingerprint, fp)

	binary.BigEndian.PutUint16(buf[2:4], uint16(offset-HeaderSize))
	return buf, nil
}

// fingerprintXor is FINGERPRINT's constant mask (RFC 5389 §15.5), chosen so
// that the attribute cannot be mistaken for framing by application
// protocols that share the same port as STUN.
const fingerprintXor = uint32(0x5354554E)

func writeHeader(buf []byte, m *Message, bodyLen uint16) {
	binary.BigEndian.PutUint16(buf[0:2], typeToWire(m.Method, m.Class))
	binary.BigEndian.PutUint16(buf[2:4], bodyLen)
	binary.BigEndian.PutUint32(buf[4:8], MagicCookie)
	copy(buf[8:20], m.TransactionID[:])
}

func writeAttr(buf []byte, offset int, t AttrType, value []byte) int {
	binary.BigEndian.PutUint16(buf[offset:offset+2], uint16(t))
	binary.BigEndian.PutUint16(buf[offset+2:offset+4], uint16(len(value)))
	copy(buf[offset+4:offset+4+len(value)], value)
	return offset + 4 + align4(len(value))
}

// Decode parses a STUN message from the wire. It returns ErrMalformed for
// any structural problem (short buffer, bad magic cookie, length mismatch,
// an attribute that overruns the body), and *UnknownRequiredError when an
// attribute type below 0x8000 is not one this codec understands (the
// caller must then respond 420 listing the offending types, per spec.md
// §4.1's decoding contract). Decode never panics on arbitrary input.
func Decode(raw []byte) (*Message, error) {
	if len(raw) < HeaderSize {
		return nil, ErrMalformed
	}

	typeWire := binary.BigEndian.Uint16(raw[0:2])
	if typeWire&0xc000 != 0 {
		return nil, ErrMalformed
	}
	bodyLen := binary.BigEndian.Uint16(raw[2:4])
	if bodyLen%4 != 0 {
		return nil, ErrMalformed
	}
	if binary.BigEndian.Uint32(raw[4:8]) != MagicCookie {
		return nil, ErrMalformed
	}
	if len(raw) < HeaderSize+int(bodyLen) {
		return nil, ErrMalformed
	}

	method, class := wireToTypeParts(typeWire)
	m := &Message{
		Class:    class,
		Method:   method,
		miOffset: -1,
		fpOffset: -1,
	}
	copy(m.TransactionID[:], raw[8:20])
	m.raw = make([]byte, HeaderSize+int(bodyLen))
	copy(m.raw, raw[:HeaderSize+int(bodyLen)])

	var unknown []AttrType
	offset := HeaderSize
	end := HeaderSize + int(bodyLen)
	for offset < end {
		if offset+4 > end {
			return nil, ErrMalformed
		}
		t := AttrType(binary.BigEndian.Uint16(raw[offset : offset+2]))
		length := int(binary.BigEndian.Uint16(raw[offset+2 : offset+4]))
		valStart := offset + 4
		if valStart+length > end {
			return nil, ErrMalformed
		}

		value := make([]byte, length)
		copy(value, raw[valStart:valStart+length])
		m.Attributes = append(m.Attributes, Attr{Type: t, Value: value})

		switch t {
		case AttrMessageIntegrity:
			m.miOffset = offset
		case AttrFingerprint:
			m.fpOffset = offset
		}

		if !isKnownAttr(t) && t.isComprehensionRequired() {
			unknown = append(unknown, t)
		}

		offset = valStart + align4(length)
	}

	if len(unknown) > 0 {
		return m, &UnknownRequiredError{Types: unknown}
	}
	return m, nil
}

func isKnownAttr(t AttrType) bool {
	switch t {
	case AttrMappedAddress, AttrUsername, AttrMessageIntegrity, AttrErrorCode,
		AttrUnknownAttributes, AttrChannelNumber, AttrLifetime, AttrXorPeerAddress,
		AttrData, AttrRealm, AttrNonce, AttrXorRelayedAddress, AttrRequestedTransport,
		AttrDontFragment, AttrXorMappedAddress, AttrPriority, AttrUseCandidate,
		AttrSoftware, AttrFingerprint, AttrIceControlled, AttrIceControlling:
		return true
	default:
		return false
	}
}

// IsStunMessage reports whether the first bytes of buf look like a STUN
// header: the two high bits of the first byte are both zero (RFC 5389 §6)
// and the magic cookie is present. The socket read loops in pkg/juice use
// this, together with ChannelData's distinct first-two-bits pattern,
// to demultiplex an inbound datagram per spec.md §4.5.
func IsStunMessage(buf []byte) bool {
	if len(buf) < HeaderSize {
		return false
	}
	if buf[0]&0xc0 != 0 {
		return false
	}
	return binary.BigEndian.Uint32(buf[4:8]) == MagicCookie
}
